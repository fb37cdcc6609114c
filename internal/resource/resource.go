package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a collection of resources managed by the console.
type Kind string

const (
	KindEndpoint Kind = "endpoints"
	KindTunnel   Kind = "tunnels"
)

// Kinds lists every kind the console knows about.
var Kinds = []Kind{KindEndpoint, KindTunnel}

// ParseKind validates a kind taken from a URL or config value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEndpoint, KindTunnel:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Status is the normalized lifecycle state of a resource.
type Status string

// Endpoint statuses.
const (
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusFail       Status = "fail"
	StatusDisconnect Status = "disconnect"
)

// Tunnel statuses. Offline is shared with endpoints.
const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Active reports whether the status belongs to the running family
// (a running tunnel or an online endpoint). Everything else is in the
// stopped family.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusOnline
}

// Attribute keys used by discriminator filters.
const (
	AttrStatus   = "status"
	AttrOffline  = "offline"
	AttrEndpoint = "endpoint"
	AttrTag      = "tag"
)

// Resource is the kind-agnostic view of an endpoint or tunnel that the
// collection pipeline operates on.
type Resource struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	// Searchable holds the fields matched by free-text queries, in order.
	Searchable []string `json:"-"`
	// Attributes holds filterable discriminators. A missing key means unset.
	Attributes map[string]string `json:"attributes,omitempty"`
	// Fields holds sortable values keyed by column name.
	Fields map[string]string `json:"fields,omitempty"`
}

// Attr returns the attribute value and whether it is set.
func (r Resource) Attr(key string) (string, bool) {
	v, ok := r.Attributes[key]
	return v, ok
}

// Field returns the sortable value for a column. "id", "name" and
// "status" are always available.
func (r Resource) Field(key string) string {
	switch key {
	case "id":
		return r.ID
	case "name":
		return r.Name
	case "status":
		return string(r.Status)
	}
	return r.Fields[key]
}

// WithStatus returns a copy of r with the status replaced.
func (r Resource) WithStatus(s Status) Resource {
	attrs := make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	attrs[AttrStatus] = string(s)
	if s == StatusOffline {
		attrs[AttrOffline] = "true"
	} else {
		delete(attrs, AttrOffline)
	}
	r.Attributes = attrs
	r.Status = s
	return r
}

// StatusFilter maps a status filter value from the UI ("running",
// "offline", ...) to the attribute it tests. Offline is tracked separately
// from the status type for tunnels, so it gets its own attribute.
func StatusFilter(kind Kind, value string) (key, want string) {
	if kind == KindTunnel && value == string(StatusOffline) {
		return AttrOffline, "true"
	}
	return AttrStatus, value
}

// FlexID decodes identifiers the API sends either as JSON numbers or strings.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// EncodeID renders an id for a request body: numeric ids go out as JSON
// numbers, anything else as a string.
func EncodeID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// EncodeIDs applies EncodeID to every id.
func EncodeIDs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = EncodeID(id)
	}
	return out
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
