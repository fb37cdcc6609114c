package resource

import "time"

// EndpointRecord is an endpoint (control-plane server) as returned by
// GET /api/endpoints.
type EndpointRecord struct {
	ID          FlexID     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	APIPath     string     `json:"apiPath"`
	Status      string     `json:"status"`
	TunnelCount int        `json:"tunnelCount"`
	Version     string     `json:"version,omitempty"`
	LastCheck   *time.Time `json:"lastCheck,omitempty"`
}

// EndpointStatus normalizes the API's upper-case status names.
func EndpointStatus(s string) Status {
	switch lower(s) {
	case "online":
		return StatusOnline
	case "fail":
		return StatusFail
	case "disconnect":
		return StatusDisconnect
	default:
		return StatusOffline
	}
}

// Resource converts the record into its collection form.
func (e EndpointRecord) Resource() Resource {
	status := EndpointStatus(e.Status)
	r := Resource{
		ID:         string(e.ID),
		Kind:       KindEndpoint,
		Name:       e.Name,
		Status:     status,
		Searchable: []string{e.Name, e.URL},
		Attributes: map[string]string{AttrStatus: string(status)},
		Fields: map[string]string{
			"url":     e.URL,
			"version": e.Version,
		},
	}
	return r
}

// TunnelStatus is the status block embedded in tunnel records.
type TunnelStatus struct {
	Type string `json:"type"` // success, danger or warning
	Text string `json:"text"`
}

// Tag is a label attached to a tunnel.
type Tag struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

// TunnelRecord is a tunnel (forwarding rule) as returned by GET /api/tunnels.
type TunnelRecord struct {
	ID            FlexID       `json:"id"`
	InstanceID    string       `json:"instanceId,omitempty"`
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	Endpoint      string       `json:"endpoint"`
	EndpointID    FlexID       `json:"endpointId"`
	TunnelAddress string       `json:"tunnelAddress"`
	TunnelPort    FlexID       `json:"tunnelPort"`
	TargetAddress string       `json:"targetAddress"`
	TargetPort    FlexID       `json:"targetPort"`
	Status        TunnelStatus `json:"status"`
	Tag           *Tag         `json:"tag,omitempty"`
}

// offlineTexts are the status texts the API uses for an unreachable tunnel.
var offlineTexts = map[string]bool{"offline": true, "离线": true}

// Resource converts the record into its collection form.
func (t TunnelRecord) Resource() Resource {
	var status Status
	switch t.Status.Type {
	case "success":
		status = StatusRunning
	case "warning":
		status = StatusError
	default:
		status = StatusStopped
	}
	attrs := map[string]string{
		AttrStatus:   string(status),
		AttrEndpoint: string(t.EndpointID),
	}
	if offlineTexts[lower(t.Status.Text)] {
		attrs[AttrOffline] = "true"
	}
	if t.Tag != nil {
		attrs[AttrTag] = string(t.Tag.ID)
	}
	return Resource{
		ID:         string(t.ID),
		Kind:       KindTunnel,
		Name:       t.Name,
		Status:     status,
		Searchable: []string{t.Name, t.TunnelAddress, t.TargetAddress},
		Attributes: attrs,
		Fields: map[string]string{
			"type":          t.Type,
			"endpoint":      t.Endpoint,
			"tunnelAddress": t.TunnelAddress,
			"tunnelPort":    string(t.TunnelPort),
			"targetAddress": t.TargetAddress,
			"targetPort":    string(t.TargetPort),
			"instanceId":    t.InstanceID,
		},
	}
}
