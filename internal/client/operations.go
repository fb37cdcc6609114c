package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/passdeck/passdeck/internal/resource"
)

// Endpoint actions accepted by PATCH /api/endpoints.
const (
	EndpointRename         = "rename"
	EndpointReconnect      = "reconnect"
	EndpointDisconnect     = "disconnect"
	EndpointRefreshTunnels = "refresTunnel" // sic, as the control plane spells it
)

// BatchItemResult is one entry of a batch response.
type BatchItemResult struct {
	ID      resource.FlexID `json:"id"`
	Name    string          `json:"name,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// BatchActionResponse is the body of POST /api/{kind}/batch/action.
// Counts are pointers so a missing field can be told apart from zero.
type BatchActionResponse struct {
	Success   bool              `json:"success"`
	Operated  *int              `json:"operated,omitempty"`
	FailCount *int              `json:"failCount,omitempty"`
	Results   []BatchItemResult `json:"results,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// BatchDeleteResponse is the body of DELETE /api/{kind}/batch.
type BatchDeleteResponse struct {
	Success bool              `json:"success"`
	Deleted *int              `json:"deleted,omitempty"`
	Results []BatchItemResult `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BatchAction asks the control plane to apply action to every id.
func (c *Client) BatchAction(ctx context.Context, kind resource.Kind, action string, ids []string) (*BatchActionResponse, error) {
	body := map[string]any{
		"ids":    resource.EncodeIDs(ids),
		"action": action,
	}
	var out BatchActionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/"+string(kind)+"/batch/action", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchDelete removes every id. recycle moves tunnels to the recycle bin
// instead of deleting them outright.
func (c *Client) BatchDelete(ctx context.Context, kind resource.Kind, ids []string, recycle bool) (*BatchDeleteResponse, error) {
	body := map[string]any{"ids": resource.EncodeIDs(ids)}
	if kind == resource.KindTunnel {
		body["recycle"] = recycle
	}
	var out BatchDeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/api/"+string(kind)+"/batch", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndpointAction sends one PATCH /api/endpoints operation. name is only
// used by rename.
func (c *Client) EndpointAction(ctx context.Context, id, action, name string) error {
	body := map[string]any{
		"id":     resource.EncodeID(id),
		"action": action,
	}
	if action == EndpointRename {
		if err := resource.ValidateName(name); err != nil {
			return err
		}
		body["name"] = name
	}
	return c.doJSON(ctx, http.MethodPatch, "/api/endpoints", body, nil)
}

// TunnelAction starts, stops or restarts one tunnel.
func (c *Client) TunnelAction(ctx context.Context, id, action string) error {
	body := map[string]any{"action": action}
	return c.doJSON(ctx, http.MethodPost, "/api/tunnels/"+url.PathEscape(id)+"/action", body, nil)
}

// RenameTunnel changes the display name of one tunnel.
func (c *Client) RenameTunnel(ctx context.Context, id, name string) error {
	if err := resource.ValidateName(name); err != nil {
		return err
	}
	body := map[string]any{"action": "rename", "name": name}
	return c.doJSON(ctx, http.MethodPatch, "/api/tunnels/"+url.PathEscape(id), body, nil)
}

// DeleteOne removes a single resource.
func (c *Client) DeleteOne(ctx context.Context, kind resource.Kind, id string, recycle bool) error {
	switch kind {
	case resource.KindTunnel:
		path := "/api/tunnels/" + url.PathEscape(id)
		if recycle {
			path += "?recycle=true"
		}
		return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	case resource.KindEndpoint:
		return c.doJSON(ctx, http.MethodDelete, "/api/endpoints/"+url.PathEscape(id), nil, nil)
	}
	return fmt.Errorf("unknown resource kind %q", kind)
}

// CreateTunnel validates spec and creates the tunnel.
func (c *Client) CreateTunnel(ctx context.Context, spec resource.TunnelSpec) (*resource.TunnelRecord, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out struct {
		Tunnel *resource.TunnelRecord `json:"tunnel"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/tunnels", spec, &out); err != nil {
		return nil, err
	}
	return out.Tunnel, nil
}

// UpdateTunnel validates spec and replaces the tunnel's configuration.
func (c *Client) UpdateTunnel(ctx context.Context, id string, spec resource.TunnelSpec) error {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, "/api/tunnels/"+url.PathEscape(id), spec, nil)
}

// CreateEndpoint validates spec and registers a new endpoint.
func (c *Client) CreateEndpoint(ctx context.Context, spec resource.EndpointSpec) (*resource.EndpointRecord, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out struct {
		Endpoint *resource.EndpointRecord `json:"endpoint"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/endpoints", spec, &out); err != nil {
		return nil, err
	}
	return out.Endpoint, nil
}

// UpdateEndpoint validates spec and replaces the endpoint's connection
// settings.
func (c *Client) UpdateEndpoint(ctx context.Context, id string, spec resource.EndpointSpec) error {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, "/api/endpoints/"+url.PathEscape(id), spec, nil)
}

// RotateEndpointKey replaces only the endpoint's API key. The control
// plane reconnects with the new key.
func (c *Client) RotateEndpointKey(ctx context.Context, id, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if err := resource.ValidateAPIKey(apiKey); err != nil {
		return err
	}
	body := map[string]string{"apiKey": apiKey, "action": "editApiKey"}
	return c.doJSON(ctx, http.MethodPut, "/api/endpoints/"+url.PathEscape(id), body, nil)
}

// ListTags returns the tags tunnels can be filtered by.
func (c *Client) ListTags(ctx context.Context) ([]resource.Tag, error) {
	var out struct {
		Tags []resource.Tag `json:"tags"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	if out.Tags == nil {
		out.Tags = []resource.Tag{}
	}
	return out.Tags, nil
}

// WhoAmI fetches the current session identity. The raw status and body
// are returned so the session cache can interpret them.
func (c *Client) WhoAmI(ctx context.Context) (int, []byte, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

// Login authenticates with username and password. The session cookie
// lands in the client's jar.
func (c *Client) Login(ctx context.Context, username, password string) ([]byte, error) {
	body := map[string]string{"username": username, "password": password}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}
