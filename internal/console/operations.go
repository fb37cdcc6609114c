package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/notify"
	"github.com/passdeck/passdeck/internal/resource"
)

// Single-resource actions.
const (
	OpStart          = "start"
	OpStop           = "stop"
	OpRestart        = "restart"
	OpRename         = "rename"
	OpDelete         = "delete"
	OpReconnect      = "reconnect"
	OpDisconnect     = "disconnect"
	OpRefreshTunnels = "refresh_tunnels"
)

// Operation is a single-resource mutation.
type Operation struct {
	Action  string `json:"action"`
	Name    string `json:"name,omitempty"`
	Recycle bool   `json:"recycle,omitempty"`
}

// optimistic is the status shown right after a successful tunnel action,
// until the next refresh reports the real one.
var optimistic = map[string]resource.Status{
	OpStart:   resource.StatusRunning,
	OpStop:    resource.StatusStopped,
	OpRestart: resource.StatusRunning,
}

// Operate runs op against one resource, reports the outcome and refreshes
// the view. Unlike batches, a successful start/stop/restart flips the
// local status immediately.
func (c *Console) Operate(ctx context.Context, kind resource.Kind, id string, op Operation) error {
	v, err := c.View(kind)
	if err != nil {
		return err
	}
	r, ok := v.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}

	label := r.Name
	if label == "" {
		label = id
	}
	title := op.Action + " " + label

	if err := c.dispatch(ctx, kind, id, op); err != nil {
		slog.Warn("resource operation failed", "kind", kind, "id", id, "action", op.Action, "err", err)
		c.report(notify.LevelError, title, failureMessage(kind, err))
		return err
	}

	if s, ok := optimistic[op.Action]; ok && kind == resource.KindTunnel {
		v.ApplyStatus(id, s)
	}
	slog.Info("resource operation succeeded", "kind", kind, "id", id, "action", op.Action)
	c.report(notify.LevelSuccess, title, successMessage(op))

	if err := v.Refresh(ctx); err != nil {
		slog.Warn("refresh after operation failed", "kind", kind, "err", err)
	}
	return nil
}

func (c *Console) dispatch(ctx context.Context, kind resource.Kind, id string, op Operation) error {
	if op.Action == OpDelete {
		return c.api.DeleteOne(ctx, kind, id, op.Recycle)
	}
	switch kind {
	case resource.KindTunnel:
		switch op.Action {
		case OpStart, OpStop, OpRestart:
			return c.api.TunnelAction(ctx, id, op.Action)
		case OpRename:
			name := strings.TrimSpace(op.Name)
			if err := resource.ValidateName(name); err != nil {
				return err
			}
			return c.api.RenameTunnel(ctx, id, name)
		}
	case resource.KindEndpoint:
		switch op.Action {
		case OpRename:
			return c.api.EndpointAction(ctx, id, client.EndpointRename, strings.TrimSpace(op.Name))
		case OpReconnect:
			return c.api.EndpointAction(ctx, id, client.EndpointReconnect, "")
		case OpDisconnect:
			return c.api.EndpointAction(ctx, id, client.EndpointDisconnect, "")
		case OpRefreshTunnels:
			return c.api.EndpointAction(ctx, id, client.EndpointRefreshTunnels, "")
		}
	}
	return &resource.ValidationError{Field: "action", Reason: fmt.Sprintf("%q is not supported for %s", op.Action, kind)}
}

func successMessage(op Operation) string {
	switch op.Action {
	case OpDelete:
		if op.Recycle {
			return "deleted, history kept"
		}
		return "deleted"
	case OpRename:
		return "renamed to " + strings.TrimSpace(op.Name)
	default:
		return op.Action + " succeeded"
	}
}

// CreateTunnel validates and submits a new tunnel, then refreshes the
// tunnel view.
func (c *Console) CreateTunnel(ctx context.Context, spec resource.TunnelSpec) (*resource.TunnelRecord, error) {
	created, err := c.api.CreateTunnel(ctx, spec)
	if err != nil {
		c.report(notify.LevelError, "create tunnel", failureMessage(resource.KindTunnel, err))
		return nil, err
	}
	c.report(notify.LevelSuccess, "create tunnel", spec.Normalize().Name+" created")
	if err := c.Refresh(ctx, resource.KindTunnel); err != nil {
		slog.Warn("refresh after create failed", "err", err)
	}
	return created, nil
}

// UpdateTunnel validates and submits an edit of an existing tunnel.
func (c *Console) UpdateTunnel(ctx context.Context, id string, spec resource.TunnelSpec) error {
	if err := c.api.UpdateTunnel(ctx, id, spec); err != nil {
		c.report(notify.LevelError, "update tunnel", failureMessage(resource.KindTunnel, err))
		return err
	}
	c.report(notify.LevelSuccess, "update tunnel", spec.Normalize().Name+" updated")
	if err := c.Refresh(ctx, resource.KindTunnel); err != nil {
		slog.Warn("refresh after update failed", "err", err)
	}
	return nil
}

// CreateEndpoint registers a new endpoint, then refreshes the endpoint
// view.
func (c *Console) CreateEndpoint(ctx context.Context, spec resource.EndpointSpec) (*resource.EndpointRecord, error) {
	created, err := c.api.CreateEndpoint(ctx, spec)
	if err != nil {
		c.report(notify.LevelError, "add endpoint", failureMessage(resource.KindEndpoint, err))
		return nil, err
	}
	c.report(notify.LevelSuccess, "add endpoint", spec.Normalize().Name+" added")
	if err := c.Refresh(ctx, resource.KindEndpoint); err != nil {
		slog.Warn("refresh after create failed", "err", err)
	}
	return created, nil
}

// UpdateEndpoint changes an endpoint's name, URL, API path and key.
func (c *Console) UpdateEndpoint(ctx context.Context, id string, spec resource.EndpointSpec) error {
	if err := c.api.UpdateEndpoint(ctx, id, spec); err != nil {
		c.report(notify.LevelError, "update endpoint", failureMessage(resource.KindEndpoint, err))
		return err
	}
	c.report(notify.LevelSuccess, "update endpoint", spec.Normalize().Name+" updated")
	if err := c.Refresh(ctx, resource.KindEndpoint); err != nil {
		slog.Warn("refresh after update failed", "err", err)
	}
	return nil
}

// RotateEndpointKey disconnects the endpoint and installs a new API key.
// The key is checked before anything is sent.
func (c *Console) RotateEndpointKey(ctx context.Context, id, apiKey string) error {
	const title = "rotate endpoint key"
	if err := resource.ValidateAPIKey(apiKey); err != nil {
		return err
	}
	if err := c.api.EndpointAction(ctx, id, client.EndpointDisconnect, ""); err != nil {
		slog.Warn("disconnect before key rotation failed", "id", id, "err", err)
		c.report(notify.LevelError, title, failureMessage(resource.KindEndpoint, err))
		return err
	}
	if err := c.api.RotateEndpointKey(ctx, id, apiKey); err != nil {
		c.report(notify.LevelError, title, failureMessage(resource.KindEndpoint, err))
		return err
	}
	c.report(notify.LevelSuccess, title, "key updated, reconnecting")
	if err := c.Refresh(ctx, resource.KindEndpoint); err != nil {
		slog.Warn("refresh after key rotation failed", "err", err)
	}
	return nil
}

// Tags lists the tags tunnels can carry. The tag filter also accepts
// collection.Unset for untagged tunnels.
func (c *Console) Tags(ctx context.Context) ([]resource.Tag, error) {
	return c.api.ListTags(ctx)
}
