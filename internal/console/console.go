// Package console wires the list views, the batch orchestrator, the
// session cache and the persisted preferences into the operations the
// gateway exposes.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/passdeck/passdeck/internal/batch"
	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/collection"
	"github.com/passdeck/passdeck/internal/notify"
	"github.com/passdeck/passdeck/internal/resource"
	"github.com/passdeck/passdeck/internal/session"
	"github.com/passdeck/passdeck/internal/storage"
)

// ErrUnknownKind is returned for a kind the console has no view for.
var ErrUnknownKind = errors.New("unknown resource kind")

// ErrNotFound is returned when an id is not in the current snapshot.
var ErrNotFound = errors.New("resource not found")

// API is the slice of the control-plane client the console drives.
type API interface {
	collection.Source
	batch.Mutator
	EndpointAction(ctx context.Context, id, action, name string) error
	TunnelAction(ctx context.Context, id, action string) error
	RenameTunnel(ctx context.Context, id, name string) error
	DeleteOne(ctx context.Context, kind resource.Kind, id string, recycle bool) error
	CreateTunnel(ctx context.Context, spec resource.TunnelSpec) (*resource.TunnelRecord, error)
	UpdateTunnel(ctx context.Context, id string, spec resource.TunnelSpec) error
	CreateEndpoint(ctx context.Context, spec resource.EndpointSpec) (*resource.EndpointRecord, error)
	UpdateEndpoint(ctx context.Context, id string, spec resource.EndpointSpec) error
	RotateEndpointKey(ctx context.Context, id, apiKey string) error
	ListTags(ctx context.Context) ([]resource.Tag, error)
	Login(ctx context.Context, username, password string) ([]byte, error)
}

// Options configures a Console.
type Options struct {
	API      API
	Session  *session.Cache
	Prefs    *storage.Prefs
	Notifier notify.Sink
	Recorder batch.Recorder
	// PageSize is used for views without a stored preference.
	PageSize int
}

// Console is the composition root for one operator session.
type Console struct {
	api          API
	session      *session.Cache
	prefs        *storage.Prefs
	notifier     notify.Sink
	orchestrator *batch.Orchestrator

	mu    sync.RWMutex
	views map[resource.Kind]*collection.Controller
}

// New builds a console with one view per known kind. Stored page-size
// preferences are read once here.
func New(ctx context.Context, opts Options) *Console {
	if opts.Notifier == nil {
		opts.Notifier = notify.LogSink{}
	}
	if opts.Prefs == nil {
		opts.Prefs = storage.NewPrefs(storage.NewMemory())
	}
	if opts.PageSize < 1 {
		opts.PageSize = collection.DefaultPageSize
	}

	c := &Console{
		api:          opts.API,
		session:      opts.Session,
		prefs:        opts.Prefs,
		notifier:     opts.Notifier,
		orchestrator: batch.NewOrchestrator(opts.API, notify.BatchPublisher{Sink: opts.Notifier}, opts.Recorder),
		views:        make(map[resource.Kind]*collection.Controller, len(resource.Kinds)),
	}
	for _, kind := range resource.Kinds {
		size := c.prefs.PageSize(ctx, string(kind), opts.PageSize)
		c.views[kind] = collection.NewController(kind, opts.API, size)
	}
	return c
}

// Session returns the session cache, which may be nil.
func (c *Console) Session() *session.Cache { return c.session }

// View returns the controller for kind.
func (c *Console) View(kind resource.Kind) (*collection.Controller, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return v, nil
}

// Views returns every controller in resource.Kinds order.
func (c *Console) Views() []*collection.Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*collection.Controller, 0, len(c.views))
	for _, kind := range resource.Kinds {
		if v, ok := c.views[kind]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Refresh reloads one view from the control plane.
func (c *Console) Refresh(ctx context.Context, kind resource.Kind) error {
	v, err := c.View(kind)
	if err != nil {
		return err
	}
	return v.Refresh(ctx)
}

// RefreshAll reloads every view and returns the first error.
func (c *Console) RefreshAll(ctx context.Context) error {
	var first error
	for _, v := range c.Views() {
		if err := v.Refresh(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunBatch applies action to the view's current selection. The selection
// is resolved against the criteria in effect at this moment. A delete
// that removed anything clears the selection.
func (c *Console) RunBatch(ctx context.Context, kind resource.Kind, action batch.Action, recycle bool) (batch.Result, error) {
	v, err := c.View(kind)
	if err != nil {
		return batch.Result{}, err
	}
	res := c.orchestrator.Execute(ctx, batch.Request{
		Kind:      kind,
		Action:    action,
		IDs:       v.ResolvedIDs(),
		Lookup:    v.Lookup,
		Recycle:   recycle,
		Refresher: v,
	})
	if action == batch.ActionDelete && res.Operated > 0 {
		v.ClearSelection()
	}
	return res, nil
}

// SetPageSize changes a view's page size and stores it as the preference.
func (c *Console) SetPageSize(ctx context.Context, kind resource.Kind, n int) error {
	v, err := c.View(kind)
	if err != nil {
		return err
	}
	if n < 1 {
		return &resource.ValidationError{Field: "page_size", Reason: "must be positive"}
	}
	v.SetPageSize(n)
	if err := c.prefs.SetPageSize(ctx, string(kind), n); err != nil {
		return fmt.Errorf("storing page size: %w", err)
	}
	return nil
}

// Layout returns the stored layout for a view, defaulting to table.
func (c *Console) Layout(ctx context.Context, kind resource.Kind) string {
	return c.prefs.Layout(ctx, string(kind), storage.LayoutTable)
}

// SetLayout stores the layout preference for a view.
func (c *Console) SetLayout(ctx context.Context, kind resource.Kind, layout string) error {
	if _, err := c.View(kind); err != nil {
		return err
	}
	if layout != storage.LayoutTable && layout != storage.LayoutCard {
		return &resource.ValidationError{Field: "layout", Reason: "must be table or card"}
	}
	if err := c.prefs.SetLayout(ctx, string(kind), layout); err != nil {
		return fmt.Errorf("storing layout: %w", err)
	}
	return nil
}

// ApplyDefaults installs a new default page size, for example after a
// config reload. Views with a stored preference keep it.
func (c *Console) ApplyDefaults(ctx context.Context, pageSize int) {
	if pageSize < 1 {
		return
	}
	for _, v := range c.Views() {
		v.SetPageSize(c.prefs.PageSize(ctx, string(v.Kind()), pageSize))
	}
	slog.Info("view defaults applied", "page_size", pageSize)
}

// Login authenticates against the control plane and installs the
// returned identity without another round trip.
func (c *Console) Login(ctx context.Context, username, password string) (*session.Identity, error) {
	if username == "" || password == "" {
		return nil, &resource.ValidationError{Reason: "username and password are required"}
	}
	raw, err := c.api.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	id, ok := session.DecodeIdentity(raw)
	if !ok {
		// Some servers only set the cookie; fall back to the submitted name.
		id = &session.Identity{Username: username}
	}
	if c.session != nil {
		c.session.SetDirectly(ctx, id)
	}
	slog.Info("operator logged in", "user", id.Username)
	return id, nil
}

// Close stops every view; refreshes still in flight are discarded.
func (c *Console) Close() {
	for _, v := range c.Views() {
		v.Close()
	}
}

func (c *Console) report(level notify.Level, title, message string) {
	c.notifier.Notify(notify.Notification{Level: level, Title: title, Message: message})
}

// failureMessage renders err for the operator. Transport errors get a
// generic kind-specific line; API and validation errors pass through.
func failureMessage(kind resource.Kind, err error) string {
	var apiErr *client.APIError
	var valErr *resource.ValidationError
	switch {
	case errors.As(err, &valErr):
		return valErr.Error()
	case errors.As(err, &apiErr):
		return apiErr.Error()
	default:
		return fmt.Sprintf("could not reach the control plane for %s", kind)
	}
}
