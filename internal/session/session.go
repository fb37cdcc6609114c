// Package session caches the operator's authenticated identity and
// revalidates it against the control plane at most once per interval.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StorageKey is where the identity is persisted between runs.
const StorageKey = "passdeck.user"

// DefaultInterval is the minimum time between unforced revalidations.
const DefaultInterval = 30 * time.Second

// Identity is the authenticated operator.
type Identity struct {
	Username string `json:"username"`
}

// DecodeIdentity accepts either {"user": {"username": ...}} or
// {"username": ...}. Anything else, including a blank username, yields
// false.
func DecodeIdentity(raw []byte) (*Identity, bool) {
	var payload struct {
		User     *Identity `json:"user"`
		Username *string   `json:"username"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	var name string
	if payload.User != nil {
		name = strings.TrimSpace(payload.User.Username)
	}
	if name == "" && payload.Username != nil {
		name = strings.TrimSpace(*payload.Username)
	}
	if name == "" {
		return nil, false
	}
	return &Identity{Username: name}, true
}

// Transport is the remote side of the session.
type Transport interface {
	WhoAmI(ctx context.Context) (status int, body []byte, err error)
	Logout(ctx context.Context) error
}

// Store persists the identity. It is an optimistic cache only.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives revalidation metrics. It may be nil.
type Recorder interface {
	RecordSessionCheck(result string)
	SetAuthenticated(bool)
}

// CheckResult reports what Check did.
type CheckResult string

const (
	CheckSkipped         CheckResult = "skipped"
	CheckAuthenticated   CheckResult = "authenticated"
	CheckUnauthenticated CheckResult = "unauthenticated"
	CheckFailed          CheckResult = "failed"
)

// Options configures a Cache.
type Options struct {
	Store     Store
	Transport Transport
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// LoginPath is passed to Redirect after logout.
	LoginPath string
	Redirect  func(path string)
	Recorder  Recorder
	Now       func() time.Time
}

// State is a snapshot of the cache.
type State struct {
	User          *Identity `json:"user"`
	Loading       bool      `json:"loading"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
}

// Cache is the process-wide session state. Concurrent Check calls are
// not coalesced; each one that passes the throttle goes to the network.
type Cache struct {
	opts Options

	mu            sync.Mutex
	user          *Identity
	loading       bool
	lastCheckedAt time.Time
}

// New creates a session cache.
func New(opts Options) *Cache {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{opts: opts}
}

// Init loads a persisted identity, unverified, and marks the cache as
// loading until the first Check settles.
func (c *Cache) Init(ctx context.Context) {
	var user *Identity
	if c.opts.Store != nil {
		raw, ok, err := c.opts.Store.Get(ctx, StorageKey)
		switch {
		case err != nil:
			slog.Warn("reading persisted session", "err", err)
		case ok:
			var id Identity
			if json.Unmarshal(raw, &id) == nil && id.Username != "" {
				user = &id
			} else {
				slog.Warn("discarding malformed persisted session")
			}
		}
	}

	c.mu.Lock()
	c.user = user
	c.loading = true
	c.mu.Unlock()
	c.record("", user != nil)
}

// Check revalidates the session unless the last check was less than
// Interval ago. force bypasses the throttle.
func (c *Cache) Check(ctx context.Context, force bool) CheckResult {
	start := c.opts.Now()

	c.mu.Lock()
	if !force && !c.lastCheckedAt.IsZero() && start.Sub(c.lastCheckedAt) < c.opts.Interval {
		c.mu.Unlock()
		return CheckSkipped
	}
	c.mu.Unlock()

	result := c.revalidate(ctx, start)

	c.mu.Lock()
	c.loading = false
	authed := c.user != nil
	c.mu.Unlock()

	c.record(result, authed)
	return result
}

func (c *Cache) revalidate(ctx context.Context, start time.Time) CheckResult {
	status, body, err := c.opts.Transport.WhoAmI(ctx)
	if err != nil {
		// Fail closed. Storage and lastCheckedAt are left alone so the
		// next call retries.
		slog.Warn("session check failed", "err", err)
		c.mu.Lock()
		c.user = nil
		c.mu.Unlock()
		return CheckFailed
	}

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		if id, ok := DecodeIdentity(body); ok {
			c.mu.Lock()
			c.user = id
			c.lastCheckedAt = start
			c.mu.Unlock()
			c.persist(ctx, id)
			return CheckAuthenticated
		}
		slog.Warn("session check returned unrecognized identity payload")
	}

	slog.Debug("session not authenticated", "status", status)
	c.mu.Lock()
	c.user = nil
	c.lastCheckedAt = start
	c.mu.Unlock()
	c.persist(ctx, nil)
	return CheckUnauthenticated
}

// Logout ends the session. Remote errors are logged and ignored.
func (c *Cache) Logout(ctx context.Context) {
	if err := c.opts.Transport.Logout(ctx); err != nil {
		slog.Warn("remote logout failed", "err", err)
	}
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	c.record("", false)

	if c.opts.Redirect != nil {
		c.opts.Redirect(c.opts.LoginPath)
	}
	c.persist(ctx, nil)
}

// SetDirectly installs an identity obtained elsewhere, such as from a
// login response. nil clears the session.
func (c *Cache) SetDirectly(ctx context.Context, id *Identity) {
	c.mu.Lock()
	c.user = id
	c.mu.Unlock()
	c.persist(ctx, id)
	c.record("", id != nil)
}

// User returns the current identity, or nil.
func (c *Cache) User() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Authenticated reports whether a user is present.
func (c *Cache) Authenticated() bool {
	return c.User() != nil
}

// Loading reports whether the first check is still outstanding.
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// State returns a snapshot.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{Loading: c.loading, LastCheckedAt: c.lastCheckedAt}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	return s
}

func (c *Cache) persist(ctx context.Context, id *Identity) {
	if c.opts.Store == nil {
		return
	}
	var err error
	if id == nil {
		err = c.opts.Store.Delete(ctx, StorageKey)
	} else {
		var data []byte
		data, err = json.Marshal(id)
		if err == nil {
			err = c.opts.Store.Set(ctx, StorageKey, data)
		}
	}
	if err != nil {
		slog.Warn("persisting session", "err", err)
	}
}

func (c *Cache) record(result CheckResult, authed bool) {
	if c.opts.Recorder == nil {
		return
	}
	if result != "" {
		c.opts.Recorder.RecordSessionCheck(string(result))
	}
	c.opts.Recorder.SetAuthenticated(authed)
}
