package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string][]byte)} }

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) has(key string) bool {
	_, ok, _ := s.Get(context.Background(), key)
	return ok
}

type fakeTransport struct {
	status    int
	body      string
	err       error
	logoutErr error
	calls     int
	logouts   int
}

func (f *fakeTransport) WhoAmI(ctx context.Context) (int, []byte, error) {
	f.calls++
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.status, []byte(f.body), nil
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.logouts++
	return f.logoutErr
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func newCache(tr Transport, st Store, clk *clock) *Cache {
	return New(Options{Store: st, Transport: tr, Now: clk.now})
}

func TestDecodeIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"nested", `{"user": {"username": "ops"}}`, "ops", true},
		{"flat", `{"username": "ops"}`, "ops", true},
		{"nested wins", `{"user": {"username": "a"}, "username": "b"}`, "a", true},
		{"blank", `{"username": "  "}`, "", false},
		{"empty nested", `{"user": {}}`, "", false},
		{"empty nested falls back", `{"user": {}, "username": "b"}`, "b", true},
		{"wrong type", `{"username": 42}`, "", false},
		{"array", `[]`, "", false},
		{"garbage", `not json`, "", false},
		{"empty object", `{}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := DecodeIdentity([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.NotNil(t, id)
				assert.Equal(t, tt.want, id.Username)
			} else {
				assert.Nil(t, id)
			}
		})
	}
}

func TestInitLoadsPersistedIdentity(t *testing.T) {
	st := newMapStore()
	st.Set(context.Background(), StorageKey, []byte(`{"username":"ops"}`))
	c := newCache(&fakeTransport{}, st, newClock())

	c.Init(context.Background())
	require.NotNil(t, c.User())
	assert.Equal(t, "ops", c.User().Username)
	assert.True(t, c.Loading())
}

func TestInitIgnoresMalformedIdentity(t *testing.T) {
	st := newMapStore()
	st.Set(context.Background(), StorageKey, []byte(`{{`))
	c := newCache(&fakeTransport{}, st, newClock())
	c.Init(context.Background())
	assert.Nil(t, c.User())
}

func TestCheckThrottle(t *testing.T) {
	tr := &fakeTransport{status: http.StatusOK, body: `{"username":"ops"}`}
	clk := newClock()
	c := newCache(tr, newMapStore(), clk)

	assert.Equal(t, CheckAuthenticated, c.Check(context.Background(), false))
	clk.advance(10 * time.Second)
	assert.Equal(t, CheckSkipped, c.Check(context.Background(), false))
	assert.Equal(t, 1, tr.calls)

	assert.Equal(t, CheckAuthenticated, c.Check(context.Background(), true))
	assert.Equal(t, 2, tr.calls)

	clk.advance(DefaultInterval)
	c.Check(context.Background(), false)
	assert.Equal(t, 3, tr.calls)
}

func TestCheckPersistsIdentity(t *testing.T) {
	st := newMapStore()
	tr := &fakeTransport{status: http.StatusOK, body: `{"user":{"username":"ops"}}`}
	c := newCache(tr, st, newClock())
	c.Init(context.Background())

	c.Check(context.Background(), false)
	assert.False(t, c.Loading())
	raw, ok, _ := st.Get(context.Background(), StorageKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"username":"ops"}`, string(raw))
}

func TestOptimisticLoginThenUnauthenticated(t *testing.T) {
	st := newMapStore()
	st.Set(context.Background(), StorageKey, []byte(`{"username":"ops"}`))
	tr := &fakeTransport{status: http.StatusUnauthorized}
	c := newCache(tr, st, newClock())
	c.Init(context.Background())
	require.NotNil(t, c.User())

	assert.Equal(t, CheckUnauthenticated, c.Check(context.Background(), false))
	assert.Nil(t, c.User())
	assert.False(t, st.has(StorageKey))
	assert.False(t, c.Loading())
}

func TestMalformedPayloadIsUnauthenticated(t *testing.T) {
	st := newMapStore()
	st.Set(context.Background(), StorageKey, []byte(`{"username":"ops"}`))
	tr := &fakeTransport{status: http.StatusOK, body: `{"name":"ops"}`}
	c := newCache(tr, st, newClock())
	c.Init(context.Background())

	assert.Equal(t, CheckUnauthenticated, c.Check(context.Background(), false))
	assert.Nil(t, c.User())
	assert.False(t, st.has(StorageKey))
}

func TestTransportFailureFailsClosed(t *testing.T) {
	st := newMapStore()
	st.Set(context.Background(), StorageKey, []byte(`{"username":"ops"}`))
	tr := &fakeTransport{err: errors.New("connection refused")}
	clk := newClock()
	c := newCache(tr, st, clk)
	c.Init(context.Background())

	assert.Equal(t, CheckFailed, c.Check(context.Background(), false))
	assert.Nil(t, c.User())
	assert.False(t, c.Loading())
	assert.True(t, st.has(StorageKey), "persisted identity survives a transport error")

	// The failed attempt does not start a throttle window.
	assert.Equal(t, CheckFailed, c.Check(context.Background(), false))
	assert.Equal(t, 2, tr.calls)
}

func TestLogoutSwallowsRemoteError(t *testing.T) {
	st := newMapStore()
	tr := &fakeTransport{status: http.StatusOK, body: `{"username":"ops"}`, logoutErr: errors.New("boom")}
	var redirected string
	c := New(Options{Store: st, Transport: tr, Redirect: func(p string) { redirected = p }})
	c.Check(context.Background(), true)
	require.NotNil(t, c.User())

	c.Logout(context.Background())
	assert.Equal(t, 1, tr.logouts)
	assert.Nil(t, c.User())
	assert.False(t, st.has(StorageKey))
	assert.Equal(t, "/login", redirected)
}

func TestSetDirectly(t *testing.T) {
	st := newMapStore()
	tr := &fakeTransport{}
	c := newCache(tr, st, newClock())

	c.SetDirectly(context.Background(), &Identity{Username: "ops"})
	assert.Equal(t, "ops", c.User().Username)
	assert.True(t, st.has(StorageKey))
	assert.Zero(t, tr.calls)
	assert.True(t, c.State().LastCheckedAt.IsZero())

	c.SetDirectly(context.Background(), nil)
	assert.Nil(t, c.User())
	assert.False(t, st.has(StorageKey))
}

func TestUserReturnsCopy(t *testing.T) {
	c := newCache(&fakeTransport{}, nil, newClock())
	c.SetDirectly(context.Background(), &Identity{Username: "ops"})
	u := c.User()
	u.Username = "changed"
	assert.Equal(t, "ops", c.User().Username)
}

type fakeRecorder struct {
	checks []string
	authed bool
}

func (f *fakeRecorder) RecordSessionCheck(result string) { f.checks = append(f.checks, result) }
func (f *fakeRecorder) SetAuthenticated(b bool)          { f.authed = b }

func TestRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	tr := &fakeTransport{status: http.StatusOK, body: `{"username":"ops"}`}
	c := New(Options{Transport: tr, Recorder: rec})

	c.Check(context.Background(), false)
	assert.Equal(t, []string{"authenticated"}, rec.checks)
	assert.True(t, rec.authed)

	c.Check(context.Background(), false)
	assert.Len(t, rec.checks, 1, "skipped checks are not recorded")
}
