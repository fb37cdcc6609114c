package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/passdeck/passdeck/internal/resource"
	"github.com/passdeck/passdeck/internal/selection"
)

// ErrClosed is returned by Refresh once the controller has been closed.
var ErrClosed = errors.New("collection controller closed")

// Source fetches the raw collection of a kind.
type Source interface {
	List(ctx context.Context, kind resource.Kind) ([]resource.Resource, error)
}

// State is a snapshot of a controller's settings and its visible page.
type State struct {
	Kind          resource.Kind  `json:"kind"`
	Criteria      Criteria       `json:"criteria"`
	Sort          SortDescriptor `json:"sort"`
	Page          Page           `json:"page"`
	SelectionMode string         `json:"selection_mode"`
	SelectedCount int            `json:"selected_count"`
	Selected      []string       `json:"selected"`
	LoadedAt      time.Time      `json:"loaded_at,omitempty"`
}

// Controller owns the state of one list view. Methods are safe for
// concurrent use; network calls happen outside the lock.
type Controller struct {
	mu       sync.Mutex
	kind     resource.Kind
	source   Source
	raw      []resource.Resource
	index    map[string]int
	criteria Criteria
	sort     SortDescriptor
	page     int
	pageSize int
	sel      *selection.Model
	loadedAt time.Time

	// fetchSeq numbers refreshes as they start; appliedSeq is the newest
	// one whose result made it into raw. Older responses are dropped.
	fetchSeq   uint64
	appliedSeq uint64
	closed     bool
}

// NewController creates a controller for kind with an initial page size.
func NewController(kind resource.Kind, source Source, pageSize int) *Controller {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		kind:     kind,
		source:   source,
		index:    make(map[string]int),
		sort:     SortDescriptor{Direction: Ascending},
		page:     1,
		pageSize: pageSize,
		sel:      selection.New(),
	}
}

// Kind returns the resource kind this controller lists.
func (c *Controller) Kind() resource.Kind { return c.kind }

// Refresh fetches the collection and replaces the snapshot, unless the
// controller was closed or a newer refresh already landed.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	items, err := c.source.List(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("listing %s: %w", c.kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		slog.Debug("dropping refresh for closed view", "kind", c.kind)
		return ErrClosed
	}
	if seq <= c.appliedSeq {
		slog.Debug("dropping stale refresh", "kind", c.kind, "seq", seq, "applied", c.appliedSeq)
		return nil
	}
	c.appliedSeq = seq
	c.replaceLocked(items)
	return nil
}

// Replace installs a snapshot directly.
func (c *Controller) Replace(items []resource.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(items)
}

func (c *Controller) replaceLocked(items []resource.Resource) {
	raw := make([]resource.Resource, 0, len(items))
	index := make(map[string]int, len(items))
	for _, r := range items {
		if _, dup := index[r.ID]; dup {
			slog.Warn("duplicate id in collection snapshot", "kind", c.kind, "id", r.ID)
			continue
		}
		index[r.ID] = len(raw)
		raw = append(raw, r)
	}
	c.raw = raw
	c.index = index
	c.loadedAt = time.Now()
	c.clampLocked()
}

// Close marks the controller dead; in-flight refreshes are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Len returns the size of the raw snapshot.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.raw)
}

// SetQuery changes the free-text query and returns to page 1.
func (c *Controller) SetQuery(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.criteria.Query != q {
		c.criteria.Query = q
		c.page = 1
	}
}

// SetFilter sets or clears (with MatchAll) one discriminator and returns
// to page 1.
func (c *Controller) SetFilter(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = c.criteria.With(key, value)
	c.page = 1
}

// SetCriteria replaces all criteria and returns to page 1.
func (c *Controller) SetCriteria(cr Criteria) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criteria = cr
	c.page = 1
}

// SetSort changes the sort order and returns to page 1.
func (c *Controller) SetSort(s SortDescriptor) {
	if s.Direction != Descending {
		s.Direction = Ascending
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sort != s {
		c.sort = s
		c.page = 1
	}
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller) SetPageSize(n int) {
	if n < 1 {
		n = DefaultPageSize
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pageSize != n {
		c.pageSize = n
		c.page = 1
	}
}

// PageSize returns the current page size.
func (c *Controller) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize
}

// SetPage moves to page p, clamped to [1, pageCount].
func (c *Controller) SetPage(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = p
	c.clampLocked()
}

func (c *Controller) clampLocked() {
	count := PageCount(len(c.matchedLocked()), c.pageSize)
	if c.page > count {
		c.page = count
	}
	if c.page < 1 {
		c.page = 1
	}
}

func (c *Controller) matchedLocked() []resource.Resource {
	return Sort(Filter(c.raw, c.criteria), c.sort)
}

// Page returns the visible page for the current settings.
func (c *Controller) Page() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Paginate(c.matchedLocked(), Pagination{Page: c.page, PageSize: c.pageSize})
}

// State returns the full view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	matched := c.matchedLocked()
	ids := IDs(matched)
	return State{
		Kind:          c.kind,
		Criteria:      c.criteria,
		Sort:          c.sort,
		Page:          Paginate(matched, Pagination{Page: c.page, PageSize: c.pageSize}),
		SelectionMode: c.sel.Mode().String(),
		SelectedCount: c.sel.Count(ids),
		Selected:      c.sel.Resolve(ids),
		LoadedAt:      c.loadedAt,
	}
}

// MatchedIDs returns the ids passing the current criteria, in sort order.
func (c *Controller) MatchedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return IDs(c.matchedLocked())
}

// Lookup finds a resource in the current snapshot.
func (c *Controller) Lookup(id string) (resource.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return resource.Resource{}, false
	}
	return c.raw[i], true
}

// ApplyStatus optimistically sets the status of one resource. The next
// refresh reconciles it with the server.
func (c *Controller) ApplyStatus(id string, s resource.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.raw[i] = c.raw[i].WithStatus(s)
	return true
}

// SelectAll selects everything matching the current criteria.
func (c *Controller) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel.SelectAll()
}

// ClearSelection empties the selection.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel.Clear()
}

// Toggle flips one id in the selection.
func (c *Controller) Toggle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sel.Toggle(id, IDs(c.matchedLocked()))
}

// SelectedCount returns the number of selected ids.
func (c *Controller) SelectedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Count(IDs(c.matchedLocked()))
}

// IsSelected reports whether id is selected.
func (c *Controller) IsSelected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Contains(id, IDs(c.matchedLocked()))
}

// ResolvedIDs resolves the selection against the criteria in effect now.
func (c *Controller) ResolvedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sel.Resolve(IDs(c.matchedLocked()))
}

// Export returns the selected resources still present in the snapshot.
func (c *Controller) Export() []resource.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.sel.Resolve(IDs(c.matchedLocked()))
	out := make([]resource.Resource, 0, len(ids))
	for _, id := range ids {
		if i, ok := c.index[id]; ok {
			out = append(out, c.raw[i])
		}
	}
	return out
}
