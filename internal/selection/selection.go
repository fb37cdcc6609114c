// Package selection tracks which resources are picked for batch actions
// across filtered, paginated views.
//
// A Model is in exactly one of two modes. Explicit holds an exact set of
// ids that survives filter, sort and page changes; ids that stop matching
// the filter stay selected. AllMatched means "every id that currently
// matches the filter" and is resolved against the filtered ids passed in
// at the time of the call, never against a snapshot.
package selection

// Mode is the active representation of a Model.
type Mode int

const (
	Explicit Mode = iota
	AllMatched
)

func (m Mode) String() string {
	if m == AllMatched {
		return "all_matched"
	}
	return "explicit"
}

// Model is not safe for concurrent use; its owner serializes access.
type Model struct {
	mode  Mode
	ids   map[string]struct{}
	order []string
}

// New returns an empty explicit selection.
func New() *Model {
	return &Model{ids: make(map[string]struct{})}
}

// Mode returns the active representation.
func (m *Model) Mode() Mode { return m.mode }

// SelectAll switches to AllMatched.
func (m *Model) SelectAll() {
	m.mode = AllMatched
	m.reset()
}

// Clear switches to an empty explicit set.
func (m *Model) Clear() {
	m.mode = Explicit
	m.reset()
}

// Toggle flips membership of id. While AllMatched is active the selection
// is first materialized to the filtered ids minus id.
func (m *Model) Toggle(id string, filtered []string) {
	if m.mode == AllMatched {
		m.mode = Explicit
		m.reset()
		for _, f := range filtered {
			if f != id {
				m.add(f)
			}
		}
		return
	}
	if _, ok := m.ids[id]; ok {
		m.remove(id)
		return
	}
	m.add(id)
}

// Set replaces the selection with an explicit set.
func (m *Model) Set(ids []string) {
	m.mode = Explicit
	m.reset()
	for _, id := range ids {
		m.add(id)
	}
}

// Contains reports whether id is selected given the current filtered ids.
func (m *Model) Contains(id string, filtered []string) bool {
	if m.mode == AllMatched {
		for _, f := range filtered {
			if f == id {
				return true
			}
		}
		return false
	}
	_, ok := m.ids[id]
	return ok
}

// Count returns the number of selected ids.
func (m *Model) Count(filtered []string) int {
	if m.mode == AllMatched {
		return len(filtered)
	}
	return len(m.ids)
}

// Resolve returns the concrete ids to act on. Callers must pass the
// filtered ids as they are at the moment the action fires.
func (m *Model) Resolve(filtered []string) []string {
	src := m.order
	if m.mode == AllMatched {
		src = filtered
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Empty reports whether nothing would be resolved.
func (m *Model) Empty(filtered []string) bool {
	return m.Count(filtered) == 0
}

func (m *Model) reset() {
	m.ids = make(map[string]struct{})
	m.order = nil
}

func (m *Model) add(id string) {
	if _, ok := m.ids[id]; ok {
		return
	}
	m.ids[id] = struct{}{}
	m.order = append(m.order, id)
}

func (m *Model) remove(id string) {
	delete(m.ids, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
