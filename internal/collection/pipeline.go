// Package collection turns a fetched resource collection into the page a
// list view shows, and owns the per-view state (criteria, sort, page,
// selection) around it.
package collection

import (
	"slices"
	"strings"

	"github.com/passdeck/passdeck/internal/resource"
)

// Sentinel discriminator values.
const (
	// MatchAll disables a discriminator.
	MatchAll = "all"
	// Unset matches resources that do not carry the attribute at all.
	Unset = "untagged"
)

// DefaultPageSize is used when a page size is missing or invalid.
const DefaultPageSize = 10

// Discriminator is an equality test against one attribute.
type Discriminator struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d Discriminator) active() bool {
	return d.Value != "" && d.Value != MatchAll
}

func (d Discriminator) matches(r resource.Resource) bool {
	v, ok := r.Attr(d.Key)
	if d.Value == Unset {
		return !ok
	}
	return ok && v == d.Value
}

// Criteria is a free-text query plus discriminator filters.
type Criteria struct {
	Query   string          `json:"query,omitempty"`
	Filters []Discriminator `json:"filters,omitempty"`
}

// With returns a copy of c with the discriminator for key replaced.
// Setting MatchAll removes it.
func (c Criteria) With(key, value string) Criteria {
	filters := make([]Discriminator, 0, len(c.Filters)+1)
	for _, f := range c.Filters {
		if f.Key != key {
			filters = append(filters, f)
		}
	}
	d := Discriminator{Key: key, Value: value}
	if d.active() {
		filters = append(filters, d)
	}
	c.Filters = filters
	return c
}

// Matches reports whether r passes the query and every active filter.
func (c Criteria) Matches(r resource.Resource) bool {
	if q := strings.ToLower(c.Query); q != "" {
		found := false
		for _, f := range r.Searchable {
			if strings.Contains(strings.ToLower(f), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, d := range c.Filters {
		if d.active() && !d.matches(r) {
			return false
		}
	}
	return true
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// SortDescriptor orders a collection by one field. An empty Field keeps
// insertion order.
type SortDescriptor struct {
	Field     string    `json:"field,omitempty"`
	Direction Direction `json:"direction"`
}

// Pagination selects one page of a result.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (p Pagination) normalized() Pagination {
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 {
		p.Page = 1
	}
	return p
}

// Page is the visible slice of a view.
type Page struct {
	Items      []resource.Resource `json:"items"`
	TotalCount int                 `json:"total_count"`
	PageCount  int                 `json:"page_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}

// View filters, sorts and paginates raw. It does not modify raw.
func View(raw []resource.Resource, c Criteria, s SortDescriptor, p Pagination) Page {
	matched := Sort(Filter(raw, c), s)
	return Paginate(matched, p)
}

// Filter returns the resources matching c, preserving input order.
func Filter(raw []resource.Resource, c Criteria) []resource.Resource {
	out := make([]resource.Resource, 0, len(raw))
	for _, r := range raw {
		if c.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Sort returns a stably sorted copy. Values are compared lower-cased;
// descending negates the comparison so ties keep input order either way.
func Sort(items []resource.Resource, s SortDescriptor) []resource.Resource {
	out := slices.Clone(items)
	if s.Field == "" {
		return out
	}
	slices.SortStableFunc(out, func(a, b resource.Resource) int {
		cmp := strings.Compare(strings.ToLower(a.Field(s.Field)), strings.ToLower(b.Field(s.Field)))
		if s.Direction == Descending {
			return -cmp
		}
		return cmp
	})
	return out
}

// PageCount is ceil(total/pageSize), never less than 1.
func PageCount(total, pageSize int) int {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	n := (total + pageSize - 1) / pageSize
	if n < 1 {
		return 1
	}
	return n
}

// Paginate slices items for p. A page past the end yields no items.
func Paginate(items []resource.Resource, p Pagination) Page {
	p = p.normalized()
	page := Page{
		TotalCount: len(items),
		PageCount:  PageCount(len(items), p.PageSize),
		Page:       p.Page,
		PageSize:   p.PageSize,
		Items:      []resource.Resource{},
	}
	start := (p.Page - 1) * p.PageSize
	if start >= len(items) {
		return page
	}
	end := min(start+p.PageSize, len(items))
	page.Items = items[start:end]
	return page
}

// IDs returns the ids of items in order.
func IDs(items []resource.Resource) []string {
	ids := make([]string, len(items))
	for i, r := range items {
		ids[i] = r.ID
	}
	return ids
}
