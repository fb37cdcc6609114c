package collection

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passdeck/passdeck/internal/resource"
)

func tunnel(id, name, status, endpoint, tag string) resource.Resource {
	attrs := map[string]string{resource.AttrStatus: status, resource.AttrEndpoint: endpoint}
	if tag != "" {
		attrs[resource.AttrTag] = tag
	}
	return resource.Resource{
		ID:         id,
		Kind:       resource.KindTunnel,
		Name:       name,
		Status:     resource.Status(status),
		Searchable: []string{name, "10.0.0." + id},
		Attributes: attrs,
	}
}

func fixture() []resource.Resource {
	return []resource.Resource{
		tunnel("1", "Web", "running", "e1", "t1"),
		tunnel("2", "db", "stopped", "e1", ""),
		tunnel("3", "web-backup", "running", "e2", "t1"),
		tunnel("4", "cache", "error", "e2", "t2"),
		tunnel("5", "WEB-edge", "stopped", "e1", ""),
		tunnel("6", "metrics", "running", "e2", ""),
	}
}

func TestFilterQueryIsCaseInsensitiveSubstring(t *testing.T) {
	got := Filter(fixture(), Criteria{Query: "WeB"})
	assert.Equal(t, []string{"1", "3", "5"}, IDs(got))

	// Matches secondary searchable fields too.
	got = Filter(fixture(), Criteria{Query: "10.0.0.4"})
	assert.Equal(t, []string{"4"}, IDs(got))
}

func TestFilterDiscriminators(t *testing.T) {
	c := Criteria{}.With(resource.AttrEndpoint, "e1").With(resource.AttrStatus, "stopped")
	assert.Equal(t, []string{"2", "5"}, IDs(Filter(fixture(), c)))

	untagged := Criteria{}.With(resource.AttrTag, Unset)
	assert.Equal(t, []string{"2", "5", "6"}, IDs(Filter(fixture(), untagged)))

	all := untagged.With(resource.AttrTag, MatchAll)
	assert.Empty(t, all.Filters)
	assert.Len(t, Filter(fixture(), all), 6)
}

func TestFilterMonotonicity(t *testing.T) {
	steps := []Criteria{
		{},
		{Query: "e"},
		Criteria{Query: "e"}.With(resource.AttrStatus, "running"),
		Criteria{Query: "e"}.With(resource.AttrStatus, "running").With(resource.AttrTag, "t1"),
		Criteria{Query: "e"}.With(resource.AttrStatus, "running").With(resource.AttrTag, "t1").With(resource.AttrEndpoint, "e2"),
	}
	prev := len(fixture()) + 1
	for i, c := range steps {
		n := View(fixture(), c, SortDescriptor{}, Pagination{Page: 1, PageSize: 2}).TotalCount
		assert.LessOrEqual(t, n, prev, "step %d", i)
		prev = n
	}
}

func TestSortIsCaseInsensitive(t *testing.T) {
	got := Sort(fixture(), SortDescriptor{Field: "name", Direction: Ascending})
	assert.Equal(t, []string{"4", "2", "6", "1", "3", "5"}, IDs(got))

	got = Sort(fixture(), SortDescriptor{Field: "name", Direction: Descending})
	assert.Equal(t, []string{"5", "3", "1", "6", "2", "4"}, IDs(got))
}

func TestSortNoFieldKeepsInsertionOrder(t *testing.T) {
	got := Sort(fixture(), SortDescriptor{Direction: Descending})
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, IDs(got))
}

func TestSortStabilityWithTies(t *testing.T) {
	items := []resource.Resource{
		{ID: "a", Name: "same"},
		{ID: "b", Name: "Same"},
		{ID: "c", Name: "other"},
		{ID: "d", Name: "SAME"},
		{ID: "e"}, // missing value sorts as empty string
	}
	for _, dir := range []Direction{Ascending, Descending} {
		first := Sort(items, SortDescriptor{Field: "name", Direction: dir})
		second := Sort(first, SortDescriptor{Field: "name", Direction: dir})
		assert.Equal(t, IDs(first), IDs(second), dir)
	}

	asc := IDs(Sort(items, SortDescriptor{Field: "name", Direction: Ascending}))
	assert.Equal(t, []string{"e", "c", "a", "b", "d"}, asc)
	// Ties keep input order under descending too.
	desc := IDs(Sort(items, SortDescriptor{Field: "name", Direction: Descending}))
	assert.Equal(t, []string{"a", "b", "d", "c", "e"}, desc)
}

func TestSortDoesNotMutateInput(t *testing.T) {
	raw := fixture()
	Sort(raw, SortDescriptor{Field: "name", Direction: Descending})
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, IDs(raw))
}

func TestPaginationCoverage(t *testing.T) {
	var raw []resource.Resource
	for i := 0; i < 23; i++ {
		raw = append(raw, resource.Resource{ID: fmt.Sprint(i), Name: fmt.Sprintf("n%02d", 22-i)})
	}
	sort := SortDescriptor{Field: "name", Direction: Ascending}
	full := IDs(Sort(raw, sort))

	for _, size := range []int{1, 4, 5, 10, 23, 50} {
		first := View(raw, Criteria{}, sort, Pagination{Page: 1, PageSize: size})
		var joined []string
		for p := 1; p <= first.PageCount; p++ {
			joined = append(joined, IDs(View(raw, Criteria{}, sort, Pagination{Page: p, PageSize: size}).Items)...)
		}
		require.Equal(t, full, joined, "page size %d", size)
	}
}

func TestPageCountMinimumOne(t *testing.T) {
	page := View(nil, Criteria{}, SortDescriptor{}, Pagination{Page: 1, PageSize: 10})
	assert.Equal(t, 1, page.PageCount)
	assert.Equal(t, 0, page.TotalCount)
	assert.NotNil(t, page.Items)
}

func TestPaginatePastEndHasNoWraparound(t *testing.T) {
	page := View(fixture(), Criteria{}, SortDescriptor{}, Pagination{Page: 4, PageSize: 2})
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.PageCount)
}

func TestPaginationDefaultsInvalidSize(t *testing.T) {
	page := View(fixture(), Criteria{}, SortDescriptor{}, Pagination{Page: 0, PageSize: 0})
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Items, 6)
}
