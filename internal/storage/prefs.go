package storage

import (
	"context"
	"strconv"
	"strings"
)

// Layouts a list view can be shown in.
const (
	LayoutTable = "table"
	LayoutCard  = "card"
)

// Prefs reads and writes per-view preferences as plain scalars, one key
// per setting: "<view>-rows-per-page" and "<view>ViewMode".
type Prefs struct {
	store Store
}

// NewPrefs wraps store.
func NewPrefs(store Store) *Prefs {
	return &Prefs{store: store}
}

func pageSizeKey(view string) string { return view + "-rows-per-page" }
func layoutKey(view string) string   { return view + "ViewMode" }

// PageSize returns the stored page size for view, or fallback if none is
// stored or the stored value is not a positive integer.
func (p *Prefs) PageSize(ctx context.Context, view string, fallback int) int {
	raw, ok, err := p.store.Get(ctx, pageSizeKey(view))
	if err != nil || !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(string(raw)), `"`))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// SetPageSize stores the page size for view.
func (p *Prefs) SetPageSize(ctx context.Context, view string, n int) error {
	return p.store.Set(ctx, pageSizeKey(view), []byte(strconv.Itoa(n)))
}

// Layout returns the stored layout for view, or fallback.
func (p *Prefs) Layout(ctx context.Context, view, fallback string) string {
	raw, ok, err := p.store.Get(ctx, layoutKey(view))
	if err != nil || !ok {
		return fallback
	}
	switch v := strings.Trim(strings.TrimSpace(string(raw)), `"`); v {
	case LayoutTable, LayoutCard:
		return v
	}
	return fallback
}

// SetLayout stores the layout for view.
func (p *Prefs) SetLayout(ctx context.Context, view, layout string) error {
	return p.store.Set(ctx, layoutKey(view), []byte(layout))
}
