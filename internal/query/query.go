// Package query derives the searched, filtered and sorted history list from a
// snapshot of recordings.
package query

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jwulff/quill/internal/recording"
)

// Sort orders the projection.
type Sort int

const (
	Newest Sort = iota
	Oldest
	Title
)

var sortNames = []string{"newest", "oldest", "title"}

func (s Sort) String() string {
	if int(s) < len(sortNames) {
		return sortNames[s]
	}
	return fmt.Sprintf("sort(%d)", int(s))
}

// ParseSort parses newest, oldest or title.
func ParseSort(s string) (Sort, error) {
	for i, n := range sortNames {
		if strings.EqualFold(s, n) {
			return Sort(i), nil
		}
	}
	return Newest, fmt.Errorf("unknown sort %q (want newest, oldest or title)", s)
}

// Filter restricts the projection by summary presence.
type Filter int

const (
	All Filter = iota
	WithSummary
	WithoutSummary
)

var filterNames = []string{"all", "with-summary", "without-summary"}

func (f Filter) String() string {
	if int(f) < len(filterNames) {
		return filterNames[f]
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// ParseFilter parses all, with-summary or without-summary.
func ParseFilter(s string) (Filter, error) {
	for i, n := range filterNames {
		if strings.EqualFold(s, n) {
			return Filter(i), nil
		}
	}
	return All, fmt.Errorf("unknown filter %q (want all, with-summary or without-summary)", s)
}

// Selectors are the user's current query choices.
type Selectors struct {
	Search string
	Sort   Sort
	Filter Filter
	Locale language.Tag
}

// Project returns the items matching sel, in sel's order. items is not
// modified.
func Project(items []recording.Recording, sel Selectors) []recording.Recording {
	needle := strings.ToLower(sel.Search)

	out := make([]recording.Recording, 0, len(items))
	for _, r := range items {
		if !matchesFilter(r, sel.Filter) || !matchesSearch(r, needle) {
			continue
		}
		out = append(out, r)
	}

	switch sel.Sort {
	case Oldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case Title:
		c := collate.New(sel.Locale, collate.IgnoreCase)
		sort.SliceStable(out, func(i, j int) bool { return c.CompareString(out[i].Title, out[j].Title) < 0 })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}

func matchesFilter(r recording.Recording, f Filter) bool {
	switch f {
	case WithSummary:
		return r.HasSummary()
	case WithoutSummary:
		return !r.HasSummary()
	default:
		return true
	}
}

func matchesSearch(r recording.Recording, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.Title), needle) {
		return true
	}
	if r.Summary != nil && strings.Contains(strings.ToLower(*r.Summary), needle) {
		return true
	}
	return r.Transcript != nil && strings.Contains(strings.ToLower(*r.Transcript), needle)
}

// View holds the selectors and the expanded recording. It never stores the
// collection itself.
type View struct {
	Selectors
	Expanded string
}

// NewView returns the default view: no search, newest first, all items.
func NewView(locale language.Tag) *View {
	return &View{Selectors: Selectors{Locale: locale}}
}

// Toggle expands id, or collapses it if already expanded.
func (v *View) Toggle(id string) {
	if v.Expanded == id {
		v.Expanded = ""
		return
	}
	v.Expanded = id
}

// Forget collapses id if it is expanded, for example after deletion.
func (v *View) Forget(id string) {
	if v.Expanded == id {
		v.Expanded = ""
	}
}

// CycleSort advances newest → oldest → title → newest.
func (v *View) CycleSort() {
	v.Sort = (v.Sort + 1) % Sort(len(sortNames))
}

// CycleFilter advances all → with-summary → without-summary → all.
func (v *View) CycleFilter() {
	v.Filter = (v.Filter + 1) % Filter(len(filterNames))
}

// Apply projects items through the view's selectors.
func (v *View) Apply(items []recording.Recording) []recording.Recording {
	return Project(items, v.Selectors)
}
