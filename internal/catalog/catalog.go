// Package catalog implements browsing over an entry snapshot: text search,
// category and phase filters, sorting and pagination.
package catalog

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// DefaultPerPage is the smallest page size offered by the catalog.
const DefaultPerPage = 50

// Sort keys accepted besides metric names.
const (
	SortRank   = "rank"
	SortNumber = "number"
	SortDate   = "date"
	SortScore  = "score"
)

// Filter narrows the catalog. Zero values match everything.
type Filter struct {
	Search     string
	Categories []string
	Phase      string
}

// Page is one slice of a filtered, sorted catalog.
type Page struct {
	Items      []database.Entry
	Page       int
	PerPage    int
	TotalPages int
	Total      int
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a following page exists.
func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// First returns the 1-based position of the first item on the page.
func (p Page) First() int {
	if p.Total == 0 {
		return 0
	}
	return (p.Page-1)*p.PerPage + 1
}

// Last returns the 1-based position of the last item on the page.
func (p Page) Last() int {
	return p.First() + len(p.Items) - 1
}

// Match reports whether e passes the filter. Search is a case-insensitive
// substring match over title, synopsis and keywords.
func (f Filter) Match(e database.Entry) bool {
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == e.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Phase != "" && f.Phase != "all" && f.Phase != e.Phase {
		return false
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Title), term) ||
		strings.Contains(strings.ToLower(e.Synopsis), term) {
		return true
	}
	for _, k := range e.Keywords {
		if strings.Contains(strings.ToLower(k), term) {
			return true
		}
	}
	return false
}

// Apply returns the entries that pass the filter, in input order.
func (f Filter) Apply(entries []database.Entry) []database.Entry {
	out := make([]database.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// ValidSortKey reports whether key is a known sort order.
func ValidSortKey(key string) bool {
	switch key {
	case "", SortRank, SortNumber, SortDate, SortScore:
		return true
	}
	_, err := aggregate.ParseMetric(key)
	return err == nil
}

// Sort returns a sorted copy of entries. Unknown keys fall back to rank.
// Ties are broken by entry number so the order is total.
func Sort(entries []database.Entry, key string) []database.Entry {
	out := make([]database.Entry, len(entries))
	copy(out, entries)

	var less func(a, b database.Entry) (bool, bool)
	switch key {
	case SortNumber:
		less = func(a, b database.Entry) (bool, bool) { return false, false }
	case SortDate:
		less = func(a, b database.Entry) (bool, bool) {
			return nullsLast(a.DateStart, b.DateStart, func(x, y string) bool { return x < y })
		}
	case SortScore:
		less = func(a, b database.Entry) (bool, bool) {
			return nullsLast(a.CompositeScore, b.CompositeScore, func(x, y float64) bool { return x > y })
		}
	default:
		if m, err := aggregate.ParseMetric(key); err == nil {
			less = func(a, b database.Entry) (bool, bool) {
				av, aok := m.Value(a)
				bv, bok := m.Value(b)
				return nullsLast(optional(av, aok), optional(bv, bok), func(x, y float64) bool { return x > y })
			}
			break
		}
		less = func(a, b database.Entry) (bool, bool) {
			return nullsLast(a.CompositeRank, b.CompositeRank, func(x, y int) bool { return x < y })
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if l, decided := less(out[i], out[j]); decided {
			return l
		}
		return out[i].EntryNumber < out[j].EntryNumber
	})
	return out
}

// Paginate returns the requested 1-based page. Pages outside the range clamp
// to the first or last page.
func Paginate(entries []database.Entry, page, perPage int) Page {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	total := len(entries)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}
	return Page{
		Items:      entries[start:end],
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		Total:      total,
	}
}

// Categories returns the sorted distinct categories present in entries.
func Categories(entries []database.Entry) []string {
	return distinct(entries, func(e database.Entry) string { return e.Category })
}

// Phases returns the sorted distinct phases present in entries.
func Phases(entries []database.Entry) []string {
	return distinct(entries, func(e database.Entry) string { return e.Phase })
}

func distinct(entries []database.Entry, key func(database.Entry) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		k := key(e)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// nullsLast orders present values with cmp and puts nil after everything.
// decided is false when both are nil or equal.
func nullsLast[T comparable](a, b *T, cmp func(x, y T) bool) (less, decided bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case *a == *b:
		return false, false
	}
	return cmp(*a, *b), true
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
