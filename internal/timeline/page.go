package timeline

import "sort"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Window struct {
	Offset int
	Limit  int
}

// Normalize clamps the limit to [1, MaxLimit] (zero means DefaultLimit) and
// the offset to non-negative.
func (w Window) Normalize() Window {
	if w.Limit == 0 {
		w.Limit = DefaultLimit
	}
	if w.Limit < 1 {
		w.Limit = 1
	}
	if w.Limit > MaxLimit {
		w.Limit = MaxLimit
	}
	if w.Offset < 0 {
		w.Offset = 0
	}
	return w
}

type Page struct {
	Items      []Interaction `json:"items"`
	Total      int           `json:"total"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
	HasMore    bool          `json:"hasMore"`
	NextOffset int           `json:"nextOffset,omitempty"`
	Warnings   []Warning     `json:"warnings,omitempty"`
}

// Sort orders items newest first. Equal timestamps order by ID; unknown
// timestamps go last.
func Sort(items []Interaction) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.OccurredAt.IsZero() != b.OccurredAt.IsZero() {
			return b.OccurredAt.IsZero()
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.ID < b.ID
	})
}

// Paginate returns one window of an already sorted list.
func Paginate(items []Interaction, window Window) Page {
	window = window.Normalize()
	page := Page{
		Items:  []Interaction{},
		Total:  len(items),
		Offset: window.Offset,
		Limit:  window.Limit,
	}
	if window.Offset >= len(items) {
		return page
	}
	end := window.Offset + window.Limit
	if end > len(items) {
		end = len(items)
	}
	page.Items = items[window.Offset:end]
	if end < len(items) {
		page.HasMore = true
		page.NextOffset = end
	}
	return page
}

// Reconcile runs normalization, the content filter, deduplication and sorting
// over the rows of one lead.
func Reconcile(leadID string, src Sources, minMeaningfulLength int) []Interaction {
	items := Normalize(leadID, src)
	items = FilterContent(items, minMeaningfulLength)
	items = Deduplicate(items)
	Sort(items)
	return items
}

func filterKinds(items []Interaction, kinds []Kind) []Interaction {
	if len(kinds) == 0 {
		return items
	}
	wanted := make(map[Kind]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}
	out := make([]Interaction, 0, len(items))
	for _, item := range items {
		if wanted[item.Kind] {
			out = append(out, item)
		}
	}
	return out
}
