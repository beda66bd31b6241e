package storage

import (
	"cmp"
	"slices"
	"strings"

	"board-sync/domain"
)

// Filter narrows the visible items. Status and Priority require an exact
// label id in the designated column; when no column is designated the first
// column of that type is used.
type Filter struct {
	Search           string `json:"search,omitempty"`
	Status           string `json:"status,omitempty"`
	Priority         string `json:"priority,omitempty"`
	StatusColumnID   string `json:"statusColumnId,omitempty"`
	PriorityColumnID string `json:"priorityColumnId,omitempty"`
}

// Active reports whether the filter narrows anything.
func (f Filter) Active() bool {
	return strings.TrimSpace(f.Search) != "" || f.Status != "" || f.Priority != ""
}

// SetFilter replaces the current filter.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.broker.notify()
}

// Filter returns the current filter.
func (s *Store) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// FilteredItems returns copies of the items passing the current filter,
// ordered by position then id.
func (s *Store) FilteredItems() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ApplyFilter(s.items, s.columns, s.filter)
}

// ApplyFilter evaluates f over items without modifying its inputs. The
// result holds copies ordered by position; equal positions keep store order.
func ApplyFilter(items []domain.Item, columns []domain.Column, f Filter) []domain.Item {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	statusCol := designated(columns, f.StatusColumnID, domain.ColumnStatus)
	priorityCol := designated(columns, f.PriorityColumnID, domain.ColumnPriority)

	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if f.Status != "" && !labelMatches(it, statusCol, f.Status) {
			continue
		}
		if f.Priority != "" && !labelMatches(it, priorityCol, f.Priority) {
			continue
		}
		if term != "" && !searchMatches(it, columns, term) {
			continue
		}
		out = append(out, it.Clone())
	}
	slices.SortStableFunc(out, func(a, b domain.Item) int {
		return cmp.Compare(a.Position, b.Position)
	})
	return out
}

func designated(columns []domain.Column, id string, t domain.ColumnType) string {
	for _, c := range columns {
		if id != "" && c.ID == id {
			return c.ID
		}
		if id == "" && c.Type == t {
			return c.ID
		}
	}
	return ""
}

func labelMatches(it domain.Item, columnID, labelID string) bool {
	if columnID == "" {
		return false
	}
	v, ok := it.Values[columnID]
	return ok && v.Set && v.LabelID == labelID
}

func searchMatches(it domain.Item, columns []domain.Column, term string) bool {
	if strings.Contains(strings.ToLower(it.Name), term) {
		return true
	}
	for colID, v := range it.Values {
		if strings.Contains(strings.ToLower(v.String()), term) {
			return true
		}
		if !v.Type.Labeled() || !v.Set {
			continue
		}
		for _, c := range columns {
			if c.ID != colID {
				continue
			}
			if name, ok := c.Settings.LabelName(v.LabelID); ok && strings.Contains(strings.ToLower(name), term) {
				return true
			}
		}
	}
	return false
}
