package storage

import "slices"

// ToggleItemSelection flips the selection state of an existing item.
func (s *Store) ToggleItemSelection(id string) bool {
	s.mu.Lock()
	if _, ok := s.index[id]; !ok {
		s.mu.Unlock()
		return false
	}
	if _, sel := s.selected[id]; sel {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// SelectAllItems selects every item that passes the current filter.
func (s *Store) SelectAllItems() {
	s.mu.Lock()
	for _, it := range ApplyFilter(s.items, s.columns, s.filter) {
		s.selected[it.ID] = struct{}{}
	}
	s.mu.Unlock()
	s.broker.notify()
}

// ClearSelection deselects everything.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
	s.broker.notify()
}

// Selection returns the selected item ids in sorted order.
func (s *Store) Selection() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsSelected reports whether the item is selected.
func (s *Store) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}

func (s *Store) selectionRenameLocked(from, to string) {
	if _, ok := s.selected[from]; ok {
		delete(s.selected, from)
		s.selected[to] = struct{}{}
	}
}
