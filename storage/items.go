package storage

import (
	"slices"

	"board-sync/domain"
)

// Items returns copies of all items in insertion order.
func (s *Store) Items() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Clone())
	}
	return out
}

// Item returns a copy of the item with the given id.
func (s *Store) Item(id string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Item{}, false
	}
	return s.items[i].Clone(), true
}

// ItemValue returns the value of one column of an item.
func (s *Store) ItemValue(itemID, columnID string) (domain.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[itemID]
	if !ok {
		return domain.Value{}, false
	}
	v, ok := s.items[i].Values[columnID]
	return v.Clone(), ok
}

// AddItem inserts the item unless one with the same id already exists. When
// the item carries the client id of an optimistic placeholder that is still
// present, the placeholder is replaced in place. It reports whether the store
// changed.
func (s *Store) AddItem(item domain.Item) bool {
	s.mu.Lock()
	changed := s.addItemLocked(item)
	s.mu.Unlock()
	if changed {
		s.broker.notify()
	}
	return changed
}

func (s *Store) addItemLocked(item domain.Item) bool {
	if _, exists := s.index[item.ID]; exists {
		if item.ClientID != "" && item.ClientID != item.ID {
			return s.removeItemLocked(item.ClientID)
		}
		return false
	}
	item = item.Clone()
	_ = item.ResolveValues(s.columnTypeLocked)
	if item.ClientID != "" {
		if i, ok := s.index[item.ClientID]; ok {
			delete(s.index, item.ClientID)
			s.items[i] = item
			s.index[item.ID] = i
			s.selectionRenameLocked(item.ClientID, item.ID)
			return true
		}
	}
	s.index[item.ID] = len(s.items)
	s.items = append(s.items, item)
	return true
}

// ReplaceItem swaps the placeholder for the canonical item. When the
// canonical item is already present the placeholder is dropped; when neither
// is present nothing happens.
func (s *Store) ReplaceItem(placeholderID string, item domain.Item) bool {
	if item.ClientID == "" {
		item.ClientID = placeholderID
	}
	s.mu.Lock()
	changed := false
	if _, exists := s.index[item.ID]; exists {
		changed = s.removeItemLocked(placeholderID)
	} else if _, ok := s.index[placeholderID]; ok {
		changed = s.addItemLocked(item)
	}
	s.mu.Unlock()
	if changed {
		s.broker.notify()
	}
	return changed
}

// InsertItemAt inserts the item at position i of the insertion order,
// clamped to the collection bounds. Existing ids are left alone.
func (s *Store) InsertItemAt(i int, item domain.Item) bool {
	s.mu.Lock()
	if _, exists := s.index[item.ID]; exists {
		s.mu.Unlock()
		return false
	}
	item = item.Clone()
	_ = item.ResolveValues(s.columnTypeLocked)
	i = max(0, min(i, len(s.items)))
	s.items = slices.Insert(s.items, i, item)
	s.reindexLocked(i)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// UpdateItem merges the patch into the item. Unknown ids are ignored.
func (s *Store) UpdateItem(id string, p domain.ItemPatch) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || p.Empty() {
		s.mu.Unlock()
		return false
	}
	it := &s.items[i]
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.GroupID != nil {
		it.GroupID = *p.GroupID
	}
	if p.Position != nil {
		it.Position = *p.Position
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// UpdateItemValue sets one column value of an item and leaves its sibling
// values untouched. Unresolved values are decoded with the column's type.
func (s *Store) UpdateItemValue(itemID, columnID string, v domain.Value) bool {
	s.mu.Lock()
	i, ok := s.index[itemID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rv, err := v.Resolve(s.columnTypeLocked(columnID))
	if err != nil {
		rv = v
	}
	it := &s.items[i]
	if it.Values == nil {
		it.Values = make(map[string]domain.Value)
	}
	it.Values[columnID] = rv.Clone()
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// RemoveItemValue drops the column entry from the item's value map.
func (s *Store) RemoveItemValue(itemID, columnID string) bool {
	s.mu.Lock()
	i, ok := s.index[itemID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.items[i].Values[columnID]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.items[i].Values, columnID)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// DeleteItem removes the item and prunes it from the selection. It returns
// the removed item and its former index so callers can restore it.
func (s *Store) DeleteItem(id string) (domain.Item, int, bool) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return domain.Item{}, -1, false
	}
	removed := s.items[i].Clone()
	s.removeItemLocked(id)
	s.mu.Unlock()
	s.broker.notify()
	return removed, i, true
}

// DeleteItems removes every listed item that exists.
func (s *Store) DeleteItems(ids []string) int {
	s.mu.Lock()
	n := 0
	for _, id := range ids {
		if s.removeItemLocked(id) {
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.broker.notify()
	}
	return n
}

// ReorderItems applies positions and optional group reassignments. Unknown
// ids are skipped.
func (s *Store) ReorderItems(ps []domain.ItemPosition) int {
	s.mu.Lock()
	n := 0
	for _, p := range ps {
		i, ok := s.index[p.ID]
		if !ok {
			continue
		}
		s.items[i].Position = p.Position
		if p.GroupID != nil {
			s.items[i].GroupID = *p.GroupID
		}
		n++
	}
	s.mu.Unlock()
	if n > 0 {
		s.broker.notify()
	}
	return n
}

func (s *Store) removeItemLocked(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.index, id)
	delete(s.selected, id)
	s.reindexLocked(i)
	return true
}

func (s *Store) reindexLocked(from int) {
	for j := from; j < len(s.items); j++ {
		s.index[s.items[j].ID] = j
	}
}
