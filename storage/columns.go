package storage

import (
	"slices"

	"board-sync/domain"
)

// Columns returns copies of the board's columns.
func (s *Store) Columns() []domain.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Column, 0, len(s.columns))
	for _, c := range s.columns {
		c.Settings = c.Settings.Clone()
		out = append(out, c)
	}
	return out
}

// Column returns a copy of the column with the given id.
func (s *Store) Column(id string) (domain.Column, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.columnIndexLocked(id)
	if i < 0 {
		return domain.Column{}, false
	}
	c := s.columns[i]
	c.Settings = c.Settings.Clone()
	return c, true
}

// ColumnType returns the type of the column, or "" when it is unknown.
func (s *Store) ColumnType(id string) domain.ColumnType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.columnTypeLocked(id)
}

func (s *Store) columnTypeLocked(id string) domain.ColumnType {
	if i := s.columnIndexLocked(id); i >= 0 {
		return s.columns[i].Type
	}
	return ""
}

func (s *Store) columnIndexLocked(id string) int {
	return slices.IndexFunc(s.columns, func(c domain.Column) bool { return c.ID == id })
}

// AddColumn inserts the column unless it exists. Item values already held
// for it are resolved with its type.
func (s *Store) AddColumn(c domain.Column) bool {
	s.mu.Lock()
	if s.columnIndexLocked(c.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	c.Settings = c.Settings.Clone()
	s.columns = append(s.columns, c)
	for i := range s.items {
		v, ok := s.items[i].Values[c.ID]
		if !ok {
			continue
		}
		if rv, err := v.Resolve(c.Type); err == nil {
			s.items[i].Values[c.ID] = rv
		}
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// UpdateColumn merges the patch into the column. The type never changes.
func (s *Store) UpdateColumn(id string, p domain.ColumnPatch) bool {
	s.mu.Lock()
	i := s.columnIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	c := &s.columns[i]
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Settings != nil {
		c.Settings = p.Settings.Clone()
	}
	if p.Position != nil {
		c.Position = *p.Position
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// DeleteColumn removes the column. Item values for it are left in place.
func (s *Store) DeleteColumn(id string) (domain.Column, int, bool) {
	s.mu.Lock()
	i := s.columnIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Column{}, -1, false
	}
	removed := s.columns[i]
	s.columns = slices.Delete(s.columns, i, i+1)
	s.mu.Unlock()
	s.broker.notify()
	return removed, i, true
}

// InsertColumnAt restores a column at index i.
func (s *Store) InsertColumnAt(i int, c domain.Column) bool {
	s.mu.Lock()
	if s.columnIndexLocked(c.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	i = max(0, min(i, len(s.columns)))
	s.columns = slices.Insert(s.columns, i, c)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// ReorderColumns applies column positions. Unknown ids are skipped.
func (s *Store) ReorderColumns(ps []domain.Position) int {
	s.mu.Lock()
	n := 0
	for _, p := range ps {
		if i := s.columnIndexLocked(p.ID); i >= 0 {
			s.columns[i].Position = p.Position
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.broker.notify()
	}
	return n
}

// AddLabel appends a label to a status or priority column unless a label
// with the same id exists.
func (s *Store) AddLabel(columnID string, l domain.Label) bool {
	s.mu.Lock()
	i := s.columnIndexLocked(columnID)
	if i < 0 || slices.ContainsFunc(s.columns[i].Settings.Labels, func(x domain.Label) bool { return x.ID == l.ID }) {
		s.mu.Unlock()
		return false
	}
	s.columns[i].Settings.Labels = append(s.columns[i].Settings.Labels, l)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// UpdateLabel replaces the name and color of an existing label.
func (s *Store) UpdateLabel(columnID string, l domain.Label) bool {
	s.mu.Lock()
	i := s.columnIndexLocked(columnID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	labels := s.columns[i].Settings.Labels
	j := slices.IndexFunc(labels, func(x domain.Label) bool { return x.ID == l.ID })
	if j < 0 {
		s.mu.Unlock()
		return false
	}
	if l.Name != "" {
		labels[j].Name = l.Name
	}
	if l.Color != "" {
		labels[j].Color = l.Color
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// DeleteLabel removes a label from a column. Item values pointing at it are
// kept, the same way orphaned column values are.
func (s *Store) DeleteLabel(columnID, labelID string) bool {
	s.mu.Lock()
	i := s.columnIndexLocked(columnID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	before := len(s.columns[i].Settings.Labels)
	s.columns[i].Settings.Labels = slices.DeleteFunc(s.columns[i].Settings.Labels, func(x domain.Label) bool {
		return x.ID == labelID
	})
	changed := len(s.columns[i].Settings.Labels) != before
	s.mu.Unlock()
	if changed {
		s.broker.notify()
	}
	return changed
}

// Groups returns copies of the board's groups.
func (s *Store) Groups() []domain.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.groups)
}

func (s *Store) Group(id string) (domain.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.groupIndexLocked(id)
	if i < 0 {
		return domain.Group{}, false
	}
	return s.groups[i], true
}

func (s *Store) groupIndexLocked(id string) int {
	return slices.IndexFunc(s.groups, func(g domain.Group) bool { return g.ID == id })
}

// AddGroup inserts the group unless it exists.
func (s *Store) AddGroup(g domain.Group) bool {
	s.mu.Lock()
	if s.groupIndexLocked(g.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.groups = append(s.groups, g)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// UpdateGroup merges the patch into the group.
func (s *Store) UpdateGroup(id string, p domain.GroupPatch) bool {
	s.mu.Lock()
	i := s.groupIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	g := &s.groups[i]
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Color != nil {
		g.Color = *p.Color
	}
	if p.Collapsed != nil {
		g.Collapsed = *p.Collapsed
	}
	if p.Position != nil {
		g.Position = *p.Position
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// GroupRemoval records what DeleteGroup changed so it can be undone.
type GroupRemoval struct {
	Group   domain.Group
	Index   int
	ItemIDs []string
}

// DeleteGroup removes the group and clears the group reference of its items.
func (s *Store) DeleteGroup(id string) (GroupRemoval, bool) {
	s.mu.Lock()
	i := s.groupIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return GroupRemoval{}, false
	}
	r := GroupRemoval{Group: s.groups[i], Index: i}
	s.groups = slices.Delete(s.groups, i, i+1)
	for j := range s.items {
		if s.items[j].GroupID == id {
			s.items[j].GroupID = ""
			r.ItemIDs = append(r.ItemIDs, s.items[j].ID)
		}
	}
	s.mu.Unlock()
	s.broker.notify()
	return r, true
}

// RestoreGroup undoes a DeleteGroup. Items that were regrouped in the
// meantime keep their new group.
func (s *Store) RestoreGroup(r GroupRemoval) bool {
	s.mu.Lock()
	if s.groupIndexLocked(r.Group.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	i := max(0, min(r.Index, len(s.groups)))
	s.groups = slices.Insert(s.groups, i, r.Group)
	for _, id := range r.ItemIDs {
		if j, ok := s.index[id]; ok && s.items[j].GroupID == "" {
			s.items[j].GroupID = r.Group.ID
		}
	}
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// ReorderGroups applies group positions. Unknown ids are skipped.
func (s *Store) ReorderGroups(ps []domain.Position) int {
	s.mu.Lock()
	n := 0
	for _, p := range ps {
		if i := s.groupIndexLocked(p.ID); i >= 0 {
			s.groups[i].Position = p.Position
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.broker.notify()
	}
	return n
}

// Members returns the members of the board's workspace.
func (s *Store) Members() []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members)
}

// SetMembers replaces the member list.
func (s *Store) SetMembers(ms []domain.Member) {
	s.mu.Lock()
	s.members = slices.Clone(ms)
	s.mu.Unlock()
	s.broker.notify()
}

// AddMember inserts the member unless one with the same id exists.
func (s *Store) AddMember(m domain.Member) bool {
	s.mu.Lock()
	if slices.ContainsFunc(s.members, func(x domain.Member) bool { return x.ID == m.ID }) {
		s.mu.Unlock()
		return false
	}
	s.members = append(s.members, m)
	s.mu.Unlock()
	s.broker.notify()
	return true
}

// RemoveMember drops the member with the given id.
func (s *Store) RemoveMember(id string) bool {
	s.mu.Lock()
	before := len(s.members)
	s.members = slices.DeleteFunc(s.members, func(x domain.Member) bool { return x.ID == id })
	changed := len(s.members) != before
	s.mu.Unlock()
	if changed {
		s.broker.notify()
	}
	return changed
}
