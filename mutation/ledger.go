package mutation

import (
	"board-sync/domain"
	"board-sync/storage"
)

// fieldKey names one logical clock: a single field of one entity. Column
// values use the field "value:<columnID>".
type fieldKey struct {
	kind  string
	id    string
	field string
}

// snapshot is a field value as read from the store. ok is false when the
// field or its entity is absent.
type snapshot struct {
	val any
	ok  bool
}

type field struct {
	key fieldKey
	get func(*storage.Store) snapshot
	set func(*storage.Store, snapshot)
}

type writeState int

const (
	writePending writeState = iota
	writeSucceeded
	writeFailed
)

type write struct {
	seq   uint64
	val   snapshot
	state writeState
}

// slot tracks the in-flight writes of one field. The store shows the value
// of the newest write that has not failed, or orig when every write failed.
type slot struct {
	field  field
	orig   snapshot
	clock  uint64
	shown  uint64
	writes []*write
}

func newSlot(f field, st *storage.Store) *slot {
	return &slot{field: f, orig: f.get(st)}
}

func (s *slot) issue(st *storage.Store, v snapshot) *write {
	s.clock++
	w := &write{seq: s.clock, val: v}
	s.writes = append(s.writes, w)
	s.shown = w.seq
	s.field.set(st, v)
	return w
}

func (s *slot) visible() *write {
	for i := len(s.writes) - 1; i >= 0; i-- {
		if s.writes[i].state != writeFailed {
			return s.writes[i]
		}
	}
	return nil
}

// settle records the outcome of w. It reports whether a newer write had been
// issued for the field, and whether the store was written.
func (s *slot) settle(st *storage.Store, w *write, ok bool) (superseded, touched bool) {
	superseded = w.seq != s.clock
	if ok {
		w.state = writeSucceeded
	} else {
		w.state = writeFailed
	}
	touched = s.show(st)

	// Writes older than the newest success can never become visible again.
	for i := len(s.writes) - 1; i > 0; i-- {
		if s.writes[i].state == writeSucceeded {
			s.writes = s.writes[i:]
			break
		}
	}
	return superseded, touched
}

func (s *slot) show(st *storage.Store) bool {
	var seq uint64
	val := s.orig
	if v := s.visible(); v != nil {
		seq, val = v.seq, v.val
	}
	if seq == s.shown {
		return false
	}
	s.field.set(st, val)
	s.shown = seq
	return true
}

// rebase takes the current store content as the rollback target and shows
// the visible write on top of it.
func (s *slot) rebase(st *storage.Store) {
	s.orig = s.field.get(st)
	if v := s.visible(); v != nil {
		s.field.set(st, v.val)
		s.shown = v.seq
		return
	}
	s.shown = 0
}

func (s *slot) pending() bool {
	for _, w := range s.writes {
		if w.state == writePending {
			return true
		}
	}
	return false
}

func itemNameField(id string) field {
	return field{
		key: fieldKey{"item", id, "name"},
		get: func(st *storage.Store) snapshot {
			it, ok := st.Item(id)
			return snapshot{it.Name, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if name, ok := v.val.(string); v.ok && ok {
				st.UpdateItem(id, domain.ItemPatch{Name: &name})
			}
		},
	}
}

func itemGroupField(id string) field {
	return field{
		key: fieldKey{"item", id, "groupId"},
		get: func(st *storage.Store) snapshot {
			it, ok := st.Item(id)
			return snapshot{it.GroupID, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if g, ok := v.val.(string); v.ok && ok {
				st.UpdateItem(id, domain.ItemPatch{GroupID: &g})
			}
		},
	}
}

func itemPositionField(id string) field {
	return field{
		key: fieldKey{"item", id, "position"},
		get: func(st *storage.Store) snapshot {
			it, ok := st.Item(id)
			return snapshot{it.Position, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if p, ok := v.val.(int); v.ok && ok {
				st.UpdateItem(id, domain.ItemPatch{Position: &p})
			}
		},
	}
}

func itemValueField(itemID, columnID string) field {
	return field{
		key: fieldKey{"item", itemID, "value:" + columnID},
		get: func(st *storage.Store) snapshot {
			v, ok := st.ItemValue(itemID, columnID)
			return snapshot{v, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			val, ok := v.val.(domain.Value)
			if !v.ok || !ok {
				st.RemoveItemValue(itemID, columnID)
				return
			}
			st.UpdateItemValue(itemID, columnID, val)
		},
	}
}

func columnTitleField(id string) field {
	return field{
		key: fieldKey{"column", id, "title"},
		get: func(st *storage.Store) snapshot {
			c, ok := st.Column(id)
			return snapshot{c.Title, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if t, ok := v.val.(string); v.ok && ok {
				st.UpdateColumn(id, domain.ColumnPatch{Title: &t})
			}
		},
	}
}

func columnSettingsField(id string) field {
	return field{
		key: fieldKey{"column", id, "settings"},
		get: func(st *storage.Store) snapshot {
			c, ok := st.Column(id)
			return snapshot{c.Settings, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if s, ok := v.val.(domain.ColumnSettings); v.ok && ok {
				st.UpdateColumn(id, domain.ColumnPatch{Settings: &s})
			}
		},
	}
}

func columnPositionField(id string) field {
	return field{
		key: fieldKey{"column", id, "position"},
		get: func(st *storage.Store) snapshot {
			c, ok := st.Column(id)
			return snapshot{c.Position, ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if p, ok := v.val.(int); v.ok && ok {
				st.UpdateColumn(id, domain.ColumnPatch{Position: &p})
			}
		},
	}
}

func groupField(id, name string, read func(domain.Group) any, patch func(any) domain.GroupPatch) field {
	return field{
		key: fieldKey{"group", id, name},
		get: func(st *storage.Store) snapshot {
			g, ok := st.Group(id)
			return snapshot{read(g), ok}
		},
		set: func(st *storage.Store, v snapshot) {
			if v.ok {
				st.UpdateGroup(id, patch(v.val))
			}
		},
	}
}

func groupPatchFields(id string, p domain.GroupPatch) []fieldWrite {
	var ws []fieldWrite
	if p.Name != nil {
		ws = append(ws, fieldWrite{groupField(id, "name",
			func(g domain.Group) any { return g.Name },
			func(v any) domain.GroupPatch { s := v.(string); return domain.GroupPatch{Name: &s} },
		), *p.Name})
	}
	if p.Color != nil {
		ws = append(ws, fieldWrite{groupField(id, "color",
			func(g domain.Group) any { return g.Color },
			func(v any) domain.GroupPatch { s := v.(string); return domain.GroupPatch{Color: &s} },
		), *p.Color})
	}
	if p.Collapsed != nil {
		ws = append(ws, fieldWrite{groupField(id, "collapsed",
			func(g domain.Group) any { return g.Collapsed },
			func(v any) domain.GroupPatch { b := v.(bool); return domain.GroupPatch{Collapsed: &b} },
		), *p.Collapsed})
	}
	if p.Position != nil {
		ws = append(ws, fieldWrite{groupField(id, "position",
			func(g domain.Group) any { return g.Position },
			func(v any) domain.GroupPatch { n := v.(int); return domain.GroupPatch{Position: &n} },
		), *p.Position})
	}
	return ws
}

func boardNameField(id string) field {
	return field{
		key: fieldKey{"board", id, "name"},
		get: func(st *storage.Store) snapshot {
			return snapshot{st.BoardName(), st.BoardID() == id}
		},
		set: func(st *storage.Store, v snapshot) {
			if n, ok := v.val.(string); v.ok && ok {
				st.UpdateBoard(id, domain.BoardPatch{Name: &n})
			}
		},
	}
}

// fieldWrite pairs a field with the optimistic value to show.
type fieldWrite struct {
	f   field
	val any
}
