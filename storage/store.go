package storage

import (
	"errors"
	"slices"
	"sync"

	"board-sync/domain"
)

// ErrNoBoard is returned by lookups that need an open board.
var ErrNoBoard = errors.New("no board loaded")

// Store holds the normalized collections of the active board. Every
// operation is atomic and total: unknown ids degrade to no-ops.
type Store struct {
	mu sync.RWMutex

	boardID     string
	workspaceID string
	name        string

	items   []domain.Item
	index   map[string]int
	columns []domain.Column
	groups  []domain.Group
	members []domain.Member

	selected map[string]struct{}
	filter   Filter

	broker *updateBroker
}

// New returns an empty store.
func New() *Store {
	return &Store{
		index:    make(map[string]int),
		selected: make(map[string]struct{}),
		broker:   newUpdateBroker(),
	}
}

// SetBoard replaces all collections with the snapshot and resets the
// selection. Item values are resolved against the board's columns.
func (s *Store) SetBoard(b domain.Board) {
	s.mu.Lock()
	s.load(b)
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
	s.broker.notify()
}

// Reconcile replaces all collections with a fresh snapshot of the same board
// while keeping the filter and the selection of items that still exist.
func (s *Store) Reconcile(b domain.Board) {
	s.mu.Lock()
	if b.Members == nil && b.ID == s.boardID {
		b.Members = s.members
	}
	s.load(b)
	for id := range s.selected {
		if _, ok := s.index[id]; !ok {
			delete(s.selected, id)
		}
	}
	s.mu.Unlock()
	s.broker.notify()
}

// ClearBoard empties every collection and the selection.
func (s *Store) ClearBoard() {
	s.mu.Lock()
	s.boardID, s.workspaceID, s.name = "", "", ""
	s.items = nil
	s.index = make(map[string]int)
	s.columns = nil
	s.groups = nil
	s.members = nil
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
	s.broker.notify()
}

func (s *Store) load(b domain.Board) {
	s.boardID, s.workspaceID, s.name = b.ID, b.WorkspaceID, b.Name
	s.columns = make([]domain.Column, 0, len(b.Columns))
	for _, c := range b.Columns {
		c.Settings = c.Settings.Clone()
		s.columns = append(s.columns, c)
	}
	s.groups = slices.Clone(b.Groups)
	s.members = slices.Clone(b.Members)
	s.items = make([]domain.Item, 0, len(b.Items))
	s.index = make(map[string]int, len(b.Items))
	for _, it := range b.Items {
		if _, dup := s.index[it.ID]; dup {
			continue
		}
		it = it.Clone()
		_ = it.ResolveValues(s.columnTypeLocked)
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it)
	}
}

// BoardID returns the id of the loaded board, or "" when none is loaded.
func (s *Store) BoardID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boardID
}

// Snapshot returns a deep copy of the loaded board.
func (s *Store) Snapshot() (domain.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boardID == "" {
		return domain.Board{}, ErrNoBoard
	}
	b := domain.Board{
		ID:          s.boardID,
		WorkspaceID: s.workspaceID,
		Name:        s.name,
		Columns:     make([]domain.Column, 0, len(s.columns)),
		Groups:      slices.Clone(s.groups),
		Items:       make([]domain.Item, 0, len(s.items)),
		Members:     slices.Clone(s.members),
	}
	for _, c := range s.columns {
		c.Settings = c.Settings.Clone()
		b.Columns = append(b.Columns, c)
	}
	for _, it := range s.items {
		b.Items = append(b.Items, it.Clone())
	}
	return b, nil
}

// UpdateBoard merges the patch into the board metadata.
func (s *Store) UpdateBoard(id string, p domain.BoardPatch) {
	s.mu.Lock()
	if id != s.boardID || id == "" {
		s.mu.Unlock()
		return
	}
	if p.Name != nil {
		s.name = *p.Name
	}
	s.mu.Unlock()
	s.broker.notify()
}

// BoardName returns the name of the loaded board.
func (s *Store) BoardName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Subscribe returns a channel that receives a signal after store changes.
// Bursts of changes coalesce into a single pending signal. The returned
// func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := s.broker.subscribe()
	return ch, func() { s.broker.unsubscribe(ch) }
}

// updateBroker fans change signals out to subscribers without blocking.
type updateBroker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *updateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *updateBroker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}
