package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"board-sync/domain"
	"board-sync/mutation"
	"board-sync/realtime"
	"board-sync/storage"
)

// ErrNoView is returned when an operation needs an open board.
var ErrNoView = errors.New("no board open")

const leaveTimeout = 5 * time.Second

// Fetcher loads a board snapshot. storage.Cache and remote.Client satisfy it.
type Fetcher interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
}

// MemberLister loads the members of a workspace.
type MemberLister interface {
	ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error)
}

// Session keeps a single board open at a time. It wires the store, mutation
// client, router and transport together and implements realtime.Handler.
type Session struct {
	Log *log.Logger

	// Members is optional. When set, workspace members are loaded on Open.
	Members MemberLister

	store     *storage.Store
	fetcher   Fetcher
	mutations *mutation.Client
	router    *realtime.Router
	transport realtime.Transport

	group singleflight.Group

	// openMu serializes Open and Close. mu guards view.
	openMu sync.Mutex
	mu     sync.Mutex
	view   *View
}

// View is the handle of an open board.
type View struct {
	WorkspaceID string
	BoardID     string

	s    *Session
	once sync.Once
	done chan struct{}
}

func New(store *storage.Store, fetcher Fetcher, mutations *mutation.Client, router *realtime.Router, transport realtime.Transport) *Session {
	s := &Session{
		Log:       log.StandardLogger(),
		store:     store,
		fetcher:   fetcher,
		mutations: mutations,
		router:    router,
		transport: transport,
	}
	router.OnBoardDeleted(s.boardDeleted)
	return s
}

// Open closes the current view and opens boardID: the mutation client and
// router are scoped to it, its rooms joined and its snapshot loaded. Events
// received while the snapshot loads are applied on top of it.
func (s *Session) Open(ctx context.Context, workspaceID, boardID string) (*View, error) {
	if boardID == "" {
		return nil, fmt.Errorf("open board: empty id")
	}
	v, release, err := s.open(ctx, workspaceID, boardID)
	if err != nil {
		return nil, err
	}
	// Queued events may close the view, which takes openMu.
	release()
	return v, nil
}

func (s *Session) open(ctx context.Context, workspaceID, boardID string) (*View, func(), error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	old := s.view
	s.view = nil
	s.mu.Unlock()
	if old != nil {
		s.teardown(old)
	}

	v := &View{WorkspaceID: workspaceID, BoardID: boardID, s: s, done: make(chan struct{})}
	s.store.ClearBoard()
	s.mutations.Reset(boardID)
	s.router.Scope(workspaceID, boardID)
	release := s.router.Hold()

	for _, room := range v.rooms() {
		if err := s.transport.Join(ctx, room); err != nil {
			s.teardown(v)
			return nil, nil, fmt.Errorf("join %s: %w", room.Channel(), err)
		}
	}

	b, err := s.fetcher.GetBoard(ctx, boardID)
	if err != nil {
		s.teardown(v)
		return nil, nil, fmt.Errorf("fetch board %s: %w", boardID, err)
	}
	if b.WorkspaceID == "" {
		b.WorkspaceID = workspaceID
	}
	s.store.SetBoard(b)

	if s.Members != nil && workspaceID != "" {
		members, err := s.Members.ListMembers(ctx, workspaceID)
		if err != nil {
			s.Log.WithError(err).WithField("workspaceId", workspaceID).Warn("list members failed")
		} else {
			s.store.SetMembers(members)
		}
	}

	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	s.Log.WithFields(log.Fields{"workspaceId": workspaceID, "boardId": boardID, "items": len(b.Items)}).Info("board opened")
	return v, release, nil
}

// View returns the open view, or nil.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Resync fetches the open board and reconciles it into the store, keeping
// pending optimistic writes on top. Events received during the fetch are
// applied after it. Concurrent calls share one fetch.
func (s *Session) Resync(ctx context.Context) error {
	v := s.View()
	if v == nil {
		return ErrNoView
	}
	_, err, shared := s.group.Do(v.BoardID, func() (any, error) {
		release := s.router.Hold()
		defer release()
		b, err := s.fetcher.GetBoard(ctx, v.BoardID)
		if err != nil {
			return nil, err
		}
		if s.View() != v {
			return nil, nil
		}
		if b.Members == nil {
			b.Members = s.store.Members()
		}
		s.mutations.Rebase(b)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("resync board %s: %w", v.BoardID, err)
	}
	s.Log.WithFields(log.Fields{"boardId": v.BoardID, "shared": shared}).Debug("board resynced")
	return nil
}

// HandleEvent forwards a push channel event to the router.
func (s *Session) HandleEvent(ev domain.Event) {
	s.router.HandleEvent(ev)
}

// Connected resyncs the open board after the transport (re)connected and
// rejoined its rooms.
func (s *Session) Connected(ctx context.Context, reconnect bool) {
	if s.View() == nil {
		return
	}
	if err := s.Resync(ctx); err != nil && !errors.Is(err, ErrNoView) {
		s.Log.WithError(err).WithField("reconnect", reconnect).Error("resync after connect failed")
	}
}

func (s *Session) boardDeleted(boardID string) {
	v := s.View()
	if v == nil || v.BoardID != boardID {
		return
	}
	s.Log.WithField("boardId", boardID).Warn("open board was deleted")
	v.Close()
}

func (s *Session) teardown(v *View) {
	v.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		rooms := v.rooms()
		for i := len(rooms) - 1; i >= 0; i-- {
			if err := s.transport.Leave(ctx, rooms[i]); err != nil {
				s.Log.WithError(err).WithField("room", rooms[i].Channel()).Warn("leave room failed")
			}
		}
		s.router.Unscope()
		s.mutations.Close()
		s.store.ClearBoard()
		close(v.done)
	})
}

func (v *View) rooms() []realtime.Room {
	var rooms []realtime.Room
	if v.WorkspaceID != "" {
		rooms = append(rooms, realtime.WorkspaceRoom(v.WorkspaceID))
	}
	return append(rooms, realtime.BoardRoom(v.BoardID))
}

// Close leaves the rooms, scopes the router away, cancels in-flight
// mutations and clears the store. It is safe to call more than once.
func (v *View) Close() {
	s := v.s
	s.openMu.Lock()
	defer s.openMu.Unlock()
	s.mu.Lock()
	if s.view == v {
		s.view = nil
	}
	s.mu.Unlock()
	s.teardown(v)
}

// Done is closed once the view has been closed, including when the board was
// deleted remotely.
func (v *View) Done() <-chan struct{} { return v.done }
