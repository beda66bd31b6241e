package realtime

import (
	"context"
	"slices"
	"sync"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

// Room kinds.
const (
	RoomWorkspace = "workspace"
	RoomBoard     = "board"
)

// Room is a server-side broadcast scope.
type Room struct {
	Kind string
	ID   string
}

func WorkspaceRoom(id string) Room { return Room{Kind: RoomWorkspace, ID: id} }

func BoardRoom(id string) Room { return Room{Kind: RoomBoard, ID: id} }

// Channel is the pub/sub channel name of the room.
func (r Room) Channel() string { return r.Kind + ":" + r.ID }

// Handler receives what a transport delivers. Connected is called after
// every (re)connection once the active rooms have been joined and before
// further events are delivered.
type Handler interface {
	HandleEvent(ev domain.Event)
	Connected(ctx context.Context, reconnect bool)
}

// Transport is a push channel. Run blocks, reconnecting as needed, until ctx
// is cancelled. Join and Leave may be called at any time; joined rooms are
// re-joined on every reconnection.
type Transport interface {
	Run(ctx context.Context, h Handler) error
	Join(ctx context.Context, room Room) error
	Leave(ctx context.Context, room Room) error
}

// command is an outbound room membership frame.
type command struct {
	Event string            `json:"event"`
	Data  map[string]string `json:"data"`
}

func encodeCommand(action string, r Room) ([]byte, error) {
	return sonic.Marshal(command{
		Event: action + ":" + r.Kind,
		Data:  map[string]string{r.Kind + "Id": r.ID},
	})
}

func decodeEvent(data []byte) (domain.Event, error) {
	var ev domain.Event
	err := sonic.Unmarshal(data, &ev)
	return ev, err
}

// roomSet tracks the rooms a transport should be in.
type roomSet struct {
	mu    sync.Mutex
	rooms []Room
}

func (s *roomSet) add(r Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.rooms, r) {
		return false
	}
	s.rooms = append(s.rooms, r)
	return true
}

func (s *roomSet) remove(r Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.rooms, r)
	if i < 0 {
		return false
	}
	s.rooms = slices.Delete(s.rooms, i, i+1)
	return true
}

func (s *roomSet) list() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}
