package realtime

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
	"board-sync/storage"
)

// DefaultDedupeSize is the number of event ids remembered for deduplication.
const DefaultDedupeSize = 1024

const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeInvalid   = "invalid"
	outcomeUnknown   = "unknown"
)

type handlerFunc func(r *Router, data []byte) (bool, error)

// Router applies push channel events to the store. Every handler is a direct
// store call and safe to apply twice.
type Router struct {
	Log     *log.Logger
	Metrics *Metrics

	store    *storage.Store
	seen     *lru.Cache[string, struct{}]
	handlers map[string]handlerFunc

	mu             sync.Mutex
	workspaceID    string
	boardID        string
	onBoardDeleted func(boardID string)

	// Events received while a snapshot load holds the router. gen changes
	// with every Scope so releases of an older scope are ignored.
	gen      uint64
	holds    int
	draining bool
	held     []domain.Event
}

// NewRouter creates a router over store. It drops every event until Scope is
// called.
func NewRouter(store *storage.Store, dedupeSize int) *Router {
	if dedupeSize <= 0 {
		dedupeSize = DefaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		panic(err)
	}
	return &Router{
		Log:      log.StandardLogger(),
		store:    store,
		seen:     seen,
		handlers: dispatchTable(),
	}
}

// Scope directs the router at a workspace and board. Events for any other
// board are dropped from now on.
func (r *Router) Scope(workspaceID, boardID string) {
	r.mu.Lock()
	r.workspaceID, r.boardID = workspaceID, boardID
	r.gen++
	r.holds, r.held = 0, nil
	r.mu.Unlock()
}

// Hold queues incoming events instead of applying them, so a snapshot being
// loaded cannot wipe them. The returned func releases the hold; once the
// last hold is released the queued events are applied in arrival order.
// Scope discards the queue and any outstanding holds.
func (r *Router) Hold() (release func()) {
	r.mu.Lock()
	gen := r.gen
	r.holds++
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { r.release(gen) }) }
}

func (r *Router) release(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.holds == 0 {
		r.mu.Unlock()
		return
	}
	r.holds--
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	for r.holds == 0 && len(r.held) > 0 {
		batch := r.held
		r.held = nil
		r.mu.Unlock()
		for _, ev := range batch {
			r.handle(ev)
		}
		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}

// HandleEvent applies ev and logs the outcome. While the router is held the
// event is queued instead.
func (r *Router) HandleEvent(ev domain.Event) {
	r.mu.Lock()
	if (r.holds > 0 || r.draining) && r.boardID != "" {
		r.held = append(r.held, ev)
		r.mu.Unlock()
		r.Log.WithField("event", ev.Name).Debug("realtime event queued")
		return
	}
	r.mu.Unlock()
	r.handle(ev)
}

func (r *Router) handle(ev domain.Event) {
	outcome, err := r.Dispatch(ev)
	r.Metrics.observe(ev.Name, outcome)
	entry := r.Log.WithFields(log.Fields{"event": ev.Name, "outcome": outcome})
	if ev.ID != "" {
		entry = entry.WithField("eventId", ev.ID)
	}
	if err != nil {
		entry.WithError(err).Warn("realtime event rejected")
		return
	}
	entry.Debug("realtime event")
}

// Dispatch applies ev to the store and returns its outcome.
func (r *Router) Dispatch(ev domain.Event) (string, error) {
	workspaceID, boardID := r.scope()
	if boardID == "" {
		return outcomeDropped, nil
	}
	if ev.BoardID != "" && ev.BoardID != boardID {
		return outcomeDropped, nil
	}
	if ev.WorkspaceID != "" && workspaceID != "" && ev.WorkspaceID != workspaceID {
		return outcomeDropped, nil
	}
	h, ok := r.handlers[ev.Name]
	if !ok {
		return outcomeUnknown, nil
	}
	if ev.ID != "" {
		if dup, _ := r.seen.ContainsOrAdd(ev.ID, struct{}{}); dup {
			return outcomeDuplicate, nil
		}
	}
	changed, err := h(r, ev.Data)
	switch {
	case err != nil:
		return outcomeInvalid, fmt.Errorf("%s: %w", ev.Name, err)
	case changed:
		return outcomeApplied, nil
	}
	return outcomeNoop, nil
}

func dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		domain.ItemCreated:      (*Router).itemCreated,
		domain.ItemUpdated:      (*Router).itemUpdated,
		domain.ItemValueUpdated: (*Router).itemValueUpdated,
		domain.ItemDeleted:      (*Router).itemDeleted,
		domain.ItemsDeleted:     (*Router).itemsDeleted,
		domain.ItemsReordered:   (*Router).itemsReordered,
		domain.ColumnCreated:    (*Router).columnCreated,
		domain.ColumnUpdated:    (*Router).columnUpdated,
		domain.ColumnDeleted:    (*Router).columnDeleted,
		domain.ColumnsReordered: (*Router).columnsReordered,
		domain.LabelCreated:     (*Router).labelCreated,
		domain.LabelUpdated:     (*Router).labelUpdated,
		domain.LabelDeleted:     (*Router).labelDeleted,
		domain.GroupCreated:     (*Router).groupCreated,
		domain.GroupUpdated:     (*Router).groupUpdated,
		domain.GroupDeleted:     (*Router).groupDeleted,
		domain.GroupsReordered:  (*Router).groupsReordered,
		domain.BoardCreated:     (*Router).boardCreated,
		domain.BoardUpdated:     (*Router).boardUpdated,
		domain.BoardDeleted:     (*Router).boardDeleted,
		domain.MemberAdded:      (*Router).memberAdded,
		domain.MemberRemoved:    (*Router).memberRemoved,
	}
}

func (r *Router) itemCreated(data []byte) (bool, error) {
	it, err := domain.DecodeItem(data)
	if err != nil {
		return false, err
	}
	if it.ID == "" {
		return false, fmt.Errorf("missing item id")
	}
	return r.store.AddItem(it), nil
}

func (r *Router) itemUpdated(data []byte) (bool, error) {
	u, err := domain.DecodeItemUpdate(data)
	if err != nil {
		return false, err
	}
	changed := r.store.UpdateItem(u.ID, u.Patch)
	for colID, v := range u.Values {
		if r.store.UpdateItemValue(u.ID, colID, v) {
			changed = true
		}
	}
	return changed, nil
}

func (r *Router) itemValueUpdated(data []byte) (bool, error) {
	var u domain.ValueUpdate
	if err := sonic.Unmarshal(data, &u); err != nil {
		return false, err
	}
	v, err := domain.DecodeValue(r.store.ColumnType(u.ColumnID), u.Value)
	if err != nil {
		return false, err
	}
	return r.store.UpdateItemValue(u.ItemID, u.ColumnID, v), nil
}

func (r *Router) itemDeleted(data []byte) (bool, error) {
	id, err := domain.DecodeID(data, "item")
	if err != nil {
		return false, err
	}
	_, _, ok := r.store.DeleteItem(id)
	return ok, nil
}

func (r *Router) itemsDeleted(data []byte) (bool, error) {
	ids, err := domain.DecodeIDs(data)
	if err != nil {
		return false, err
	}
	return r.store.DeleteItems(ids) > 0, nil
}

func (r *Router) itemsReordered(data []byte) (bool, error) {
	ps, err := domain.DecodeItemPositions(data)
	if err != nil {
		return false, err
	}
	return r.store.ReorderItems(ps) > 0, nil
}

func (r *Router) columnCreated(data []byte) (bool, error) {
	c, err := domain.DecodeColumn(data)
	if err != nil {
		return false, err
	}
	if c.ID == "" {
		return false, fmt.Errorf("missing column id")
	}
	return r.store.AddColumn(c), nil
}

func (r *Router) columnUpdated(data []byte) (bool, error) {
	id, p, err := domain.DecodeColumnUpdate(data)
	if err != nil {
		return false, err
	}
	return r.store.UpdateColumn(id, p), nil
}

func (r *Router) columnDeleted(data []byte) (bool, error) {
	id, err := domain.DecodeID(data, "column")
	if err != nil {
		return false, err
	}
	_, _, ok := r.store.DeleteColumn(id)
	return ok, nil
}

func (r *Router) columnsReordered(data []byte) (bool, error) {
	ps, err := domain.DecodePositions(data, "columns")
	if err != nil {
		return false, err
	}
	return r.store.ReorderColumns(ps) > 0, nil
}

func (r *Router) labelCreated(data []byte) (bool, error) {
	var c domain.LabelChange
	if err := sonic.Unmarshal(data, &c); err != nil {
		return false, err
	}
	if c.Label.ID == "" {
		return false, fmt.Errorf("missing label id")
	}
	return r.store.AddLabel(c.ColumnID, c.Label), nil
}

func (r *Router) labelUpdated(data []byte) (bool, error) {
	var c domain.LabelChange
	if err := sonic.Unmarshal(data, &c); err != nil {
		return false, err
	}
	if c.Label.ID == "" {
		c.Label.ID = c.LabelID
	}
	return r.store.UpdateLabel(c.ColumnID, c.Label), nil
}

func (r *Router) labelDeleted(data []byte) (bool, error) {
	var c domain.LabelChange
	if err := sonic.Unmarshal(data, &c); err != nil {
		return false, err
	}
	id := c.LabelID
	if id == "" {
		id = c.Label.ID
	}
	return r.store.DeleteLabel(c.ColumnID, id), nil
}

func (r *Router) groupCreated(data []byte) (bool, error) {
	g, err := domain.DecodeGroup(data)
	if err != nil {
		return false, err
	}
	if g.ID == "" {
		return false, fmt.Errorf("missing group id")
	}
	return r.store.AddGroup(g), nil
}

func (r *Router) groupUpdated(data []byte) (bool, error) {
	id, p, err := domain.DecodeGroupUpdate(data)
	if err != nil {
		return false, err
	}
	return r.store.UpdateGroup(id, p), nil
}

func (r *Router) groupDeleted(data []byte) (bool, error) {
	id, err := domain.DecodeID(data, "group")
	if err != nil {
		return false, err
	}
	_, ok := r.store.DeleteGroup(id)
	return ok, nil
}

func (r *Router) groupsReordered(data []byte) (bool, error) {
	ps, err := domain.DecodePositions(data, "groups")
	if err != nil {
		return false, err
	}
	return r.store.ReorderGroups(ps) > 0, nil
}

// boardCreated only validates the payload; the store holds a single board.
func (r *Router) boardCreated(data []byte) (bool, error) {
	_, err := domain.DecodeBoard(data)
	return false, err
}

func (r *Router) boardUpdated(data []byte) (bool, error) {
	id, p, err := domain.DecodeBoardUpdate(data)
	if err != nil {
		return false, err
	}
	if _, boardID := r.scope(); id != boardID || p.Name == nil {
		return false, nil
	}
	if r.store.BoardName() == *p.Name {
		return false, nil
	}
	r.store.UpdateBoard(id, p)
	return true, nil
}

func (r *Router) boardDeleted(data []byte) (bool, error) {
	id, err := domain.DecodeID(data, "board")
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	fn, boardID := r.onBoardDeleted, r.boardID
	r.mu.Unlock()
	if id != boardID {
		return false, nil
	}
	if fn != nil {
		fn(id)
	}
	return true, nil
}

func (r *Router) memberAdded(data []byte) (bool, error) {
	var c domain.MemberChange
	if err := sonic.Unmarshal(data, &c); err != nil {
		return false, err
	}
	if c.Member.ID == "" {
		c.Member.ID = c.UserID
	}
	if c.Member.ID == "" {
		return false, fmt.Errorf("missing member id")
	}
	return r.store.AddMember(c.Member), nil
}

func (r *Router) memberRemoved(data []byte) (bool, error) {
	var c domain.MemberChange
	if err := sonic.Unmarshal(data, &c); err != nil {
		return false, err
	}
	id := c.UserID
	if id == "" {
		id = c.Member.ID
	}
	return r.store.RemoveMember(id), nil
}
