package mutation

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
	"board-sync/storage"
)

// ErrScopeClosed is returned when no board is open, or when the board a
// mutation was issued for has been navigated away from before it settled.
var ErrScopeClosed = errors.New("mutation scope closed")

// ErrNotFound is returned when an edit needs an entity the store lacks.
var ErrNotFound = errors.New("not found")

const tracerName = "board-sync/mutation"

// Remote is the REST collaborator the client issues requests to.
type Remote interface {
	CreateItem(ctx context.Context, boardID string, item domain.Item) (domain.Item, error)
	UpdateItem(ctx context.Context, itemID string, p domain.ItemPatch) error
	UpdateValue(ctx context.Context, itemID, columnID string, v domain.Value) error
	DeleteItem(ctx context.Context, itemID string) error
	DeleteItems(ctx context.Context, itemIDs []string) error
	ReorderItems(ctx context.Context, boardID string, ps []domain.ItemPosition) error
	CreateColumn(ctx context.Context, boardID string, c domain.Column) (domain.Column, error)
	UpdateColumn(ctx context.Context, columnID string, p domain.ColumnPatch) error
	DeleteColumn(ctx context.Context, columnID string) error
	CreateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Group, error)
	UpdateGroup(ctx context.Context, groupID string, p domain.GroupPatch) error
	DeleteGroup(ctx context.Context, groupID string) error
	UpdateBoard(ctx context.Context, boardID string, p domain.BoardPatch) error
}

// Failure describes a mutation that was rolled back.
type Failure struct {
	Op       string
	EntityID string
	Err      error
}

// Notifier surfaces rolled back mutations to the user.
type Notifier interface {
	Notify(f Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Failure)

func (fn NotifierFunc) Notify(f Failure) { fn(f) }

type scope struct {
	boardID string
	ctx     context.Context
	cancel  context.CancelFunc
}

// bind derives a request context that is also cancelled when the scope ends.
func (s *scope) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type pendingCreate struct {
	item      domain.Item
	cancelled bool
}

// Client applies optimistic updates to the store, issues the matching remote
// request and reconciles the outcome. Each (entity, field) pair carries its
// own logical clock so that only the newest write decides what the store
// shows.
type Client struct {
	Log     *log.Logger
	Metrics *Metrics

	store    *storage.Store
	remote   Remote
	notifier Notifier
	tracer   trace.Tracer

	mu      sync.Mutex
	scope   *scope
	slots   map[fieldKey]*slot
	creates map[string]*pendingCreate
	deletes map[string]struct{}
}

// New creates a client. notifier may be nil.
func New(store *storage.Store, remote Remote, notifier Notifier) *Client {
	return &Client{
		Log:      log.StandardLogger(),
		store:    store,
		remote:   remote,
		notifier: notifier,
		tracer:   otel.Tracer(tracerName),
		slots:    make(map[fieldKey]*slot),
		creates:  make(map[string]*pendingCreate),
		deletes:  make(map[string]struct{}),
	}
}

// Reset scopes the client to boardID. Mutations still in flight for the
// previous board are cancelled and their settlement is ignored.
func (c *Client) Reset(boardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.scope = &scope{boardID: boardID, ctx: ctx, cancel: cancel}
}

// Close cancels in-flight mutations and leaves the client unscoped.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.scope != nil {
		c.scope.cancel()
		c.scope = nil
	}
	c.slots = make(map[fieldKey]*slot)
	c.creates = make(map[string]*pendingCreate)
	c.deletes = make(map[string]struct{})
}

// BoardID returns the board the client is scoped to.
func (c *Client) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil {
		return ""
	}
	return c.scope.boardID
}

// Pending reports the number of fields with writes in flight.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots) + len(c.creates) + len(c.deletes)
}

// Rebase reconciles the store with a freshly fetched snapshot of the scoped
// board, then re-applies in-flight optimistic writes on top of it and makes
// the fetched values their rollback targets. Snapshots of any other board are
// ignored.
func (c *Client) Rebase(b domain.Board) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil || c.scope.boardID != b.ID {
		return false
	}
	echoed := c.echoedCreatesLocked()
	c.store.Reconcile(b)
	for _, s := range c.slots {
		s.rebase(c.store)
	}
	for placeholder, pc := range c.creates {
		if pc.cancelled || c.hasCanonicalLocked(placeholder, echoed[placeholder]) {
			continue
		}
		c.store.AddItem(pc.item)
	}
	for id := range c.deletes {
		c.store.DeleteItem(id)
	}
	return true
}

// echoedCreatesLocked maps pending placeholders to the canonical ids already
// announced by item:created. Snapshots carry no client ids, so this is the
// only record of the pairing once the store is reconciled.
func (c *Client) echoedCreatesLocked() map[string]string {
	out := make(map[string]string)
	for _, it := range c.store.Items() {
		if it.ClientID == "" || it.ClientID == it.ID {
			continue
		}
		if _, ok := c.creates[it.ClientID]; ok {
			out[it.ClientID] = it.ID
		}
	}
	return out
}

// hasCanonicalLocked reports whether the store already holds the item a
// pending create will settle to. A snapshot that lists the new item before
// its echo arrives cannot be paired; the placeholder then stays until the
// create settles or the echo arrives, either of which drops it.
func (c *Client) hasCanonicalLocked(placeholder, canonicalID string) bool {
	for _, it := range c.store.Items() {
		if it.ID == placeholder || it.ClientID == placeholder {
			return true
		}
		if canonicalID != "" && it.ID == canonicalID {
			return true
		}
	}
	return false
}

// currentScope returns the active scope or ErrScopeClosed.
func (c *Client) currentScope() (*scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil {
		return nil, ErrScopeClosed
	}
	return c.scope, nil
}

// update issues field writes optimistically, runs call, and settles every
// write with its outcome. A failure whose fields were all superseded by newer
// writes is dropped and reported as success.
func (c *Client) update(ctx context.Context, op, entityID string, writes []fieldWrite, call func(context.Context) error) error {
	c.mu.Lock()
	sc := c.scope
	if sc == nil {
		c.mu.Unlock()
		return ErrScopeClosed
	}
	type ticket struct {
		s *slot
		w *write
	}
	tickets := make([]ticket, 0, len(writes))
	for _, fw := range writes {
		s, ok := c.slots[fw.f.key]
		if !ok {
			s = newSlot(fw.f, c.store)
			c.slots[fw.f.key] = s
		}
		tickets = append(tickets, ticket{s: s, w: s.issue(c.store, snapshot{fw.val, true})})
	}
	c.mu.Unlock()

	reqCtx, span, cancel := c.start(ctx, sc, op, entityID)
	defer span.End()
	err := call(reqCtx)
	cancel()

	c.mu.Lock()
	if c.scope != sc {
		c.mu.Unlock()
		c.finish(span, op, resultScopeClosed, ErrScopeClosed)
		return ErrScopeClosed
	}
	superseded, touched := len(tickets) > 0, false
	for _, t := range tickets {
		sup, tch := t.s.settle(c.store, t.w, err == nil)
		superseded = superseded && sup
		touched = touched || tch
		if !t.s.pending() && c.slots[t.s.field.key] == t.s {
			delete(c.slots, t.s.field.key)
		}
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		c.finish(span, op, resultOK, nil)
		return nil
	case superseded:
		c.Log.WithError(err).WithFields(log.Fields{"op": op, "id": entityID}).Debug("superseded mutation failed")
		c.finish(span, op, resultSuperseded, nil)
		return nil
	}
	if touched {
		c.Metrics.rollback(op)
	}
	c.fail(op, entityID, err)
	c.finish(span, op, resultError, err)
	return err
}

// fail logs a rollback and notifies the user.
func (c *Client) fail(op, entityID string, err error) {
	c.Log.WithError(err).WithFields(log.Fields{"op": op, "id": entityID}).Warn("mutation rolled back")
	if c.notifier != nil {
		c.notifier.Notify(Failure{Op: op, EntityID: entityID, Err: err})
	}
}

func (c *Client) finish(span trace.Span, op, result string, err error) {
	c.Metrics.observe(op, result)
	span.SetAttributes(attribute.String("mutation.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

type notFound interface {
	NotFound() bool
}

// gone reports whether err says the entity is already absent on the server.
func gone(err error) bool {
	var nf notFound
	return errors.As(err, &nf) && nf.NotFound()
}
