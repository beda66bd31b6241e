package mutation

import (
	"context"
	"sync"
	"testing"
	"time"

	"board-sync/domain"
)

// heldCall is a remote call parked until the test settles it.
type heldCall struct {
	op   string
	id   string
	done chan error
}

// fakeRemote records calls. When hold is set every call parks on the held
// channel until the test sends its outcome; otherwise err is returned.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string
	err   error
	hold  bool
	held  chan *heldCall

	created     domain.Item
	createdCol  domain.Column
	createdGrp  domain.Group
	deletedIDs  []string
	valueWrites []domain.Value
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{held: make(chan *heldCall, 16)}
}

func (f *fakeRemote) record(ctx context.Context, op, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+":"+id)
	hold, err := f.hold, f.err
	f.mu.Unlock()
	if !hold {
		return err
	}
	hc := &heldCall{op: op, id: id, done: make(chan error, 1)}
	f.held <- hc
	select {
	case err := <-hc.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRemote) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// next waits for the next parked call.
func (f *fakeRemote) next(t *testing.T) *heldCall {
	t.Helper()
	select {
	case hc := <-f.held:
		return hc
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for remote call")
		return nil
	}
}

func (f *fakeRemote) CreateItem(ctx context.Context, boardID string, item domain.Item) (domain.Item, error) {
	if err := f.record(ctx, "create_item", item.ClientID); err != nil {
		return domain.Item{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.created
	if out.ID == "" {
		out = item
		out.ID = "srv-" + item.Name
	}
	out.ClientID = item.ClientID
	return out, nil
}

func (f *fakeRemote) UpdateItem(ctx context.Context, itemID string, p domain.ItemPatch) error {
	return f.record(ctx, "update_item", itemID)
}

func (f *fakeRemote) UpdateValue(ctx context.Context, itemID, columnID string, v domain.Value) error {
	f.mu.Lock()
	f.valueWrites = append(f.valueWrites, v)
	f.mu.Unlock()
	return f.record(ctx, "update_value", itemID+"/"+columnID)
}

func (f *fakeRemote) DeleteItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	f.deletedIDs = append(f.deletedIDs, itemID)
	f.mu.Unlock()
	return f.record(ctx, "delete_item", itemID)
}

func (f *fakeRemote) DeleteItems(ctx context.Context, itemIDs []string) error {
	f.mu.Lock()
	f.deletedIDs = append(f.deletedIDs, itemIDs...)
	f.mu.Unlock()
	return f.record(ctx, "delete_items", itemIDs[0])
}

func (f *fakeRemote) ReorderItems(ctx context.Context, boardID string, ps []domain.ItemPosition) error {
	return f.record(ctx, "reorder_items", boardID)
}

func (f *fakeRemote) CreateColumn(ctx context.Context, boardID string, c domain.Column) (domain.Column, error) {
	if err := f.record(ctx, "create_column", c.ID); err != nil {
		return domain.Column{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdCol, nil
}

func (f *fakeRemote) UpdateColumn(ctx context.Context, columnID string, p domain.ColumnPatch) error {
	return f.record(ctx, "update_column", columnID)
}

func (f *fakeRemote) DeleteColumn(ctx context.Context, columnID string) error {
	return f.record(ctx, "delete_column", columnID)
}

func (f *fakeRemote) CreateGroup(ctx context.Context, boardID string, g domain.Group) (domain.Group, error) {
	if err := f.record(ctx, "create_group", g.ID); err != nil {
		return domain.Group{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdGrp, nil
}

func (f *fakeRemote) UpdateGroup(ctx context.Context, groupID string, p domain.GroupPatch) error {
	return f.record(ctx, "update_group", groupID)
}

func (f *fakeRemote) DeleteGroup(ctx context.Context, groupID string) error {
	return f.record(ctx, "delete_group", groupID)
}

func (f *fakeRemote) UpdateBoard(ctx context.Context, boardID string, p domain.BoardPatch) error {
	return f.record(ctx, "update_board", boardID)
}

type statusErr struct {
	code int
}

func (e statusErr) Error() string   { return "remote failure" }
func (e statusErr) NotFound() bool  { return e.code == 404 }
func (e statusErr) Transient() bool { return e.code >= 500 }

type recordingNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (n *recordingNotifier) Notify(f Failure) {
	n.mu.Lock()
	n.failures = append(n.failures, f)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}
