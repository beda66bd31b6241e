package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"board-sync/domain"
	"board-sync/storage"
)

func ptr[T any](v T) *T { return &v }

func testBoard() domain.Board {
	return domain.Board{
		ID:          "b1",
		WorkspaceID: "w1",
		Name:        "Roadmap",
		Columns: []domain.Column{
			{ID: "status", Title: "Status", Type: domain.ColumnStatus, Settings: domain.ColumnSettings{
				Labels: []domain.Label{{ID: "todo", Name: "To do"}, {ID: "doing", Name: "Doing"}, {ID: "done", Name: "Done"}},
			}},
			{ID: "prio", Title: "Priority", Type: domain.ColumnPriority, Settings: domain.ColumnSettings{
				Labels: []domain.Label{{ID: "high", Name: "High"}, {ID: "low", Name: "Low"}},
			}},
			{ID: "owner", Title: "Owner", Type: domain.ColumnPerson, Position: 2},
		},
		Groups: []domain.Group{{ID: "g1", Name: "Now"}, {ID: "g2", Name: "Later", Position: 1}},
		Items: []domain.Item{
			{ID: "i1", Name: "Write docs", GroupID: "g1", Position: 0, Values: map[string]domain.Value{
				"status": domain.StatusValue("todo"),
				"prio":   domain.PriorityValue("high"),
			}},
			{ID: "i2", Name: "Ship release", GroupID: "g1", Position: 1},
			{ID: "i3", Name: "Plan Q3", GroupID: "g2", Position: 2},
		},
	}
}

type fixture struct {
	store    *storage.Store
	remote   *fakeRemote
	notifier *recordingNotifier
	client   *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	st := storage.New()
	st.SetBoard(testBoard())
	f := &fixture{store: st, remote: newFakeRemote(), notifier: &recordingNotifier{}}
	f.client = New(st, f.remote, f.notifier)
	f.client.Log = logger
	f.client.Reset("b1")
	t.Cleanup(f.client.Close)
	return f
}

func (f *fixture) status(t *testing.T, itemID string) string {
	t.Helper()
	v, ok := f.store.ItemValue(itemID, "status")
	if !ok {
		return ""
	}
	return v.LabelID
}

func (f *fixture) hold() {
	f.remote.mu.Lock()
	f.remote.hold = true
	f.remote.mu.Unlock()
}

func (f *fixture) release() {
	f.remote.mu.Lock()
	f.remote.hold = false
	f.remote.mu.Unlock()
}

func (f *fixture) fails(err error) {
	f.remote.mu.Lock()
	f.remote.err = err
	f.remote.mu.Unlock()
}

func itemIDs(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// async runs fn in a goroutine and returns a channel with its error.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func (f *fixture) setStatus(label string) <-chan error {
	return async(func() error {
		return f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue(label))
	})
}

func TestUpdateValueKeepsOptimisticValueOnSuccess(t *testing.T) {
	f := newFixture(t)

	if err := f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("done")); err != nil {
		t.Fatalf("update value: %v", err)
	}
	if got := f.status(t, "i1"); got != "done" {
		t.Fatalf("expected done, got %q", got)
	}
	if f.client.Pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", f.client.Pending())
	}
}

func TestUpdateValueResolvesRawInput(t *testing.T) {
	f := newFixture(t)
	var raw domain.Value
	if err := raw.UnmarshalJSON([]byte(`{"labelId":"done"}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := f.client.UpdateValue(context.Background(), "i1", "status", raw); err != nil {
		t.Fatalf("update value: %v", err)
	}
	if got := f.status(t, "i1"); got != "done" {
		t.Fatalf("expected done, got %q", got)
	}
	if w := f.remote.valueWrites[0]; w.Type != domain.ColumnStatus || w.LabelID != "done" {
		t.Fatalf("expected resolved value on the wire, got %#v", w)
	}
}

func TestFailedUpdateRollsBackOnlyItsField(t *testing.T) {
	f := newFixture(t)
	f.hold()

	done := f.setStatus("done")
	hc := f.remote.next(t)
	if got := f.status(t, "i1"); got != "done" {
		t.Fatalf("expected optimistic done, got %q", got)
	}

	// Another field of the same item changes while the request is in flight.
	f.store.UpdateItemValue("i1", "prio", domain.PriorityValue("low"))
	f.store.UpdateItem("i1", domain.ItemPatch{Name: ptr("Write better docs")})

	hc.done <- statusErr{code: 500}
	if err := <-done; err == nil {
		t.Fatalf("expected failure to be returned")
	}

	if got := f.status(t, "i1"); got != "todo" {
		t.Fatalf("expected status rolled back to todo, got %q", got)
	}
	prio, _ := f.store.ItemValue("i1", "prio")
	if prio.LabelID != "low" {
		t.Fatalf("expected sibling value to survive, got %q", prio.LabelID)
	}
	it, _ := f.store.Item("i1")
	if it.Name != "Write better docs" {
		t.Fatalf("expected name edit to survive, got %q", it.Name)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", f.notifier.count())
	}
}

func TestLateSettlementOfOlderWriteNeverWins(t *testing.T) {
	cases := []struct {
		name       string
		newer      error
		older      error
		want       string
		wantNewer  bool
		wantNotify int
	}{
		{name: "newer ok then older fails", newer: nil, older: statusErr{code: 500}, want: "done"},
		{name: "newer ok then older ok", newer: nil, older: nil, want: "done"},
		{name: "newer fails then older fails", newer: statusErr{code: 500}, older: statusErr{code: 500}, want: "todo", wantNewer: true, wantNotify: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.hold()

			older := f.setStatus("doing")
			olderCall := f.remote.next(t)
			newer := f.setStatus("done")
			newerCall := f.remote.next(t)
			if got := f.status(t, "i1"); got != "done" {
				t.Fatalf("expected last issued value, got %q", got)
			}

			newerCall.done <- tc.newer
			errNewer := <-newer
			olderCall.done <- tc.older
			if err := <-older; err != nil {
				t.Fatalf("expected superseded write to settle quietly, got %v", err)
			}

			if (errNewer != nil) != tc.wantNewer {
				t.Fatalf("unexpected newer result: %v", errNewer)
			}
			if got := f.status(t, "i1"); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if f.notifier.count() != tc.wantNotify {
				t.Fatalf("expected %d notifications, got %d", tc.wantNotify, f.notifier.count())
			}
			if f.client.Pending() != 0 {
				t.Fatalf("expected ledger to drain, got %d", f.client.Pending())
			}
		})
	}
}

func TestFailedNewerWriteFallsBackToPendingOlderWrite(t *testing.T) {
	f := newFixture(t)
	f.hold()

	older := f.setStatus("doing")
	olderCall := f.remote.next(t)
	newer := f.setStatus("done")
	newerCall := f.remote.next(t)

	newerCall.done <- statusErr{code: 500}
	if err := <-newer; err == nil {
		t.Fatalf("expected newest failure to be returned")
	}
	if got := f.status(t, "i1"); got != "doing" {
		t.Fatalf("expected older pending value, got %q", got)
	}

	olderCall.done <- nil
	if err := <-older; err != nil {
		t.Fatalf("older write: %v", err)
	}
	if got := f.status(t, "i1"); got != "doing" {
		t.Fatalf("expected doing, got %q", got)
	}
}

func TestResetIgnoresInFlightSettlement(t *testing.T) {
	f := newFixture(t)
	f.hold()

	done := f.setStatus("done")
	f.remote.next(t)

	f.client.Reset("b2")
	if err := <-done; !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("expected ErrScopeClosed, got %v", err)
	}
	if got := f.status(t, "i1"); got != "done" {
		t.Fatalf("expected store untouched by cancelled request, got %q", got)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("expected no notification for a closed scope")
	}
	if f.client.BoardID() != "b2" {
		t.Fatalf("expected client scoped to b2, got %q", f.client.BoardID())
	}
}

func TestMutationWithoutScopeFails(t *testing.T) {
	f := newFixture(t)
	f.client.Close()

	err := f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("done"))
	if !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("expected ErrScopeClosed, got %v", err)
	}
	if got := f.status(t, "i1"); got != "todo" {
		t.Fatalf("expected store untouched, got %q", got)
	}
	if len(f.remote.callList()) != 0 {
		t.Fatalf("expected no remote call")
	}
}

func TestRebaseReappliesPendingWrites(t *testing.T) {
	f := newFixture(t)
	f.hold()

	done := f.setStatus("done")
	hc := f.remote.next(t)

	fresh := testBoard()
	fresh.Items[0].Values["status"] = domain.StatusValue("doing")
	fresh.Items = append(fresh.Items, domain.Item{ID: "i4", Name: "From server", GroupID: "g2"})

	if f.client.Rebase(domain.Board{ID: "b2"}) {
		t.Fatalf("expected snapshot of another board to be ignored")
	}
	if !f.client.Rebase(fresh) {
		t.Fatalf("expected rebase to apply")
	}
	if _, ok := f.store.Item("i4"); !ok {
		t.Fatalf("expected fetched item in store")
	}
	if got := f.status(t, "i1"); got != "done" {
		t.Fatalf("expected pending write on top, got %q", got)
	}

	hc.done <- statusErr{code: 500}
	<-done
	if got := f.status(t, "i1"); got != "doing" {
		t.Fatalf("expected rollback to fetched value, got %q", got)
	}
}

func TestRebaseKeepsPendingCreatesAndDeletes(t *testing.T) {
	f := newFixture(t)
	f.hold()

	created := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
		return err
	})
	create := f.remote.next(t)
	deleted := async(func() error { return f.client.DeleteItem(context.Background(), "i2") })
	del := f.remote.next(t)

	if !f.client.Rebase(testBoard()) {
		t.Fatalf("expected rebase to apply")
	}
	if _, ok := f.store.Item(create.id); !ok {
		t.Fatalf("expected placeholder %q to survive rebase", create.id)
	}
	if _, ok := f.store.Item("i2"); ok {
		t.Fatalf("expected pending delete to stay applied")
	}

	create.done <- nil
	del.done <- nil
	if err := <-created; err != nil {
		t.Fatalf("create item: %v", err)
	}
	if err := <-deleted; err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if _, ok := f.store.Item(create.id); ok {
		t.Fatalf("expected placeholder replaced")
	}
	if _, ok := f.store.Item("srv-New"); !ok {
		t.Fatalf("expected server item, got %v", itemIDs(f.store.Items()))
	}
}

func TestCreateItemReplacesPlaceholder(t *testing.T) {
	f := newFixture(t)

	created, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if created.ID != "srv-New" {
		t.Fatalf("unexpected id %q", created.ID)
	}
	count := 0
	for _, it := range f.store.Items() {
		if it.Name == "New" {
			count++
			if it.ID != "srv-New" {
				t.Fatalf("expected canonical id, got %q", it.ID)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected one created item, got %d", count)
	}
}

func TestCreateItemEchoBeforeResponse(t *testing.T) {
	f := newFixture(t)
	f.hold()

	done := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
		return err
	})
	hc := f.remote.next(t)
	placeholder := hc.id
	if _, ok := f.store.Item(placeholder); !ok {
		t.Fatalf("expected placeholder %q in store", placeholder)
	}

	// The realtime echo arrives before the REST response.
	f.store.AddItem(domain.Item{ID: "srv-New", ClientID: placeholder, Name: "New", GroupID: "g1"})

	hc.done <- nil
	if err := <-done; err != nil {
		t.Fatalf("create item: %v", err)
	}
	ids := itemIDs(f.store.Items())
	if !equalIDs(ids, []string{"i1", "i2", "i3", "srv-New"}) {
		t.Fatalf("unexpected items %v", ids)
	}
}

func TestCreateItemFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	if _, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New"}); err == nil {
		t.Fatalf("expected failure")
	}
	if ids := itemIDs(f.store.Items()); !equalIDs(ids, []string{"i1", "i2", "i3"}) {
		t.Fatalf("expected placeholder removed, got %v", ids)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected one notification")
	}
}

func TestDeletingPlaceholderCancelsCreate(t *testing.T) {
	f := newFixture(t)
	f.hold()

	done := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New"})
		return err
	})
	hc := f.remote.next(t)
	if err := f.client.DeleteItem(context.Background(), hc.id); err != nil {
		t.Fatalf("delete placeholder: %v", err)
	}
	if _, ok := f.store.Item(hc.id); ok {
		t.Fatalf("expected placeholder gone")
	}

	f.release()
	hc.done <- nil
	if err := <-done; err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, ok := f.store.Item("srv-New"); ok {
		t.Fatalf("expected cancelled item to stay deleted")
	}
	f.remote.mu.Lock()
	deleted := append([]string(nil), f.remote.deletedIDs...)
	f.remote.mu.Unlock()
	if !equalIDs(deleted, []string{"srv-New"}) {
		t.Fatalf("expected server delete of created item, got %v", deleted)
	}
}

func TestDeleteItemRestoresAtIndexOnFailure(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	if err := f.client.DeleteItem(context.Background(), "i2"); err == nil {
		t.Fatalf("expected failure")
	}
	if ids := itemIDs(f.store.Items()); !equalIDs(ids, []string{"i1", "i2", "i3"}) {
		t.Fatalf("expected i2 restored in place, got %v", ids)
	}
}

func TestDeleteItemsRestoresAllOnFailure(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 503})

	if err := f.client.DeleteItems(context.Background(), []string{"i1", "i3"}); err == nil {
		t.Fatalf("expected failure")
	}
	if ids := itemIDs(f.store.Items()); !equalIDs(ids, []string{"i1", "i2", "i3"}) {
		t.Fatalf("expected items restored in order, got %v", ids)
	}
	if calls := f.remote.callList(); len(calls) != 1 || calls[0] != "delete_items:i1" {
		t.Fatalf("expected one bulk request, got %v", calls)
	}
}

func TestDeleteOfMissingItemCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 404})

	if err := f.client.DeleteItem(context.Background(), "i2"); err != nil {
		t.Fatalf("expected not found to be accepted, got %v", err)
	}
	if _, ok := f.store.Item("i2"); ok {
		t.Fatalf("expected i2 to stay deleted")
	}
}

func TestReorderItemsRevertsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	err := f.client.ReorderItems(context.Background(), []domain.ItemPosition{{ID: "i3", Position: 0, GroupID: ptr("g1")}})
	if err == nil {
		t.Fatalf("expected failure")
	}
	it, _ := f.store.Item("i3")
	if it.Position != 2 || it.GroupID != "g2" {
		t.Fatalf("expected i3 back in g2 at 2, got %s at %d", it.GroupID, it.Position)
	}
}

func TestDeleteGroupRestoresItemsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	if err := f.client.DeleteGroup(context.Background(), "g1"); err == nil {
		t.Fatalf("expected failure")
	}
	if _, ok := f.store.Group("g1"); !ok {
		t.Fatalf("expected group restored")
	}
	for _, id := range []string{"i1", "i2"} {
		if it, _ := f.store.Item(id); it.GroupID != "g1" {
			t.Fatalf("expected %s back in g1, got %q", id, it.GroupID)
		}
	}
}

func TestCreateGroupSwapsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.remote.createdGrp = domain.Group{ID: "g3", BoardID: "b1", Name: "Next"}

	g, err := f.client.CreateGroup(context.Background(), domain.Group{Name: "Next"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.ID != "g3" {
		t.Fatalf("unexpected group %#v", g)
	}
	groups := f.store.Groups()
	if len(groups) != 3 || groups[2].ID != "g3" {
		t.Fatalf("expected g3 appended, got %#v", groups)
	}
}

func TestCreateColumnFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	if _, err := f.client.CreateColumn(context.Background(), domain.Column{Title: "Due", Type: domain.ColumnDate}); err == nil {
		t.Fatalf("expected failure")
	}
	if n := len(f.store.Columns()); n != 3 {
		t.Fatalf("expected 3 columns, got %d", n)
	}
}

func TestCreateColumnRejectsUnknownType(t *testing.T) {
	f := newFixture(t)

	if _, err := f.client.CreateColumn(context.Background(), domain.Column{Title: "X", Type: "formula"}); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
	if len(f.remote.callList()) != 0 {
		t.Fatalf("expected no remote call")
	}
}

func TestLabelEdits(t *testing.T) {
	f := newFixture(t)

	l, err := f.client.AddLabel(context.Background(), "status", domain.Label{Name: "Blocked", Color: "#f00"})
	if err != nil {
		t.Fatalf("add label: %v", err)
	}
	if l.ID == "" {
		t.Fatalf("expected generated label id")
	}
	col, _ := f.store.Column("status")
	if len(col.Settings.Labels) != 4 {
		t.Fatalf("expected 4 labels, got %d", len(col.Settings.Labels))
	}

	f.fails(statusErr{code: 500})
	if err := f.client.DeleteLabel(context.Background(), "status", l.ID); err == nil {
		t.Fatalf("expected failure")
	}
	col, _ = f.store.Column("status")
	if name, _ := col.Settings.LabelName(l.ID); name != "Blocked" {
		t.Fatalf("expected label restored, got %#v", col.Settings.Labels)
	}

	if _, err := f.client.AddLabel(context.Background(), "owner", domain.Label{Name: "x"}); err == nil {
		t.Fatalf("expected person column to reject labels")
	}
	if _, err := f.client.AddLabel(context.Background(), "missing", domain.Label{Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenameBoardRollsBack(t *testing.T) {
	f := newFixture(t)
	f.fails(statusErr{code: 500})

	if err := f.client.RenameBoard(context.Background(), "Q3 Roadmap"); err == nil {
		t.Fatalf("expected failure")
	}
	if got := f.store.BoardName(); got != "Roadmap" {
		t.Fatalf("expected name restored, got %q", got)
	}
}

func TestNotifierFuncReceivesFailure(t *testing.T) {
	f := newFixture(t)
	var got Failure
	f.client.notifier = NotifierFunc(func(fl Failure) { got = fl })
	f.fails(statusErr{code: 500})

	_ = f.client.UpdateItem(context.Background(), "i2", domain.ItemPatch{Name: ptr("Renamed")})
	if got.Op != "update_item" || got.EntityID != "i2" || got.Err == nil {
		t.Fatalf("unexpected failure %#v", got)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	return tp, exporter, func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	}
}

func TestMutationSpansCarryResult(t *testing.T) {
	_, exporter, restore := setupTestTracer(t)
	defer restore()

	f := newFixture(t)
	_ = f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("done"))
	f.fails(statusErr{code: 500})
	_ = f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("doing"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "mutation.update_value" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name, spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[1].Status.Code)
	}
	var result string
	for _, kv := range spans[1].Attributes {
		if kv.Key == "mutation.result" {
			result = kv.Value.AsString()
		}
	}
	if result != resultError {
		t.Fatalf("expected result attribute %q, got %q", resultError, result)
	}
}

func TestMetricsCountSettlements(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t)
	f.client.Metrics = NewMetrics(reg)

	_ = f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("done"))
	f.fails(statusErr{code: 500})
	_ = f.client.UpdateValue(context.Background(), "i1", "status", domain.StatusValue("doing"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			counts[key] = m.GetCounter().GetValue()
		}
	}
	if got := counts["boardsync_mutation_settled_total,op=update_value,result=ok"]; got != 1 {
		t.Fatalf("expected one ok settlement, got %v (%v)", got, counts)
	}
	if got := counts["boardsync_mutation_settled_total,op=update_value,result=error"]; got != 1 {
		t.Fatalf("expected one failed settlement, got %v", got)
	}
	if got := counts["boardsync_mutation_rollbacks_total,op=update_value"]; got != 1 {
		t.Fatalf("expected one rollback, got %v", got)
	}
}

func TestFailureIsLoggedAsWarning(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := newFixture(t)
	f.client.Log = logger
	f.fails(statusErr{code: 500})

	_ = f.client.DeleteColumn(context.Background(), "owner")

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning, got %#v", entry)
	}
	if entry.Data["op"] != "delete_column" {
		t.Fatalf("unexpected fields %#v", entry.Data)
	}
	if _, ok := f.store.Column("owner"); !ok {
		t.Fatalf("expected column restored")
	}
}

func countNamed(items []domain.Item, name string) int {
	n := 0
	for _, it := range items {
		if it.Name == name {
			n++
		}
	}
	return n
}

func boardWithCreated() domain.Board {
	b := testBoard()
	b.Items = append(b.Items, domain.Item{ID: "srv-New", Name: "New", GroupID: "g1", Position: 2})
	return b
}

func TestRebaseAfterEchoKeepsOneCreatedItem(t *testing.T) {
	f := newFixture(t)
	f.hold()

	created := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
		return err
	})
	create := f.remote.next(t)
	f.store.AddItem(domain.Item{ID: "srv-New", ClientID: create.id, Name: "New", GroupID: "g1"})

	f.client.Rebase(boardWithCreated())
	if n := countNamed(f.store.Items(), "New"); n != 1 {
		t.Fatalf("expected one created item after rebase, got %v", itemIDs(f.store.Items()))
	}

	create.done <- nil
	if err := <-created; err != nil {
		t.Fatalf("create item: %v", err)
	}
	if n := countNamed(f.store.Items(), "New"); n != 1 {
		t.Fatalf("expected one created item, got %v", itemIDs(f.store.Items()))
	}
}

func TestSnapshotAheadOfCreateCollapsesOnSettle(t *testing.T) {
	f := newFixture(t)
	f.hold()

	created := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
		return err
	})
	create := f.remote.next(t)

	// Nothing pairs the snapshot's item with the placeholder yet.
	f.client.Rebase(boardWithCreated())
	if _, ok := f.store.Item(create.id); !ok {
		t.Fatalf("expected placeholder kept until the create settles")
	}

	create.done <- nil
	if err := <-created; err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, ok := f.store.Item(create.id); ok {
		t.Fatalf("expected placeholder dropped on settle")
	}
	if n := countNamed(f.store.Items(), "New"); n != 1 {
		t.Fatalf("expected one created item, got %v", itemIDs(f.store.Items()))
	}
}

func TestEchoAfterRebaseCollapsesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.hold()

	created := async(func() error {
		_, err := f.client.CreateItem(context.Background(), domain.Item{Name: "New", GroupID: "g1"})
		return err
	})
	create := f.remote.next(t)

	f.client.Rebase(boardWithCreated())
	f.store.AddItem(domain.Item{ID: "srv-New", ClientID: create.id, Name: "New", GroupID: "g1"})
	if n := countNamed(f.store.Items(), "New"); n != 1 {
		t.Fatalf("expected echo to drop the placeholder, got %v", itemIDs(f.store.Items()))
	}

	create.done <- nil
	if err := <-created; err != nil {
		t.Fatalf("create item: %v", err)
	}
	if n := countNamed(f.store.Items(), "New"); n != 1 {
		t.Fatalf("expected one created item, got %v", itemIDs(f.store.Items()))
	}
}
