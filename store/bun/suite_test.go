package bunstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
	bunstore "github.com/xraph/kegsync/store/bun"
)

var base = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

// runSuite exercises every store operation against st. st must be freshly
// migrated and empty.
func runSuite(t *testing.T, st *bunstore.Store) {
	t.Run("batches", func(t *testing.T) { testBatches(t, st) })
	t.Run("pallets", func(t *testing.T) { testPallets(t, st) })
	t.Run("retries", func(t *testing.T) { testRetries(t, st) })
	t.Run("alerts", func(t *testing.T) { testAlerts(t, st) })
	t.Run("events", func(t *testing.T) { testEvents(t, st) })
}

func newBatch(seq int64, status batch.Status, codes []string, target int, updated time.Time) *batch.Batch {
	return &batch.Batch{
		SessionID:   batch.SessionID(seq),
		Seq:         seq,
		TargetCount: target,
		Codes:       codes,
		BeerType:    "Lager",
		Label:       "L-1",
		FilledAt:    base.Add(-time.Hour),
		Status:      status,
		CreatedAt:   base,
		UpdatedAt:   updated,
	}
}

func testBatches(t *testing.T, st *bunstore.Store) {
	ctx := context.Background()

	seq, err := st.NextSeq(ctx)
	if err != nil || seq != 1 {
		t.Fatalf("NextSeq on empty store = %d, %v", seq, err)
	}

	fixtures := []*batch.Batch{
		newBatch(1, batch.StatusCaptured, nil, 4, base),
		newBatch(2, batch.StatusProcessing, []string{"a", "b"}, 4, base.Add(-20*time.Minute)),
		newBatch(3, batch.StatusAPIPending, []string{"a", "b", "c", "d"}, 4, base),
		newBatch(4, batch.StatusAPISent, []string{"x"}, 4, base),
	}
	fixtures[2].Payload = json.RawMessage(`{"kegCount":4}`)
	fixtures[3].Label = "L-SENT"
	fixtures[3].RaiseAttention("check")
	for _, b := range fixtures {
		if err := st.CreateBatch(ctx, b); err != nil {
			t.Fatalf("CreateBatch(%s): %v", b.SessionID, err)
		}
	}

	if err := st.CreateBatch(ctx, fixtures[0]); !errors.Is(err, kegsync.ErrBatchExists) {
		t.Errorf("duplicate CreateBatch = %v, want ErrBatchExists", err)
	}
	if _, err := st.GetBatch(ctx, "BATCH_9999"); !errors.Is(err, kegsync.ErrBatchNotFound) {
		t.Errorf("GetBatch missing = %v", err)
	}
	if err := st.UpdateBatch(ctx, newBatch(99, batch.StatusCaptured, nil, 1, base)); !errors.Is(err, kegsync.ErrBatchNotFound) {
		t.Errorf("UpdateBatch missing = %v", err)
	}

	got, err := st.GetBatch(ctx, fixtures[2].SessionID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got.Codes) != 4 || string(got.Payload) != `{"kegCount":4}` {
		t.Errorf("round trip lost data: %+v", got)
	}
	if !got.FilledAt.Equal(fixtures[2].FilledAt) || !got.UpdatedAt.Equal(base) {
		t.Errorf("timestamps = %v / %v", got.FilledAt, got.UpdatedAt)
	}

	captured, _ := st.GetBatch(ctx, fixtures[0].SessionID)
	if captured.Codes == nil || len(captured.Codes) != 0 || captured.Payload != nil {
		t.Errorf("empty batch round trip: codes=%v payload=%s", captured.Codes, captured.Payload)
	}

	got.Attempts = 2
	got.ProcessingTime = 1500 * time.Millisecond
	at := base.Add(time.Minute)
	got.LastAttemptAt = &at
	got.LastError = "HTTP 503"
	if err := st.UpdateBatch(ctx, got); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	again, _ := st.GetBatch(ctx, got.SessionID)
	if again.Attempts != 2 || again.ProcessingTime != 1500*time.Millisecond || again.LastAttemptAt == nil || !again.LastAttemptAt.Equal(at) {
		t.Errorf("update not persisted: %+v", again)
	}

	if seq, _ := st.NextSeq(ctx); seq != 5 {
		t.Errorf("NextSeq = %d, want 5", seq)
	}

	tests := []struct {
		name string
		opts batch.ListOpts
		want []int64
	}{
		{"all ascending", batch.ListOpts{}, []int64{1, 2, 3, 4}},
		{"newest", batch.ListOpts{Newest: true}, []int64{4, 3, 2, 1}},
		{"statuses", batch.ListOpts{Statuses: []batch.Status{batch.StatusCaptured, batch.StatusAPISent}}, []int64{1, 4}},
		{"attention", batch.ListOpts{Attention: true}, []int64{4}},
		{"page", batch.ListOpts{Offset: 1, Limit: 2}, []int64{2, 3}},
		{"offset only", batch.ListOpts{Offset: 3}, []int64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := st.ListBatches(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListBatches: %v", err)
			}
			assertSeqs(t, list, tt.want)
		})
	}

	stale, err := st.ListStale(ctx, []batch.Status{batch.StatusProcessing, batch.StatusAPIPending}, base.Add(-10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	assertSeqs(t, stale, []int64{2})

	unattempted, err := st.ListUnattempted(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	assertSeqs(t, unattempted, []int64{})

	incomplete, err := st.ListIncomplete(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSeqs(t, incomplete, []int64{1, 2})

	sent, err := st.FindSentByLabel(ctx, "L-SENT")
	if err != nil || sent.Seq != 4 {
		t.Errorf("FindSentByLabel = %v, %v", sent, err)
	}
	if _, err := st.FindSentByLabel(ctx, "L-1"); !errors.Is(err, kegsync.ErrBatchNotFound) {
		t.Errorf("FindSentByLabel unsent = %v", err)
	}

	if n, _ := st.CountBatches(ctx, batch.CountOpts{}); n != 4 {
		t.Errorf("CountBatches = %d", n)
	}
	if n, _ := st.CountBatches(ctx, batch.CountOpts{Status: batch.StatusAPIPending}); n != 1 {
		t.Errorf("CountBatches pending = %d", n)
	}
	if n, _ := st.CountBatches(ctx, batch.CountOpts{Attention: true}); n != 1 {
		t.Errorf("CountBatches attention = %d", n)
	}

	fresh := newBatch(5, batch.StatusAPIPending, []string{"k"}, 1, base)
	fresh.Payload = json.RawMessage(`{}`)
	if err := st.CreateBatch(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	unattempted, _ = st.ListUnattempted(ctx, base.Add(-time.Hour))
	assertSeqs(t, unattempted, []int64{5})

	if _, err := st.DB().ExecContext(ctx, `UPDATE kegsync_batches SET codes = 'not json' WHERE session_id = ?`, fresh.SessionID); err != nil {
		t.Fatal(err)
	}
	corrupt, err := st.GetBatch(ctx, fresh.SessionID)
	if err != nil {
		t.Fatalf("GetBatch corrupt codes: %v", err)
	}
	if len(corrupt.Codes) != 0 {
		t.Errorf("corrupt codes = %v, want empty", corrupt.Codes)
	}
}

func assertSeqs(t *testing.T, list []*batch.Batch, want []int64) {
	t.Helper()
	if len(list) != len(want) {
		t.Fatalf("got %d batches, want %v", len(list), want)
	}
	for i, b := range list {
		if b.Seq != want[i] {
			t.Errorf("[%d] seq = %d, want %d", i, b.Seq, want[i])
		}
	}
}

func testPallets(t *testing.T, st *bunstore.Store) {
	ctx := context.Background()
	fp := fingerprint.Fingerprint("abc123")

	first := &pallet.Pallet{
		ID: id.NewPalletID(), Fingerprint: fp, SessionID: "BATCH_0001",
		KegType: "Lager", KegCount: 4, Status: pallet.StatusCreated,
		CreatedAt: base, UpdatedAt: base,
	}
	if err := st.InsertPallet(ctx, first); err != nil {
		t.Fatalf("InsertPallet: %v", err)
	}

	dup := *first
	dup.ID = id.NewPalletID()
	dup.SessionID = "BATCH_0002"
	if err := st.InsertPallet(ctx, &dup); !errors.Is(err, kegsync.ErrPalletExists) {
		t.Fatalf("second active InsertPallet = %v, want ErrPalletExists", err)
	}

	active, err := st.ActivePallet(ctx, fp)
	if err != nil || active.ID.String() != first.ID.String() {
		t.Fatalf("ActivePallet = %v, %v", active, err)
	}

	shipped := base.Add(time.Hour)
	first.Status = pallet.StatusShipped
	first.ShippedAt = &shipped
	first.UpdatedAt = shipped
	if err := st.UpdatePallet(ctx, first); err != nil {
		t.Fatalf("UpdatePallet: %v", err)
	}
	if _, err := st.ActivePallet(ctx, fp); !errors.Is(err, kegsync.ErrPalletNotFound) {
		t.Errorf("ActivePallet after ship = %v", err)
	}

	dup.CreatedAt = base.Add(2 * time.Hour)
	dup.UpdatedAt = dup.CreatedAt
	if err := st.InsertPallet(ctx, &dup); err != nil {
		t.Fatalf("InsertPallet after ship: %v", err)
	}

	got, err := st.GetPallet(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != pallet.StatusShipped || got.ShippedAt == nil || !got.ShippedAt.Equal(shipped) {
		t.Errorf("GetPallet = %+v", got)
	}
	if _, err := st.GetPallet(ctx, id.NewPalletID()); !errors.Is(err, kegsync.ErrPalletNotFound) {
		t.Errorf("GetPallet missing = %v", err)
	}

	ghost := *first
	ghost.ID = id.NewPalletID()
	if err := st.UpdatePallet(ctx, &ghost); !errors.Is(err, kegsync.ErrPalletNotFound) {
		t.Errorf("UpdatePallet missing = %v", err)
	}

	list, err := st.ListPallets(ctx, pallet.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].SessionID != "BATCH_0002" {
		t.Errorf("ListPallets = %+v", list)
	}
	list, _ = st.ListPallets(ctx, pallet.ListOpts{Status: pallet.StatusShipped})
	if len(list) != 1 {
		t.Errorf("ListPallets shipped = %d", len(list))
	}
}

func testRetries(t *testing.T, st *bunstore.Store) {
	ctx := context.Background()

	entry := func(sid string, attempts int, next time.Time) *retryq.Entry {
		return &retryq.Entry{
			SessionID: sid, Payload: json.RawMessage(`{"kegIds":["a"]}`),
			Attempts: attempts, MaxAttempts: 3, NextRetryAt: next,
			CreatedAt: base, UpdatedAt: base,
		}
	}

	// BATCH_0001..0005 exist from the batch subtest.
	for _, e := range []*retryq.Entry{
		entry("BATCH_0002", 0, base.Add(time.Minute)),
		entry("BATCH_0001", 1, base),
		entry("BATCH_0003", 3, base.Add(-time.Hour)),
		entry("BATCH_0404", 0, base),
	} {
		if err := st.UpsertRetry(ctx, e); err != nil {
			t.Fatalf("UpsertRetry(%s): %v", e.SessionID, err)
		}
	}

	replaced := entry("BATCH_0001", 2, base.Add(-time.Minute))
	replaced.LastError = "HTTP 500"
	if err := st.UpsertRetry(ctx, replaced); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetRetry(ctx, "BATCH_0001")
	if err != nil || got.Attempts != 2 || got.LastError != "HTTP 500" {
		t.Fatalf("GetRetry after upsert = %+v, %v", got, err)
	}
	if string(got.Payload) != `{"kegIds":["a"]}` {
		t.Errorf("payload = %s", got.Payload)
	}

	due, err := st.ListDue(ctx, base, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].SessionID != "BATCH_0001" || due[1].SessionID != "BATCH_0404" {
		t.Errorf("ListDue = %v", retryIDs(due))
	}
	if due, _ := st.ListDue(ctx, base, 1); len(due) != 1 {
		t.Errorf("ListDue limit = %d", len(due))
	}

	got.Attempts = 3
	last := base.Add(time.Minute)
	got.LastAttemptAt = &last
	if err := st.UpdateRetry(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateRetry(ctx, entry("BATCH_0777", 0, base)); !errors.Is(err, kegsync.ErrRetryNotFound) {
		t.Errorf("UpdateRetry missing = %v", err)
	}

	exhausted, _ := st.ListExhausted(ctx)
	if len(exhausted) != 2 {
		t.Errorf("ListExhausted = %v", retryIDs(exhausted))
	}
	if n, _ := st.CountRetries(ctx); n != 4 {
		t.Errorf("CountRetries = %d", n)
	}
	all, _ := st.ListRetries(ctx, retryq.ListOpts{})
	if len(all) != 4 || all[0].SessionID != "BATCH_0003" {
		t.Errorf("ListRetries = %v", retryIDs(all))
	}

	swept, err := st.SweepRetries(ctx, base.Add(time.Second))
	if err != nil || swept != 2 {
		t.Errorf("SweepRetries = %d, %v", swept, err)
	}
	orphans, err := st.DeleteOrphanRetries(ctx)
	if err != nil || orphans != 1 {
		t.Errorf("DeleteOrphanRetries = %d, %v", orphans, err)
	}

	if err := st.DeleteRetry(ctx, "BATCH_0002"); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteRetry(ctx, "BATCH_0002"); !errors.Is(err, kegsync.ErrRetryNotFound) {
		t.Errorf("DeleteRetry twice = %v", err)
	}
	if _, err := st.GetRetry(ctx, "BATCH_0002"); !errors.Is(err, kegsync.ErrRetryNotFound) {
		t.Errorf("GetRetry deleted = %v", err)
	}
}

func retryIDs(entries []*retryq.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SessionID
	}
	return out
}

func testAlerts(t *testing.T, st *bunstore.Store) {
	ctx := context.Background()

	mk := func(typ alert.Type, sid string, created time.Time) *alert.Alert {
		a := &alert.Alert{
			ID: id.NewAlertID(), Type: typ, SessionID: sid,
			Message: string(typ), Severity: alert.SeverityWarning, CreatedAt: created,
		}
		if err := st.CreateAlert(ctx, a); err != nil {
			t.Fatalf("CreateAlert: %v", err)
		}
		return a
	}
	first := mk(alert.TypeAPIFailure, "BATCH_0001", base)
	mk(alert.TypeNetworkOffline, "", base.Add(-2*time.Hour))
	last := mk(alert.TypeAPIFailure, "BATCH_0002", base)

	list, err := st.ListAlerts(ctx, alert.ListOpts{Type: alert.TypeAPIFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID.String() != last.ID.String() {
		t.Fatalf("ListAlerts newest first = %+v", list)
	}

	at := base.Add(time.Minute)
	if err := st.ResolveAlert(ctx, first.ID, at); err != nil {
		t.Fatal(err)
	}
	if err := st.ResolveAlert(ctx, first.ID, at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetAlert(ctx, first.ID)
	if !got.Resolved || got.ResolvedAt == nil || !got.ResolvedAt.Equal(at) {
		t.Errorf("resolved alert = %+v", got)
	}
	if err := st.ResolveAlert(ctx, id.NewAlertID(), at); !errors.Is(err, kegsync.ErrAlertNotFound) {
		t.Errorf("ResolveAlert missing = %v", err)
	}
	if _, err := st.GetAlert(ctx, id.NewAlertID()); !errors.Is(err, kegsync.ErrAlertNotFound) {
		t.Errorf("GetAlert missing = %v", err)
	}

	n, err := st.ResolveAlertsBefore(ctx, alert.TypeNetworkOffline, base.Add(-time.Hour), at)
	if err != nil || n != 1 {
		t.Errorf("ResolveAlertsBefore = %d, %v", n, err)
	}

	open, _ := st.CountAlerts(ctx, alert.ListOpts{Unresolved: true})
	if open != 1 {
		t.Errorf("open alerts = %d, want 1", open)
	}
	bySession, _ := st.CountAlerts(ctx, alert.ListOpts{SessionID: "BATCH_0002"})
	if bySession != 1 {
		t.Errorf("alerts for BATCH_0002 = %d", bySession)
	}
}

func testEvents(t *testing.T, st *bunstore.Store) {
	ctx := context.Background()

	for i, typ := range []event.Type{event.TypeStartup, event.TypeRecovery, event.TypeStartup} {
		evt := &event.Event{
			ID: id.NewEventID(), Type: typ, Message: string(typ),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if typ == event.TypeRecovery {
			evt.Details = json.RawMessage(`{"stuck":1}`)
		}
		if err := st.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	all, err := st.ListEvents(ctx, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[1].Type != event.TypeRecovery {
		t.Fatalf("ListEvents = %+v", all)
	}
	if string(all[1].Details) != `{"stuck":1}` || all[0].Details != nil {
		t.Errorf("details = %s / %s", all[1].Details, all[0].Details)
	}

	startups, _ := st.ListEvents(ctx, event.ListOpts{Type: event.TypeStartup, Limit: 1})
	if len(startups) != 1 || !startups[0].CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("latest startup = %+v", startups)
	}
}
