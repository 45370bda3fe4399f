package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/middleware"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/worker"
)

func TestProcessDelivers(t *testing.T) {
	f := newFixture(t, codes{"img-1": {detect.ModeStandard: {"K1", "K2"}}}.detector(), kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 2)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.get(t, b.SessionID)
	if got.Status != batch.StatusAPISent {
		t.Fatalf("status = %s, want API_SENT", got.Status)
	}
	if got.PalletID != "P-1" {
		t.Errorf("PalletID = %q", got.PalletID)
	}
	if got.Method != batch.MethodStandard || len(got.Codes) != 2 {
		t.Errorf("method = %s, codes = %v", got.Method, got.Codes)
	}
	if got.RequiresAttention {
		t.Errorf("unexpected attention: %s", got.AttentionReason)
	}
	if len(got.Payload) == 0 {
		t.Error("payload not stored")
	}
	if f.hasRetry(t, b.SessionID) {
		t.Error("retry entry left after success")
	}
}

func TestProcessDeliveryOutlivesRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	det := detect.Func(func(_ context.Context, _ string, _ detect.Mode) ([]string, int, error) {
		// The run deadline passes once detection is done.
		cancel()
		return []string{"K1", "K2"}, 2, nil
	})
	f := newFixture(t, det, kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 2)

	if err := f.processor.Process(ctx, b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := f.get(t, b.SessionID); got.Status != batch.StatusAPISent {
		t.Fatalf("status = %s, want API_SENT", got.Status)
	}
	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if len(f.client.ctxErrs) != 1 || f.client.ctxErrs[0] != nil {
		t.Errorf("submit context errors = %v, want one nil", f.client.ctxErrs)
	}
}

func TestProcessRunsEnhancedPassWhenShort(t *testing.T) {
	f := newFixture(t, codes{"img-1": {
		detect.ModeStandard: {"K1"},
		detect.ModeEnhanced: {"K1", "K2", " "},
	}}.detector(), kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 2)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.get(t, b.SessionID)
	if got.Method != batch.MethodEnhanced {
		t.Errorf("method = %s, want enhanced", got.Method)
	}
	if got.EnhancedFound != 1 {
		t.Errorf("EnhancedFound = %d, want 1", got.EnhancedFound)
	}
	if len(got.Codes) != 2 {
		t.Errorf("codes = %v", got.Codes)
	}
	if f.alerts(t, b.SessionID, alert.TypeBatchMiss) != 0 {
		t.Error("complete batch raised batch_miss")
	}
}

func TestProcessEnhancedFailureKeepsStandardResult(t *testing.T) {
	det := detect.Func(func(_ context.Context, _ string, mode detect.Mode) ([]string, int, error) {
		if mode == detect.ModeEnhanced {
			return nil, 0, errors.New("upscaler crashed")
		}
		return []string{"K1"}, 1, nil
	})
	f := newFixture(t, det, kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 3)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.get(t, b.SessionID)
	if got.Method != batch.MethodStandard || len(got.Codes) != 1 {
		t.Errorf("method = %s, codes = %v", got.Method, got.Codes)
	}
	if f.alerts(t, b.SessionID, alert.TypeBatchMiss) != 1 {
		t.Error("incomplete batch should raise one batch_miss alert")
	}
	if f.client.Calls() != 1 {
		t.Errorf("incomplete batch should still be delivered, calls = %d", f.client.Calls())
	}
}

func TestProcessEmptyBatchIsNotSent(t *testing.T) {
	f := newFixture(t, codes{"img-1": {}}.detector(), kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 4)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.get(t, b.SessionID)
	if got.Status != batch.StatusAPIFailed {
		t.Fatalf("status = %s, want API_FAILED", got.Status)
	}
	if got.AttentionReason != worker.ReasonEmptyBatch {
		t.Errorf("reason = %q", got.AttentionReason)
	}
	if f.client.Calls() != 0 {
		t.Error("empty batch was submitted")
	}
	if f.hasRetry(t, b.SessionID) {
		t.Error("empty batch was queued")
	}
}

func TestProcessDeliveryFailureQueuesRetry(t *testing.T) {
	f := newFixture(t, codes{"img-1": {detect.ModeStandard: {"K1", "K2"}}}.detector(), kegsync.DuplicateAdvisory)
	f.client.result = failing
	b := f.claim(t, "img-1", 2)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.get(t, b.SessionID)
	if got.Status != batch.StatusAPIFailed || !got.RequiresAttention {
		t.Fatalf("status = %s attention = %v", got.Status, got.RequiresAttention)
	}
	if !strings.Contains(got.LastError, "HTTP 503") {
		t.Errorf("LastError = %q", got.LastError)
	}
	e, err := f.store.GetRetry(context.Background(), b.SessionID)
	if err != nil {
		t.Fatalf("retry entry missing: %v", err)
	}
	if e.Attempts != 1 || string(e.Payload) != string(got.Payload) {
		t.Errorf("entry = %+v", e)
	}
	if f.alerts(t, b.SessionID, alert.TypeAPIFailure) != 1 {
		t.Error("expected one api_failure alert")
	}
}

func TestProcessDetectionError(t *testing.T) {
	f := newFixture(t, codes{}.detector(), kegsync.DuplicateAdvisory)
	b := f.claim(t, "missing", 2)

	if err := f.processor.Process(context.Background(), b); err == nil {
		t.Fatal("expected error")
	}
	got := f.get(t, b.SessionID)
	if got.Status != batch.StatusAPIFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if f.alerts(t, b.SessionID, alert.TypeDetectionError) != 1 {
		t.Error("expected detection_error alert")
	}
}

func TestProcessDuplicatePolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     kegsync.DuplicatePolicy
		wantStatus batch.Status
		wantCalls  int
	}{
		{"advisory delivers", kegsync.DuplicateAdvisory, batch.StatusAPISent, 2},
		{"block holds back", kegsync.DuplicateBlock, batch.StatusDuplicate, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, codes{
				"a": {detect.ModeStandard: {"K2", "K1"}},
				"b": {detect.ModeStandard: {"K1", "K2"}},
			}.detector(), tt.policy)

			first := f.claim(t, "a", 2)
			if err := f.processor.Process(context.Background(), first); err != nil {
				t.Fatal(err)
			}
			second := f.claim(t, "b", 2)
			if err := f.processor.Process(context.Background(), second); err != nil {
				t.Fatal(err)
			}

			got := f.get(t, second.SessionID)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if !strings.HasPrefix(got.Note, "Duplicate of ") {
				t.Errorf("note = %q", got.Note)
			}
			if f.alerts(t, second.SessionID, alert.TypeDuplicate) != 1 {
				t.Error("expected one duplicate alert")
			}
			if f.client.Calls() != tt.wantCalls {
				t.Errorf("deliveries = %d, want %d", f.client.Calls(), tt.wantCalls)
			}
			pallets, err := f.store.ListPallets(context.Background(), pallet.ListOpts{})
			if err != nil {
				t.Fatal(err)
			}
			if len(pallets) != 1 {
				t.Errorf("pallets = %d, want 1", len(pallets))
			}
		})
	}
}

func TestProcessPurgesImageAfterDelivery(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "capture.jpg")
	if err := os.WriteFile(ref, []byte("jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	det := codes{ref: {detect.ModeStandard: {"K1"}}}.detector()
	f := newFixture(t, det, kegsync.DuplicateAdvisory)
	f.processor = worker.NewProcessor(f.lifecycle, pallet.NewRegistry(f.store, kegsync.NewGuard()), f.retries,
		det, f.client, worker.ProcessorConfig{MacID: "AA:BB", PurgeImages: true}, f.logger)
	b := f.claim(t, ref, 1)

	if err := f.processor.Process(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("image still present: %v", err)
	}
}

func TestExecutorRecordsPanic(t *testing.T) {
	det := detect.Func(func(context.Context, string, detect.Mode) ([]string, int, error) {
		panic("decoder blew up")
	})
	f := newFixture(t, det, kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 2)

	if err := f.executor.Execute(context.Background(), b); err == nil {
		t.Fatal("expected error from panic")
	}
	got := f.get(t, b.SessionID)
	if got.Status != batch.StatusAPIFailed {
		t.Fatalf("status = %s, want API_FAILED", got.Status)
	}
	if got.AttentionReason != worker.ReasonProcessing {
		t.Errorf("reason = %q", got.AttentionReason)
	}
	if f.alerts(t, b.SessionID, alert.TypeProcessing) != 1 {
		t.Error("expected processing alert")
	}
}

func TestExecutorQueuesStoredPayloadOnError(t *testing.T) {
	f := newFixture(t, codes{}.detector(), kegsync.DuplicateAdvisory)
	b := f.claim(t, "img-1", 1)
	ctx := context.Background()
	doc, _ := delivery.BuildPayload(b, "AA:BB", b.CreatedAt).Encode()
	if _, err := f.lifecycle.MarkPending(ctx, b.SessionID, doc); err != nil {
		t.Fatal(err)
	}

	exec := worker.NewExecutor(f.processor, f.lifecycle, f.retries, f.logger,
		func(context.Context, *batch.Batch, middleware.Handler) error {
			return errors.New("pipeline broke")
		})
	if err := exec.Execute(ctx, b); err == nil {
		t.Fatal("expected error")
	}
	if !f.hasRetry(t, b.SessionID) {
		t.Error("stored payload was not queued")
	}
}
