package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/middleware"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
	"github.com/xraph/kegsync/store/memory"
	"github.com/xraph/kegsync/worker"
)

// fakeDeliverer records submissions and answers with a fixed result.
type fakeDeliverer struct {
	mu       sync.Mutex
	calls    int
	payloads []json.RawMessage
	ctxErrs  []error
	result   func(n int) delivery.Result
}

func (f *fakeDeliverer) Submit(ctx context.Context, payload json.RawMessage) delivery.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.payloads = append(f.payloads, payload)
	if f.result == nil {
		return delivery.Result{OK: true, StatusCode: 200, PalletID: "P-1", Attempts: 1, Payload: payload}
	}
	return f.result(f.calls)
}

func (f *fakeDeliverer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failing(n int) delivery.Result {
	return delivery.Result{StatusCode: 503, Attempts: 3, Err: errors.New("HTTP 503: unavailable")}
}

// codes maps an image reference to the codes each mode returns.
type codes map[string]map[detect.Mode][]string

func (c codes) detector() detect.Detector {
	return detect.Func(func(_ context.Context, ref string, mode detect.Mode) ([]string, int, error) {
		byMode, ok := c[ref]
		if !ok {
			return nil, 0, errors.New("camera offline")
		}
		found := byMode[mode]
		return found, len(found), nil
	})
}

type fixture struct {
	store     *memory.Store
	lifecycle *lifecycle.Service
	retries   *retryq.Service
	client    *fakeDeliverer
	processor *worker.Processor
	executor  *worker.Executor
	logger    *slog.Logger
}

func newFixture(t *testing.T, det detect.Detector, policy kegsync.DuplicatePolicy) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	guard := kegsync.NewGuard()
	lc := lifecycle.NewService(st, guard, alert.NewService(st), event.NewLog(st, logger), lifecycle.WithLogger(logger))
	retries := retryq.NewService(st, guard)
	client := &fakeDeliverer{}
	proc := worker.NewProcessor(lc, pallet.NewRegistry(st, guard), retries, det, client,
		worker.ProcessorConfig{MacID: "AA:BB", DuplicatePolicy: policy}, logger)
	exec := worker.NewExecutor(proc, lc, retries, logger, middleware.Recover(logger))
	return &fixture{store: st, lifecycle: lc, retries: retries, client: client, processor: proc, executor: exec, logger: logger}
}

// claim opens a batch for ref and moves it to PROCESSING.
func (f *fixture) claim(t *testing.T, ref string, target int) *batch.Batch {
	t.Helper()
	ctx := context.Background()
	b, err := f.lifecycle.Open(ctx, lifecycle.Capture{ImageRef: ref, TargetCount: target, Label: "L-" + ref, BeerType: "Lager"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err = f.lifecycle.Claim(ctx, b.SessionID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return b
}

func (f *fixture) get(t *testing.T, sessionID string) *batch.Batch {
	t.Helper()
	b, err := f.store.GetBatch(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	return b
}

func (f *fixture) alerts(t *testing.T, sessionID string, typ alert.Type) int {
	t.Helper()
	list, err := f.store.ListAlerts(context.Background(), alert.ListOpts{SessionID: sessionID, Type: typ})
	if err != nil {
		t.Fatal(err)
	}
	return len(list)
}

func (f *fixture) hasRetry(t *testing.T, sessionID string) bool {
	t.Helper()
	_, err := f.store.GetRetry(context.Background(), sessionID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, kegsync.ErrRetryNotFound):
		return false
	default:
		t.Fatalf("GetRetry: %v", err)
		return false
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
