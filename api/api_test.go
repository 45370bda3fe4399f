package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/api"
	"github.com/xraph/kegsync/backoff"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/engine"
	"github.com/xraph/kegsync/store/memory"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	eng    *engine.Engine
	srv    *httptest.Server
	access *lockedBuffer

	mu   sync.Mutex
	fail bool
}

func newFixture(t *testing.T, frames map[string][]string, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{access: &lockedBuffer{}}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.fail
		f.mu.Unlock()
		if r.Method == http.MethodPost && fail {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"palletId":"P-1"}`))
	}))
	t.Cleanup(upstream.Close)

	cfg := kegsync.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryInterval = time.Hour
	cfg.NetworkCheckInterval = 0
	cfg.RetryRate = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := kegsync.New(
		kegsync.WithStore(memory.New()),
		kegsync.WithConfig(cfg),
		kegsync.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("kegsync.New: %v", err)
	}

	dcfg := delivery.DefaultConfig()
	dcfg.Endpoint = upstream.URL + "/api/batches"
	dcfg.MacID = "AA:BB:CC:DD:EE:FF"
	dcfg.MaxAttempts = 1
	dcfg.Timeout = 2 * time.Second

	det := detect.Func(func(_ context.Context, ref string, _ detect.Mode) ([]string, int, error) {
		codes, ok := frames[ref]
		if !ok {
			return nil, 0, errors.New("no frame")
		}
		return codes, len(codes), nil
	})

	f.eng, err = engine.Build(st, append([]engine.Option{
		engine.WithDetector(det),
		engine.WithDelivery(dcfg, delivery.WithBackoff(backoff.NewConstant(0))),
	}, opts...)...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := f.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.eng.Stop(context.Background()) })

	f.srv = httptest.NewServer(api.New(f.eng, api.WithLogger(logger), api.WithAccessLog(f.access)).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func (f *fixture) waitStatus(t *testing.T, sessionID string, want batch.Status) batch.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var b batch.Batch
	for time.Now().Before(deadline) {
		b = batch.Batch{}
		if code := f.do(t, http.MethodGet, "/v1/batches/"+sessionID, "", &b); code == http.StatusOK && b.Status == want {
			return b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s did not reach %s, last seen %s", sessionID, want, b.Status)
	return b
}

func TestSubmitCaptureAndFetch(t *testing.T) {
	f := newFixture(t, map[string][]string{"frame-1": {"K1", "K2"}})

	var sub api.SubmitResponse
	code := f.do(t, http.MethodPost, "/v1/captures",
		`{"image_ref":"frame-1","target_count":2,"beer_type":"IPA","label":"L-9"}`, &sub)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if sub.SessionID != "BATCH_0001" {
		t.Errorf("session id = %q", sub.SessionID)
	}

	b := f.waitStatus(t, sub.SessionID, batch.StatusAPISent)
	if b.PalletID != "P-1" || len(b.Codes) != 2 {
		t.Errorf("batch = %+v", b)
	}

	var list []batch.Batch
	if code := f.do(t, http.MethodGet, "/v1/batches?status=api_sent", "", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list) != 1 || list[0].SessionID != sub.SessionID {
		t.Errorf("list = %+v", list)
	}

	if !strings.Contains(f.access.String(), "POST /v1/captures") {
		t.Errorf("access log missing capture line: %q", f.access.String())
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid capture", http.MethodPost, "/v1/captures", `{"image_ref":"x","target_count":0}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/captures", `{"bogus":1}`, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/v1/batches?status=LOST", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/batches?limit=-1", "", http.StatusBadRequest},
		{"bad attention", http.MethodGet, "/v1/batches?attention=maybe", "", http.StatusBadRequest},
		{"unknown batch", http.MethodGet, "/v1/batches/BATCH_9999", "", http.StatusNotFound},
		{"resolve unknown batch", http.MethodPost, "/v1/batches/BATCH_9999/resolve", "", http.StatusNotFound},
		{"retry unknown batch", http.MethodPost, "/v1/batches/BATCH_9999/retry", "", http.StatusNotFound},
		{"bad alert id", http.MethodPost, "/v1/alerts/nope/resolve", "", http.StatusBadRequest},
		{"bad pallet id", http.MethodPost, "/v1/pallets/nope/status", `{"status":"LOADED"}`, http.StatusBadRequest},
		{"bad pallet filter", http.MethodGet, "/v1/pallets?status=LOST", "", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/v1/batches", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.do(t, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveFailedBatch(t *testing.T) {
	f := newFixture(t, map[string][]string{"frame-1": {"K1"}})
	f.setFail(true)

	var sub api.SubmitResponse
	f.do(t, http.MethodPost, "/v1/captures", `{"image_ref":"frame-1","target_count":1}`, &sub)
	f.waitStatus(t, sub.SessionID, batch.StatusAPIFailed)

	var attention []batch.Batch
	f.do(t, http.MethodGet, "/v1/batches/attention", "", &attention)
	if len(attention) != 1 {
		t.Fatalf("attention = %+v", attention)
	}

	var resolved batch.Batch
	code := f.do(t, http.MethodPost, "/v1/batches/"+sub.SessionID+"/resolve", `{"note":"shipped by hand"}`, &resolved)
	if code != http.StatusOK {
		t.Fatalf("resolve status = %d", code)
	}
	if resolved.Status != batch.StatusManualResolved || resolved.Note != "shipped by hand" || resolved.RequiresAttention {
		t.Errorf("resolved = %+v", resolved)
	}

	if code := f.do(t, http.MethodPost, "/v1/batches/"+sub.SessionID+"/resolve", "", nil); code != http.StatusConflict {
		t.Errorf("second resolve = %d, want 409", code)
	}
}

func TestManualRetry(t *testing.T) {
	f := newFixture(t, map[string][]string{"frame-1": {"K1"}})
	f.setFail(true)

	var sub api.SubmitResponse
	f.do(t, http.MethodPost, "/v1/captures", `{"image_ref":"frame-1","target_count":1}`, &sub)
	f.waitStatus(t, sub.SessionID, batch.StatusAPIFailed)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var retries []map[string]any
		if code := f.do(t, http.MethodGet, "/v1/retries", "", &retries); code == http.StatusOK && len(retries) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry entry never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.setFail(false)
	var res api.RetryResponse
	if code := f.do(t, http.MethodPost, "/v1/batches/"+sub.SessionID+"/retry", "", &res); code != http.StatusOK {
		t.Fatalf("retry status = %d", code)
	}
	if !res.Delivered {
		t.Error("retry not delivered")
	}
	f.waitStatus(t, sub.SessionID, batch.StatusAPISent)
}

func TestListingEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/v1/alerts?unresolved=true", "/v1/events", "/v1/pallets", "/v1/retries"} {
		var out []json.RawMessage
		if code := f.do(t, http.MethodGet, path, "", &out); code != http.StatusOK {
			t.Errorf("GET %s = %d", path, code)
		}
		if out == nil {
			t.Errorf("GET %s returned null, want list", path)
		}
	}
}

func TestStatsAndNetwork(t *testing.T) {
	f := newFixture(t, nil)

	var stats engine.Stats
	if code := f.do(t, http.MethodGet, "/v1/stats", "", &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.Total != 0 || stats.MaxWorkers == 0 {
		t.Errorf("stats = %+v", stats)
	}

	var net api.NetworkResponse
	if code := f.do(t, http.MethodGet, "/v1/network", "", &net); code != http.StatusOK {
		t.Fatalf("network status = %d", code)
	}
	if !net.Online {
		t.Error("fake upstream reported offline")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestStreamEvents(t *testing.T) {
	f := newFixture(t, map[string][]string{"frame-1": {"K1"}}, engine.WithStreamBroker())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/v1/stream?topic=batches", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(res.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// Wait for the subscription before submitting.
	waitLine(t, lines, ": connected")

	var sub api.SubmitResponse
	f.do(t, http.MethodPost, "/v1/captures", `{"image_ref":"frame-1","target_count":1}`, &sub)

	waitLine(t, lines, "event: batch.captured")
	waitLine(t, lines, "event: batch.sent")
}

func TestStreamRejectsBadTopic(t *testing.T) {
	f := newFixture(t, nil, engine.WithStreamBroker())
	if code := f.do(t, http.MethodGet, "/v1/stream?topic=jobs", "", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestStreamDisabled(t *testing.T) {
	f := newFixture(t, nil)
	if code := f.do(t, http.MethodGet, "/v1/stream", "", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func waitLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before %q", want)
			}
			if line == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
