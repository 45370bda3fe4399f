package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/api"
	"github.com/xraph/kegsync/backoff"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/client"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/engine"
	"github.com/xraph/kegsync/store/memory"
	"github.com/xraph/kegsync/stream"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newStation starts an engine behind the HTTP API and returns a client
// for it. The fake cloud accepts every batch.
func newStation(t *testing.T, frames map[string][]string) *client.Client {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"palletId":"P-1"}`))
	}))
	t.Cleanup(upstream.Close)

	cfg := kegsync.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryInterval = time.Hour
	cfg.NetworkCheckInterval = 0
	cfg.RetryRate = 0

	st, err := kegsync.New(kegsync.WithStore(memory.New()), kegsync.WithConfig(cfg), kegsync.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	dcfg := delivery.DefaultConfig()
	dcfg.Endpoint = upstream.URL + "/api/batches"
	dcfg.MacID = "AA:BB:CC:DD:EE:FF"
	dcfg.MaxAttempts = 1

	eng, err := engine.Build(st,
		engine.WithDetector(detect.Func(func(_ context.Context, ref string, _ detect.Mode) ([]string, int, error) {
			codes, ok := frames[ref]
			if !ok {
				return nil, 0, errors.New("no frame")
			}
			return codes, len(codes), nil
		})),
		engine.WithDelivery(dcfg, delivery.WithBackoff(backoff.NewConstant(0))),
		engine.WithStreamBroker(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	srv := httptest.NewServer(api.New(eng, api.WithLogger(quietLogger())).Handler())
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithHTTPClient(srv.Client()), client.WithLogger(quietLogger()))
}

func waitSent(t *testing.T, c *client.Client, sessionID string) *batch.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := c.Batch(context.Background(), sessionID)
		if err == nil && b.Status == batch.StatusAPISent {
			return b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never reached API_SENT", sessionID)
	return nil
}

func TestSubmitAndList(t *testing.T) {
	c := newStation(t, map[string][]string{"frame-1": {"K1", "K2"}})
	ctx := context.Background()

	sid, err := c.Submit(ctx, client.Capture{ImageRef: "frame-1", TargetCount: 2, Label: "L-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b := waitSent(t, c, sid)
	if b.PalletID != "P-1" {
		t.Errorf("PalletID = %q", b.PalletID)
	}

	list, err := c.ListBatches(ctx, batch.ListOpts{Statuses: []batch.Status{batch.StatusAPISent}, Newest: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].SessionID != sid {
		t.Errorf("list = %+v", list)
	}

	stats, err := c.Stats(ctx)
	if err != nil || len(stats) == 0 {
		t.Errorf("Stats = %s, %v", stats, err)
	}
}

func TestErrorClassification(t *testing.T) {
	c := newStation(t, map[string][]string{"frame-1": {"K1"}})
	ctx := context.Background()

	_, err := c.Batch(ctx, "BATCH_4040")
	if !client.IsNotFound(err) {
		t.Errorf("Batch(unknown) err = %v, want not found", err)
	}

	sid, err := c.Submit(ctx, client.Capture{ImageRef: "frame-1", TargetCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	waitSent(t, c, sid)
	if _, err := c.Resolve(ctx, sid, "late"); !client.IsConflict(err) {
		t.Errorf("Resolve(sent) err = %v, want conflict", err)
	}

	_, err = c.Submit(ctx, client.Capture{ImageRef: "frame-1"})
	var apiErr *client.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Submit(invalid) err = %v", err)
	}
}

func TestWatch(t *testing.T) {
	c := newStation(t, map[string][]string{"frame-1": {"K1"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Watch(ctx, stream.TopicBatches)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := c.Submit(ctx, client.Capture{ImageRef: "frame-1", TargetCount: 1}); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("stream closed early")
			}
			if evt.Type == stream.EventBatchSent {
				cancel()
				for range events {
				}
				return
			}
		case <-timeout:
			t.Fatal("no batch.sent event")
		}
	}
}

func TestWatchRejectsBadTopic(t *testing.T) {
	c := client.New("http://127.0.0.1:0")
	if _, err := c.Watch(context.Background(), "jobs"); err == nil {
		t.Fatal("expected error")
	}
}
