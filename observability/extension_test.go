package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/ext"
	"github.com/xraph/kegsync/observability"
	"github.com/xraph/kegsync/retryq"
)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtension(prometheus.NewRegistry())
}

func newTestBatch() *batch.Batch {
	return &batch.Batch{SessionID: "BATCH_0001", TargetCount: 6}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Counters(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		fire    func(e *observability.MetricsExtension) error
		counter func(e *observability.MetricsExtension) prometheus.Collector
	}{
		{
			name: "captured",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnBatchCaptured(ctx, newTestBatch())
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.BatchCaptured },
		},
		{
			name: "sent",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnBatchSent(ctx, newTestBatch(), time.Second)
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.BatchSent },
		},
		{
			name: "failed",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnBatchFailed(ctx, newTestBatch(), errors.New("x"))
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.BatchFailed },
		},
		{
			name: "duplicate",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnBatchDuplicate(ctx, newTestBatch(), "p")
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.BatchDuplicate },
		},
		{
			name: "attention",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnAttentionRaised(ctx, newTestBatch(), "r")
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.AttentionRaised },
		},
		{
			name: "resolved",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnBatchResolved(ctx, newTestBatch())
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.BatchResolved },
		},
		{
			name: "exhausted",
			fire: func(e *observability.MetricsExtension) error {
				return e.OnRetryExhausted(ctx, &retryq.Entry{SessionID: "BATCH_0001"}, errors.New("x"))
			},
			counter: func(e *observability.MetricsExtension) prometheus.Collector { return e.RetryExhausted },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtension()
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := testutil.ToFloat64(tt.counter(e)); got != 1 {
				t.Errorf("want 1, got %v", got)
			}
		})
	}
}

func TestMetricsExtension_DeliveryHistogram(t *testing.T) {
	e := newTestExtension()
	_ = e.OnBatchSent(context.Background(), newTestBatch(), 250*time.Millisecond)
	if n := testutil.CollectAndCount(e.DeliverySeconds); n != 1 {
		t.Errorf("histogram series = %d", n)
	}
}

func TestMetricsExtension_NetworkGauge(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()

	_ = e.OnNetworkChanged(ctx, true)
	if got := testutil.ToFloat64(e.NetworkOnline); got != 1 {
		t.Errorf("online gauge = %v, want 1", got)
	}
	_ = e.OnNetworkChanged(ctx, false)
	if got := testutil.ToFloat64(e.NetworkOnline); got != 0 {
		t.Errorf("online gauge = %v, want 0", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension()
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register(e)

	ctx := context.Background()
	b := newTestBatch()
	r.EmitBatchCaptured(ctx, b)
	r.EmitBatchSent(ctx, b, time.Second)
	r.EmitBatchFailed(ctx, b, errors.New("x"))

	if got := testutil.ToFloat64(e.BatchCaptured); got != 1 {
		t.Errorf("captured = %v", got)
	}
	if got := testutil.ToFloat64(e.BatchSent); got != 1 {
		t.Errorf("sent = %v", got)
	}
	if got := testutil.ToFloat64(e.BatchFailed); got != 1 {
		t.Errorf("failed = %v", got)
	}
}
