package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/ext"
	"github.com/xraph/kegsync/retryq"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.BatchCaptured   = (*MetricsExtension)(nil)
	_ ext.BatchSent       = (*MetricsExtension)(nil)
	_ ext.BatchFailed     = (*MetricsExtension)(nil)
	_ ext.BatchDuplicate  = (*MetricsExtension)(nil)
	_ ext.AttentionRaised = (*MetricsExtension)(nil)
	_ ext.BatchResolved   = (*MetricsExtension)(nil)
	_ ext.RetryExhausted  = (*MetricsExtension)(nil)
	_ ext.NetworkChanged  = (*MetricsExtension)(nil)
)

// MetricsExtension records station lifecycle metrics as Prometheus
// collectors.
type MetricsExtension struct {
	BatchCaptured   prometheus.Counter
	BatchSent       prometheus.Counter
	BatchFailed     prometheus.Counter
	BatchDuplicate  prometheus.Counter
	AttentionRaised prometheus.Counter
	BatchResolved   prometheus.Counter
	RetryExhausted  prometheus.Counter
	NetworkOnline   prometheus.Gauge
	DeliverySeconds prometheus.Histogram
}

// NewMetricsExtension creates a MetricsExtension and registers its
// collectors with reg. A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsExtension(reg prometheus.Registerer) *MetricsExtension {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &MetricsExtension{
		BatchCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_batches_captured_total",
			Help: "Total number of captures persisted as batches",
		}),
		BatchSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_batches_sent_total",
			Help: "Total number of batches acknowledged by the cloud",
		}),
		BatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_batches_failed_total",
			Help: "Total number of transitions into API_FAILED",
		}),
		BatchDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_duplicate_pallets_total",
			Help: "Total number of batches matching a live pallet",
		}),
		AttentionRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_attention_raised_total",
			Help: "Total number of batches flagged for operator review",
		}),
		BatchResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_batches_resolved_total",
			Help: "Total number of batches resolved by an operator",
		}),
		RetryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kegsync_retries_exhausted_total",
			Help: "Total number of retry entries that used their last attempt",
		}),
		NetworkOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kegsync_network_online",
			Help: "1 when the delivery endpoint is reachable, 0 otherwise",
		}),
		DeliverySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kegsync_delivery_duration_seconds",
			Help:    "Time from claim to cloud acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.BatchCaptured,
		m.BatchSent,
		m.BatchFailed,
		m.BatchDuplicate,
		m.AttentionRaised,
		m.BatchResolved,
		m.RetryExhausted,
		m.NetworkOnline,
		m.DeliverySeconds,
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnBatchCaptured implements ext.BatchCaptured.
func (m *MetricsExtension) OnBatchCaptured(_ context.Context, _ *batch.Batch) error {
	m.BatchCaptured.Inc()
	return nil
}

// OnBatchSent implements ext.BatchSent.
func (m *MetricsExtension) OnBatchSent(_ context.Context, _ *batch.Batch, elapsed time.Duration) error {
	m.BatchSent.Inc()
	if elapsed > 0 {
		m.DeliverySeconds.Observe(elapsed.Seconds())
	}
	return nil
}

// OnBatchFailed implements ext.BatchFailed.
func (m *MetricsExtension) OnBatchFailed(_ context.Context, _ *batch.Batch, _ error) error {
	m.BatchFailed.Inc()
	return nil
}

// OnBatchDuplicate implements ext.BatchDuplicate.
func (m *MetricsExtension) OnBatchDuplicate(_ context.Context, _ *batch.Batch, _ string) error {
	m.BatchDuplicate.Inc()
	return nil
}

// OnAttentionRaised implements ext.AttentionRaised.
func (m *MetricsExtension) OnAttentionRaised(_ context.Context, _ *batch.Batch, _ string) error {
	m.AttentionRaised.Inc()
	return nil
}

// OnBatchResolved implements ext.BatchResolved.
func (m *MetricsExtension) OnBatchResolved(_ context.Context, _ *batch.Batch) error {
	m.BatchResolved.Inc()
	return nil
}

// OnRetryExhausted implements ext.RetryExhausted.
func (m *MetricsExtension) OnRetryExhausted(_ context.Context, _ *retryq.Entry, _ error) error {
	m.RetryExhausted.Inc()
	return nil
}

// OnNetworkChanged implements ext.NetworkChanged.
func (m *MetricsExtension) OnNetworkChanged(_ context.Context, online bool) error {
	if online {
		m.NetworkOnline.Set(1)
	} else {
		m.NetworkOnline.Set(0)
	}
	return nil
}
