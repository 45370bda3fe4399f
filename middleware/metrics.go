package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/kegsync/batch"
)

// meterName is the instrumentation scope name for kegsync metrics.
const meterName = "github.com/xraph/kegsync"

// Metrics returns middleware that records per-run metrics using the global
// OTel MeterProvider. Without a configured provider the instruments are
// noops.
//
// Instruments:
//   - kegsync.batch.duration (Float64Histogram): processing time in seconds
//   - kegsync.batch.runs (Int64Counter): total runs
//
// Both carry the attributes status (the batch status after the run) and
// outcome ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"kegsync.batch.duration",
		metric.WithDescription("Duration of batch processing in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter(
		"kegsync.batch.runs",
		metric.WithDescription("Total number of batch processing runs"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, b *batch.Batch, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("status", string(b.Status)),
			attribute.String("outcome", outcome),
		)
		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}
