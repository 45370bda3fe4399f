package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/kegsync/batch"
)

// tracerName is the instrumentation scope name for kegsync tracing.
const tracerName = "github.com/xraph/kegsync"

// Tracing returns middleware that wraps a processing run in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes: kegsync.session_id, kegsync.target_count,
// kegsync.attempts and kegsync.beer_type. On error, the span status is set
// to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, b *batch.Batch, next Handler) error {
		ctx, span := tracer.Start(ctx, "kegsync.batch.process",
			trace.WithAttributes(
				attribute.String("kegsync.session_id", b.SessionID),
				attribute.Int("kegsync.target_count", b.TargetCount),
				attribute.Int("kegsync.attempts", b.Attempts),
				attribute.String("kegsync.beer_type", b.BeerType),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("kegsync.status", string(b.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
