// Package worker provides the batch execution engine: a Processor that
// takes one batch from decode to delivery, an Executor that runs it
// through middleware and records pipeline failures, and a Pool that runs
// concurrent goroutines claiming captured batches.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/middleware"
	"github.com/xraph/kegsync/retryq"
)

// ReasonProcessing is the attention reason for a pipeline error.
const ReasonProcessing = "Processing error"

// Executor runs a claimed batch through middleware and the Processor.
type Executor struct {
	processor *Processor
	lifecycle *lifecycle.Service
	retries   *retryq.Service
	mw        middleware.Middleware
	logger    *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	processor *Processor,
	lc *lifecycle.Service,
	retries *retryq.Service,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		processor: processor,
		lifecycle: lc,
		retries:   retries,
		mw:        middleware.Chain(mws...),
		logger:    logger,
	}
}

// Execute processes b. Errors from the pipeline, including panics caught
// by middleware and timeouts, leave the batch API_FAILED with attention so
// it is never stranded in PROCESSING.
func (e *Executor) Execute(ctx context.Context, b *batch.Batch) error {
	start := time.Now()

	terminal := func(ctx context.Context) error {
		return e.processor.Process(ctx, b)
	}

	err := e.mw(ctx, b, terminal)
	if err != nil {
		e.handleFailure(context.WithoutCancel(ctx), b.SessionID, err)
		return err
	}

	e.logger.Debug("batch processed",
		slog.String("session_id", b.SessionID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// handleFailure marks the batch failed if the pipeline left it in flight.
// A stored payload is queued so the scheduler can still deliver it.
func (e *Executor) handleFailure(ctx context.Context, sessionID string, cause error) {
	current, err := e.lifecycle.Get(ctx, sessionID)
	if err != nil {
		e.logger.Error("failed to load batch after error",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if current.Status != batch.StatusProcessing && current.Status != batch.StatusAPIPending {
		return
	}

	if _, err := e.lifecycle.MarkFailed(ctx, sessionID, cause, lifecycle.FailOpts{
		Reason:    ReasonProcessing,
		AlertType: alert.TypeProcessing,
	}); err != nil {
		e.logger.Error("failed to mark batch failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if len(current.Payload) > 0 {
		if _, err := e.retries.Enqueue(ctx, sessionID, current.Payload, cause.Error()); err != nil {
			e.logger.Error("failed to enqueue retry",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Warn("batch processing failed",
		slog.String("session_id", sessionID),
		slog.String("error", cause.Error()),
	)
}
