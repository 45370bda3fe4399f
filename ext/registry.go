package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/retryq"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	batchCaptured   []entry[BatchCaptured]
	batchProcessing []entry[BatchProcessing]
	batchSent       []entry[BatchSent]
	batchFailed     []entry[BatchFailed]
	batchDuplicate  []entry[BatchDuplicate]
	attentionRaised []entry[AttentionRaised]
	batchResolved   []entry[BatchResolved]
	retryExhausted  []entry[RetryExhausted]
	networkChanged  []entry[NetworkChanged]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(BatchCaptured); ok {
		r.batchCaptured = append(r.batchCaptured, entry[BatchCaptured]{name, h})
	}
	if h, ok := e.(BatchProcessing); ok {
		r.batchProcessing = append(r.batchProcessing, entry[BatchProcessing]{name, h})
	}
	if h, ok := e.(BatchSent); ok {
		r.batchSent = append(r.batchSent, entry[BatchSent]{name, h})
	}
	if h, ok := e.(BatchFailed); ok {
		r.batchFailed = append(r.batchFailed, entry[BatchFailed]{name, h})
	}
	if h, ok := e.(BatchDuplicate); ok {
		r.batchDuplicate = append(r.batchDuplicate, entry[BatchDuplicate]{name, h})
	}
	if h, ok := e.(AttentionRaised); ok {
		r.attentionRaised = append(r.attentionRaised, entry[AttentionRaised]{name, h})
	}
	if h, ok := e.(BatchResolved); ok {
		r.batchResolved = append(r.batchResolved, entry[BatchResolved]{name, h})
	}
	if h, ok := e.(RetryExhausted); ok {
		r.retryExhausted = append(r.retryExhausted, entry[RetryExhausted]{name, h})
	}
	if h, ok := e.(NetworkChanged); ok {
		r.networkChanged = append(r.networkChanged, entry[NetworkChanged]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Batch event emitters
// ──────────────────────────────────────────────────

// EmitBatchCaptured notifies all extensions that implement BatchCaptured.
func (r *Registry) EmitBatchCaptured(ctx context.Context, b *batch.Batch) {
	for _, e := range r.batchCaptured {
		if err := e.hook.OnBatchCaptured(ctx, b); err != nil {
			r.logHookError("OnBatchCaptured", e.name, err)
		}
	}
}

// EmitBatchProcessing notifies all extensions that implement BatchProcessing.
func (r *Registry) EmitBatchProcessing(ctx context.Context, b *batch.Batch) {
	for _, e := range r.batchProcessing {
		if err := e.hook.OnBatchProcessing(ctx, b); err != nil {
			r.logHookError("OnBatchProcessing", e.name, err)
		}
	}
}

// EmitBatchSent notifies all extensions that implement BatchSent.
func (r *Registry) EmitBatchSent(ctx context.Context, b *batch.Batch, elapsed time.Duration) {
	for _, e := range r.batchSent {
		if err := e.hook.OnBatchSent(ctx, b, elapsed); err != nil {
			r.logHookError("OnBatchSent", e.name, err)
		}
	}
}

// EmitBatchFailed notifies all extensions that implement BatchFailed.
func (r *Registry) EmitBatchFailed(ctx context.Context, b *batch.Batch, cause error) {
	for _, e := range r.batchFailed {
		if err := e.hook.OnBatchFailed(ctx, b, cause); err != nil {
			r.logHookError("OnBatchFailed", e.name, err)
		}
	}
}

// EmitBatchDuplicate notifies all extensions that implement BatchDuplicate.
func (r *Registry) EmitBatchDuplicate(ctx context.Context, b *batch.Batch, existingPallet string) {
	for _, e := range r.batchDuplicate {
		if err := e.hook.OnBatchDuplicate(ctx, b, existingPallet); err != nil {
			r.logHookError("OnBatchDuplicate", e.name, err)
		}
	}
}

// EmitAttentionRaised notifies all extensions that implement AttentionRaised.
func (r *Registry) EmitAttentionRaised(ctx context.Context, b *batch.Batch, reason string) {
	for _, e := range r.attentionRaised {
		if err := e.hook.OnAttentionRaised(ctx, b, reason); err != nil {
			r.logHookError("OnAttentionRaised", e.name, err)
		}
	}
}

// EmitBatchResolved notifies all extensions that implement BatchResolved.
func (r *Registry) EmitBatchResolved(ctx context.Context, b *batch.Batch) {
	for _, e := range r.batchResolved {
		if err := e.hook.OnBatchResolved(ctx, b); err != nil {
			r.logHookError("OnBatchResolved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRetryExhausted notifies all extensions that implement RetryExhausted.
func (r *Registry) EmitRetryExhausted(ctx context.Context, en *retryq.Entry, cause error) {
	for _, e := range r.retryExhausted {
		if err := e.hook.OnRetryExhausted(ctx, en, cause); err != nil {
			r.logHookError("OnRetryExhausted", e.name, err)
		}
	}
}

// EmitNetworkChanged notifies all extensions that implement NetworkChanged.
func (r *Registry) EmitNetworkChanged(ctx context.Context, online bool) {
	for _, e := range r.networkChanged {
		if err := e.hook.OnNetworkChanged(ctx, online); err != nil {
			r.logHookError("OnNetworkChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated into the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
