package ext

import (
	"context"
	"time"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/retryq"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Batch lifecycle hooks
// ──────────────────────────────────────────────────

// BatchCaptured is called after a capture is persisted as a batch.
type BatchCaptured interface {
	OnBatchCaptured(ctx context.Context, b *batch.Batch) error
}

// BatchProcessing is called when a worker claims a batch.
type BatchProcessing interface {
	OnBatchProcessing(ctx context.Context, b *batch.Batch) error
}

// BatchSent is called after the cloud acknowledges a batch.
type BatchSent interface {
	OnBatchSent(ctx context.Context, b *batch.Batch, elapsed time.Duration) error
}

// BatchFailed is called when a batch enters API_FAILED.
type BatchFailed interface {
	OnBatchFailed(ctx context.Context, b *batch.Batch, err error) error
}

// BatchDuplicate is called when a batch's fingerprint matches a live
// pallet record.
type BatchDuplicate interface {
	OnBatchDuplicate(ctx context.Context, b *batch.Batch, existingPallet string) error
}

// AttentionRaised is called when a batch is flagged for operator review.
type AttentionRaised interface {
	OnAttentionRaised(ctx context.Context, b *batch.Batch, reason string) error
}

// BatchResolved is called when an operator resolves a batch.
type BatchResolved interface {
	OnBatchResolved(ctx context.Context, b *batch.Batch) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// RetryExhausted is called when a retry entry uses its last attempt.
type RetryExhausted interface {
	OnRetryExhausted(ctx context.Context, e *retryq.Entry, err error) error
}

// NetworkChanged is called when the endpoint's reachability flips.
type NetworkChanged interface {
	OnNetworkChanged(ctx context.Context, online bool) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
