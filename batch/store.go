package batch

import (
	"context"
	"time"
)

// ListOpts controls pagination and filtering for batch list queries.
type ListOpts struct {
	// Statuses filters by status. Empty means all statuses.
	Statuses []Status
	// Attention limits the result to batches requiring attention.
	Attention bool
	// Newest orders by sequence descending instead of ascending.
	Newest bool
	// Limit is the maximum number of batches to return. Zero means no limit.
	Limit int
	// Offset is the number of batches to skip.
	Offset int
}

// CountOpts controls filtering for batch count queries.
type CountOpts struct {
	// Status filters by status. Empty means all statuses.
	Status Status
	// Attention counts only batches requiring attention.
	Attention bool
}

// Store defines the persistence contract for batches. Each method is one
// atomic operation; multi-step sequences are serialized by the caller.
type Store interface {
	// CreateBatch persists a new batch. Returns kegsync.ErrBatchExists if
	// the session id is taken.
	CreateBatch(ctx context.Context, b *Batch) error

	// GetBatch retrieves a batch by session id.
	GetBatch(ctx context.Context, sessionID string) (*Batch, error)

	// UpdateBatch persists all mutable fields of an existing batch in a
	// single write, so readers never see the attention flag without its
	// reason.
	UpdateBatch(ctx context.Context, b *Batch) error

	// NextSeq returns the next free sequence number (max + 1).
	NextSeq(ctx context.Context) (int64, error)

	// ListBatches returns batches matching the given options.
	ListBatches(ctx context.Context, opts ListOpts) ([]*Batch, error)

	// ListStale returns batches in any of statuses last updated before the
	// given time.
	ListStale(ctx context.Context, statuses []Status, before time.Time) ([]*Batch, error)

	// ListUnattempted returns API_PENDING batches with zero attempts, a
	// stored payload, and an update time at or after since.
	ListUnattempted(ctx context.Context, since time.Time) ([]*Batch, error)

	// ListIncomplete returns batches whose decoded code count is below the
	// target and whose status is neither API_SENT nor MANUAL_RESOLVED.
	ListIncomplete(ctx context.Context) ([]*Batch, error)

	// FindSentByLabel returns the most recent API_SENT batch carrying the
	// given label, or kegsync.ErrBatchNotFound.
	FindSentByLabel(ctx context.Context, label string) (*Batch, error)

	// CountBatches returns the number of batches matching the options.
	CountBatches(ctx context.Context, opts CountOpts) (int64, error)
}
