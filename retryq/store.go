package retryq

import (
	"context"
	"time"
)

// ListOpts controls pagination for retry queue list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the durable retry queue.
type Store interface {
	// UpsertRetry inserts the entry or replaces the one with the same
	// session id.
	UpsertRetry(ctx context.Context, e *Entry) error

	// GetRetry retrieves the entry for a session id.
	GetRetry(ctx context.Context, sessionID string) (*Entry, error)

	// ListDue returns up to limit entries with NextRetryAt <= now and
	// Attempts < MaxAttempts, oldest due first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// UpdateRetry persists attempt bookkeeping of an existing entry.
	UpdateRetry(ctx context.Context, e *Entry) error

	// DeleteRetry removes the entry for a session id.
	DeleteRetry(ctx context.Context, sessionID string) error

	// ListRetries returns all entries ordered by NextRetryAt.
	ListRetries(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// ListExhausted returns entries with Attempts >= MaxAttempts.
	ListExhausted(ctx context.Context) ([]*Entry, error)

	// SweepRetries removes exhausted entries created before the given
	// time and returns how many were removed.
	SweepRetries(ctx context.Context, before time.Time) (int64, error)

	// DeleteOrphanRetries removes entries whose batch does not exist.
	DeleteOrphanRetries(ctx context.Context) (int64, error)

	// CountRetries returns the number of entries in the queue.
	CountRetries(ctx context.Context) (int64, error)
}
