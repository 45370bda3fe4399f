package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/retryq"
)

// UpsertRetry inserts the entry or replaces the one with the same session.
func (s *Store) UpsertRetry(ctx context.Context, e *retryq.Entry) error {
	_, err := s.db.NewInsert().Model(toRetryModel(e)).
		On("CONFLICT (session_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("attempts = EXCLUDED.attempts").
		Set("max_attempts = EXCLUDED.max_attempts").
		Set("next_retry_at = EXCLUDED.next_retry_at").
		Set("last_attempt_at = EXCLUDED.last_attempt_at").
		Set("last_error = EXCLUDED.last_error").
		Set("created_at = EXCLUDED.created_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: upsert retry: %w", err)
	}
	return nil
}

// GetRetry retrieves the entry for a session id.
func (s *Store) GetRetry(ctx context.Context, sessionID string) (*retryq.Entry, error) {
	m := new(retryModel)
	err := s.db.NewSelect().Model(m).Where("session_id = ?", sessionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrRetryNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: get retry: %w", err)
	}
	return fromRetryModel(m), nil
}

// ListDue returns eligible entries, oldest due first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*retryq.Entry, error) {
	q := s.db.NewSelect().Model((*retryModel)(nil)).
		Where("next_retry_at <= ?", utc(now)).
		Where("attempts < max_attempts").
		Order("next_retry_at ASC", "session_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []retryModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: list due retries: %w", err)
	}
	return fromRetryModels(models), nil
}

// UpdateRetry writes attempt bookkeeping of an existing entry.
func (s *Store) UpdateRetry(ctx context.Context, e *retryq.Entry) error {
	res, err := s.db.NewUpdate().Model(toRetryModel(e)).
		Column("attempts", "max_attempts", "next_retry_at", "last_attempt_at", "last_error", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: update retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kegsync/bun: update retry rows affected: %w", err)
	}
	if n == 0 {
		return kegsync.ErrRetryNotFound
	}
	return nil
}

// DeleteRetry removes the entry for a session id.
func (s *Store) DeleteRetry(ctx context.Context, sessionID string) error {
	res, err := s.db.NewDelete().Model((*retryModel)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: delete retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kegsync/bun: delete retry rows affected: %w", err)
	}
	if n == 0 {
		return kegsync.ErrRetryNotFound
	}
	return nil
}

// ListRetries returns entries ordered by next attempt.
func (s *Store) ListRetries(ctx context.Context, opts retryq.ListOpts) ([]*retryq.Entry, error) {
	q := s.db.NewSelect().Model((*retryModel)(nil)).
		Order("next_retry_at ASC", "session_id ASC")
	q = paginate(q, opts.Offset, opts.Limit)

	var models []retryModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: list retries: %w", err)
	}
	return fromRetryModels(models), nil
}

// ListExhausted returns entries that used up their attempt budget.
func (s *Store) ListExhausted(ctx context.Context) ([]*retryq.Entry, error) {
	var models []retryModel
	err := s.db.NewSelect().Model((*retryModel)(nil)).
		Where("attempts >= max_attempts").
		Order("next_retry_at ASC", "session_id ASC").
		Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("kegsync/bun: list exhausted retries: %w", err)
	}
	return fromRetryModels(models), nil
}

// SweepRetries removes exhausted entries created before the cutoff.
func (s *Store) SweepRetries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().Model((*retryModel)(nil)).
		Where("attempts >= max_attempts").
		Where("created_at < ?", utc(before)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: sweep retries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOrphanRetries removes entries whose batch does not exist.
func (s *Store) DeleteOrphanRetries(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().Model((*retryModel)(nil)).
		Where("session_id NOT IN (SELECT session_id FROM kegsync_batches)").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: delete orphan retries: %w", err)
	}
	return res.RowsAffected()
}

// CountRetries returns the number of queued entries.
func (s *Store) CountRetries(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*retryModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: count retries: %w", err)
	}
	return int64(n), nil
}

func fromRetryModels(models []retryModel) []*retryq.Entry {
	out := make([]*retryq.Entry, len(models))
	for i := range models {
		out[i] = fromRetryModel(&models[i])
	}
	return out
}
