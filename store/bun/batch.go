package bunstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/batch"
)

// CreateBatch persists a new batch.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch) error {
	m := toBatchModel(b)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return kegsync.ErrBatchExists
		}
		return fmt.Errorf("kegsync/bun: create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by session id.
func (s *Store) GetBatch(ctx context.Context, sessionID string) (*batch.Batch, error) {
	m := new(batchModel)
	err := s.db.NewSelect().Model(m).Where("session_id = ?", sessionID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrBatchNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: get batch: %w", err)
	}
	return fromBatchModel(m, s.logger), nil
}

// UpdateBatch writes every mutable column of an existing batch.
func (s *Store) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	m := toBatchModel(b)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kegsync/bun: update batch rows affected: %w", err)
	}
	if n == 0 {
		return kegsync.ErrBatchNotFound
	}
	return nil
}

// NextSeq returns max(seq) + 1.
func (s *Store) NextSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.NewSelect().
		Model((*batchModel)(nil)).
		ColumnExpr("COALESCE(MAX(seq), 0)").
		Scan(ctx, &maxSeq)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: next seq: %w", err)
	}
	return maxSeq + 1, nil
}

// ListBatches returns batches ordered by sequence.
func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	q := s.db.NewSelect().Model((*batchModel)(nil))
	if len(opts.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statusStrings(opts.Statuses)))
	}
	if opts.Attention {
		q = q.Where("requires_attention = ?", true)
	}
	if opts.Newest {
		q = q.Order("seq DESC")
	} else {
		q = q.Order("seq ASC")
	}
	q = paginate(q, opts.Offset, opts.Limit)
	return s.scanBatches(ctx, q, "list batches")
}

// ListStale returns batches in statuses last updated before the cutoff.
func (s *Store) ListStale(ctx context.Context, statuses []batch.Status, before time.Time) ([]*batch.Batch, error) {
	if len(statuses) == 0 {
		return []*batch.Batch{}, nil
	}
	q := s.db.NewSelect().Model((*batchModel)(nil)).
		Where("status IN (?)", bun.In(statusStrings(statuses))).
		Where("updated_at < ?", utc(before)).
		Order("seq ASC")
	return s.scanBatches(ctx, q, "list stale batches")
}

// ListUnattempted returns never-attempted API_PENDING batches with a
// payload updated at or after since.
func (s *Store) ListUnattempted(ctx context.Context, since time.Time) ([]*batch.Batch, error) {
	q := s.db.NewSelect().Model((*batchModel)(nil)).
		Where("status = ?", string(batch.StatusAPIPending)).
		Where("attempts = 0").
		Where("payload IS NOT NULL AND payload <> ''").
		Where("updated_at >= ?", utc(since)).
		Order("seq ASC")
	return s.scanBatches(ctx, q, "list unattempted batches")
}

// ListIncomplete returns open batches with fewer codes than their target.
func (s *Store) ListIncomplete(ctx context.Context) ([]*batch.Batch, error) {
	q := s.db.NewSelect().Model((*batchModel)(nil)).
		Where("code_count < target_count").
		Where("status NOT IN (?)", bun.In([]string{
			string(batch.StatusAPISent),
			string(batch.StatusManualResolved),
		})).
		Order("seq ASC")
	return s.scanBatches(ctx, q, "list incomplete batches")
}

// FindSentByLabel returns the latest API_SENT batch with the label.
func (s *Store) FindSentByLabel(ctx context.Context, label string) (*batch.Batch, error) {
	m := new(batchModel)
	err := s.db.NewSelect().Model(m).
		Where("status = ?", string(batch.StatusAPISent)).
		Where("label = ?", label).
		Order("seq DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrBatchNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: find sent batch: %w", err)
	}
	return fromBatchModel(m, s.logger), nil
}

// CountBatches returns the number of batches matching the options.
func (s *Store) CountBatches(ctx context.Context, opts batch.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*batchModel)(nil))
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Attention {
		q = q.Where("requires_attention = ?", true)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: count batches: %w", err)
	}
	return int64(n), nil
}

func (s *Store) scanBatches(ctx context.Context, q *bun.SelectQuery, op string) ([]*batch.Batch, error) {
	var models []batchModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: %s: %w", op, err)
	}
	out := make([]*batch.Batch, len(models))
	for i := range models {
		out[i] = fromBatchModel(&models[i], s.logger)
	}
	return out, nil
}

func statusStrings(statuses []batch.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func paginate(q *bun.SelectQuery, offset, limit int) *bun.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite rejects OFFSET without LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(offset)
	}
	return q
}
