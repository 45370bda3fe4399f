package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/id"
)

// CreateAlert persists a new alert.
func (s *Store) CreateAlert(ctx context.Context, a *alert.Alert) error {
	_, err := s.db.NewInsert().Model(toAlertModel(a)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: create alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, alertID id.AlertID) (*alert.Alert, error) {
	m := new(alertModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", alertID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrAlertNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: get alert: %w", err)
	}
	return fromAlertModel(m)
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	q := alertFilter(s.db.NewSelect().Model((*alertModel)(nil)), opts).Order("seq DESC")
	q = paginate(q, opts.Offset, opts.Limit)

	var models []alertModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: list alerts: %w", err)
	}
	out := make([]*alert.Alert, 0, len(models))
	for i := range models {
		a, err := fromAlertModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("kegsync/bun: list alerts: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// ResolveAlert marks one alert resolved. Resolving twice keeps the first
// resolution time.
func (s *Store) ResolveAlert(ctx context.Context, alertID id.AlertID, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*alertModel)(nil)).
		Set("resolved = ?", true).
		Set("resolved_at = COALESCE(resolved_at, ?)", utc(at)).
		Where("id = ?", alertID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kegsync/bun: resolve alert rows affected: %w", err)
	}
	if n == 0 {
		return kegsync.ErrAlertNotFound
	}
	return nil
}

// ResolveAlertsBefore resolves open alerts of typ created before the cutoff.
func (s *Store) ResolveAlertsBefore(ctx context.Context, typ alert.Type, before, at time.Time) (int64, error) {
	res, err := s.db.NewUpdate().Model((*alertModel)(nil)).
		Set("resolved = ?", true).
		Set("resolved_at = ?", utc(at)).
		Where("type = ?", string(typ)).
		Where("resolved = ?", false).
		Where("created_at < ?", utc(before)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: resolve alerts: %w", err)
	}
	return res.RowsAffected()
}

// CountAlerts returns the number of alerts matching the options.
func (s *Store) CountAlerts(ctx context.Context, opts alert.ListOpts) (int64, error) {
	n, err := alertFilter(s.db.NewSelect().Model((*alertModel)(nil)), opts).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("kegsync/bun: count alerts: %w", err)
	}
	return int64(n), nil
}

func alertFilter(q *bun.SelectQuery, opts alert.ListOpts) *bun.SelectQuery {
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.SessionID != "" {
		q = q.Where("session_id = ?", opts.SessionID)
	}
	if opts.Unresolved {
		q = q.Where("resolved = ?", false)
	}
	return q
}
