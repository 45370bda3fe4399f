package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/pallet"
)

// InsertPallet persists a new pallet record. The partial unique index on
// fingerprint rejects a second non-SHIPPED record.
func (s *Store) InsertPallet(ctx context.Context, p *pallet.Pallet) error {
	_, err := s.db.NewInsert().Model(toPalletModel(p)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return kegsync.ErrPalletExists
		}
		return fmt.Errorf("kegsync/bun: insert pallet: %w", err)
	}
	return nil
}

// GetPallet retrieves a pallet by ID.
func (s *Store) GetPallet(ctx context.Context, palletID id.PalletID) (*pallet.Pallet, error) {
	m := new(palletModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", palletID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrPalletNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: get pallet: %w", err)
	}
	return fromPalletModel(m)
}

// ActivePallet returns the non-SHIPPED record for fp.
func (s *Store) ActivePallet(ctx context.Context, fp fingerprint.Fingerprint) (*pallet.Pallet, error) {
	m := new(palletModel)
	err := s.db.NewSelect().Model(m).
		Where("fingerprint = ?", string(fp)).
		Where("status <> ?", string(pallet.StatusShipped)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, kegsync.ErrPalletNotFound
		}
		return nil, fmt.Errorf("kegsync/bun: active pallet: %w", err)
	}
	return fromPalletModel(m)
}

// UpdatePallet writes status and timestamps of an existing record.
func (s *Store) UpdatePallet(ctx context.Context, p *pallet.Pallet) error {
	m := toPalletModel(p)
	res, err := s.db.NewUpdate().Model(m).
		Column("status", "shipped_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return kegsync.ErrPalletExists
		}
		return fmt.Errorf("kegsync/bun: update pallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("kegsync/bun: update pallet rows affected: %w", err)
	}
	if n == 0 {
		return kegsync.ErrPalletNotFound
	}
	return nil
}

// ListPallets returns pallet records newest first.
func (s *Store) ListPallets(ctx context.Context, opts pallet.ListOpts) ([]*pallet.Pallet, error) {
	q := s.db.NewSelect().Model((*palletModel)(nil))
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	q = q.Order("created_at DESC", "id DESC")
	q = paginate(q, opts.Offset, opts.Limit)

	var models []palletModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: list pallets: %w", err)
	}
	out := make([]*pallet.Pallet, 0, len(models))
	for i := range models {
		p, err := fromPalletModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("kegsync/bun: list pallets: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
