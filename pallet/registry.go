package pallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
)

// Result is the outcome of a registration.
type Result struct {
	// Created is true when a new record was inserted.
	Created bool
	// PalletID is the new record's id, or the blocking record's id on
	// rejection.
	PalletID id.PalletID
	// ExistingStatus is the blocking record's status on rejection.
	ExistingStatus Status
	// ExistingSession is the session that registered the blocking record.
	ExistingSession string
}

// Registry enforces at most one live pallet per fingerprint.
type Registry struct {
	store Store
	guard *kegsync.Guard
	now   func() time.Time
}

// NewRegistry creates a Registry. All read-modify-write sequences run
// inside guard.
func NewRegistry(store Store, guard *kegsync.Guard) *Registry {
	return &Registry{store: store, guard: guard, now: func() time.Time { return time.Now().UTC() }}
}

// Register records a new pallet for fp unless a non-SHIPPED record
// already holds it, in which case the result is a rejection naming that
// record.
func (r *Registry) Register(ctx context.Context, fp fingerprint.Fingerprint, sessionID, kegType string, kegCount int) (Result, error) {
	if fp == "" {
		return Result{}, fmt.Errorf("pallet: register %s: empty fingerprint", sessionID)
	}

	var res Result
	err := r.guard.Do(func() error {
		existing, err := r.store.ActivePallet(ctx, fp)
		switch {
		case err == nil:
			res = rejected(existing)
			return nil
		case !errors.Is(err, kegsync.ErrPalletNotFound):
			return err
		}

		now := r.now()
		p := &Pallet{
			ID:          id.NewPalletID(),
			Fingerprint: fp,
			SessionID:   sessionID,
			KegType:     kegType,
			KegCount:    kegCount,
			Status:      StatusCreated,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.store.InsertPallet(ctx, p); err != nil {
			if !errors.Is(err, kegsync.ErrPalletExists) {
				return err
			}
			// Lost a race against another writer of the same store.
			existing, getErr := r.store.ActivePallet(ctx, fp)
			if getErr != nil {
				return getErr
			}
			res = rejected(existing)
			return nil
		}
		res = Result{Created: true, PalletID: p.ID}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("pallet: register %s: %w", sessionID, err)
	}
	return res, nil
}

// Check reports the live record for fp without registering anything.
func (r *Registry) Check(ctx context.Context, fp fingerprint.Fingerprint) (*Pallet, bool, error) {
	p, err := r.store.ActivePallet(ctx, fp)
	if errors.Is(err, kegsync.ErrPalletNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Advance moves a pallet to status. ShippedAt is stamped exactly when the
// pallet enters SHIPPED.
func (r *Registry) Advance(ctx context.Context, palletID id.PalletID, status Status) (*Pallet, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", kegsync.ErrInvalidPalletStatus, status)
	}

	var out *Pallet
	err := r.guard.Do(func() error {
		p, err := r.store.GetPallet(ctx, palletID)
		if err != nil {
			return err
		}
		if p.Status == StatusShipped && status != StatusShipped {
			// Reopening must not create a second live record.
			if live, liveErr := r.store.ActivePallet(ctx, p.Fingerprint); liveErr == nil && live.ID.String() != p.ID.String() {
				return kegsync.ErrPalletExists
			}
		}
		now := r.now()
		if status == StatusShipped && p.Status != StatusShipped {
			p.ShippedAt = &now
		}
		p.Status = status
		p.UpdatedAt = now
		if err := r.store.UpdatePallet(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pallet: advance %s: %w", palletID, err)
	}
	return out, nil
}

// Store returns the underlying store for list and get operations.
func (r *Registry) Store() Store { return r.store }

func rejected(p *Pallet) Result {
	return Result{
		PalletID:        p.ID,
		ExistingStatus:  p.Status,
		ExistingSession: p.SessionID,
	}
}
