package pallet

import (
	"context"

	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
)

// ListOpts controls pagination and filtering for pallet list queries.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// Store defines the persistence contract for the pallet registry.
type Store interface {
	// InsertPallet persists a new record. Returns kegsync.ErrPalletExists
	// when a non-SHIPPED record with the same fingerprint already exists.
	InsertPallet(ctx context.Context, p *Pallet) error

	// GetPallet retrieves a record by ID.
	GetPallet(ctx context.Context, palletID id.PalletID) (*Pallet, error)

	// ActivePallet returns the non-SHIPPED record for fp, or
	// kegsync.ErrPalletNotFound.
	ActivePallet(ctx context.Context, fp fingerprint.Fingerprint) (*Pallet, error)

	// UpdatePallet persists status and timestamps of an existing record.
	UpdatePallet(ctx context.Context, p *Pallet) error

	// ListPallets returns records matching the given options, newest first.
	ListPallets(ctx context.Context, opts ListOpts) ([]*Pallet, error)
}
