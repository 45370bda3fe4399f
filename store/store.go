package store

import (
	"context"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
)

// Store is the aggregate persistence interface. A single backend
// implements every entity store.
type Store interface {
	batch.Store
	pallet.Store
	retryq.Store
	alert.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
