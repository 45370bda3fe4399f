// Package store defines the aggregate persistence interface.
//
// Each entity (batch, pallet, retryq, alert, event) defines its own store
// interface. The composite [Store] composes them all, so a single backend
// satisfies every repository the engine needs.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/bun: Bun ORM backend over SQLite (modernc) or PostgreSQL (pgdriver)
//
// # Usage
//
//	s, err := bunstore.Open(ctx, "/var/lib/kegsync/station.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	st, err := kegsync.New(kegsync.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
