// Package bunstore implements store.Store using the Bun ORM. It runs on
// SQLite (modernc.org/sqlite, the station default) and on PostgreSQL
// (pgdriver).
//
// Open builds and owns the *bun.DB from a DSN:
//
//	st, err := bunstore.Open(ctx, "file:/var/lib/kegsync/kegsync.db")
//	st, err := bunstore.Open(ctx, "postgres://kegsync:secret@db:5432/kegsync?sslmode=disable")
//
// New wraps a caller-owned handle instead; Close then leaves it open:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	st := bunstore.New(bun.NewDB(sqldb, pgdialect.New()))
//	err := st.Migrate(ctx)
package bunstore
