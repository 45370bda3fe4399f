package bunstore_test

import (
	"context"
	"path/filepath"
	"testing"

	bunstore "github.com/xraph/kegsync/store/bun"
)

func openSQLite(t *testing.T) *bunstore.Store {
	t.Helper()
	ctx := context.Background()

	st, err := bunstore.Open(ctx, filepath.Join(t.TempDir(), "kegsync.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestSQLiteStore(t *testing.T) {
	runSuite(t, openSQLite(t))
}

func TestMigrateIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var applied int
	err := st.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM kegsync_migrations`).Scan(&applied)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Errorf("applied migrations = %d, want 1", applied)
	}
}

func TestPingAndClose(t *testing.T) {
	st := openSQLite(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.Ping(context.Background()); err == nil {
		t.Error("ping after close succeeded")
	}
}
