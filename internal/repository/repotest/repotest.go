// Package repotest opens migrated sqlx stores for tests in other packages.
// SQLite always runs; PostgreSQL runs when POSTGRES_TEST_DSN is set, each test
// in a schema of its own.
package repotest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/tradesense/challenge/internal/repository"
)

// PostgresDSNEnv names the variable holding a PostgreSQL DSN for tests.
const PostgresDSNEnv = "POSTGRES_TEST_DSN"

// SQLite returns a migrated store on a file in t.TempDir().
func SQLite(t testing.TB) *repository.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db := open(t, "sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on")
	migrate(t, db)
	return repository.NewStore(db)
}

// Postgres returns a migrated store in a fresh schema, or skips t when
// POSTGRES_TEST_DSN is unset.
func Postgres(t testing.TB, dsn string) *repository.Store {
	t.Helper()
	if dsn == "" {
		t.Skip(PostgresDSNEnv + " not set")
	}
	schema := "ledger_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	admin := open(t, "postgres", dsn)
	ctx := context.Background()
	_, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	db := open(t, "postgres", withSearchPath(dsn, schema))
	migrate(t, db)
	return repository.NewStore(db)
}

func open(t testing.TB, driver, dsn string) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.DBOptions{Driver: driver, DSN: dsn, MaxOpenConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func migrate(t testing.TB, db *sqlx.DB) {
	t.Helper()
	require.NoError(t, repository.Migrate(context.Background(), db))
}

// withSearchPath appends search_path to either DSN form lib/pq accepts.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return fmt.Sprintf("%s search_path=%s", dsn, schema)
}
