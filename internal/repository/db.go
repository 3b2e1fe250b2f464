package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

//go:embed migrations
var migrationsFS embed.FS

// DBOptions configures the connection pool.
type DBOptions struct {
	Driver          string // "postgres" | "sqlite3"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects, applies pool settings and pings.
//
// SQLite allows a single writer, so the pool is pinned to one connection;
// transactions then queue in database/sql instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, opts DBOptions) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("repository.Open: %w", err)
	}

	if opts.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxIdleConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository.Open: ping: %w", err)
	}
	return db, nil
}

// Migrate runs the embedded *.sql files for db's driver, sorted by name.
// Idempotent: every statement uses IF NOT EXISTS, ON CONFLICT or a
// drop-then-add pair.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	dir := path.Join("migrations", db.DriverName())
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("repository.Migrate: no migrations for driver %q: %w", db.DriverName(), err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrationsFS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("repository.Migrate: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("repository.Migrate: exec %q: %w", f, err)
		}
		slog.Debug("migration applied", "file", path.Base(f))
	}
	return nil
}
