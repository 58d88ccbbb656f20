package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const driverName = "sqlite"

// Options tunes the database handles opened by Open.
type Options struct {
	// BusyTimeout is how long SQLite itself waits on a locked database before
	// returning SQLITE_BUSY. Defaults to 5s.
	BusyTimeout time.Duration

	// MaxReadConns bounds the read-only connection pool. Defaults to 8.
	MaxReadConns int
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.MaxReadConns <= 0 {
		o.MaxReadConns = 8
	}
	return o
}

// DB bundles the writer and reader handles for one SQLite database file.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations. The caller must Close the returned DB.
func Open(ctx context.Context, path string, opts Options, logger *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	writer, err := sql.Open(driverName, buildDSN(path, opts.BusyTimeout, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite writer: %w", err)
	}
	// Writes queue on this single connection instead of contending in SQLite.
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to ping sqlite writer: %w", err)
	}

	if err := Migrate(ctx, writer); err != nil {
		_ = writer.Close()
		return nil, err
	}

	reader, err := sql.Open(driverName, buildDSN(path, opts.BusyTimeout, true))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to open sqlite reader: %w", err)
	}
	reader.SetMaxOpenConns(opts.MaxReadConns)
	reader.SetMaxIdleConns(opts.MaxReadConns)

	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("failed to ping sqlite reader: %w", err)
	}

	logger.Info("sqlite database opened",
		slog.String("path", path),
		slog.Duration("busy_timeout", opts.BusyTimeout),
		slog.Int("max_read_conns", opts.MaxReadConns))

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Ping verifies that both handles can reach the database.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if err := d.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	return nil
}

// Close closes both handles.
func (d *DB) Close() error {
	return errors.Join(d.Reader.Close(), d.Writer.Close())
}

// Migrate applies all embedded migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the highest migration version applied to db.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, nil
}

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// buildDSN assembles a modernc.org/sqlite DSN. Pragmas are applied to every
// new connection in the order given.
func buildDSN(path string, busyTimeout time.Duration, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if readOnly {
		q.Add("_pragma", "query_only(1)")
	} else {
		// BEGIN IMMEDIATE takes the write lock up front so a transaction never
		// fails half way through on a lock upgrade.
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}
