package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelgen/internal/config"
	"github.com/phrazzld/labelgen/internal/platform/postgres"
	"github.com/phrazzld/labelgen/internal/platform/sqlite"
	"github.com/phrazzld/labelgen/internal/store"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// storeHandle is an opened job store together with the handle used for
// migrations and health checks.
type storeHandle struct {
	driver string
	jobs   store.JobStore
	db     *sql.DB
	ping   func(ctx context.Context) error
	close  func() error
}

// retryPolicy builds the contention retry policy from configuration.
func retryPolicy(cfg config.StoreConfig, onRetry func(attempt int, err error)) store.RetryPolicy {
	return store.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
		OnRetry:     onRetry,
	}
}

// openStore connects to the configured backend and applies pending
// migrations. onRetry may be nil.
func openStore(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	onRetry func(attempt int, err error),
) (*storeHandle, error) {
	policy := retryPolicy(cfg.Store, onRetry)

	switch cfg.Database.Driver {
	case driverSQLite, "":
		db, err := sqlite.Open(ctx, cfg.Database.Path, sqlite.Options{
			MaxReadConns: cfg.Database.MaxReadConns,
		}, log)
		if err != nil {
			return nil, err
		}
		return &storeHandle{
			driver: driverSQLite,
			jobs:   sqlite.NewJobStore(db, policy, log),
			db:     db.Writer,
			ping:   db.Ping,
			close:  db.Close,
		}, nil

	case driverPostgres:
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("postgres database opened")
		return &storeHandle{
			driver: driverPostgres,
			jobs:   postgres.NewPostgresJobStore(db, policy, log),
			db:     db,
			ping:   db.PingContext,
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// migrationVersion returns the schema version recorded in the database.
func (h *storeHandle) migrationVersion(ctx context.Context) (int64, error) {
	if h.driver == driverPostgres {
		return postgres.MigrationVersion(ctx, h.db)
	}
	return sqlite.MigrationVersion(ctx, h.db)
}
