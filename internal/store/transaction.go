package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phrazzld/labelgen/internal/platform/logger"
)

// TxFn is the body of a transaction. Returning an error rolls back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn inside a transaction on db and commits when fn
// returns nil. An error from fn is returned unchanged after a clean rollback,
// so callers can still classify it; a panic rolls back and is re-raised.
//
// Job stores call it from inside WithRetry, so fn may run several times and
// must not keep state from a previous attempt.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) (err error) {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Debug("failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("rollback after panic failed", "error", rbErr, "panic", p)
			}
			panic(p) // ALLOW-PANIC: re-raised after rollback
		}
	}()

	if fnErr := fn(ctx, tx); fnErr != nil {
		done = true
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback failed", "error", rbErr, "cause", fnErr)
			return fmt.Errorf("rollback failed: %v (cause: %w)", rbErr, fnErr)
		}
		return fnErr
	}

	done = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
