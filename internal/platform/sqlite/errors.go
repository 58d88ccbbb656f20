package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/labelgen/internal/store"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsBusy reports whether err is SQLite write contention (SQLITE_BUSY or
// SQLITE_LOCKED, including their extended codes). It is the retry predicate
// for store.WithRetry.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isConstraint reports whether err is a constraint violation.
func isConstraint(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// MapError converts driver errors into store errors. Busy errors are returned
// unchanged so that the retry predicate still recognizes them.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case IsBusy(err):
		return err
	case isConstraint(err):
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	default:
		return err
	}
}
