package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/store"
	"github.com/stretchr/testify/require"
)

func fastRetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxAttempts: 50,
		BaseDelay:   2 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}
}

// openTestDB opens a fresh database file under t.TempDir.
func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	return openTestDBAt(t, filepath.Join(t.TempDir(), "jobs.db"), opts)
}

func openTestDBAt(t *testing.T, path string, opts Options) *DB {
	t.Helper()
	db, err := Open(context.Background(), path, opts, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	return NewJobStore(openTestDB(t, Options{}), fastRetryPolicy(), logger.Discard())
}

func submitN(t *testing.T, s *JobStore, labels ...string) []int64 {
	t.Helper()
	ids, err := s.SubmitBatch(context.Background(), labels)
	require.NoError(t, err)
	require.Len(t, ids, len(labels))
	return ids
}
