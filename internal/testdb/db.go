package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/labelgen/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 10 * time.Second

// IsIntegrationTestEnvironment returns true if a test database URL is
// configured, indicating that integration tests can be run.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL returns the database URL for tests.
// It checks DATABASE_URL and LABELGEN_TEST_DB_URL environment variables
// in that order, returning the first non-empty value.
func GetTestDatabaseURL() string {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL
	}
	return os.Getenv("LABELGEN_TEST_DB_URL")
}

// GetTestDBWithT returns a migrated database connection scoped to a fresh
// schema. It skips the test if no database URL is configured.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	baseURL := GetTestDatabaseURL()
	if baseURL == "" {
		t.Skip("DATABASE_URL or LABELGEN_TEST_DB_URL not set - skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := postgres.Open(ctx, baseURL)
	require.NoError(t, err, "Failed to open database connection")
	_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema))
	require.NoError(t, err, "Failed to create test schema")

	scopedURL, err := withSearchPath(baseURL, schema)
	require.NoError(t, err)

	db, err := postgres.Open(ctx, scopedURL)
	require.NoError(t, err, "Failed to open schema-scoped connection")

	t.Cleanup(func() {
		CleanupDB(t, db)
		dropCtx, dropCancel := context.WithTimeout(context.Background(), TestTimeout)
		defer dropCancel()
		if _, err := admin.ExecContext(dropCtx, fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schema)); err != nil {
			t.Logf("Warning: failed to drop test schema %s: %v", schema, err)
		}
		CleanupDB(t, admin)
	})

	require.NoError(t, postgres.Migrate(ctx, db), "Failed to run migrations")
	return db
}

// CleanupDB properly closes a database connection, logging any errors.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}

// withSearchPath adds a search_path runtime parameter to a connection URL.
func withSearchPath(rawURL, schema string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
