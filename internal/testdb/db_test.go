package testdb

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://user:pw@localhost:5432/labelgen?sslmode=disable", "test_abc")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "test_abc", u.Query().Get("search_path"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "/labelgen", u.Path)
}

func TestGetTestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LABELGEN_TEST_DB_URL", "postgres://fallback")
	assert.Equal(t, "postgres://fallback", GetTestDatabaseURL())
	assert.True(t, IsIntegrationTestEnvironment())

	t.Setenv("DATABASE_URL", "postgres://primary")
	assert.Equal(t, "postgres://primary", GetTestDatabaseURL())
}
