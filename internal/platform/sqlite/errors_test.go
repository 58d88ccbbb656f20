package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/labelgen/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestIsBusy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unrelated", err: errors.New("no such table: jobs"), want: false},
		{name: "locked message", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "wrapped locked message", err: fmt.Errorf("claim: %w", errors.New("database is locked")), want: true},
		{name: "table locked", err: errors.New("database table is locked"), want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsBusy(tc.err))
		})
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(sql.ErrNoRows), store.ErrNotFound)

	busy := errors.New("database is locked")
	assert.Same(t, busy, MapError(busy))

	other := errors.New("disk I/O error")
	assert.Equal(t, other, MapError(other))
}
