package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, r, http.StatusAccepted, map[string]any{"ids": []int{1, 2}})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ids":[1,2]}`, w.Body.String())
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r = r.WithContext(WithTraceID(r.Context(), "trace-1"))
	w := httptest.NewRecorder()

	RespondWithError(w, r, http.StatusNotFound, "Job not found")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", resp.Error)
	assert.Equal(t, "trace-1", resp.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		opts      []ResponseOption
		wantLevel string
	}{
		{"server error", http.StatusInternalServerError, nil, "ERROR"},
		{"rate limited", http.StatusTooManyRequests, nil, "WARN"},
		{"elevated client error", http.StatusUnauthorized, []ResponseOption{WithElevatedLogLevel()}, "WARN"},
		{"client error", http.StatusBadRequest, nil, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			r := httptest.NewRequest(http.MethodPost, "/api/jobs", nil)
			r = r.WithContext(logger.WithLogger(r.Context(), log))
			w := httptest.NewRecorder()

			err := errors.New("dial postgres://admin:hunter2@db:5432/jobs failed")
			RespondWithErrorAndLog(w, r, tt.status, "Something went wrong", err, tt.opts...)

			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "postgres://")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.NotContains(t, entry["error"], "hunter2")
		})
	}
}
