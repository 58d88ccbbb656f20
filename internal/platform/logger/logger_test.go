package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogBuffer is a synchronized buffer for capturing log output in tests
type testLogBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *testLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *testLogBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		got, err := logger.ParseLevel(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
		} else {
			assert.NoError(t, err, tc.in)
		}
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSetupWritesJSONAtConfiguredLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := &testLogBuffer{}
	l, err := logger.Setup(logger.LoggerConfig{Level: "warn", Output: buf})
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("dropped")
	l.Warn("kept", "job_id", 42)

	entries := buf.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, float64(42), entries[0]["job_id"])
	assert.Same(t, l, slog.Default())
}

func TestContextLogger(t *testing.T) {
	buf := &testLogBuffer{}
	l := slog.New(slog.NewJSONHandler(buf, nil)).With("batch", 7)

	ctx := logger.WithLogger(context.Background(), l)
	logger.FromContext(ctx).Info("from context")

	entries := buf.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(7), entries[0]["batch"])

	assert.Same(t, slog.Default(), logger.FromContext(context.Background()))
	assert.Equal(t, context.Background(), logger.WithLogger(context.Background(), nil))
}

func TestFromContextOr(t *testing.T) {
	fallback := logger.Discard()
	scoped := logger.Discard().With("job_id", 1)

	assert.Same(t, fallback, logger.FromContextOr(context.Background(), fallback))
	assert.Same(t, scoped, logger.FromContextOr(logger.WithLogger(context.Background(), scoped), fallback))
	assert.Same(t, slog.Default(), logger.FromContextOr(context.Background(), nil))
}
