package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/labelgen/internal/config"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/service/auth"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-that-is-at-least-32-characters"

// labelLine matches one numbered label of a rendered batch prompt.
var labelLine = regexp.MustCompile(`(?m)^\d+\. (.+)$`)

// echoBackend answers every batch prompt with one entry per label whose
// content mentions the label.
type echoBackend struct{}

func (echoBackend) Complete(_ context.Context, _, prompt string) (string, error) {
	type entry struct {
		Label   string            `json:"label"`
		Content map[string]string `json:"content"`
	}
	var reply struct {
		Items []entry `json:"items"`
	}
	for _, m := range labelLine.FindAllStringSubmatch(prompt, -1) {
		reply.Items = append(reply.Items, entry{
			Label:   m[1],
			Content: map[string]string{"summary": "about " + m[1]},
		})
	}
	raw, err := json.Marshal(reply)
	return string(raw), err
}

// testConfig returns a valid worker configuration over a fresh SQLite file.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error"},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(t.TempDir(), "jobs.db"),
			MaxReadConns: 4,
		},
		Auth: config.AuthConfig{JWTSecret: testJWTSecret, TokenLifetimeMinutes: 60},
		LLM: config.LLMConfig{
			APIKeys:                  []string{"test-key-alpha", "test-key-bravo"},
			ModelName:                "test-model",
			CallTimeoutSeconds:       5,
			RateLimitCooldownSeconds: 60,
			AcquireTimeoutSeconds:    5,
			PoolExhaustedBackoffSecs: 1,
		},
		Dispatcher: config.DispatcherConfig{
			BatchSize:                 5,
			WorkerBudget:              4,
			PollIntervalMillis:        10,
			MaxAttempts:               3,
			StaleAfterMinutes:         10,
			StaleCheckIntervalSeconds: 60,
			RecoverOnStart:            true,
		},
		Store: config.StoreConfig{
			RetryMaxAttempts:     20,
			RetryBaseDelayMillis: 2,
			RetryMaxDelayMillis:  20,
		},
	}
}

// newTestApp builds an application over cfg with the echo backend and
// stops it when the test ends.
func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	app, err := newApplication(context.Background(), cfg, logger.Discard(), withBackend(echoBackend{}))
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func mintToken(t *testing.T, cfg *config.Config, role auth.Role) string {
	t.Helper()
	svc, err := auth.NewJWTService(cfg.Auth)
	require.NoError(t, err)
	token, err := svc.GenerateToken(context.Background(), "tester", role, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// writeConfigFile writes cfg's store and auth settings as a YAML config file.
func writeConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "server:\n  log_level: error\n")
	fmt.Fprintf(&b, "database:\n  driver: sqlite\n  path: %q\n", cfg.Database.Path)
	fmt.Fprintf(&b, "auth:\n  jwt_secret: %q\n", cfg.Auth.JWTSecret)
	fmt.Fprintf(&b, "dispatcher:\n  max_attempts: %d\n", cfg.Dispatcher.MaxAttempts)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

// executeCommand runs the root command with args against configPath and
// returns what it wrote to stdout.
func executeCommand(t *testing.T, configPath string, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(append([]string{"--config", configPath}, args...))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}
