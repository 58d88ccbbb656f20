package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/labelgen/internal/api/shared"
	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/platform/sqlite"
	"github.com/phrazzld/labelgen/internal/service"
	"github.com/phrazzld/labelgen/internal/store"
	"github.com/stretchr/testify/require"
)

var testStaleDefaults = StaleDefaults{OlderThan: 10 * time.Minute, MaxAttempts: 3}

type testEnv struct {
	store  *sqlite.JobStore
	pool   *credential.Pool
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"),
		sqlite.Options{}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jobStore := sqlite.NewJobStore(db, store.DefaultRetryPolicy(), logger.Discard())
	pool, err := credential.NewPool([]string{"test-key-alpha", "test-key-bravo"}, time.Minute, logger.Discard())
	require.NoError(t, err)

	svc, err := service.NewJobService(jobStore, logger.Discard(), service.WithCredentials(pool))
	require.NoError(t, err)

	return &testEnv{
		store:  jobStore,
		pool:   pool,
		router: newTestRouter(svc, svc),
	}
}

func newTestRouter(jobs JobService, creds CredentialService) http.Handler {
	jobHandler := NewJobHandler(jobs, testStaleDefaults, logger.Discard())
	credHandler := NewCredentialHandler(creds)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobHandler.SubmitJobs)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/stats", jobHandler.GetStats)
		r.Post("/jobs/reset-stale", jobHandler.ResetStale)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/credentials", credHandler.ListCredentials)
		r.Post("/credentials/{name}/reset-quota", credHandler.ResetQuota)
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[shared.ErrorResponse](t, rr).Error
}

// mockJobService is a JobService and CredentialService driven by function
// fields; unset fields fail loudly.
type mockJobService struct {
	SubmitFn      func(ctx context.Context, labels []string) ([]int64, error)
	GetFn         func(ctx context.Context, id int64) (*domain.Job, error)
	ListFn        func(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error)
	StatsFn       func(ctx context.Context) (*service.Stats, error)
	ResetStaleFn  func(ctx context.Context, olderThan time.Duration, maxAttempts int) (store.StaleResetResult, error)
	ResetQuotaFn  func(name string) (bool, error)
	CredentialsFn func() []credential.Status
}

func (m *mockJobService) Submit(ctx context.Context, labels []string) ([]int64, error) {
	return m.SubmitFn(ctx, labels)
}

func (m *mockJobService) Get(ctx context.Context, id int64) (*domain.Job, error) {
	return m.GetFn(ctx, id)
}

func (m *mockJobService) List(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error) {
	return m.ListFn(ctx, state, limit)
}

func (m *mockJobService) Stats(ctx context.Context) (*service.Stats, error) {
	return m.StatsFn(ctx)
}

func (m *mockJobService) ResetStale(
	ctx context.Context,
	olderThan time.Duration,
	maxAttempts int,
) (store.StaleResetResult, error) {
	return m.ResetStaleFn(ctx, olderThan, maxAttempts)
}

func (m *mockJobService) Credentials() []credential.Status {
	return m.CredentialsFn()
}

func (m *mockJobService) ResetQuota(name string) (bool, error) {
	return m.ResetQuotaFn(name)
}
