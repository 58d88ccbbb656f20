package task

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/platform/sqlite"
	"github.com/phrazzld/labelgen/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.JobStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"),
		sqlite.Options{}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	policy := store.RetryPolicy{MaxAttempts: 50, BaseDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return sqlite.NewJobStore(db, policy, logger.Discard())
}

func newTestPool(t *testing.T, keys ...string) *credential.Pool {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"test-key-alpha", "test-key-bravo", "test-key-charlie", "test-key-delta"}
	}
	pool, err := credential.NewPool(keys, time.Minute, logger.Discard())
	require.NoError(t, err)
	return pool
}

func submitLabels(t *testing.T, s store.JobStore, n int) []int64 {
	t.Helper()
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("label-%02d", i)
	}
	ids, err := s.SubmitBatch(context.Background(), labels)
	require.NoError(t, err)
	return ids
}

func countStates(t *testing.T, s store.JobStore) map[domain.JobState]int {
	t.Helper()
	counts, err := s.CountByState(context.Background())
	require.NoError(t, err)
	return counts
}

func getJob(t *testing.T, s store.JobStore, id int64) *domain.Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

// fakeGenerator records calls and answers with GenerateFn, or echoes every
// label back as a success when GenerateFn is nil.
type fakeGenerator struct {
	mu          sync.Mutex
	GenerateFn  func(apiKey string, items []generation.BatchItem) ([]generation.ItemResult, error)
	Delay       time.Duration
	batchSizes  []int
	keys        []string
	inFlight    int
	maxInFlight int
}

func (g *fakeGenerator) GenerateBatch(
	ctx context.Context,
	apiKey string,
	items []generation.BatchItem,
) ([]generation.ItemResult, error) {
	g.mu.Lock()
	g.batchSizes = append(g.batchSizes, len(items))
	g.keys = append(g.keys, apiKey)
	g.inFlight++
	g.maxInFlight = max(g.maxInFlight, g.inFlight)
	fn := g.GenerateFn
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctx.Err())
		}
	}

	if fn != nil {
		return fn(apiKey, items)
	}
	return echoResults(items), nil
}

func (g *fakeGenerator) sortedBatchSizes() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	sizes := append([]int(nil), g.batchSizes...)
	sort.Ints(sizes)
	return sizes
}

func (g *fakeGenerator) usedKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.keys...)
}

func echoResults(items []generation.BatchItem) []generation.ItemResult {
	results := make([]generation.ItemResult, len(items))
	for i, item := range items {
		content, _ := json.Marshal(map[string]string{"summary": "about " + item.Label})
		results[i] = generation.ItemResult{
			JobID:         item.JobID,
			ResolvedLabel: item.Label,
			Content:       content,
		}
	}
	return results
}

// recordingObserver collects observer callbacks.
type recordingObserver struct {
	mu          sync.Mutex
	transitions map[domain.JobState]int
	outcomes    map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		transitions: make(map[domain.JobState]int),
		outcomes:    make(map[string]int),
	}
}

func (o *recordingObserver) JobsTransitioned(to domain.JobState, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[to] += n
}

func (o *recordingObserver) BatchFinished(outcome string, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) outcome(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[name]
}

func (o *recordingObserver) transitioned(state domain.JobState) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitions[state]
}

// stubPool is a CredentialPool with scripted Acquire behaviour.
type stubPool struct {
	AcquireFn func(ctx context.Context) (*credential.Lease, error)
}

func (p *stubPool) Acquire(ctx context.Context) (*credential.Lease, error) {
	return p.AcquireFn(ctx)
}

func (p *stubPool) Release(*credential.Lease, credential.Outcome) error {
	return nil
}

func testDispatcherConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.BatchSize = 5
	cfg.WorkerBudget = 4
	cfg.MaxAttempts = 3
	cfg.AcquireTimeout = time.Second
	cfg.PoolBackoff = time.Minute
	cfg.StaleAfter = time.Hour
	cfg.StaleCheckInterval = time.Hour
	return cfg
}

func newTestDispatcher(
	t *testing.T,
	s store.JobStore,
	pool CredentialPool,
	gen Generator,
	cfg DispatcherConfig,
	opts ...DispatcherOption,
) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(s, pool, gen, cfg, logger.Discard(), opts...)
	require.NoError(t, err)
	return d
}
