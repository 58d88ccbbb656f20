package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcherValidation(t *testing.T) {
	s := newTestStore(t)
	pool := newTestPool(t)
	gen := &fakeGenerator{}
	cfg := testDispatcherConfig()

	_, err := NewDispatcher(nil, pool, gen, cfg, logger.Discard())
	assert.Error(t, err)
	_, err = NewDispatcher(s, nil, gen, cfg, logger.Discard())
	assert.Error(t, err)
	_, err = NewDispatcher(s, pool, nil, cfg, logger.Discard())
	assert.Error(t, err)
	_, err = NewDispatcher(s, pool, gen, cfg, nil)
	assert.Error(t, err)

	d, err := NewDispatcher(s, pool, gen, DispatcherConfig{}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultDispatcherConfig(), d.Config())
}

func TestRunCycle_PartitionsIntoFixedSizeBatches(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{}
	obs := newRecordingObserver()
	d := newTestDispatcher(t, s, newTestPool(t), gen, testDispatcherConfig(), WithObserver(obs))

	submitLabels(t, s, 17)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 17, result.Claimed)
	assert.Equal(t, 4, result.Batches)
	assert.Equal(t, 17, result.Completed)
	assert.Equal(t, []int{2, 5, 5, 5}, gen.sortedBatchSizes())

	counts := countStates(t, s)
	assert.Equal(t, 17, counts[domain.JobStateCompleted])
	assert.Zero(t, counts[domain.JobStatePending])
	assert.Zero(t, counts[domain.JobStateProcessing])

	assert.Equal(t, 17, obs.transitioned(domain.JobStateProcessing))
	assert.Equal(t, 17, obs.transitioned(domain.JobStateCompleted))
	assert.Equal(t, 4, obs.outcome(BatchOutcomeGenerated))

	// Nothing left: the next cycle is idle.
	result, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Idle())
}

func TestRunCycle_ClaimsAtMostBatchSizeTimesBudget(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{}
	cfg := testDispatcherConfig()
	cfg.BatchSize = 3
	cfg.WorkerBudget = 2
	d := newTestDispatcher(t, s, newTestPool(t), gen, cfg)

	submitLabels(t, s, 10)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Claimed)
	assert.Equal(t, 4, countStates(t, s)[domain.JobStatePending])
}

func TestRunCycle_WorkerBudgetBoundsConcurrency(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{Delay: 30 * time.Millisecond}
	cfg := testDispatcherConfig()
	cfg.BatchSize = 1
	cfg.WorkerBudget = 2
	d := newTestDispatcher(t, s, newTestPool(t), gen, cfg)

	submitLabels(t, s, 2)
	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	submitLabels(t, s, 2)
	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.LessOrEqual(t, gen.maxInFlight, 2)
	assert.Len(t, gen.batchSizes, 4)
}

func TestRunCycle_RenamedLabelUpdatesSameRow(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{
		GenerateFn: func(_ string, items []generation.BatchItem) ([]generation.ItemResult, error) {
			results := echoResults(items)
			for i := range results {
				results[i].ResolvedLabel = "Canonical " + items[i].Label
			}
			return results, nil
		},
	}
	d := newTestDispatcher(t, s, newTestPool(t), gen, testDispatcherConfig())

	id, err := s.Submit(context.Background(), "colour")
	require.NoError(t, err)

	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)

	job := getJob(t, s, id)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, "colour", job.SubmittedLabel)
	require.NotNil(t, job.ResolvedLabel)
	assert.Equal(t, "Canonical colour", *job.ResolvedLabel)
	assert.JSONEq(t, `{"summary": "about colour"}`, string(job.Content))

	all, err := s.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunCycle_ItemFailureIsolatedFromSiblings(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{
		GenerateFn: func(_ string, items []generation.BatchItem) ([]generation.ItemResult, error) {
			results := echoResults(items)
			results[1] = generation.ItemResult{
				JobID: items[1].JobID,
				Err:   fmt.Errorf("%w: entry is missing content", generation.ErrInvalidResponse),
			}
			results[2] = generation.ItemResult{
				JobID: items[2].JobID,
				Err:   fmt.Errorf("%w: not a topic", generation.ErrItemRejected),
			}
			return results, nil
		},
	}
	d := newTestDispatcher(t, s, newTestPool(t), gen, testDispatcherConfig())

	ids := submitLabels(t, s, 4)
	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 2, result.Failed)

	assert.Equal(t, domain.JobStateCompleted, getJob(t, s, ids[0]).State)
	assert.Equal(t, domain.JobStateCompleted, getJob(t, s, ids[3]).State)

	malformed := getJob(t, s, ids[1])
	assert.Equal(t, domain.JobStateFailed, malformed.State)
	assert.Contains(t, malformed.ErrorDetail, "missing content")

	rejected := getJob(t, s, ids[2])
	assert.Equal(t, domain.JobStateFailed, rejected.State)
	assert.Contains(t, rejected.ErrorDetail, "not a topic")
}

func TestRunCycle_MalformedBatchFailsEveryJob(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{
		GenerateFn: func(string, []generation.BatchItem) ([]generation.ItemResult, error) {
			return nil, fmt.Errorf("%w: expected 3 items, got 1", generation.ErrInvalidResponse)
		},
	}
	obs := newRecordingObserver()
	d := newTestDispatcher(t, s, newTestPool(t), gen, testDispatcherConfig(), WithObserver(obs))

	ids := submitLabels(t, s, 3)
	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 1, obs.outcome(BatchOutcomeFailed))

	for _, id := range ids {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStateFailed, job.State)
		assert.Contains(t, job.ErrorDetail, "expected 3 items")
	}
}

func TestRunCycle_TransientFailureRequeuesUntilAttemptsExhausted(t *testing.T) {
	s := newTestStore(t)
	gen := &fakeGenerator{
		GenerateFn: func(string, []generation.BatchItem) ([]generation.ItemResult, error) {
			return nil, fmt.Errorf("%w: 503 UNAVAILABLE", generation.ErrTransientFailure)
		},
	}
	cfg := testDispatcherConfig()
	cfg.MaxAttempts = 2
	d := newTestDispatcher(t, s, newTestPool(t), gen, cfg)

	ids := submitLabels(t, s, 2)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requeued)
	for _, id := range ids {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStatePending, job.State)
		assert.Equal(t, 1, job.Attempts)
		assert.Contains(t, job.ErrorDetail, "503")
	}

	result, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	for _, id := range ids {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStateFailed, job.State)
		assert.Contains(t, job.ErrorDetail, "giving up after 2 attempts")
	}
}

func TestRunCycle_RejectedCredentialIsRetiredAndBatchRequeued(t *testing.T) {
	s := newTestStore(t)
	pool := newTestPool(t, "test-key-alpha", "test-key-bravo")
	gen := &fakeGenerator{
		GenerateFn: func(apiKey string, items []generation.BatchItem) ([]generation.ItemResult, error) {
			if apiKey == "test-key-alpha" {
				return nil, fmt.Errorf("%w: 403 PERMISSION_DENIED for key test-key-alpha", generation.ErrCredentialRejected)
			}
			return echoResults(items), nil
		},
	}
	d := newTestDispatcher(t, s, pool, gen, testDispatcherConfig(),
		WithRedactor(redact.New(pool.Keys()...)))

	ids := submitLabels(t, s, 2)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requeued)

	job := getJob(t, s, ids[0])
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.NotContains(t, job.ErrorDetail, "test-key-alpha", "key material must never reach the store")
	assert.Contains(t, job.ErrorDetail, redact.RedactedKeyPlaceholder)

	states := map[string]credential.State{}
	for _, st := range pool.Snapshot() {
		states[st.Name] = st.State
	}
	assert.Equal(t, credential.StateInvalid, states["key-1"])
	assert.Equal(t, credential.StateAvailable, states["key-2"])

	result, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, []string{"test-key-alpha", "test-key-bravo"}, gen.usedKeys())
}

func TestRunCycle_RateLimitedItemCountsAgainstCredential(t *testing.T) {
	s := newTestStore(t)
	pool := newTestPool(t, "test-key-alpha", "test-key-bravo")
	gen := &fakeGenerator{
		GenerateFn: func(_ string, items []generation.BatchItem) ([]generation.ItemResult, error) {
			results := echoResults(items)
			results[0] = generation.ItemResult{JobID: items[0].JobID, Err: generation.ErrRateLimited}
			return results, nil
		},
	}
	d := newTestDispatcher(t, s, pool, gen, testDispatcherConfig())

	ids := submitLabels(t, s, 2)
	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Requeued)
	assert.Equal(t, domain.JobStatePending, getJob(t, s, ids[0]).State)

	assert.Equal(t, credential.StateRateLimited, pool.Snapshot()[0].State)
}

func TestRunCycle_PoolExhaustedRequeuesWithRefundAndBacksOff(t *testing.T) {
	s := newTestStore(t)
	pool := &stubPool{AcquireFn: func(context.Context) (*credential.Lease, error) {
		return nil, credential.ErrPoolExhausted
	}}
	gen := &fakeGenerator{}
	obs := newRecordingObserver()
	d := newTestDispatcher(t, s, pool, gen, testDispatcherConfig(), WithObserver(obs))

	now := time.Now()
	d.now = func() time.Time { return now }

	ids := submitLabels(t, s, 7)
	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, result.Requeued)
	assert.Equal(t, 2, obs.outcome(BatchOutcomeNoCredential))

	for _, id := range ids {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStatePending, job.State)
		assert.Zero(t, job.Attempts, "attempt refunded")
		assert.Contains(t, job.ErrorDetail, "no credential available")
	}

	result, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.BackingOff)
	assert.Zero(t, result.Claimed)

	now = now.Add(2 * time.Minute)
	pool.AcquireFn = func(context.Context) (*credential.Lease, error) {
		return &credential.Lease{Name: "stub"}, nil
	}
	result, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, result.Completed)
	assert.Empty(t, gen.usedKeys()[0], "stub lease carries no key")
}

func TestRunCycle_AcquireTimeoutBacksOff(t *testing.T) {
	s := newTestStore(t)
	pool := &stubPool{AcquireFn: func(ctx context.Context) (*credential.Lease, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testDispatcherConfig()
	cfg.AcquireTimeout = 20 * time.Millisecond
	d := newTestDispatcher(t, s, pool, &fakeGenerator{}, cfg)

	submitLabels(t, s, 1)
	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)
	assert.True(t, d.backingOff())
}

func TestRunCycle_CancelledCycleDoesNotBackOff(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	pool := &stubPool{AcquireFn: func(context.Context) (*credential.Lease, error) {
		cancel()
		return nil, context.Canceled
	}}
	d := newTestDispatcher(t, s, pool, &fakeGenerator{}, testDispatcherConfig())

	ids := submitLabels(t, s, 2)
	result, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requeued, "results are written even after cancellation")
	assert.False(t, d.backingOff())
	assert.Equal(t, domain.JobStatePending, getJob(t, s, ids[0]).State)
}

func TestRunCycle_PanicInBatchIsRecovered(t *testing.T) {
	s := newTestStore(t)
	pool := newTestPool(t, "test-key-alpha")
	gen := &fakeGenerator{
		GenerateFn: func(string, []generation.BatchItem) ([]generation.ItemResult, error) {
			panic("generator exploded")
		},
	}
	obs := newRecordingObserver()
	d := newTestDispatcher(t, s, pool, gen, testDispatcherConfig(), WithObserver(obs))

	ids := submitLabels(t, s, 3)

	var result CycleResult
	var err error
	require.NotPanics(t, func() {
		result, err = d.RunCycle(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requeued)
	assert.Equal(t, 1, obs.outcome(BatchOutcomePanic))

	job := getJob(t, s, ids[0])
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Contains(t, job.ErrorDetail, "generator exploded")

	// The lease was released despite the panic.
	assert.Equal(t, credential.StateAvailable, pool.Snapshot()[0].State)
}

func TestRunCycle_ResetsStaleJobs(t *testing.T) {
	s := newTestStore(t)
	cfg := testDispatcherConfig()
	cfg.StaleAfter = time.Millisecond
	d := newTestDispatcher(t, s, newTestPool(t), &fakeGenerator{}, cfg)

	ids := submitLabels(t, s, 2)
	claimed, err := s.ClaimPending(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	time.Sleep(10 * time.Millisecond)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Stale.Requeued)
	assert.Equal(t, 2, result.Completed, "recovered jobs are claimed in the same cycle")

	for _, id := range ids {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStateCompleted, job.State)
		assert.Equal(t, 2, job.Attempts)
	}
}

func TestRunCycle_StaleCheckHonoursInterval(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, newTestPool(t), &fakeGenerator{}, testDispatcherConfig())

	now := time.Now()
	d.now = func() time.Time { return now }

	assert.True(t, d.staleCheckDue())
	assert.False(t, d.staleCheckDue())

	now = now.Add(2 * time.Hour)
	assert.True(t, d.staleCheckDue())
}

func TestDispatcherRecover(t *testing.T) {
	s := newTestStore(t)
	cfg := testDispatcherConfig()
	cfg.MaxAttempts = 1
	d := newTestDispatcher(t, s, newTestPool(t), &fakeGenerator{}, cfg)

	submitLabels(t, s, 3)
	_, err := s.ClaimPending(context.Background(), 3)
	require.NoError(t, err)

	res, err := d.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Failed, "single attempt already used")
	assert.Equal(t, 3, countStates(t, s)[domain.JobStateFailed])
}

func TestLeaseOutcome(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		results  []generation.ItemResult
		expected credential.Outcome
	}{
		{"success", nil, nil, credential.OutcomeSuccess},
		{"rejected", generation.ErrCredentialRejected, nil, credential.OutcomeRejected},
		{"quota", generation.ErrQuotaExceeded, nil, credential.OutcomeQuotaExceeded},
		{"rate limited", generation.ErrRateLimited, nil, credential.OutcomeRateLimited},
		{"transient", generation.ErrTransientFailure, nil, credential.OutcomeTransient},
		{"malformed", generation.ErrInvalidResponse, nil, credential.OutcomeSuccess},
		{"blocked", generation.ErrContentBlocked, nil, credential.OutcomeSuccess},
		{
			"item level rate limit",
			nil,
			[]generation.ItemResult{{}, {Err: generation.ErrRateLimited}},
			credential.OutcomeRateLimited,
		},
		{
			"item level rejection",
			nil,
			[]generation.ItemResult{{Err: generation.ErrItemRejected}},
			credential.OutcomeSuccess,
		},
		{"unknown", errors.New("boom"), nil, credential.OutcomeSuccess},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, leaseOutcome(tc.err, tc.results))
		})
	}
}

func TestPartition(t *testing.T) {
	jobs := make([]domain.ClaimedJob, 17)
	for i := range jobs {
		jobs[i].ID = int64(i + 1)
	}

	batches := partition(jobs, 5)
	require.Len(t, batches, 4)
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2]), len(batches[3])}
	assert.Equal(t, []int{5, 5, 5, 2}, sizes)
	assert.Equal(t, int64(16), batches[3][0].ID)

	assert.Empty(t, partition(nil, 5))
	assert.Len(t, partition(jobs[:3], 0), 3)
}

func TestRunCycle_CountsOnlyWrittenResults(t *testing.T) {
	s := newTestStore(t)
	var taken int64
	gen := &fakeGenerator{
		GenerateFn: func(_ string, items []generation.BatchItem) ([]generation.ItemResult, error) {
			// The first job is reset and claimed again while this call runs.
			ctx := context.Background()
			taken = items[0].JobID
			if err := s.Transition(ctx, taken, domain.JobStatePending, "stale"); err != nil {
				return nil, err
			}
			if _, err := s.ClaimPending(ctx, 1); err != nil {
				return nil, err
			}
			return echoResults(items), nil
		},
	}
	obs := newRecordingObserver()
	d := newTestDispatcher(t, s, newTestPool(t), gen, testDispatcherConfig(), WithObserver(obs))

	submitLabels(t, s, 3)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Claimed)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 2, obs.transitioned(domain.JobStateCompleted))

	job := getJob(t, s, taken)
	assert.Equal(t, domain.JobStateProcessing, job.State, "the newer claim still owns the job")
	assert.Equal(t, 2, job.Attempts)
	assert.Nil(t, job.ResolvedLabel)
}
