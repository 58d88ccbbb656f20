package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/redact"
	"github.com/phrazzld/labelgen/internal/store"
	"golang.org/x/sync/errgroup"
)

// Generator produces content for a batch of jobs with one credential.
type Generator interface {
	GenerateBatch(ctx context.Context, apiKey string, items []generation.BatchItem) ([]generation.ItemResult, error)
}

// CredentialPool issues exclusive credential leases.
type CredentialPool interface {
	Acquire(ctx context.Context) (*credential.Lease, error)
	Release(lease *credential.Lease, outcome credential.Outcome) error
}

// DispatcherConfig holds the batching, concurrency and recovery settings.
type DispatcherConfig struct {
	// BatchSize is the number of jobs sent to the generator in one call.
	BatchSize int

	// WorkerBudget caps the number of batches in flight at once.
	WorkerBudget int

	// MaxAttempts is the number of claims after which a job that keeps
	// failing with retryable errors is marked failed.
	MaxAttempts int

	// AcquireTimeout bounds the wait for a credential lease.
	AcquireTimeout time.Duration

	// PoolBackoff is how long claiming pauses after the credential pool
	// could not serve a batch.
	PoolBackoff time.Duration

	// StaleAfter is how long a job may stay in processing before it is
	// considered abandoned.
	StaleAfter time.Duration

	// StaleCheckInterval defines how often to check for stale jobs.
	StaleCheckInterval time.Duration

	// ApplyTimeout bounds the final store write of a batch. The write runs
	// even when the cycle context has been cancelled.
	ApplyTimeout time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:          5,
		WorkerBudget:       4,
		MaxAttempts:        3,
		AcquireTimeout:     30 * time.Second,
		PoolBackoff:        30 * time.Second,
		StaleAfter:         10 * time.Minute,
		StaleCheckInterval: time.Minute,
		ApplyTimeout:       30 * time.Second,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.WorkerBudget <= 0 {
		c.WorkerBudget = def.WorkerBudget
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.PoolBackoff <= 0 {
		c.PoolBackoff = def.PoolBackoff
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = def.StaleCheckInterval
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = def.ApplyTimeout
	}
	return c
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Claimed   int
	Batches   int
	Completed int
	Failed    int
	Requeued  int

	// Stale holds what the stale check did, when one ran this cycle.
	Stale store.StaleResetResult

	// BackingOff is set when the cycle was skipped because the credential
	// pool recently could not serve a batch.
	BackingOff bool
}

// Idle reports whether the cycle found no work.
func (r CycleResult) Idle() bool {
	return r.Claimed == 0
}

func (r *CycleResult) add(s batchSummary) {
	r.Completed += s.completed
	r.Failed += s.failed
	r.Requeued += s.requeued
}

// Dispatcher claims pending jobs and runs them through the generator in
// batches.
type Dispatcher struct {
	store     store.JobStore
	pool      CredentialPool
	generator Generator
	config    DispatcherConfig
	observer  Observer
	redactor  *redact.Redactor
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	backoffUntil   time.Time
	lastStaleCheck time.Time
}

// DispatcherOption configures optional Dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithObserver reports job transitions and batch outcomes to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithRedactor sets the redactor applied to error details before they are
// stored. Pass one built from the configured API keys.
func WithRedactor(r *redact.Redactor) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.redactor = r
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	jobStore store.JobStore,
	pool CredentialPool,
	generator Generator,
	config DispatcherConfig,
	logger *slog.Logger,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if jobStore == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if pool == nil {
		return nil, errors.New("credential pool cannot be nil")
	}
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	d := &Dispatcher{
		store:     jobStore,
		pool:      pool,
		generator: generator,
		config:    config.withDefaults(),
		observer:  nopObserver{},
		redactor:  redact.New(),
		logger:    logger.With("component", "dispatcher"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() DispatcherConfig {
	return d.config
}

// Recover returns every job left in processing to pending, or to failed once
// its attempts are used up. It is meant to run once at startup, before any
// claim of this process can be in flight.
func (d *Dispatcher) Recover(ctx context.Context) (store.StaleResetResult, error) {
	res, err := d.store.ResetStale(ctx, 0, d.config.MaxAttempts)
	if err != nil {
		return res, fmt.Errorf("failed to recover processing jobs: %w", err)
	}
	d.observeStale(res)

	d.mu.Lock()
	d.lastStaleCheck = d.now()
	d.mu.Unlock()

	logger.FromContextOr(ctx, d.logger).Info("recovered unfinished jobs",
		"requeued", res.Requeued,
		"failed", res.Failed)
	return res, nil
}

// RunCycle performs one poll cycle and waits for all of its batches.
// Failures inside a batch are recorded on the affected jobs; the returned
// error only reports a claim that could not be made.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleResult, error) {
	log := logger.FromContextOr(ctx, d.logger)
	var result CycleResult

	if d.staleCheckDue() {
		stale, err := d.store.ResetStale(ctx, d.config.StaleAfter, d.config.MaxAttempts)
		if err != nil {
			log.Error("failed to reset stale jobs", "error", err)
		} else {
			result.Stale = stale
			d.observeStale(stale)
			if stale.Total() > 0 {
				log.Warn("reset stale jobs",
					"requeued", stale.Requeued,
					"failed", stale.Failed,
					"stale_after", d.config.StaleAfter)
			}
		}
	}

	if d.backingOff() {
		result.BackingOff = true
		return result, nil
	}

	jobs, err := d.store.ClaimPending(ctx, d.config.BatchSize*d.config.WorkerBudget)
	if err != nil {
		return result, fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	result.Claimed = len(jobs)
	if len(jobs) == 0 {
		return result, nil
	}
	d.observer.JobsTransitioned(domain.JobStateProcessing, len(jobs))

	batches := partition(jobs, d.config.BatchSize)
	result.Batches = len(batches)
	log.Info("dispatching claimed jobs", "claimed", len(jobs), "batches", len(batches))

	summaries := make([]batchSummary, len(batches))
	var g errgroup.Group
	g.SetLimit(d.config.WorkerBudget)
	for i, batch := range batches {
		g.Go(func() error {
			summaries[i] = d.runBatch(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range summaries {
		result.add(s)
	}
	return result, nil
}

// staleCheckDue reports whether a stale check should run now and, if so,
// records it as done.
func (d *Dispatcher) staleCheckDue() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.lastStaleCheck.IsZero() && now.Sub(d.lastStaleCheck) < d.config.StaleCheckInterval {
		return false
	}
	d.lastStaleCheck = now
	return true
}

func (d *Dispatcher) backingOff() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.backoffUntil)
}

func (d *Dispatcher) startBackoff() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	until := d.now().Add(d.config.PoolBackoff)
	if until.After(d.backoffUntil) {
		d.backoffUntil = until
	}
	return d.backoffUntil
}

func (d *Dispatcher) observeStale(res store.StaleResetResult) {
	if res.Requeued > 0 {
		d.observer.JobsTransitioned(domain.JobStatePending, int(res.Requeued))
	}
	if res.Failed > 0 {
		d.observer.JobsTransitioned(domain.JobStateFailed, int(res.Failed))
	}
}

// partition splits jobs into consecutive batches of size; the last batch
// may be shorter.
func partition(jobs []domain.ClaimedJob, size int) [][]domain.ClaimedJob {
	if size <= 0 {
		size = 1
	}
	batches := make([][]domain.ClaimedJob, 0, (len(jobs)+size-1)/size)
	for start := 0; start < len(jobs); start += size {
		end := min(start+size, len(jobs))
		batches = append(batches, jobs[start:end])
	}
	return batches
}
