package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/events"
	"github.com/phrazzld/labelgen/internal/store"
)

// MaxSubmitLabels is the largest number of labels accepted in one submission.
const MaxSubmitLabels = 1000

// SubmissionRecorder counts submitted jobs. *metrics.Metrics satisfies it.
type SubmissionRecorder interface {
	JobsSubmitted(n int)
}

// CredentialManager is the part of the credential pool exposed to operators.
type CredentialManager interface {
	Snapshot() []credential.Status
	ResetQuota(name string) (bool, error)
}

// Stats summarizes the queue.
type Stats struct {
	Counts map[domain.JobState]int `json:"counts"`
	Total  int                     `json:"total"`
}

// JobService is the producer and consumer surface of the job queue.
type JobService struct {
	store    store.JobStore
	emitter  events.EventEmitter
	recorder SubmissionRecorder
	creds    CredentialManager
	logger   *slog.Logger
}

// JobServiceOption configures optional JobService collaborators.
type JobServiceOption func(*JobService)

// WithEmitter announces every submission on emitter so an idle worker can
// start without waiting for its next poll.
func WithEmitter(emitter events.EventEmitter) JobServiceOption {
	return func(s *JobService) {
		s.emitter = emitter
	}
}

// WithSubmissionRecorder counts submitted jobs on recorder.
func WithSubmissionRecorder(recorder SubmissionRecorder) JobServiceOption {
	return func(s *JobService) {
		s.recorder = recorder
	}
}

// WithCredentials exposes the credential pool to operator calls.
func WithCredentials(creds CredentialManager) JobServiceOption {
	return func(s *JobService) {
		s.creds = creds
	}
}

// NewJobService creates a JobService over jobStore.
func NewJobService(jobStore store.JobStore, logger *slog.Logger, opts ...JobServiceOption) (*JobService, error) {
	if jobStore == nil {
		return nil, NewServiceError("create_service", "jobStore cannot be nil", store.ErrInvalidEntity)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &JobService{
		store:  jobStore,
		logger: logger.With("component", "job_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit validates labels and enqueues one job per label in a single
// transaction. The returned ids are in input order. Duplicate labels produce
// distinct jobs.
func (s *JobService) Submit(ctx context.Context, labels []string) ([]int64, error) {
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	if len(labels) > MaxSubmitLabels {
		return nil, fmt.Errorf("%w: %d given, at most %d allowed", ErrTooManyLabels, len(labels), MaxSubmitLabels)
	}
	for i, label := range labels {
		if err := domain.ValidateLabel(label); err != nil {
			return nil, fmt.Errorf("%w: labels[%d]: %w", ErrInvalidLabel, i, err)
		}
	}

	ids, err := s.store.SubmitBatch(ctx, labels)
	if err != nil {
		s.logger.Error("failed to submit labels", "error", err, "count", len(labels))
		return nil, NewServiceError("submit", "failed to enqueue labels", err)
	}

	s.logger.Info("labels submitted", "count", len(ids), "first_id", ids[0])

	if s.recorder != nil {
		s.recorder.JobsSubmitted(len(ids))
	}
	if s.emitter != nil {
		event, err := events.NewJobsSubmitted(ids)
		if err == nil {
			err = s.emitter.EmitEvent(ctx, event)
		}
		if err != nil {
			// The jobs are durable; the worker finds them on its next poll.
			s.logger.Warn("failed to announce submission", "error", err)
		}
	}

	return ids, nil
}

// Get returns one job by id.
func (s *JobService) Get(ctx context.Context, id int64) (*domain.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, NewServiceError("get", "failed to load job", err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first, optionally filtered by state.
func (s *JobService) List(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error) {
	jobs, err := s.store.List(ctx, state, limit)
	if err != nil {
		return nil, NewServiceError("list", "failed to list jobs", err)
	}
	return jobs, nil
}

// Stats returns the number of jobs in each state.
func (s *JobService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByState(ctx)
	if err != nil {
		return nil, NewServiceError("stats", "failed to count jobs", err)
	}
	stats := &Stats{Counts: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// ResetStale returns processing jobs idle for longer than olderThan to pending,
// failing those that already used maxAttempts.
func (s *JobService) ResetStale(
	ctx context.Context,
	olderThan time.Duration,
	maxAttempts int,
) (store.StaleResetResult, error) {
	result, err := s.store.ResetStale(ctx, olderThan, maxAttempts)
	if err != nil {
		return result, NewServiceError("reset_stale", "failed to reset stale jobs", err)
	}
	if result.Total() > 0 {
		s.logger.Info("stale jobs reset",
			"requeued", result.Requeued,
			"failed", result.Failed,
			"older_than", olderThan)
	}
	return result, nil
}

// Credentials returns the status of every credential, or nil when the service
// was created without a credential pool.
func (s *JobService) Credentials() []credential.Status {
	if s.creds == nil {
		return nil
	}
	return s.creds.Snapshot()
}

// ResetQuota returns a quota-exceeded credential to rotation and reports
// whether it was reset.
func (s *JobService) ResetQuota(name string) (bool, error) {
	if s.creds == nil {
		return false, fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
	}
	reset, err := s.creds.ResetQuota(name)
	if err != nil {
		if errors.Is(err, credential.ErrUnknownCredential) {
			return false, fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
		}
		return false, NewServiceError("reset_quota", "failed to reset credential quota", err)
	}
	return reset, nil
}
