package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/labelgen/internal/domain"
)

// JobUpdate is one id-addressed change written by Apply. State selects the
// kind of change: completed carries the generated output, failed carries an
// error detail, and pending requeues a claimed job.
type JobUpdate struct {
	ID    int64
	State domain.JobState

	// ResolvedLabel and Content are written on completion. The resolved label
	// is set once; a later completion never overwrites it.
	ResolvedLabel string
	Content       json.RawMessage

	ErrorDetail string

	// RefundAttempt gives back the attempt charged by the claim. Used when a
	// batch is requeued without ever reaching the generation API.
	RefundAttempt bool

	// ClaimAttempts ties the update to the claim that produced it. When
	// positive, the job's attempt counter must still equal it. A job that
	// was reset and claimed again carries a higher count, so a late write
	// from the earlier claim is skipped.
	ClaimAttempts int
}

// ForClaim returns u restricted to the claim that handed out job.
func (u JobUpdate) ForClaim(job domain.ClaimedJob) JobUpdate {
	u.ClaimAttempts = job.Attempts
	return u
}

// CompleteUpdate builds an update that moves a job to completed.
func CompleteUpdate(id int64, resolvedLabel string, content json.RawMessage) JobUpdate {
	return JobUpdate{
		ID:            id,
		State:         domain.JobStateCompleted,
		ResolvedLabel: resolvedLabel,
		Content:       content,
	}
}

// FailUpdate builds an update that moves a job to failed.
func FailUpdate(id int64, detail string) JobUpdate {
	return JobUpdate{ID: id, State: domain.JobStateFailed, ErrorDetail: detail}
}

// RequeueUpdate builds an update that returns a claimed job to pending.
func RequeueUpdate(id int64, detail string, refund bool) JobUpdate {
	return JobUpdate{
		ID:            id,
		State:         domain.JobStatePending,
		ErrorDetail:   detail,
		RefundAttempt: refund,
	}
}

// ApplyResult reports which updates Apply actually wrote.
type ApplyResult struct {
	// Applied counts written updates by target state.
	Applied map[domain.JobState]int
	// Skipped lists the ids of updates whose guard did not match.
	Skipped []int64
}

// StaleResetResult reports what ResetStale did with stale processing jobs.
type StaleResetResult struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}

// Total returns the number of jobs moved out of processing.
func (r StaleResetResult) Total() int64 {
	return r.Requeued + r.Failed
}

// JobStore defines the operations for the durable job queue.
// Implementations must make every mutation safe under concurrent writers.
type JobStore interface {
	// Submit inserts a new pending job and returns its id. It always creates a
	// new row; submitting the same label twice yields two jobs.
	Submit(ctx context.Context, label string) (int64, error)

	// SubmitBatch inserts all labels in one transaction and returns their ids
	// in input order.
	SubmitBatch(ctx context.Context, labels []string) ([]int64, error)

	// ClaimPending atomically moves up to limit of the oldest pending jobs to
	// processing, increments their attempt counters and returns them.
	// A job is never handed to two concurrent callers.
	ClaimPending(ctx context.Context, limit int) ([]domain.ClaimedJob, error)

	// Transition moves a single job to newState. Returns ErrJobNotFound if the
	// id does not exist and ErrInvalidTransition if the job is not in a state
	// that may move to newState.
	Transition(ctx context.Context, id int64, newState domain.JobState, errorDetail string) error

	// Apply writes a batch of updates in one transaction. An update whose
	// guard does not match is skipped without affecting the others. The
	// result counts only the updates that changed a row.
	Apply(ctx context.Context, updates []JobUpdate) (ApplyResult, error)

	// Get retrieves a job by id. Returns ErrJobNotFound if it does not exist.
	Get(ctx context.Context, id int64) (*domain.Job, error)

	// List returns up to limit jobs, newest first. An empty state lists all jobs.
	List(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error)

	// CountByState returns the number of jobs in each state. Every state is
	// present in the result, with zero when no job is in it.
	CountByState(ctx context.Context) (map[domain.JobState]int, error)

	// ResetStale returns processing jobs not updated for longer than olderThan
	// to pending, or to failed when they already used maxAttempts attempts.
	ResetStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (StaleResetResult, error)
}
