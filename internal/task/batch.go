package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/store"
)

// batchSummary counts the updates written for one batch.
type batchSummary struct {
	outcome   string
	completed int
	failed    int
	requeued  int
}

// runBatch processes one batch end to end. It never panics and never
// returns an error: every outcome is written to the store.
func (d *Dispatcher) runBatch(ctx context.Context, jobs []domain.ClaimedJob) (summary batchSummary) {
	start := time.Now()
	log := logger.FromContextOr(ctx, d.logger).With(
		"batch_id", uuid.NewString(),
		"batch_size", len(jobs),
	)
	ctx = logger.WithLogger(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing batch",
				"panic", r,
				"stack", string(debug.Stack()))
			detail := fmt.Sprintf("worker panic: %v", r)
			summary = d.write(ctx, log, d.retryUpdates(jobs, detail, false))
			summary.outcome = BatchOutcomePanic
		}
		d.observer.BatchFinished(summary.outcome, len(jobs), time.Since(start))
	}()

	lease, err := d.acquire(ctx)
	if err != nil {
		return d.handleNoCredential(ctx, log, jobs, err)
	}
	log = log.With("credential", lease.Name)

	outcome := credential.OutcomeTransient
	defer func() {
		if err := d.pool.Release(lease, outcome); err != nil {
			log.Error("failed to release credential lease", "error", err)
		}
	}()

	items := make([]generation.BatchItem, len(jobs))
	for i, job := range jobs {
		items[i] = generation.BatchItem{JobID: job.ID, Label: job.Label}
	}

	results, genErr := d.generator.GenerateBatch(ctx, lease.Key(), items)
	if genErr != nil && ctx.Err() != nil {
		// Shutdown aborted the call. The credential was not at fault and the
		// jobs keep their attempt.
		outcome = credential.OutcomeSuccess
		return d.handleCancelled(ctx, log, jobs, genErr)
	}
	outcome = leaseOutcome(genErr, results)

	var updates []store.JobUpdate
	if genErr != nil {
		updates, summary.outcome = d.batchErrorUpdates(log, jobs, genErr)
	} else {
		updates = d.resultUpdates(log, jobs, results)
		summary.outcome = BatchOutcomeGenerated
	}

	written := d.write(ctx, log, updates)
	written.outcome = summary.outcome
	return written
}

// acquire waits for a credential lease, bounded by AcquireTimeout.
func (d *Dispatcher) acquire(ctx context.Context) (*credential.Lease, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, d.config.AcquireTimeout)
	defer cancel()
	return d.pool.Acquire(acquireCtx)
}

// handleNoCredential requeues a batch that never reached the generator.
// The claim's attempt is refunded. Unless the cycle itself was cancelled,
// the whole pool backs off.
func (d *Dispatcher) handleNoCredential(
	ctx context.Context,
	log *slog.Logger,
	jobs []domain.ClaimedJob,
	err error,
) batchSummary {
	detail := "no credential available: " + d.redactor.Detail(err)
	if ctx.Err() == nil {
		until := d.startBackoff()
		log.Warn("credential pool could not serve batch, backing off",
			"error", err,
			"backoff_until", until)
	} else {
		log.Info("cycle cancelled before a credential was leased")
	}

	summary := d.write(ctx, log, refundUpdates(jobs, detail))
	summary.outcome = BatchOutcomeNoCredential
	return summary
}

// handleCancelled requeues a batch whose generation call was cut short by
// cancellation. The claim's attempt is refunded.
func (d *Dispatcher) handleCancelled(
	ctx context.Context,
	log *slog.Logger,
	jobs []domain.ClaimedJob,
	err error,
) batchSummary {
	log.Info("generation call cancelled, requeueing batch", "error", err)
	summary := d.write(ctx, log, refundUpdates(jobs, "cancelled before completion"))
	summary.outcome = BatchOutcomeCancelled
	return summary
}

func refundUpdates(jobs []domain.ClaimedJob, detail string) []store.JobUpdate {
	updates := make([]store.JobUpdate, len(jobs))
	for i, job := range jobs {
		updates[i] = store.RequeueUpdate(job.ID, detail, true).ForClaim(job)
	}
	return updates
}

// batchErrorUpdates handles a batch whose call produced nothing usable.
// Retryable errors requeue the batch; anything else fails every job in it.
func (d *Dispatcher) batchErrorUpdates(
	log *slog.Logger,
	jobs []domain.ClaimedJob,
	err error,
) ([]store.JobUpdate, string) {
	detail := d.redactor.Detail(err)

	if generation.IsRetryable(err) {
		log.Warn("generation call failed, requeueing batch", "error", err)
		return d.retryUpdates(jobs, detail, false), BatchOutcomeRequeued
	}

	log.Error("generation failed for batch", "error", err)
	updates := make([]store.JobUpdate, len(jobs))
	for i, job := range jobs {
		updates[i] = store.FailUpdate(job.ID, detail).ForClaim(job)
	}
	return updates, BatchOutcomeFailed
}

// resultUpdates turns per-item results into updates. A failed item only
// affects its own job.
func (d *Dispatcher) resultUpdates(
	log *slog.Logger,
	jobs []domain.ClaimedJob,
	results []generation.ItemResult,
) []store.JobUpdate {
	updates := make([]store.JobUpdate, 0, len(jobs))
	for i, job := range jobs {
		if i >= len(results) || results[i].JobID != job.ID {
			// The generator must return one result per item in order.
			updates = append(updates,
				store.FailUpdate(job.ID, "generator returned no result for this job").ForClaim(job))
			continue
		}

		res := results[i]
		switch {
		case res.OK():
			if res.ResolvedLabel != job.Label {
				log.Debug("generator renamed label",
					"job_id", job.ID,
					"submitted_label", job.Label,
					"resolved_label", res.ResolvedLabel)
			}
			updates = append(updates, store.CompleteUpdate(job.ID, res.ResolvedLabel, res.Content).ForClaim(job))
		case generation.IsRetryable(res.Err):
			updates = append(updates, d.retryUpdate(job, d.redactor.Detail(res.Err), false))
		default:
			log.Info("job failed", "job_id", job.ID, "error", res.Err)
			updates = append(updates, store.FailUpdate(job.ID, d.redactor.Detail(res.Err)).ForClaim(job))
		}
	}
	return updates
}

// retryUpdates requeues each job, or fails it once its attempts are used up.
func (d *Dispatcher) retryUpdates(jobs []domain.ClaimedJob, detail string, refund bool) []store.JobUpdate {
	updates := make([]store.JobUpdate, len(jobs))
	for i, job := range jobs {
		updates[i] = d.retryUpdate(job, detail, refund)
	}
	return updates
}

func (d *Dispatcher) retryUpdate(job domain.ClaimedJob, detail string, refund bool) store.JobUpdate {
	if !refund && job.Attempts >= d.config.MaxAttempts {
		return store.FailUpdate(job.ID,
			fmt.Sprintf("giving up after %d attempts: %s", job.Attempts, detail)).ForClaim(job)
	}
	return store.RequeueUpdate(job.ID, detail, refund).ForClaim(job)
}

// write applies updates in one store call and counts what the store
// actually wrote. The write is detached from the cycle's cancellation so
// that a shutdown does not strand claimed jobs; if it still fails, the jobs
// stay in processing until the stale check recovers them.
func (d *Dispatcher) write(ctx context.Context, log *slog.Logger, updates []store.JobUpdate) batchSummary {
	var summary batchSummary
	if len(updates) == 0 {
		return summary
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ApplyTimeout)
	defer cancel()

	result, err := d.store.Apply(writeCtx, updates)
	if err != nil {
		log.Error("failed to write batch results; jobs stay in processing until the stale check",
			"error", err,
			"updates", len(updates))
		return summary
	}
	if len(result.Skipped) > 0 {
		log.Warn("batch results dropped for jobs no longer held by this claim",
			"job_ids", result.Skipped)
	}

	summary.completed = result.Applied[domain.JobStateCompleted]
	summary.failed = result.Applied[domain.JobStateFailed]
	summary.requeued = result.Applied[domain.JobStatePending]
	for state, n := range result.Applied {
		if n > 0 {
			d.observer.JobsTransitioned(state, n)
		}
	}
	return summary
}

// leaseOutcome derives how the credential fared from the call result.
// A credential-level error on any item counts against the credential.
func leaseOutcome(err error, results []generation.ItemResult) credential.Outcome {
	if err == nil {
		for _, r := range results {
			if generation.IsCredentialError(r.Err) {
				err = r.Err
				break
			}
		}
	}

	switch {
	case err == nil:
		return credential.OutcomeSuccess
	case errors.Is(err, generation.ErrCredentialRejected):
		return credential.OutcomeRejected
	case errors.Is(err, generation.ErrQuotaExceeded):
		return credential.OutcomeQuotaExceeded
	case errors.Is(err, generation.ErrRateLimited):
		return credential.OutcomeRateLimited
	case errors.Is(err, generation.ErrTransientFailure):
		return credential.OutcomeTransient
	default:
		// The API accepted the key; the failure was about the request.
		return credential.OutcomeSuccess
	}
}
