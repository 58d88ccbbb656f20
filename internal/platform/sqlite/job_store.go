package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

const jobColumns = `id, submitted_label, resolved_label, content, state, attempts, error_detail, created_at, updated_at`

// JobStore implements store.JobStore on SQLite.
type JobStore struct {
	writer *sql.DB
	reader *sql.DB
	logger *slog.Logger
	policy store.RetryPolicy
	now    func() time.Time
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore over db. Mutations are retried on
// contention according to policy.
func NewJobStore(db *DB, policy store.RetryPolicy, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{
		writer: db.Writer,
		reader: db.Reader,
		logger: logger.With("component", "sqlite_job_store"),
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *JobStore) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.WithRetry(ctx, s.policy, IsBusy, fn)
}

func (s *JobStore) withTx(ctx context.Context, fn store.TxFn) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return store.RunInTransaction(ctx, s.writer, fn)
	})
}

// Submit inserts a new pending job.
func (s *JobStore) Submit(ctx context.Context, label string) (int64, error) {
	ids, err := s.SubmitBatch(ctx, []string{label})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SubmitBatch inserts all labels in a single transaction.
func (s *JobStore) SubmitBatch(ctx context.Context, labels []string) ([]int64, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels submitted", store.ErrInvalidEntity)
	}
	for i, label := range labels {
		if err := domain.ValidateLabel(label); err != nil {
			return nil, fmt.Errorf("%w: label %d: %w", store.ErrInvalidEntity, i, err)
		}
	}

	var ids []int64
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Reset on every attempt; a retried transaction starts from scratch.
		ids = make([]int64, 0, len(labels))

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO jobs (submitted_label, state, attempts, error_detail, created_at, updated_at)
			VALUES (?, 'pending', 0, '', ?, ?)
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		now := toMillis(s.now())
		for _, label := range labels {
			res, err := stmt.ExecContext(ctx, label, now, now)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		logger.FromContextOr(ctx, s.logger).Error("failed to submit jobs",
			"count", len(labels),
			"error", err)
		return nil, store.NewStoreError("job", "submit",
			fmt.Sprintf("failed to insert %d jobs", len(labels)), MapError(err))
	}

	return ids, nil
}

// ClaimPending atomically claims up to limit of the oldest pending jobs.
// The select and the update run as one statement, so two claimers can never
// see the same pending row.
func (s *JobStore) ClaimPending(ctx context.Context, limit int) ([]domain.ClaimedJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []domain.ClaimedJob
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		claimed = claimed[:0]

		rows, err := tx.QueryContext(ctx, `
			UPDATE jobs
			SET state = 'processing', attempts = attempts + 1, updated_at = ?
			WHERE state = 'pending'
			  AND id IN (SELECT id FROM jobs WHERE state = 'pending' ORDER BY id LIMIT ?)
			RETURNING id, submitted_label, attempts
		`, toMillis(s.now()), limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var job domain.ClaimedJob
			if err := rows.Scan(&job.ID, &job.Label, &job.Attempts); err != nil {
				return err
			}
			claimed = append(claimed, job)
		}
		return rows.Err()
	})
	if err != nil {
		logger.FromContextOr(ctx, s.logger).Error("failed to claim pending jobs",
			"limit", limit,
			"error", err)
		return nil, fmt.Errorf("failed to claim pending jobs: %w", MapError(err))
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

// Transition moves one job to newState if its current state allows it.
func (s *JobStore) Transition(
	ctx context.Context,
	id int64,
	newState domain.JobState,
	errorDetail string,
) error {
	if !newState.Valid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidJobState)
	}

	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		update := store.JobUpdate{ID: id, State: newState, ErrorDetail: errorDetail}
		applied, err := s.applyOne(ctx, tx, update)
		if err != nil || applied {
			return err
		}

		var current domain.JobState
		err = tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %d is %s, cannot move to %s",
			store.ErrInvalidTransition, id, current, newState)
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidTransition) {
			logger.FromContextOr(ctx, s.logger).Error("failed to transition job",
				"job_id", id,
				"state", newState,
				"error", err)
		}
		return fmt.Errorf("failed to transition job %d: %w", id, MapError(err))
	}
	return nil
}

// Apply writes a batch of updates in one transaction. Updates whose guard
// does not match are skipped and logged.
func (s *JobStore) Apply(ctx context.Context, updates []store.JobUpdate) (store.ApplyResult, error) {
	if len(updates) == 0 {
		return store.ApplyResult{Applied: map[domain.JobState]int{}}, nil
	}
	for _, u := range updates {
		if u.State != domain.JobStateCompleted && u.State != domain.JobStateFailed &&
			u.State != domain.JobStatePending {
			return store.ApplyResult{}, fmt.Errorf("%w: job %d: unsupported target state %q",
				store.ErrInvalidEntity, u.ID, u.State)
		}
	}

	log := logger.FromContextOr(ctx, s.logger)
	var result store.ApplyResult
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result = store.ApplyResult{Applied: make(map[domain.JobState]int, 3)}
		for _, u := range updates {
			applied, err := s.applyOne(ctx, tx, u)
			if err != nil {
				return err
			}
			if applied {
				result.Applied[u.State]++
			} else {
				result.Skipped = append(result.Skipped, u.ID)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to apply job updates",
			"count", len(updates),
			"error", err)
		return store.ApplyResult{}, fmt.Errorf("failed to apply job updates: %w", MapError(err))
	}

	if len(result.Skipped) > 0 {
		log.Warn("skipped job updates whose guard did not match",
			"job_ids", result.Skipped,
			"applied", len(updates)-len(result.Skipped))
	}
	return result, nil
}

// applyOne runs a single guarded update and reports whether a row changed.
func (s *JobStore) applyOne(ctx context.Context, q store.DBTX, u store.JobUpdate) (bool, error) {
	sources := domain.AllowedSources(u.State)
	if len(sources) == 0 {
		return false, nil
	}
	guard, guardArgs := stateGuard(sources)
	now := toMillis(s.now())

	var (
		query string
		args  []any
	)
	switch u.State {
	case domain.JobStateCompleted:
		query = `
			UPDATE jobs
			SET state = 'completed',
			    resolved_label = COALESCE(resolved_label, ?),
			    content = ?,
			    error_detail = '',
			    updated_at = ?
			WHERE id = ? AND ` + guard
		args = []any{nullString(u.ResolvedLabel), nullJSON(u.Content), now, u.ID}
	case domain.JobStatePending:
		refund := 0
		if u.RefundAttempt {
			refund = 1
		}
		query = `
			UPDATE jobs
			SET state = 'pending', attempts = MAX(attempts - ?, 0), error_detail = ?, updated_at = ?
			WHERE id = ? AND ` + guard
		args = []any{refund, u.ErrorDetail, now, u.ID}
	default:
		query = `
			UPDATE jobs
			SET state = ?, error_detail = ?, updated_at = ?
			WHERE id = ? AND ` + guard
		args = []any{string(u.State), u.ErrorDetail, now, u.ID}
	}

	args = append(args, guardArgs...)
	if u.ClaimAttempts > 0 {
		query += ` AND attempts = ?`
		args = append(args, u.ClaimAttempts)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get retrieves a job by id from the read handle.
func (s *JobStore) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		logger.FromContextOr(ctx, s.logger).Error("failed to get job",
			"job_id", id,
			"error", err)
		return nil, fmt.Errorf("failed to get job %d: %w", id, MapError(err))
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by state.
func (s *JobStore) List(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error) {
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidJobState)
	}
	limit = clampLimit(limit)

	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE (? = '' OR state = ?)
		ORDER BY id DESC
		LIMIT ?
	`, string(state), string(state), limit)
	if err != nil {
		logger.FromContextOr(ctx, s.logger).Error("failed to list jobs",
			"state", state,
			"error", err)
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", MapError(err))
	}
	return jobs, nil
}

// CountByState returns job counts for every state.
func (s *JobStore) CountByState(ctx context.Context) (map[domain.JobState]int, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.JobState]int, len(domain.AllJobStates))
	for _, state := range domain.AllJobStates {
		counts[state] = 0
	}
	for rows.Next() {
		var (
			state domain.JobState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", MapError(err))
	}
	return counts, nil
}

// ResetStale returns abandoned processing jobs to pending, failing those
// that have no attempts left.
func (s *JobStore) ResetStale(
	ctx context.Context,
	olderThan time.Duration,
	maxAttempts int,
) (store.StaleResetResult, error) {
	var result store.StaleResetResult
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result = store.StaleResetResult{}
		now := s.now()
		cutoff := toMillis(now.Add(-olderThan))

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET state = 'failed', error_detail = ?, updated_at = ?
			WHERE state = 'processing' AND updated_at <= ? AND attempts >= ?
		`, staleFailedDetail(maxAttempts), toMillis(now), cutoff, maxAttempts)
		if err != nil {
			return err
		}
		if result.Failed, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET state = 'pending', error_detail = ?, updated_at = ?
			WHERE state = 'processing' AND updated_at <= ?
		`, staleRequeuedDetail, toMillis(now), cutoff)
		if err != nil {
			return err
		}
		result.Requeued, err = res.RowsAffected()
		return err
	})
	if err != nil {
		logger.FromContextOr(ctx, s.logger).Error("failed to reset stale jobs",
			"older_than", olderThan,
			"error", err)
		return store.StaleResetResult{}, fmt.Errorf("failed to reset stale jobs: %w", MapError(err))
	}
	return result, nil
}

const staleRequeuedDetail = "claim went stale; returned to queue"

func staleFailedDetail(maxAttempts int) string {
	return fmt.Sprintf("claim went stale after %d attempts", maxAttempts)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		resolved, content    sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&job.ID,
		&job.SubmittedLabel,
		&resolved,
		&content,
		&job.State,
		&job.Attempts,
		&job.ErrorDetail,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if resolved.Valid {
		job.ResolvedLabel = &resolved.String
	}
	if content.Valid {
		job.Content = json.RawMessage(content.String)
	}
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}

// stateGuard renders "state IN (?, ...)" for the given states.
func stateGuard(states []domain.JobState) (string, []any) {
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return "state IN (" + strings.Join(placeholders, ", ") + ")", args
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
