package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/labelgen/internal/api/shared"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"github.com/phrazzld/labelgen/internal/service"
	"github.com/phrazzld/labelgen/internal/store"
)

// JobService is the subset of service.JobService the job handlers use.
type JobService interface {
	Submit(ctx context.Context, labels []string) ([]int64, error)
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, state domain.JobState, limit int) ([]*domain.Job, error)
	Stats(ctx context.Context) (*service.Stats, error)
	ResetStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (store.StaleResetResult, error)
}

// StaleDefaults are the reset-stale parameters used when a request omits them.
type StaleDefaults struct {
	OlderThan   time.Duration
	MaxAttempts int
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs   JobService
	stale  StaleDefaults
	logger *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobService, stale StaleDefaults, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		jobs:   jobs,
		stale:  stale,
		logger: logger.With(slog.String("component", "job_handler")),
	}
}

// SubmitJobs handles POST /api/jobs. It enqueues one job per label and
// answers 202 Accepted since generation happens asynchronously.
func (h *JobHandler) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	var req SubmitJobsRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	ids, err := h.jobs.Submit(r.Context(), req.Labels)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit labels")
		return
	}

	log.Debug("labels accepted", slog.Int("count", len(ids)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitJobsResponse{IDs: ids})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load job")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewJobResponse(job))
}

// ListJobs handles GET /api/jobs?state=&limit=.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state, limit, err := getListQuery(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	jobs, err := h.jobs.List(r.Context(), state, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs)), Count: len(jobs)}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, NewJobResponse(job))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetStats handles GET /api/jobs/stats.
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to count jobs")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, statsToResponse(stats))
}

// ResetStale handles POST /api/jobs/reset-stale. The body is optional.
func (h *JobHandler) ResetStale(w http.ResponseWriter, r *http.Request) {
	var req ResetStaleRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	olderThan := h.stale.OlderThan
	if req.OlderThanSeconds != nil {
		olderThan = time.Duration(*req.OlderThanSeconds) * time.Second
	}
	maxAttempts := h.stale.MaxAttempts
	if req.MaxAttempts != nil {
		maxAttempts = *req.MaxAttempts
	}

	result, err := h.jobs.ResetStale(r.Context(), olderThan, maxAttempts)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reset stale jobs")
		return
	}

	logger.FromContextOr(r.Context(), h.logger).Info("stale reset requested",
		slog.Duration("older_than", olderThan),
		slog.Int64("requeued", result.Requeued),
		slog.Int64("failed", result.Failed))

	shared.RespondWithJSON(w, r, http.StatusOK, ResetStaleResponse{
		Requeued: result.Requeued,
		Failed:   result.Failed,
	})
}
