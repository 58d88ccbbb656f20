package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/service"
)

// SubmitJobsRequest defines the payload for POST /api/jobs.
type SubmitJobsRequest struct {
	Labels []string `json:"labels" validate:"required,min=1"`
}

// SubmitJobsResponse lists the ids of the created jobs in request order.
type SubmitJobsResponse struct {
	IDs []int64 `json:"ids"`
}

// JobResponse represents one job.
type JobResponse struct {
	ID             int64           `json:"id"`
	SubmittedLabel string          `json:"submitted_label"`
	ResolvedLabel  *string         `json:"resolved_label,omitempty"`
	Label          string          `json:"label"`
	Content        json.RawMessage `json:"content,omitempty"`
	State          domain.JobState `json:"state"`
	Attempts       int             `json:"attempts"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// StatsResponse is the body of GET /api/jobs/stats.
type StatsResponse struct {
	Counts map[domain.JobState]int `json:"counts"`
	Total  int                     `json:"total"`
}

// ResetStaleRequest defines the optional payload for POST /api/jobs/reset-stale.
// Omitted fields use the worker's configured values.
type ResetStaleRequest struct {
	OlderThanSeconds *int `json:"older_than_seconds,omitempty" validate:"omitempty,gte=0"`
	MaxAttempts      *int `json:"max_attempts,omitempty"       validate:"omitempty,gte=1"`
}

// ResetStaleResponse reports what a stale reset did.
type ResetStaleResponse struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}

// CredentialsResponse is the body of GET /api/credentials. It never carries
// key material.
type CredentialsResponse struct {
	Credentials []credential.Status `json:"credentials"`
}

// ResetQuotaResponse is the body of POST /api/credentials/{name}/reset-quota.
type ResetQuotaResponse struct {
	Name  string `json:"name"`
	Reset bool   `json:"reset"`
}

// NewJobResponse converts a domain.Job to its API representation.
func NewJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:             job.ID,
		SubmittedLabel: job.SubmittedLabel,
		ResolvedLabel:  job.ResolvedLabel,
		Label:          job.DisplayLabel(),
		Content:        job.Content,
		State:          job.State,
		Attempts:       job.Attempts,
		ErrorDetail:    job.ErrorDetail,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func statsToResponse(stats *service.Stats) StatsResponse {
	return StatsResponse{Counts: stats.Counts, Total: stats.Total}
}
