package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/labelgen/internal/events"
)

// waker is implemented by Runner.
type waker interface {
	Wake()
}

// SubmissionEventHandler implements the events.EventHandler interface and
// wakes the poll loop when new jobs are submitted.
type SubmissionEventHandler struct {
	runner waker
	logger *slog.Logger
}

// NewSubmissionEventHandler creates a handler that wakes runner.
func NewSubmissionEventHandler(runner waker, logger *slog.Logger) *SubmissionEventHandler {
	return &SubmissionEventHandler{
		runner: runner,
		logger: logger.With("component", "submission_event_handler"),
	}
}

// HandleEvent wakes the runner for TypeJobsSubmitted events and ignores
// everything else.
func (h *SubmissionEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeJobsSubmitted {
		h.logger.DebugContext(ctx, "ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var payload events.JobsSubmittedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		// The wake-up does not depend on the payload.
		h.logger.WarnContext(ctx, "malformed jobs_submitted payload", "error", err, "event_id", event.ID)
	}

	h.logger.DebugContext(ctx, "waking runner", "jobs", len(payload.IDs), "event_id", event.ID)
	h.runner.Wake()
	return nil
}
