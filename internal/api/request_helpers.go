package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/labelgen/internal/domain"
)

// Listing limits for GET /api/jobs.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// getPathID extracts a positive int64 job id from the URL path parameter
// paramName.
func getPathID(r *http.Request, paramName string) (int64, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, paramName)
	}
	return id, nil
}

// getListQuery reads the optional state and limit query parameters.
func getListQuery(r *http.Request) (domain.JobState, int, error) {
	query := r.URL.Query()

	var state domain.JobState
	if raw := query.Get("state"); raw != "" {
		parsed, err := domain.ParseJobState(raw)
		if err != nil {
			return "", 0, err
		}
		state = parsed
	}

	limit := DefaultListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return "", 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation)
		}
		limit = min(n, MaxListLimit)
	}

	return state, limit, nil
}
