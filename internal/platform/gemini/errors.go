package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/phrazzld/labelgen/internal/generation"
	"google.golang.org/genai"
)

// classifyError translates an error from the genai client into one of the
// generation sentinels.
func classifyError(ctx context.Context, err error) error {
	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(apiErr)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctxErr)
		}
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: network error: %v", generation.ErrTransientFailure, err)
	}

	return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func classifyAPIError(e genai.APIError) error {
	detail := fmt.Sprintf("%d %s: %s", e.Code, e.Status, e.Message)
	msg := strings.ToLower(e.Message)

	switch {
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", generation.ErrCredentialRejected, detail)
	case e.Code == http.StatusBadRequest &&
		(strings.Contains(msg, "api key not valid") || strings.Contains(msg, "api_key_invalid")):
		return fmt.Errorf("%w: %s", generation.ErrCredentialRejected, detail)
	case e.Code == http.StatusTooManyRequests:
		if isQuotaMessage(msg) {
			return fmt.Errorf("%w: %s", generation.ErrQuotaExceeded, detail)
		}
		return fmt.Errorf("%w: %s", generation.ErrRateLimited, detail)
	case e.Code == http.StatusRequestTimeout || e.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", generation.ErrTransientFailure, detail)
	case e.Code >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s", generation.ErrGenerationFailed, detail)
	default:
		return fmt.Errorf("%w: %s", generation.ErrTransientFailure, detail)
	}
}

// isQuotaMessage reports whether a 429 message describes an exhausted daily
// quota rather than a short-term rate limit. Per-minute limits are also
// reported as "quota exceeded" by the API, so the word alone is not enough.
func isQuotaMessage(msg string) bool {
	for _, marker := range []string{"per day", "perday", "daily", "billing"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
