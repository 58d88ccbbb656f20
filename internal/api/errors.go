package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/labelgen/internal/api/shared"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/service"
	"github.com/phrazzld/labelgen/internal/service/auth"
	"github.com/phrazzld/labelgen/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, auth.ErrInsufficientRole):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrCredentialNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, service.ErrNoLabels),
		errors.Is(err, service.ErrTooManyLabels),
		errors.Is(err, service.ErrInvalidLabel),
		errors.Is(err, domain.ErrInvalidJobState),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// The store stayed locked for the whole retry budget; the client may retry.
	case errors.Is(err, store.ErrContentionExhausted):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"
	case errors.Is(err, auth.ErrInsufficientRole):
		return "Insufficient permissions"

	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, service.ErrCredentialNotFound):
		return "Credential not found"

	case errors.Is(err, service.ErrNoLabels):
		return "At least one label is required"
	case errors.Is(err, service.ErrTooManyLabels):
		return fmt.Sprintf("At most %d labels may be submitted at once", service.MaxSubmitLabels)
	case errors.Is(err, service.ErrInvalidLabel):
		// The message names the offending position and the rule it broke,
		// never the label text itself.
		return labelErrorMessage(err)
	case errors.Is(err, domain.ErrInvalidJobState):
		return "Invalid job state"
	case errors.Is(err, domain.ErrValidation):
		if _, detail, ok := strings.Cut(err.Error(), domain.ErrValidation.Error()+": "); ok {
			return "Invalid request: " + detail
		}
		return "Invalid request"

	case errors.Is(err, store.ErrContentionExhausted):
		return "The job store is busy, please retry"

	default:
		return "An unexpected error occurred"
	}
}

// labelErrorMessage renders "Invalid label at labels[i]: reason".
func labelErrorMessage(err error) string {
	reason := "invalid value"
	switch {
	case errors.Is(err, domain.ErrEmptyLabel):
		reason = "label cannot be empty"
	case errors.Is(err, domain.ErrLabelTooLong):
		reason = fmt.Sprintf("label exceeds %d characters", domain.MaxLabelLength)
	}

	msg := err.Error()
	if start := strings.Index(msg, "labels["); start >= 0 {
		if end := strings.Index(msg[start:], "]"); end > 0 {
			return fmt.Sprintf("Invalid label at %s: %s", msg[start:start+end+1], reason)
		}
	}
	return "Invalid label: " + reason
}

// HandleAPIError writes the status and safe message for err. defaultMsg
// replaces the generic message for internal errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// HandleValidationError writes a 400 response for a failed request validation.
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
}

// SanitizeValidationError turns a validator error into a short message naming
// the first failing field and rule.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "gte":
		return "too small"
	case "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
