package generation

import (
	"errors"
)

// Common errors returned by the generation package and its backends.
var (
	// ErrGenerationFailed is returned when the API refused the request itself
	// and repeating it would not help.
	ErrGenerationFailed = errors.New("failed to generate content")

	// ErrTransientFailure is returned for temporary errors that might resolve
	// on retry: timeouts, connection failures and server errors.
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrRateLimited is returned when the API throttled the credential.
	ErrRateLimited = errors.New("generation API rate limit reached")

	// ErrQuotaExceeded is returned when the credential's quota is used up.
	ErrQuotaExceeded = errors.New("generation API quota exceeded")

	// ErrCredentialRejected is returned when the API refused the credential.
	ErrCredentialRejected = errors.New("generation API rejected the credential")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidResponse is returned when the model response cannot be parsed
	// or does not have the expected structure, even after a corrective re-prompt.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrItemRejected is returned for a single entry the model explicitly
	// declined to generate.
	ErrItemRejected = errors.New("language model rejected the label")

	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// IsCredentialError reports whether err is about the API key rather than
// the request: rate limiting, exhausted quota or a rejected key.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrCredentialRejected)
}

// IsRetryable reports whether the same request may succeed later, possibly
// with a different credential.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFailure) || IsCredentialError(err)
}

// isClassified reports whether err already carries one of the sentinels above.
func isClassified(err error) bool {
	return IsRetryable(err) ||
		errors.Is(err, ErrGenerationFailed) ||
		errors.Is(err, ErrContentBlocked) ||
		errors.Is(err, ErrInvalidResponse) ||
		errors.Is(err, ErrItemRejected)
}
