// Package gemini implements generation.Backend on top of Google's Gemini API
// using the google.golang.org/genai client.
//
// Each call runs with the API key leased by the caller; one genai client is
// created per distinct key and reused. Requests ask for a JSON response and
// failures are translated into the generation package's sentinel errors so
// that callers can tell transport problems from credential problems:
//
//   - 401, 403 and "API key not valid" → generation.ErrCredentialRejected
//   - 429 for a daily quota or billing limit → generation.ErrQuotaExceeded
//   - other 429 → generation.ErrRateLimited
//   - 408, 5xx, timeouts and connection errors → generation.ErrTransientFailure
//   - safety blocks → generation.ErrContentBlocked
//   - empty or truncated candidates → generation.ErrInvalidResponse
//   - other 4xx → generation.ErrGenerationFailed
package gemini
