package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// ContextKey is the type of keys this package stores in request contexts.
type ContextKey string

// Context keys for various values
const (
	// ClaimsContextKey is the context key for the authenticated token claims
	ClaimsContextKey ContextKey = "claims"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a generated trace ID
	TraceIDLength = 16
)

// WithTraceID stores traceID in the context. An empty traceID is replaced by
// a freshly generated one.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// NewTraceID returns a random 32-character hex string. If the system random
// source fails it falls back to the current time in nanoseconds.
func NewTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		return "t" + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}
