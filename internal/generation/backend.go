package generation

import "context"

// Backend makes a single model call with the given API key and returns the
// raw text of the reply. Implementations classify their failures with the
// sentinel errors of this package.
type Backend interface {
	Complete(ctx context.Context, apiKey, prompt string) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, apiKey, prompt string) (string, error)

// Complete calls f.
func (f BackendFunc) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	return f(ctx, apiKey, prompt)
}
