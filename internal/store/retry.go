package store

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
)

// RetryPolicy bounds how long a contended write is retried. Delays double
// from BaseDelay up to MaxDelay, each with up to BaseDelay of random jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry, if set, is called before each backoff sleep with the 1-based
	// number of the attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the policy used when none is configured:
// 10 attempts starting at 50ms and capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// RetryablePredicate reports whether an error is transient write contention
// worth retrying, such as SQLite BUSY or a Postgres serialization failure.
type RetryablePredicate func(error) bool

// WithRetry runs fn until it succeeds, returns an error isRetryable rejects,
// the context is done, or the policy's attempts are used up. In the last case
// the returned error wraps both ErrContentionExhausted and the final error.
func WithRetry(
	ctx context.Context,
	policy RetryPolicy,
	isRetryable RetryablePredicate,
	fn func(ctx context.Context) error,
) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	jitter := policy.BaseDelay
	if jitter <= 0 {
		// retry.RandomDelay requires a positive jitter bound
		jitter = time.Millisecond
	}

	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(policy.MaxAttempts)),
		retry.Delay(policy.BaseDelay),
		retry.MaxDelay(policy.MaxDelay),
		retry.MaxJitter(jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return isRetryable != nil && isRetryable(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			if policy.OnRetry != nil && int(n)+1 < policy.MaxAttempts {
				policy.OnRetry(int(n)+1, err)
			}
		}),
	)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if attempts >= policy.MaxAttempts && isRetryable != nil && isRetryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", ErrContentionExhausted, attempts, err)
	}

	return err
}
