package credential

import "errors"

var (
	// ErrPoolExhausted is returned by Acquire when no credential can become
	// available again: every key is invalid or out of quota.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrUnknownLease is returned when releasing a lease that is not
	// outstanding, including a lease that was already released.
	ErrUnknownLease = errors.New("unknown or already released lease")

	// ErrUnknownCredential is returned when a credential name does not exist.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrNoCredentials is returned when a pool is created without keys.
	ErrNoCredentials = errors.New("at least one credential is required")

	// ErrDuplicateCredential is returned when the same key is configured twice.
	ErrDuplicateCredential = errors.New("duplicate credential")
)
