// Package service provides the application-level job operations shared by the
// HTTP API and the command line.
package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// Callers use errors.Is to check for them; the API layer maps them to HTTP
// status codes.
var (
	// ErrNoLabels indicates a submission without any labels.
	ErrNoLabels = errors.New("at least one label is required")

	// ErrTooManyLabels indicates a submission larger than MaxSubmitLabels.
	ErrTooManyLabels = errors.New("too many labels in one submission")

	// ErrInvalidLabel indicates a submitted label failed validation. The
	// wrapped error carries the domain reason and the label's position.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrJobNotFound indicates that no job exists with the requested id.
	ErrJobNotFound = errors.New("job not found")

	// ErrCredentialNotFound indicates that no credential has the requested name.
	ErrCredentialNotFound = errors.New("credential not found")
)

// ServiceError wraps unexpected failures from a service operation with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "reset_stale")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError. It returns nil for a nil err.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}
