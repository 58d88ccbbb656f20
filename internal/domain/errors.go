package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyLabel is returned when a job is submitted without a label.
	ErrEmptyLabel = errors.New("label cannot be empty")

	// ErrLabelTooLong is returned when a submitted label exceeds MaxLabelLength.
	ErrLabelTooLong = errors.New("label exceeds maximum length")

	// ErrInvalidJobState is returned when a job state is not one of the known values.
	ErrInvalidJobState = errors.New("invalid job state")
)
