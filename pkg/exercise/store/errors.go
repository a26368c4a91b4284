package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no exercise, or no requested version, exists.
	ErrNotFound = errors.New("exercise not found")

	// ErrValidation is returned for requests missing required fields.
	ErrValidation = errors.New("invalid exercise request")

	// ErrInvalidVersion is returned for version numbers that are not positive.
	ErrInvalidVersion = errors.New("version must be a positive integer")
)

// ValidationError names the offending field of a rejected request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
