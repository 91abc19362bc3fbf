package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrValidation is returned when input fails structural validation
	ErrValidation = errors.New("invalid input")

	// ErrConflict is returned when a write collides with an existing
	// document id under PolicyFail
	ErrConflict = errors.New("document already exists")

	// ErrSchema is returned when metadata cannot be represented as JSON
	ErrSchema = errors.New("metadata not representable")

	// ErrNotConfigured is returned when a search runs against an index
	// that has never been enabled
	ErrNotConfigured = errors.New("index not configured")

	// ErrConsistency is returned when an index is known to be out of
	// sync with the document table, e.g. after an interrupted backfill
	ErrConsistency = errors.New("index out of sync with documents")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("sqdoc: %v", e.Err)
	}
	return fmt.Sprintf("sqdoc: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
