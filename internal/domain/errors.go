package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores and
// services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Input errors, never retried
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = fmt.Errorf("%w: user not authenticated", ErrValidation)
)

// Catalog errors
var (
	ErrExerciseNotFound = errors.New("exercise not found")
	ErrFixtureNotFound  = errors.New("fixture not found")
)

// Concurrency errors
var (
	// ErrConflict means a document changed between read and commit
	ErrConflict = errors.New("optimistic concurrency conflict")
	// ErrTransient means the operation failed but may succeed if retried
	ErrTransient = errors.New("transient failure")
	// ErrBusy means an operation for the same key is already in flight
	ErrBusy = errors.New("operation already in progress")
)

// General errors
var (
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether a caller may retry the failed operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy)
}
