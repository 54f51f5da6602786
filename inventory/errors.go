/*
errors.go - Centralized error taxonomy for the allocation engine

PURPOSE:
  All error kinds in one place. Every aggregate and service operation
  returns one of these (possibly wrapped), so callers can classify a
  failure with errors.Is() without parsing messages.

ERROR KINDS:
  ErrNotFound               unknown batch / request id
  ErrInvalidArgument        bad input caught at the aggregate boundary
  ErrInsufficientAvailable  allocation would exceed available stock
  ErrInvalidStateTransition operation illegal in the current state
  ErrInvariantViolation     internal consistency would break
  ErrValidationFailed       malformed payload (raised by the HTTP layer)
  ErrPersistence            opaque storage failure, propagated as-is
  ErrDuplicate              unique key already taken (batch code)
  ErrConcurrentModification optimistic version check failed

USAGE:
    if errors.Is(err, inventory.ErrInsufficientAvailable) {
        var short *inventory.InsufficientAvailableError
        errors.As(err, &short)
        ...
    }

SEE ALSO:
  - api/handlers.go: maps these kinds to HTTP status codes
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInsufficientAvailable  = errors.New("insufficient available quantity")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvariantViolation     = errors.New("invariant violation")
	ErrValidationFailed       = errors.New("validation failed")
	ErrPersistence            = errors.New("persistence error")
	ErrDuplicate              = errors.New("duplicate")

	// ErrConcurrentModification is returned when a save observes a newer
	// version of the record than the one that was loaded.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the kind of record that was missing.
type NotFoundError struct {
	Kind string // "batch", "transfer request"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ArgumentError reports a rejected input field.
type ArgumentError struct {
	Field   string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

// InsufficientAvailableError provides details about a stock shortage.
type InsufficientAvailableError struct {
	BatchID   BatchID
	Available Quantity
	Requested Quantity
}

func (e *InsufficientAvailableError) Shortfall() Quantity {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available quantity on batch %s: available %s, requested %s, shortfall %s",
		e.BatchID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientAvailableError) Unwrap() error { return ErrInsufficientAvailable }

// StateTransitionError reports an action attempted from a state that forbids it.
type StateTransitionError struct {
	Subject string // "transfer request TR-20260101-000001", "batch B-42"
	From    string
	Action  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Action, e.Subject, e.From)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// InvariantError reports an operation that would break internal consistency.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return "invariant violation: " + e.Message }

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the records, not to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientAvailable) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrValidationFailed)
}

// IsConflict returns true for uniqueness and version conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicate) || errors.Is(err, ErrConcurrentModification)
}

// IsRetryable returns true if the error might succeed on retry.
// Transfer operations are not idempotent: only retry after reloading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func argErr(field, msg string) error {
	return &ArgumentError{Field: field, Message: msg}
}
