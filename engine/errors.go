/*
errors.go - Centralized error types for the workflow engine

PURPOSE:
  All error types in one place for consistency and discoverability. Callers
  classify with errors.Is / errors.As; structured types carry enough context
  to render an actionable message.

ERROR CATEGORIES:
  1. State machine errors - invalid transitions
  2. Scheduling errors - staff availability conflicts
  3. Wallet errors - insufficient balance, missing transaction context
  4. Precondition errors - operation blocked by current task/booking state

PROPAGATION POLICY:
  Any error raised inside a workflow step aborts the whole unit of work.
  ErrTransactionRequired is a programming error and is never caught by
  callers. Audit append failures are logged and swallowed, never returned.

SEE ALSO:
  - transitions.go: Raises InvalidTransitionError
  - schedule.go: Raises ConflictError
  - wallet.go: Raises InsufficientBalanceError, ErrTransactionRequired
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when the state machine refuses a move.
	// Recoverable: the caller can choose a valid target.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when staff availability is insufficient for the
	// requested window. Recoverable: retry with a different time.
	ErrConflict = errors.New("staff availability conflict")

	// ErrNotFound is returned when an entity is absent or outside the tenant.
	ErrNotFound = errors.New("entity not found")

	// ErrInsufficientBalance is returned when a wallet operation exceeds the
	// pending funds.
	ErrInsufficientBalance = errors.New("insufficient pending balance")

	// ErrPreconditionFailed is returned when the current task/booking state
	// blocks the operation (e.g. cancelling with completed tasks).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrForbidden is returned when the acting user may not perform the
	// operation (e.g. field staff completing a task they are not assigned to).
	ErrForbidden = errors.New("forbidden")

	// ErrTransactionRequired is returned when a ledger or wallet method is
	// invoked outside an active unit of work. Always a programming error.
	ErrTransactionRequired = errors.New("operation requires active transaction")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTransitionError reports the refused move.
type InvalidTransitionError struct {
	Current BookingStatus
	Target  BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.Current, e.Target)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConflictError carries the availability breakdown so callers can render a
// precise message ("needs 2 staff, only 1 available").
type ConflictError struct {
	RequiredStaffCount int
	EligibleCount      int
	BusyCount          int
	AvailableCount     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("staff availability conflict: required %d, eligible %d, busy %d, available %d",
		e.RequiredStaffCount, e.EligibleCount, e.BusyCount, e.AvailableCount)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientBalanceError reports a pending-balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient pending balance for user %s: available %v, requested %v",
		e.UserID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// PreconditionError explains which state blocked the operation.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
