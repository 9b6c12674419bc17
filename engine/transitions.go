/*
transitions.go - Booking state machine

PURPOSE:
  Pure transition table for booking statuses. The orchestrator validates every
  status change through here; nothing else writes Booking.Status.

STATES:
  DRAFT -> CONFIRMED | CANCELLED
  CONFIRMED -> COMPLETED | CANCELLED
  COMPLETED, CANCELLED are terminal.

SELF-TRANSITIONS:
  Always rejected, even where mechanically harmless. Callers must detect
  no-ops explicitly (the idempotent cancel short-circuits before calling the
  state machine).

SEE ALSO:
  - workflow.go: The only production caller
*/
package engine

import "context"

// transitionTable lists the reachable targets per current status.
var transitionTable = map[BookingStatus][]BookingStatus{
	BookingDraft:     {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled},
	BookingCompleted: {},
	BookingCancelled: {},
}

// ValidateTransition returns an InvalidTransitionError when target is not
// reachable from current or equals current.
func ValidateTransition(current, target BookingStatus) error {
	if current == target {
		return &InvalidTransitionError{Current: current, Target: target}
	}
	for _, allowed := range transitionTable[current] {
		if allowed == target {
			return nil
		}
	}
	return &InvalidTransitionError{Current: current, Target: target}
}

// IsTerminal reports whether no transitions leave the status.
func IsTerminal(s BookingStatus) bool {
	return len(transitionTable[s]) == 0
}

// TransitionHook runs around a persisted status change, for cross-cutting
// concerns that should not live in the core transition logic.
type TransitionHook func(ctx context.Context, b *Booking, target BookingStatus) error

// Transition validates and applies a status change on the booking, running
// optional pre/post hooks around the mutation. Hook errors abort the
// transition and propagate to the caller's unit of work.
func Transition(ctx context.Context, b *Booking, target BookingStatus, pre, post TransitionHook) error {
	if err := ValidateTransition(b.Status, target); err != nil {
		return err
	}
	if pre != nil {
		if err := pre(ctx, b, target); err != nil {
			return err
		}
	}
	b.Status = target
	if post != nil {
		if err := post(ctx, b, target); err != nil {
			return err
		}
	}
	return nil
}
