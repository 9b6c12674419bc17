/*
schedule.go - Staff-availability conflict checker

PURPOSE:
  Answers "can this booking run at this time?" by comparing the requested
  window against every eligible staff member's other confirmed bookings on the
  same date.

WINDOW SEMANTICS:
  A booking occupies the half-open window [start, start+duration). Two windows
  overlap iff a.start < b.end && b.start < a.end - touching boundaries are NOT
  an overlap, so back-to-back bookings are allowed.

RESULT:
  Check returns an AvailabilityReport with the full count breakdown. ok is
  true iff availableCount >= requiredStaffCount. Callers that need a failure
  convert the report to a ConflictError so the counts survive to the client.

SEE ALSO:
  - workflow.go: Runs the check on confirm and reschedule
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// TIME WINDOW
// =============================================================================

// Window is a half-open interval [Start, End) on a single day.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the window for an event date, a wall-clock start ("HH:mm")
// and a duration in minutes.
func NewWindow(eventDate time.Time, startTime string, durationMinutes int) (Window, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(startTime, "%d:%d", &hh, &mm); err != nil {
		return Window{}, fmt.Errorf("invalid start time %q: %w", startTime, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return Window{}, fmt.Errorf("invalid start time %q: out of range", startTime)
	}
	start := time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), hh, mm, 0, 0, time.UTC)
	return Window{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}, nil
}

// Overlaps reports whether the two half-open windows intersect.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// =============================================================================
// AVAILABILITY REPORT
// =============================================================================

// AvailabilityReport is the structured outcome of a conflict check.
type AvailabilityReport struct {
	OK                 bool
	RequiredStaffCount int
	EligibleCount      int
	BusyCount          int
	AvailableCount     int
}

// AsError converts a failed report to the ConflictError the caller surfaces.
// Panics are avoided: a passing report converts to nil.
func (r AvailabilityReport) AsError() error {
	if r.OK {
		return nil
	}
	return &ConflictError{
		RequiredStaffCount: r.RequiredStaffCount,
		EligibleCount:      r.EligibleCount,
		BusyCount:          r.BusyCount,
		AvailableCount:     r.AvailableCount,
	}
}

// =============================================================================
// CONFLICT CHECKER
// =============================================================================

// ConflictChecker computes staff availability for a booking window. It reads
// through the unit of work it is handed, so checks see uncommitted writes of
// the surrounding workflow step.
type ConflictChecker struct{}

// CheckInput describes the window being validated. Exclude carries the id of
// the booking being moved on reschedule, so it does not conflict with itself.
type CheckInput struct {
	PackageID       PackageID
	EventDate       time.Time
	StartTime       string
	DurationMinutes int
	Exclude         BookingID
}

// Check computes the report. A staff member is busy when any of their other
// confirmed bookings on the same date overlaps the requested window.
func (c *ConflictChecker) Check(ctx context.Context, uow UnitOfWork, tenant TenantID, in CheckInput) (AvailabilityReport, error) {
	pkg, err := uow.Packages().Find(ctx, tenant, in.PackageID)
	if err != nil {
		return AvailabilityReport{}, err
	}
	if pkg == nil {
		return AvailabilityReport{}, ErrNotFound
	}

	window, err := NewWindow(in.EventDate, in.StartTime, in.DurationMinutes)
	if err != nil {
		return AvailabilityReport{}, err
	}

	eligible, err := uow.Staff().EligibleForPackage(ctx, tenant, in.PackageID)
	if err != nil {
		return AvailabilityReport{}, err
	}

	busy := 0
	for _, staff := range eligible {
		occupied, err := c.staffBusy(ctx, uow, tenant, staff.UserID, window, in.EventDate, in.Exclude)
		if err != nil {
			return AvailabilityReport{}, err
		}
		if occupied {
			busy++
		}
	}

	report := AvailabilityReport{
		RequiredStaffCount: pkg.RequiredStaffCount,
		EligibleCount:      len(eligible),
		BusyCount:          busy,
		AvailableCount:     len(eligible) - busy,
	}
	report.OK = report.AvailableCount >= report.RequiredStaffCount
	return report, nil
}

func (c *ConflictChecker) staffBusy(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID, window Window, date time.Time, exclude BookingID) (bool, error) {
	bookings, err := uow.Bookings().ConfirmedForStaffOn(ctx, tenant, userID, date, exclude)
	if err != nil {
		return false, err
	}
	for _, b := range bookings {
		if !b.Scheduled() {
			continue
		}
		other, err := NewWindow(b.EventDate, b.StartTime, b.DurationMinutes)
		if err != nil {
			// A confirmed booking with an unparseable time should not make
			// the whole check fail; treat it as not occupying the window.
			continue
		}
		if window.Overlaps(other) {
			return true, nil
		}
	}
	return false, nil
}
