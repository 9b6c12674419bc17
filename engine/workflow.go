/*
workflow.go - Booking workflow orchestrator

PURPOSE:
  Drives the whole confirm / cancel / complete / reschedule / duplicate
  lifecycle. Each operation is exactly one unit of work: lock the booking row
  first, validate through the state machine, mutate entities, call the wallet
  ledger and conflict checker as needed, append one audit entry, commit, and
  only then publish the domain event.

ORDERING DISCIPLINE:
  Every step that touches money or task state acquires its primary lock
  before any read used for decision-making, closing the gap between check
  and act. Events never fire for a transaction that rolled back.

IDEMPOTENCE:
  Cancel is idempotent: an already-CANCELLED booking returns unchanged with
  no side effects and no duplicate event, and the income reversal is recorded
  at most once per booking (guarded by the ReversalOf reference).

SEE ALSO:
  - transitions.go: The transition table consulted here
  - tasks.go: Task-level operations outside the booking lifecycle
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries the tunables of the workflow engine.
type Config struct {
	// Currency is the tenant ledger currency, e.g. "USD" or "JPY".
	Currency string

	// MaxTasksPerBooking caps bulk task generation on confirm.
	MaxTasksPerBooking int

	// MinRescheduleLead is how far before the new event date a reschedule
	// must land.
	MinRescheduleLead time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Currency:           "USD",
		MaxTasksPerBooking: 50,
		MinRescheduleLead:  48 * time.Hour,
	}
}

// Workflow is the booking lifecycle orchestrator.
type Workflow struct {
	Store     Store
	Publisher Publisher
	Wallet    *WalletLedger
	Audit     *AuditChain
	Checker   *ConflictChecker
	Logger    *zap.Logger
	Config    Config
}

func NewWorkflow(store Store, pub Publisher, logger *zap.Logger, cfg Config) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTasksPerBooking == 0 {
		cfg.MaxTasksPerBooking = DefaultConfig().MaxTasksPerBooking
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultConfig().Currency
	}
	return &Workflow{
		Store:     store,
		Publisher: pub,
		Wallet:    &WalletLedger{},
		Audit:     &AuditChain{},
		Checker:   &ConflictChecker{},
		Logger:    logger,
		Config:    cfg,
	}
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm moves a DRAFT booking to CONFIRMED: checks staff availability,
// bulk-generates one task per package-item unit, records the income ledger
// entry and publishes BookingConfirmed after commit.
func (wf *Workflow) Confirm(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error) {
	var result *Booking
	events := &eventBuffer{}

	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		booking, err := uow.Bookings().FindLocked(ctx, tenant, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrNotFound
		}
		if err := ValidateTransition(booking.Status, BookingConfirmed); err != nil {
			return err
		}
		if booking.StartTime == "" {
			return &PreconditionError{Reason: "booking has no start time"}
		}

		if booking.DurationMinutes > 0 {
			report, err := wf.Checker.Check(ctx, uow, tenant, CheckInput{
				PackageID:       booking.PackageID,
				EventDate:       booking.EventDate,
				StartTime:       booking.StartTime,
				DurationMinutes: booking.DurationMinutes,
			})
			if err != nil {
				return err
			}
			if err := report.AsError(); err != nil {
				return err
			}
		}

		if err := wf.generateTasks(ctx, uow, booking); err != nil {
			return err
		}

		if err := Transition(ctx, booking, BookingConfirmed, nil, nil); err != nil {
			return err
		}
		booking.UpdatedAt = time.Now().UTC()
		if err := uow.Bookings().Save(ctx, booking); err != nil {
			return err
		}

		if err := uow.Ledger().Append(ctx, LedgerEntry{
			ID:          uuid.NewString(),
			TenantID:    tenant,
			Type:        EntryIncome,
			Amount:      booking.TotalPrice.Round(),
			Description: "booking confirmed",
			BookingID:   &booking.ID,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}

		wf.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "booking.confirmed",
			EntityName: "booking",
			EntityID:   string(id),
			OldValues:  map[string]any{"status": string(BookingDraft)},
			NewValues:  map[string]any{"status": string(BookingConfirmed)},
		}, wf.Logger)

		events.add(EventBookingConfirmed, tenant, string(id), map[string]any{
			"booking_id":  string(id),
			"event_date":  booking.EventDate.Format("2006-01-02"),
			"start_time":  booking.StartTime,
			"total_price": booking.TotalPrice.Round().Value.String(),
		})
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(wf.Publisher)
	return result, nil
}

// generateTasks bulk-creates one task per package-item unit, capped by config.
func (wf *Workflow) generateTasks(ctx context.Context, uow UnitOfWork, booking *Booking) error {
	pkg, err := uow.Packages().Find(ctx, booking.TenantID, booking.PackageID)
	if err != nil {
		return err
	}
	if pkg == nil {
		return ErrNotFound
	}

	total := 0
	for _, item := range pkg.Items {
		total += item.Quantity
	}
	if total > wf.Config.MaxTasksPerBooking {
		return &PreconditionError{Reason: fmt.Sprintf("package generates %d tasks, cap is %d", total, wf.Config.MaxTasksPerBooking)}
	}

	now := time.Now().UTC()
	for _, item := range pkg.Items {
		for i := 0; i < item.Quantity; i++ {
			title := item.TaskTypeName
			if item.Quantity > 1 {
				title = fmt.Sprintf("%s %d/%d", item.TaskTypeName, i+1, item.Quantity)
			}
			if err := uow.Tasks().Create(ctx, &Task{
				ID:                 TaskID(uuid.NewString()),
				TenantID:           booking.TenantID,
				BookingID:          booking.ID,
				Title:              title,
				Status:             TaskPending,
				CommissionSnapshot: item.Commission.Round(),
				DueDate:            booking.EventDate,
				CreatedAt:          now,
				UpdatedAt:          now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel cancels the booking and all remaining tasks, reverses pending
// commission and the income ledger entry, and publishes BookingCancelled.
// Calling Cancel on an already-CANCELLED booking is a no-op.
func (wf *Workflow) Cancel(ctx context.Context, tenant TenantID, id BookingID, reason string) (*Booking, error) {
	var result *Booking
	events := &eventBuffer{}

	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		booking, err := uow.Bookings().FindLocked(ctx, tenant, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrNotFound
		}
		if booking.Status == BookingCancelled {
			// Idempotent: no side effects, no duplicate event.
			result = booking
			return nil
		}

		tasks, err := uow.Tasks().ByBooking(ctx, tenant, id)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status == TaskCompleted {
				return &PreconditionError{Reason: "booking has completed tasks"}
			}
		}

		if err := ValidateTransition(booking.Status, BookingCancelled); err != nil {
			return err
		}

		for i := range tasks {
			t := tasks[i]
			if t.Status == TaskCancelled {
				continue
			}
			if err := wf.reverseTaskCommission(ctx, uow, tenant, &t); err != nil {
				return err
			}
			t.Status = TaskCancelled
			t.UpdatedAt = time.Now().UTC()
			if err := uow.Tasks().Save(ctx, &t); err != nil {
				return err
			}
		}

		if err := wf.reverseIncome(ctx, uow, tenant, booking); err != nil {
			return err
		}

		now := time.Now().UTC()
		booking.Status = BookingCancelled
		booking.CancellationReason = reason
		booking.CancelledAt = &now
		booking.UpdatedAt = now
		if err := uow.Bookings().Save(ctx, booking); err != nil {
			return err
		}

		wf.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "booking.cancelled",
			EntityName: "booking",
			EntityID:   string(id),
			NewValues:  map[string]any{"status": string(BookingCancelled), "reason": reason},
		}, wf.Logger)

		events.add(EventBookingCancelled, tenant, string(id), map[string]any{
			"booking_id":        string(id),
			"reason":            reason,
			"days_before_event": daysBefore(now, booking.EventDate),
		})
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(wf.Publisher)
	return result, nil
}

// reverseTaskCommission undoes every assignee's pending commission, falling
// back to the legacy single-assignee snapshot when no roster rows exist.
func (wf *Workflow) reverseTaskCommission(ctx context.Context, uow UnitOfWork, tenant TenantID, t *Task) error {
	assignees, err := uow.Assignees().ByTask(ctx, tenant, t.ID)
	if err != nil {
		return err
	}
	if len(assignees) > 0 {
		for _, a := range assignees {
			if !a.CommissionSnapshot.IsPositive() {
				continue
			}
			if err := wf.Wallet.SubtractPending(ctx, uow, tenant, a.UserID, a.CommissionSnapshot); err != nil {
				return err
			}
		}
		return nil
	}
	if t.AssignedUserID != nil && t.CommissionSnapshot.IsPositive() {
		return wf.Wallet.SubtractPending(ctx, uow, tenant, *t.AssignedUserID, t.CommissionSnapshot)
	}
	return nil
}

// reverseIncome records a single negative-income reversal entry for the sum
// of the booking's prior income, unless one already exists.
func (wf *Workflow) reverseIncome(ctx context.Context, uow UnitOfWork, tenant TenantID, booking *Booking) error {
	reversed, err := uow.Ledger().HasReversalFor(ctx, tenant, booking.ID)
	if err != nil {
		return err
	}
	if reversed {
		return nil
	}
	income, err := uow.Ledger().IncomeForBooking(ctx, tenant, booking.ID)
	if err != nil {
		return err
	}
	if !income.IsPositive() {
		return nil
	}
	return uow.Ledger().Append(ctx, LedgerEntry{
		ID:          uuid.NewString(),
		TenantID:    tenant,
		Type:        EntryIncome,
		Amount:      income.Neg().Round(),
		Description: "booking cancelled: income reversal",
		BookingID:   &booking.ID,
		ReversalOf:  &booking.ID,
		CreatedAt:   time.Now().UTC(),
	})
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete moves a CONFIRMED booking to COMPLETED. At least one task must
// exist and every task must already be COMPLETED.
func (wf *Workflow) Complete(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error) {
	var result *Booking
	events := &eventBuffer{}

	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		booking, err := uow.Bookings().FindLocked(ctx, tenant, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrNotFound
		}
		if err := ValidateTransition(booking.Status, BookingCompleted); err != nil {
			return err
		}

		tasks, err := uow.Tasks().ByBooking(ctx, tenant, id)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return &PreconditionError{Reason: "booking has no tasks"}
		}
		for _, t := range tasks {
			if t.Status != TaskCompleted {
				return &PreconditionError{Reason: "booking has incomplete tasks"}
			}
		}

		if err := Transition(ctx, booking, BookingCompleted, nil, nil); err != nil {
			return err
		}
		booking.CompletionPercent = 100
		booking.UpdatedAt = time.Now().UTC()
		if err := uow.Bookings().Save(ctx, booking); err != nil {
			return err
		}

		wf.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "booking.completed",
			EntityName: "booking",
			EntityID:   string(id),
			NewValues:  map[string]any{"status": string(BookingCompleted)},
		}, wf.Logger)

		events.add(EventBookingCompleted, tenant, string(id), map[string]any{
			"booking_id": string(id),
		})
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(wf.Publisher)
	return result, nil
}

// =============================================================================
// RESCHEDULE
// =============================================================================

// RescheduleInput is the new slot for a confirmed booking.
type RescheduleInput struct {
	EventDate time.Time
	StartTime string
}

// Reschedule moves a CONFIRMED booking to a new date/time: re-runs the
// conflict check excluding the booking itself, shifts task due dates and
// publishes BookingRescheduled with the assignee notification emails.
func (wf *Workflow) Reschedule(ctx context.Context, tenant TenantID, id BookingID, in RescheduleInput) (*Booking, error) {
	var result *Booking
	events := &eventBuffer{}

	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		booking, err := uow.Bookings().FindLocked(ctx, tenant, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrNotFound
		}
		if booking.Status != BookingConfirmed {
			return &PreconditionError{Reason: "only confirmed bookings can be rescheduled"}
		}
		if time.Now().UTC().Add(wf.Config.MinRescheduleLead).After(in.EventDate) {
			return &PreconditionError{Reason: "new event date is within the minimum lead time"}
		}

		tasks, err := uow.Tasks().ByBooking(ctx, tenant, id)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status == TaskInProgress || t.Status == TaskCompleted {
				return &PreconditionError{Reason: "booking has tasks in progress or completed"}
			}
			running, err := uow.Tasks().HasRunningTimeEntry(ctx, tenant, t.ID)
			if err != nil {
				return err
			}
			if running {
				return &PreconditionError{Reason: "booking has a running time entry"}
			}
		}

		if booking.DurationMinutes > 0 {
			report, err := wf.Checker.Check(ctx, uow, tenant, CheckInput{
				PackageID:       booking.PackageID,
				EventDate:       in.EventDate,
				StartTime:       in.StartTime,
				DurationMinutes: booking.DurationMinutes,
				Exclude:         booking.ID,
			})
			if err != nil {
				return err
			}
			if err := report.AsError(); err != nil {
				return err
			}
		}

		oldDate := booking.EventDate
		shift := in.EventDate.Sub(oldDate)
		for i := range tasks {
			t := tasks[i]
			if t.Status == TaskCancelled {
				continue
			}
			t.DueDate = t.DueDate.Add(shift)
			t.UpdatedAt = time.Now().UTC()
			if err := uow.Tasks().Save(ctx, &t); err != nil {
				return err
			}
		}

		emails, err := wf.assigneeEmails(ctx, uow, tenant, tasks)
		if err != nil {
			return err
		}

		booking.EventDate = in.EventDate
		booking.StartTime = in.StartTime
		booking.UpdatedAt = time.Now().UTC()
		if err := uow.Bookings().Save(ctx, booking); err != nil {
			return err
		}

		wf.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "booking.rescheduled",
			EntityName: "booking",
			EntityID:   string(id),
			OldValues:  map[string]any{"event_date": oldDate.Format("2006-01-02")},
			NewValues:  map[string]any{"event_date": in.EventDate.Format("2006-01-02"), "start_time": in.StartTime},
		}, wf.Logger)

		events.add(EventBookingRescheduled, tenant, string(id), map[string]any{
			"booking_id":     string(id),
			"old_event_date": oldDate.Format("2006-01-02"),
			"new_event_date": in.EventDate.Format("2006-01-02"),
			"start_time":     in.StartTime,
			"notify_emails":  emails,
		})
		result = booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(wf.Publisher)
	return result, nil
}

// assigneeEmails collects everyone to notify: roster assignees plus legacy
// single-assignee fields, deduplicated.
func (wf *Workflow) assigneeEmails(ctx context.Context, uow UnitOfWork, tenant TenantID, tasks []Task) ([]string, error) {
	seen := make(map[UserID]bool)
	var userIDs []UserID
	for _, t := range tasks {
		assignees, err := uow.Assignees().ByTask(ctx, tenant, t.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range assignees {
			if !seen[a.UserID] {
				seen[a.UserID] = true
				userIDs = append(userIDs, a.UserID)
			}
		}
		if t.AssignedUserID != nil && !seen[*t.AssignedUserID] {
			seen[*t.AssignedUserID] = true
			userIDs = append(userIDs, *t.AssignedUserID)
		}
	}
	if len(userIDs) == 0 {
		return nil, nil
	}
	return uow.Staff().Emails(ctx, tenant, userIDs)
}

// =============================================================================
// DUPLICATE
// =============================================================================

// Duplicate copies a booking's commercial fields into a new DRAFT booking.
// Paid and refund amounts reset to zero; the source is not locked or
// modified. Publishes BookingCreated.
func (wf *Workflow) Duplicate(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error) {
	var result *Booking
	events := &eventBuffer{}

	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		src, err := uow.Bookings().Find(ctx, tenant, id)
		if err != nil {
			return err
		}
		if src == nil {
			return ErrNotFound
		}

		now := time.Now().UTC()
		dup := &Booking{
			ID:              BookingID(uuid.NewString()),
			TenantID:        tenant,
			Status:          BookingDraft,
			PackageID:       src.PackageID,
			EventDate:       src.EventDate,
			StartTime:       src.StartTime,
			DurationMinutes: src.DurationMinutes,
			TotalPrice:      src.TotalPrice,
			SubTotal:        src.SubTotal,
			Tax:             src.Tax,
			Deposit:         src.Deposit,
			AmountPaid:      src.TotalPrice.Zero(),
			Refund:          src.TotalPrice.Zero(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := uow.Bookings().Create(ctx, dup); err != nil {
			return err
		}

		wf.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "booking.duplicated",
			EntityName: "booking",
			EntityID:   string(dup.ID),
			NewValues:  map[string]any{"source_booking_id": string(id)},
		}, wf.Logger)

		events.add(EventBookingCreated, tenant, string(dup.ID), map[string]any{
			"booking_id":        string(dup.ID),
			"source_booking_id": string(id),
		})
		result = dup
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(wf.Publisher)
	return result, nil
}

// =============================================================================
// AUDIT CHAIN VERIFICATION
// =============================================================================

// VerifyAuditChain replays the tenant's audit chain inside a read-only unit
// of work.
func (wf *Workflow) VerifyAuditChain(ctx context.Context, tenant TenantID) (VerifyResult, error) {
	var result VerifyResult
	err := wf.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		var err error
		result, err = wf.Audit.VerifyChain(ctx, uow, tenant)
		return err
	})
	return result, err
}

// daysBefore counts whole days between now and the event date, floored at 0.
func daysBefore(now, eventDate time.Time) int {
	d := int(eventDate.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
