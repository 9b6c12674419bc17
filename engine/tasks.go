/*
tasks.go - Task assignment and completion engine

PURPOSE:
  Owns everything that happens to a task after bulk generation: assigning
  staff, managing the multi-assignee roster, and completion with commission
  accrual.

MULTI-ASSIGNEE RULES:
  - (TaskID, UserID) is unique; at most one LEAD per task.
  - Adding a LEAD demotes the existing LEAD to ASSISTANT and syncs the legacy
    Task.AssignedUserID field to the new LEAD.
  - Removing an assignee reverses that assignee's pending commission.
  - AssignTask is the legacy single-assignee operation: it replaces the LEAD
    and transfers the pending commission from the old lead to the new user,
    locking both wallets in sorted user-id order.

COMPLETION:
  For every current assignee, the assignee's own commission snapshot moves
  from pending to payable. The legacy task-level snapshot is used only when
  no assignee rows exist. A completion listener then recomputes the owning
  booking's completion percentage; recompute failures are logged, never
  propagated.

SEE ALSO:
  - wallet.go: Balance mutations
  - workflow.go: Bulk generation and cancellation of tasks
*/
package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// TaskEngine executes task operations, one unit of work each.
type TaskEngine struct {
	Store     Store
	Publisher Publisher
	Wallet    *WalletLedger
	Audit     *AuditChain
	Logger    *zap.Logger
	Currency  string
}

func NewTaskEngine(store Store, pub Publisher, logger *zap.Logger, currency string) *TaskEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskEngine{
		Store:     store,
		Publisher: pub,
		Wallet:    &WalletLedger{},
		Audit:     &AuditChain{},
		Logger:    logger,
		Currency:  currency,
	}
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

// AssignTask sets the task's single assignee (legacy operation). An existing
// LEAD is replaced and their pending commission transfers to the new user.
func (te *TaskEngine) AssignTask(ctx context.Context, tenant TenantID, taskID TaskID, userID UserID) (*Task, error) {
	var result *Task
	events := &eventBuffer{}

	err := te.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		task, err := te.lockAssignableTask(ctx, uow, tenant, taskID, userID)
		if err != nil {
			return err
		}

		assignees, err := uow.Assignees().ByTask(ctx, tenant, taskID)
		if err != nil {
			return err
		}

		var oldLead *TaskAssignee
		for i := range assignees {
			if assignees[i].Role == RoleLead {
				oldLead = &assignees[i]
			}
			if assignees[i].UserID == userID {
				// Already on the roster: promoting an assistant is
				// AddAssignee's job, re-assigning the lead is a no-op state
				// the caller must detect.
				return &PreconditionError{Reason: "user already assigned to task"}
			}
		}

		snapshot := task.CommissionSnapshot
		if oldLead != nil {
			// Replace: transfer the old lead's reserved commission.
			from := oldLead.UserID
			if err := uow.Assignees().Remove(ctx, tenant, taskID, oldLead.UserID); err != nil {
				return err
			}
			if oldLead.CommissionSnapshot.IsPositive() {
				if err := te.Wallet.TransferPending(ctx, uow, tenant, &from, &userID, oldLead.CommissionSnapshot); err != nil {
					return err
				}
			}
			snapshot = oldLead.CommissionSnapshot
		} else if snapshot.IsPositive() {
			// No roster rows: the pending commission may still sit with the
			// legacy single-assignee. Debit them, not thin air.
			var from *UserID
			if task.AssignedUserID != nil && *task.AssignedUserID != userID {
				from = task.AssignedUserID
			}
			if err := te.Wallet.TransferPending(ctx, uow, tenant, from, &userID, snapshot); err != nil {
				return err
			}
		}

		if err := uow.Assignees().Add(ctx, TaskAssignee{
			TaskID:             taskID,
			TenantID:           tenant,
			UserID:             userID,
			Role:               RoleLead,
			CommissionSnapshot: snapshot,
			CreatedAt:          time.Now().UTC(),
		}); err != nil {
			return err
		}

		oldUser := ""
		if task.AssignedUserID != nil {
			oldUser = string(*task.AssignedUserID)
		}
		task.AssignedUserID = &userID
		task.UpdatedAt = time.Now().UTC()
		if err := uow.Tasks().Save(ctx, task); err != nil {
			return err
		}

		te.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "task.assigned",
			EntityName: "task",
			EntityID:   string(taskID),
			OldValues:  map[string]any{"assigned_user_id": oldUser},
			NewValues:  map[string]any{"assigned_user_id": string(userID)},
		}, te.Logger)

		events.add(EventTaskAssigned, tenant, string(taskID), map[string]any{
			"task_id": string(taskID),
			"user_id": string(userID),
			"role":    string(RoleLead),
		})
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(te.Publisher)
	return result, nil
}

// AddAssignee adds a user to the task roster with the given role.
func (te *TaskEngine) AddAssignee(ctx context.Context, tenant TenantID, taskID TaskID, userID UserID, role AssigneeRole) (*Task, error) {
	var result *Task
	events := &eventBuffer{}

	err := te.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		task, err := te.lockAssignableTask(ctx, uow, tenant, taskID, userID)
		if err != nil {
			return err
		}

		assignees, err := uow.Assignees().ByTask(ctx, tenant, taskID)
		if err != nil {
			return err
		}
		for i := range assignees {
			if assignees[i].UserID == userID {
				return &PreconditionError{Reason: "user already assigned to task"}
			}
		}

		if role == RoleLead {
			// Demote the current lead; their snapshot and pending commission
			// stay untouched.
			for i := range assignees {
				if assignees[i].Role == RoleLead {
					demoted := assignees[i]
					demoted.Role = RoleAssistant
					if err := uow.Assignees().Save(ctx, demoted); err != nil {
						return err
					}
				}
			}
			task.AssignedUserID = &userID
		}

		snapshot := task.CommissionSnapshot
		if err := uow.Assignees().Add(ctx, TaskAssignee{
			TaskID:             taskID,
			TenantID:           tenant,
			UserID:             userID,
			Role:               role,
			CommissionSnapshot: snapshot,
			CreatedAt:          time.Now().UTC(),
		}); err != nil {
			return err
		}
		if snapshot.IsPositive() {
			if err := te.Wallet.AddPending(ctx, uow, tenant, userID, snapshot); err != nil {
				return err
			}
		}

		task.UpdatedAt = time.Now().UTC()
		if err := uow.Tasks().Save(ctx, task); err != nil {
			return err
		}

		te.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "task.assignee_added",
			EntityName: "task",
			EntityID:   string(taskID),
			NewValues:  map[string]any{"user_id": string(userID), "role": string(role)},
		}, te.Logger)

		events.add(EventTaskAssigned, tenant, string(taskID), map[string]any{
			"task_id": string(taskID),
			"user_id": string(userID),
			"role":    string(role),
		})
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(te.Publisher)
	return result, nil
}

// RemoveAssignee takes a user off the roster and reverses their pending
// commission. Removing the LEAD clears the legacy assignee field.
func (te *TaskEngine) RemoveAssignee(ctx context.Context, tenant TenantID, taskID TaskID, userID UserID) (*Task, error) {
	var result *Task

	err := te.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		task, err := uow.Tasks().FindLocked(ctx, tenant, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return ErrNotFound
		}

		assignees, err := uow.Assignees().ByTask(ctx, tenant, taskID)
		if err != nil {
			return err
		}
		var removed *TaskAssignee
		for i := range assignees {
			if assignees[i].UserID == userID {
				removed = &assignees[i]
				break
			}
		}
		if removed == nil {
			return ErrNotFound
		}

		if err := uow.Assignees().Remove(ctx, tenant, taskID, userID); err != nil {
			return err
		}
		if removed.CommissionSnapshot.IsPositive() {
			if err := te.Wallet.SubtractPending(ctx, uow, tenant, userID, removed.CommissionSnapshot); err != nil {
				return err
			}
		}
		if removed.Role == RoleLead {
			task.AssignedUserID = nil
		}
		task.UpdatedAt = time.Now().UTC()
		if err := uow.Tasks().Save(ctx, task); err != nil {
			return err
		}

		te.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "task.assignee_removed",
			EntityName: "task",
			EntityID:   string(taskID),
			OldValues:  map[string]any{"user_id": string(userID), "role": string(removed.Role)},
		}, te.Logger)

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockAssignableTask locks the task row, re-reads it and validates the new
// user against the tenant. The lock is taken before any decision read.
func (te *TaskEngine) lockAssignableTask(ctx context.Context, uow UnitOfWork, tenant TenantID, taskID TaskID, userID UserID) (*Task, error) {
	task, err := uow.Tasks().FindLocked(ctx, tenant, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if task.Status == TaskCompleted || task.Status == TaskCancelled {
		return nil, &PreconditionError{Reason: "task is " + string(task.Status)}
	}
	ok, err := uow.Staff().InTenant(ctx, tenant, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return task, nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// CompletionResult reports what completing a task accrued.
type CompletionResult struct {
	Task          *Task
	AccruedTotal  Money
	WalletChanged bool
}

// CompleteTask marks the task COMPLETED and moves every assignee's own
// commission snapshot from pending to payable. Field staff may only complete
// tasks they are assigned to.
func (te *TaskEngine) CompleteTask(ctx context.Context, tenant TenantID, taskID TaskID, actor Actor) (*CompletionResult, error) {
	var result *CompletionResult
	events := &eventBuffer{}

	err := te.Store.WithUnitOfWork(ctx, func(uow UnitOfWork) error {
		task, err := uow.Tasks().FindLocked(ctx, tenant, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return ErrNotFound
		}
		if task.Status == TaskCompleted {
			return &PreconditionError{Reason: "task already completed"}
		}
		if task.Status == TaskCancelled {
			return &PreconditionError{Reason: "task is cancelled"}
		}

		assignees, err := uow.Assignees().ByTask(ctx, tenant, taskID)
		if err != nil {
			return err
		}

		if actor.Role == RoleFieldStaff && !assigneeListContains(assignees, task, actor.UserID) {
			return ErrForbidden
		}

		accrued := Money{Currency: te.Currency}.Zero()
		changed := false
		if len(assignees) > 0 {
			// Per-assignee snapshots, not the legacy task-level one.
			for _, a := range assignees {
				if !a.CommissionSnapshot.IsPositive() {
					continue
				}
				if err := te.Wallet.MoveToPayable(ctx, uow, tenant, a.UserID, a.CommissionSnapshot); err != nil {
					return err
				}
				accrued = accrued.Add(a.CommissionSnapshot)
				changed = true
			}
		} else if task.AssignedUserID != nil && task.CommissionSnapshot.IsPositive() {
			if err := te.Wallet.MoveToPayable(ctx, uow, tenant, *task.AssignedUserID, task.CommissionSnapshot); err != nil {
				return err
			}
			accrued = accrued.Add(task.CommissionSnapshot)
			changed = true
		}

		task.Status = TaskCompleted
		task.UpdatedAt = time.Now().UTC()
		if err := uow.Tasks().Save(ctx, task); err != nil {
			return err
		}

		te.recomputeBookingCompletion(ctx, uow, tenant, task.BookingID)

		te.Audit.BestEffortAppend(ctx, uow, tenant, AppendInput{
			Action:     "task.completed",
			EntityName: "task",
			EntityID:   string(taskID),
			NewValues:  map[string]any{"status": string(TaskCompleted), "accrued": accrued.Value.String()},
		}, te.Logger)

		events.add(EventTaskCompleted, tenant, string(taskID), map[string]any{
			"task_id":    string(taskID),
			"booking_id": string(task.BookingID),
			"accrued":    accrued.Round().Value.String(),
		})
		result = &CompletionResult{Task: task, AccruedTotal: accrued.Round(), WalletChanged: changed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(te.Publisher)
	return result, nil
}

func assigneeListContains(assignees []TaskAssignee, task *Task, userID UserID) bool {
	for _, a := range assignees {
		if a.UserID == userID {
			return true
		}
	}
	if len(assignees) == 0 && task.AssignedUserID != nil && *task.AssignedUserID == userID {
		return true
	}
	return false
}

// recomputeBookingCompletion persists the owning booking's completion
// percentage. Tasks with no booking are skipped; failures are logged, never
// propagated - the task completion itself must stand.
func (te *TaskEngine) recomputeBookingCompletion(ctx context.Context, uow UnitOfWork, tenant TenantID, bookingID BookingID) {
	if bookingID == "" {
		return
	}
	if err := te.recompute(ctx, uow, tenant, bookingID); err != nil {
		te.Logger.Warn("completion percentage recompute failed",
			zap.String("tenant", string(tenant)),
			zap.String("booking_id", string(bookingID)),
			zap.Error(err))
	}
}

func (te *TaskEngine) recompute(ctx context.Context, uow UnitOfWork, tenant TenantID, bookingID BookingID) error {
	booking, err := uow.Bookings().FindLocked(ctx, tenant, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		return ErrNotFound
	}
	tasks, err := uow.Tasks().ByBooking(ctx, tenant, bookingID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	booking.CompletionPercent = int(math.Round(float64(completed) / float64(len(tasks)) * 100))
	booking.UpdatedAt = time.Now().UTC()
	return uow.Bookings().Save(ctx, booking)
}
