package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestTaskEngine(t *testing.T) (*engine.TaskEngine, *store.Memory, *capturePublisher) {
	t.Helper()
	mem := store.NewMemory()
	pub := &capturePublisher{}
	te := engine.NewTaskEngine(mem, pub, nil, "USD")
	return te, mem, pub
}

// seedAssignableTask creates a pending task with a commission snapshot and the
// staff members it can be assigned to.
func seedAssignableTask(mem *store.Memory, id engine.TaskID, commission engine.Money, staff ...engine.UserID) {
	mem.SeedTask(engine.Task{
		ID:                 id,
		TenantID:           testTenant,
		BookingID:          "bk-1",
		Title:              "Photography",
		Status:             engine.TaskPending,
		CommissionSnapshot: commission,
		DueDate:            futureDate(14),
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	})
	for _, u := range staff {
		mem.SeedStaff(testTenant, engine.StaffMember{UserID: u})
	}
}

func taskOf(t *testing.T, mem *store.Memory, id engine.TaskID) *engine.Task {
	t.Helper()
	var task *engine.Task
	err := mem.WithUnitOfWork(context.Background(), func(uow engine.UnitOfWork) error {
		var err error
		task, err = uow.Tasks().FindLocked(context.Background(), testTenant, id)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func assigneesOf(t *testing.T, mem *store.Memory, id engine.TaskID) []engine.TaskAssignee {
	t.Helper()
	var out []engine.TaskAssignee
	err := mem.WithUnitOfWork(context.Background(), func(uow engine.UnitOfWork) error {
		var err error
		out, err = uow.Assignees().ByTask(context.Background(), testTenant, id)
		return err
	})
	require.NoError(t, err)
	return out
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

func TestAssignTask_AccruesPendingCommission(t *testing.T) {
	te, mem, pub := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	task, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)
	require.NotNil(t, task.AssignedUserID)
	assert.Equal(t, engine.UserID("staff-1"), *task.AssignedUserID)

	wallet := mem.Wallet(testTenant, "staff-1")
	require.NotNil(t, wallet)
	assert.True(t, wallet.PendingBalance.Equal(usd(50)))
	assert.True(t, wallet.PayableBalance.IsZero())

	roster := assigneesOf(t, mem, "task-1")
	require.Len(t, roster, 1)
	assert.Equal(t, engine.RoleLead, roster[0].Role)

	assert.Len(t, pub.ofType(engine.EventTaskAssigned), 1)
}

func TestAssignTask_Reassignment_TransfersPending(t *testing.T) {
	// GIVEN: staff-1 is the lead with 50 pending
	// WHEN: The task is reassigned to staff-2
	// THEN: staff-1 pending drops to 0, staff-2 pending is 50, total conserved

	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1", "staff-2")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)
	task, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-2")
	require.NoError(t, err)

	assert.Equal(t, engine.UserID("staff-2"), *task.AssignedUserID)
	assert.True(t, mem.Wallet(testTenant, "staff-1").PendingBalance.IsZero())
	assert.True(t, mem.Wallet(testTenant, "staff-2").PendingBalance.Equal(usd(50)))

	roster := assigneesOf(t, mem, "task-1")
	require.Len(t, roster, 1)
	assert.Equal(t, engine.UserID("staff-2"), roster[0].UserID)
}

func TestAssignTask_LegacyAssignee_TransfersPending(t *testing.T) {
	// GIVEN: A task assigned through the legacy field only (no roster rows),
	//        with 50 pending sitting in the legacy assignee's wallet
	// WHEN: The task is reassigned to staff-new
	// THEN: staff-old is debited, staff-new is credited, total pending stays 50

	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-old", "staff-new")
	legacy := engine.UserID("staff-old")
	task := taskOf(t, mem, "task-1")
	task.AssignedUserID = &legacy
	mem.SeedTask(*task)

	wl := &engine.WalletLedger{}
	err := mem.WithUnitOfWork(context.Background(), func(uow engine.UnitOfWork) error {
		return wl.AddPending(context.Background(), uow, testTenant, legacy, usd(50))
	})
	require.NoError(t, err)

	reassigned, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-new")
	require.NoError(t, err)
	assert.Equal(t, engine.UserID("staff-new"), *reassigned.AssignedUserID)

	assert.True(t, mem.Wallet(testTenant, "staff-old").PendingBalance.IsZero())
	assert.True(t, mem.Wallet(testTenant, "staff-new").PendingBalance.Equal(usd(50)))
}

func TestAssignTask_ConcurrentAssignments_ConservePending(t *testing.T) {
	// GIVEN: An unassigned task with a 50 commission snapshot
	// WHEN: Two assignments for different users race
	// THEN: Exactly one lead remains, holding all 50 pending; the loser's
	//       wallet is empty

	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1", "staff-2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []engine.UserID{"staff-1", "staff-2"} {
		wg.Add(1)
		go func(i int, user engine.UserID) {
			defer wg.Done()
			_, errs[i] = te.AssignTask(context.Background(), testTenant, "task-1", user)
		}(i, user)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	roster := assigneesOf(t, mem, "task-1")
	require.Len(t, roster, 1)
	winner := roster[0].UserID
	task := taskOf(t, mem, "task-1")
	require.NotNil(t, task.AssignedUserID)
	assert.Equal(t, winner, *task.AssignedUserID)

	loser := engine.UserID("staff-1")
	if winner == loser {
		loser = "staff-2"
	}
	assert.True(t, mem.Wallet(testTenant, winner).PendingBalance.Equal(usd(50)))
	assert.True(t, mem.Wallet(testTenant, loser).PendingBalance.IsZero())
}

func TestAssignTask_UnknownStaff_NotFound(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50))

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "outsider")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestAssignTask_CompletedTask_Rejected(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")
	done := taskOf(t, mem, "task-1")
	done.Status = engine.TaskCompleted
	mem.SeedTask(*done)

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	assert.ErrorIs(t, err, engine.ErrPreconditionFailed)
}

func TestAddAssignee_LeadDemotesExistingLead(t *testing.T) {
	// GIVEN: staff-1 is lead
	// WHEN: staff-2 is added as LEAD
	// THEN: staff-1 becomes ASSISTANT and keeps their pending commission

	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1", "staff-2")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)
	task, err := te.AddAssignee(context.Background(), testTenant, "task-1", "staff-2", engine.RoleLead)
	require.NoError(t, err)

	assert.Equal(t, engine.UserID("staff-2"), *task.AssignedUserID)

	roles := map[engine.UserID]engine.AssigneeRole{}
	for _, a := range assigneesOf(t, mem, "task-1") {
		roles[a.UserID] = a.Role
	}
	assert.Equal(t, engine.RoleAssistant, roles["staff-1"])
	assert.Equal(t, engine.RoleLead, roles["staff-2"])

	// Both hold their own pending commission.
	assert.True(t, mem.Wallet(testTenant, "staff-1").PendingBalance.Equal(usd(50)))
	assert.True(t, mem.Wallet(testTenant, "staff-2").PendingBalance.Equal(usd(50)))
}

func TestAddAssignee_Duplicate_Rejected(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	_, err := te.AddAssignee(context.Background(), testTenant, "task-1", "staff-1", engine.RoleAssistant)
	require.NoError(t, err)
	_, err = te.AddAssignee(context.Background(), testTenant, "task-1", "staff-1", engine.RoleLead)
	assert.ErrorIs(t, err, engine.ErrPreconditionFailed)
}

func TestRemoveAssignee_ReversesPendingAndClearsLead(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)

	task, err := te.RemoveAssignee(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)
	assert.Nil(t, task.AssignedUserID)
	assert.True(t, mem.Wallet(testTenant, "staff-1").PendingBalance.IsZero())
	assert.Empty(t, assigneesOf(t, mem, "task-1"))
}

func TestRemoveAssignee_NotOnRoster_NotFound(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	_, err := te.RemoveAssignee(context.Background(), testTenant, "task-1", "staff-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestCompleteTask_MovesPendingToPayable(t *testing.T) {
	te, mem, pub := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)

	result, err := te.CompleteTask(context.Background(), testTenant, "task-1", engine.Actor{UserID: "admin-1", Role: engine.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, engine.TaskCompleted, result.Task.Status)
	assert.True(t, result.AccruedTotal.Equal(usd(50)))
	assert.True(t, result.WalletChanged)

	wallet := mem.Wallet(testTenant, "staff-1")
	assert.True(t, wallet.PendingBalance.IsZero())
	assert.True(t, wallet.PayableBalance.Equal(usd(50)))

	assert.Len(t, pub.ofType(engine.EventTaskCompleted), 1)
}

func TestCompleteTask_EachAssigneeAccruesOwnSnapshot(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1", "staff-2")

	_, err := te.AddAssignee(context.Background(), testTenant, "task-1", "staff-1", engine.RoleLead)
	require.NoError(t, err)
	_, err = te.AddAssignee(context.Background(), testTenant, "task-1", "staff-2", engine.RoleAssistant)
	require.NoError(t, err)

	result, err := te.CompleteTask(context.Background(), testTenant, "task-1", engine.Actor{UserID: "admin-1", Role: engine.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, result.AccruedTotal.Equal(usd(100)))

	assert.True(t, mem.Wallet(testTenant, "staff-1").PayableBalance.Equal(usd(50)))
	assert.True(t, mem.Wallet(testTenant, "staff-2").PayableBalance.Equal(usd(50)))
}

func TestCompleteTask_FieldStaffNotAssigned_Forbidden(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1", "staff-2")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)

	_, err = te.CompleteTask(context.Background(), testTenant, "task-1", engine.Actor{UserID: "staff-2", Role: engine.RoleFieldStaff})
	assert.ErrorIs(t, err, engine.ErrForbidden)
	assert.Equal(t, engine.TaskPending, taskOf(t, mem, "task-1").Status)
}

func TestCompleteTask_AssignedFieldStaff_Allowed(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	_, err := te.AssignTask(context.Background(), testTenant, "task-1", "staff-1")
	require.NoError(t, err)

	_, err = te.CompleteTask(context.Background(), testTenant, "task-1", engine.Actor{UserID: "staff-1", Role: engine.RoleFieldStaff})
	assert.NoError(t, err)
}

func TestCompleteTask_AlreadyCompleted_Rejected(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50), "staff-1")

	admin := engine.Actor{UserID: "admin-1", Role: engine.RoleAdmin}
	_, err := te.CompleteTask(context.Background(), testTenant, "task-1", admin)
	require.NoError(t, err)
	_, err = te.CompleteTask(context.Background(), testTenant, "task-1", admin)
	assert.ErrorIs(t, err, engine.ErrPreconditionFailed)
}

func TestCompleteTask_UnassignedTask_NoWalletChange(t *testing.T) {
	te, mem, _ := newTestTaskEngine(t)
	seedAssignableTask(mem, "task-1", usd(50))

	result, err := te.CompleteTask(context.Background(), testTenant, "task-1", engine.Actor{UserID: "admin-1", Role: engine.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, result.WalletChanged)
	assert.True(t, result.AccruedTotal.IsZero())
}

func TestCompleteTask_UpdatesBookingCompletionPercent(t *testing.T) {
	// GIVEN: A confirmed booking with 3 tasks
	// WHEN: One task completes
	// THEN: Booking shows 33 percent

	te, mem, _ := newTestTaskEngine(t)
	wf := engine.NewWorkflow(mem, engine.NopPublisher{}, nil, engine.DefaultConfig())
	seedShootPackage(mem, "pkg-1", 1)
	mem.SeedStaff(testTenant, engine.StaffMember{UserID: "staff-1"}, "pkg-1")
	seedDraftBooking(mem, "bk-1", "pkg-1")
	_, err := wf.Confirm(context.Background(), testTenant, "bk-1")
	require.NoError(t, err)

	task := tasksOf(t, mem, "bk-1")[0]
	_, err = te.CompleteTask(context.Background(), testTenant, task.ID, engine.Actor{UserID: "admin-1", Role: engine.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, 33, bookingOf(t, mem, "bk-1").CompletionPercent)
}
