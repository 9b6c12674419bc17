package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/engine/store"
)

func mustWindow(t *testing.T, start string, minutes int) engine.Window {
	t.Helper()
	day := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	w, err := engine.NewWindow(day, start, minutes)
	require.NoError(t, err)
	return w
}

func TestWindow_Overlaps(t *testing.T) {
	cases := []struct {
		name     string
		a, b     engine.Window
		overlaps bool
	}{
		{
			name:     "identical windows",
			a:        mustWindow(t, "10:00", 60),
			b:        mustWindow(t, "10:00", 60),
			overlaps: true,
		},
		{
			name:     "partial overlap",
			a:        mustWindow(t, "10:00", 120),
			b:        mustWindow(t, "11:00", 120),
			overlaps: true,
		},
		{
			name:     "containment",
			a:        mustWindow(t, "09:00", 480),
			b:        mustWindow(t, "12:00", 60),
			overlaps: true,
		},
		{
			name:     "back to back is not a conflict",
			a:        mustWindow(t, "10:00", 60),
			b:        mustWindow(t, "11:00", 60),
			overlaps: false,
		},
		{
			name:     "disjoint",
			a:        mustWindow(t, "08:00", 60),
			b:        mustWindow(t, "14:00", 60),
			overlaps: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.overlaps, c.a.Overlaps(c.b))
			assert.Equal(t, c.overlaps, c.b.Overlaps(c.a), "overlap must be symmetric")
		})
	}
}

func TestNewWindow_InvalidStartTime(t *testing.T) {
	day := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	_, err := engine.NewWindow(day, "25:00", 60)
	assert.Error(t, err)

	_, err = engine.NewWindow(day, "10:75", 60)
	assert.Error(t, err)

	_, err = engine.NewWindow(day, "not a time", 60)
	assert.Error(t, err)
}

func TestAvailabilityReport_AsError(t *testing.T) {
	ok := engine.AvailabilityReport{OK: true, RequiredStaffCount: 1, AvailableCount: 2}
	assert.NoError(t, ok.AsError())

	failed := engine.AvailabilityReport{OK: false, RequiredStaffCount: 2, EligibleCount: 2, BusyCount: 1, AvailableCount: 1}
	err := failed.AsError()
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConflict)

	var conflict *engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.RequiredStaffCount)
	assert.Equal(t, 1, conflict.BusyCount)
}

// =============================================================================
// CONFLICT CHECKER
// =============================================================================

func checkAvailability(t *testing.T, mem *store.Memory, in engine.CheckInput) engine.AvailabilityReport {
	t.Helper()
	checker := &engine.ConflictChecker{}
	var report engine.AvailabilityReport
	err := mem.WithUnitOfWork(context.Background(), func(uow engine.UnitOfWork) error {
		var err error
		report, err = checker.Check(context.Background(), uow, testTenant, in)
		return err
	})
	require.NoError(t, err)
	return report
}

func TestConflictChecker_AllStaffFree(t *testing.T) {
	mem := store.NewMemory()
	seedShootPackage(mem, "pkg-1", 2)
	mem.SeedStaff(testTenant, engine.StaffMember{UserID: "staff-1"}, "pkg-1")
	mem.SeedStaff(testTenant, engine.StaffMember{UserID: "staff-2"}, "pkg-1")

	report := checkAvailability(t, mem, engine.CheckInput{
		PackageID:       "pkg-1",
		EventDate:       futureDate(30),
		StartTime:       "10:00",
		DurationMinutes: 120,
	})
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.EligibleCount)
	assert.Equal(t, 0, report.BusyCount)
	assert.Equal(t, 2, report.AvailableCount)
}

func TestConflictChecker_BackToBackBookings_NoConflict(t *testing.T) {
	// GIVEN: staff-1 works 08:00-10:00 on the requested day
	// WHEN: Checking a 10:00-12:00 window
	// THEN: Touching boundaries do not make them busy

	mem := store.NewMemory()
	seedShootPackage(mem, "pkg-1", 1)
	mem.SeedStaff(testTenant, engine.StaffMember{UserID: "staff-1"}, "pkg-1")

	day := futureDate(30)
	other := engine.Booking{
		ID:              "bk-other",
		TenantID:        testTenant,
		Status:          engine.BookingConfirmed,
		PackageID:       "pkg-1",
		EventDate:       day,
		StartTime:       "08:00",
		DurationMinutes: 120,
		TotalPrice:      usd(100),
	}
	mem.SeedBooking(other)
	lead := engine.UserID("staff-1")
	mem.SeedTask(engine.Task{
		ID: "task-other", TenantID: testTenant, BookingID: "bk-other",
		Status: engine.TaskPending, AssignedUserID: &lead, DueDate: day,
	})

	report := checkAvailability(t, mem, engine.CheckInput{
		PackageID:       "pkg-1",
		EventDate:       day,
		StartTime:       "10:00",
		DurationMinutes: 120,
	})
	assert.True(t, report.OK)
	assert.Equal(t, 0, report.BusyCount)
}

func TestConflictChecker_ExcludeSkipsOwnBooking(t *testing.T) {
	// Reschedule passes the booking's own id so it never conflicts with itself.
	mem := store.NewMemory()
	seedShootPackage(mem, "pkg-1", 1)
	mem.SeedStaff(testTenant, engine.StaffMember{UserID: "staff-1"}, "pkg-1")

	day := futureDate(30)
	self := engine.Booking{
		ID:              "bk-1",
		TenantID:        testTenant,
		Status:          engine.BookingConfirmed,
		PackageID:       "pkg-1",
		EventDate:       day,
		StartTime:       "10:00",
		DurationMinutes: 120,
		TotalPrice:      usd(100),
	}
	mem.SeedBooking(self)
	lead := engine.UserID("staff-1")
	mem.SeedTask(engine.Task{
		ID: "task-1", TenantID: testTenant, BookingID: "bk-1",
		Status: engine.TaskPending, AssignedUserID: &lead, DueDate: day,
	})

	report := checkAvailability(t, mem, engine.CheckInput{
		PackageID:       "pkg-1",
		EventDate:       day,
		StartTime:       "10:30",
		DurationMinutes: 120,
		Exclude:         "bk-1",
	})
	assert.True(t, report.OK)
	assert.Equal(t, 0, report.BusyCount)
}

func TestConflictChecker_UnknownPackage_NotFound(t *testing.T) {
	mem := store.NewMemory()
	checker := &engine.ConflictChecker{}
	err := mem.WithUnitOfWork(context.Background(), func(uow engine.UnitOfWork) error {
		_, err := checker.Check(context.Background(), uow, testTenant, engine.CheckInput{
			PackageID:       "missing",
			EventDate:       futureDate(30),
			StartTime:       "10:00",
			DurationMinutes: 60,
		})
		return err
	})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
