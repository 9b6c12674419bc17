/*
store.go - Persistence interfaces for the workflow engine

PURPOSE:
  Defines the boundary between the domain logic and the database. The engine
  depends only on these interfaces, never on a concrete store. Entities are
  plain records; there are no ORM relations or cascading loads - each workflow
  step asks for exactly the narrow projection it needs.

UNIT OF WORK:
  Store.WithUnitOfWork opens one transaction, hands the repositories bound to
  it to fn, and commits iff fn returns nil. There is no partial commit: any
  error rolls back everything. Row locks acquired through FindLocked are held
  until commit/rollback.

LOCKING CONTRACT:
  - FindLocked acquires an exclusive row lock before returning; every workflow
    step locks its primary row before any read used for decision-making.
  - Wallet rows are locked before mutation; when two wallets are touched in one
    operation the caller locks them in sorted user-id order (see wallet.go).
  - The per-tenant audit head is locked before computing the next hash.

IMPLEMENTATIONS:
  - store/sqlite: BEGIN IMMEDIATE transactions over SQLite (single writer)
  - engine/store (memory): snapshot + rollback, serialized units of work

SEE ALSO:
  - workflow.go: The only caller that opens units of work
  - engine/store/memory.go, store/sqlite/sqlite.go: Implementations
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Unit-of-work factory
// =============================================================================

// Store opens units of work. A unit of work either commits in full or rolls
// back in full; there is no partial-progress checkpoint.
type Store interface {
	// WithUnitOfWork runs fn inside one transaction. If fn returns an error
	// the transaction is rolled back and the error is returned unchanged.
	WithUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork exposes the repositories bound to one open transaction. All
// reads and writes through it participate in the same commit/rollback.
type UnitOfWork interface {
	Bookings() BookingRepo
	Tasks() TaskRepo
	Assignees() AssigneeRepo
	Wallets() WalletRepo
	Ledger() LedgerRepo
	Audit() AuditRepo
	Packages() PackageReader
	Staff() StaffDirectory
}

// =============================================================================
// BOOKING REPOSITORY
// =============================================================================

type BookingRepo interface {
	// FindLocked reads a booking under an exclusive row lock.
	FindLocked(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error)

	// Find reads without locking. Used for read-only steps (duplicate).
	Find(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error)

	Create(ctx context.Context, b *Booking) error
	Save(ctx context.Context, b *Booking) error

	// ConfirmedForStaffOn returns the confirmed bookings a staff member is
	// assigned to on a given event date, excluding the given booking id
	// (pass "" for none). Used by the conflict checker.
	ConfirmedForStaffOn(ctx context.Context, tenant TenantID, userID UserID, date time.Time, exclude BookingID) ([]Booking, error)
}

// =============================================================================
// TASK REPOSITORY
// =============================================================================

type TaskRepo interface {
	FindLocked(ctx context.Context, tenant TenantID, id TaskID) (*Task, error)
	Create(ctx context.Context, t *Task) error
	Save(ctx context.Context, t *Task) error

	// ByBooking returns all tasks for a booking, creation order.
	ByBooking(ctx context.Context, tenant TenantID, bookingID BookingID) ([]Task, error)

	// HasRunningTimeEntry reports whether a time entry is currently running
	// against the task. Running timers block reschedules.
	HasRunningTimeEntry(ctx context.Context, tenant TenantID, id TaskID) (bool, error)
}

// =============================================================================
// ASSIGNEE REPOSITORY
// =============================================================================

type AssigneeRepo interface {
	// ByTask returns the task's assignees. (TaskID, UserID) is unique.
	ByTask(ctx context.Context, tenant TenantID, taskID TaskID) ([]TaskAssignee, error)

	Add(ctx context.Context, a TaskAssignee) error
	Save(ctx context.Context, a TaskAssignee) error
	Remove(ctx context.Context, tenant TenantID, taskID TaskID, userID UserID) error
}

// =============================================================================
// WALLET REPOSITORY
// =============================================================================

type WalletRepo interface {
	// FindLocked reads a wallet under an exclusive row lock.
	// Returns (nil, nil) when the user has no wallet yet.
	FindLocked(ctx context.Context, tenant TenantID, userID UserID) (*EmployeeWallet, error)

	Create(ctx context.Context, w *EmployeeWallet) error
	Save(ctx context.Context, w *EmployeeWallet) error
}

// =============================================================================
// MONEY LEDGER REPOSITORY - append-only
// =============================================================================

type LedgerRepo interface {
	// Append adds an immutable entry. No Update, no Delete.
	Append(ctx context.Context, e LedgerEntry) error

	// IncomeForBooking returns the sum of INCOME entries recorded for the
	// booking, reversals excluded.
	IncomeForBooking(ctx context.Context, tenant TenantID, bookingID BookingID) (Money, error)

	// HasReversalFor reports whether a reversal entry already references the
	// booking. Guards against double reversal on retried cancels.
	HasReversalFor(ctx context.Context, tenant TenantID, bookingID BookingID) (bool, error)
}

// =============================================================================
// AUDIT REPOSITORY - hash-chained, append-only
// =============================================================================

type AuditRepo interface {
	// HeadLocked reads the tenant's latest audit entry under an exclusive
	// lock, serializing concurrent appends for the tenant.
	// Returns (nil, nil) for an empty chain.
	HeadLocked(ctx context.Context, tenant TenantID) (*AuditEntry, error)

	Append(ctx context.Context, e AuditEntry) error

	// Chain returns the tenant's entries in sequence order.
	Chain(ctx context.Context, tenant TenantID) ([]AuditEntry, error)
}

// =============================================================================
// READ-ONLY COLLABORATORS
// =============================================================================

// PackageReader resolves the package projection used by confirmation and
// conflict checking.
type PackageReader interface {
	Find(ctx context.Context, tenant TenantID, id PackageID) (*ServicePackage, error)
}

// StaffDirectory answers the staff questions the engine asks. Membership and
// eligibility data is owned by an external collaborator.
type StaffDirectory interface {
	// EligibleForPackage enumerates staff who can work the given package.
	EligibleForPackage(ctx context.Context, tenant TenantID, id PackageID) ([]StaffMember, error)

	// InTenant reports whether the user belongs to the tenant.
	InTenant(ctx context.Context, tenant TenantID, userID UserID) (bool, error)

	// Emails resolves notification addresses for the given users, preserving
	// order and skipping unknown ids.
	Emails(ctx context.Context, tenant TenantID, userIDs []UserID) ([]string, error)
}
