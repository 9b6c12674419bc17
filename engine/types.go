/*
Package engine provides the transactional workflow core of the operations ledger.

PURPOSE:
  This package contains the tenant-scoped domain types and algorithms that turn
  a booking into scheduled tasks, track staff commission through a two-stage
  wallet, and keep a tamper-evident audit chain over all of it. Everything here
  runs inside a unit of work: the orchestrator opens one, acquires row locks,
  mutates entities, and commits or rolls back in full.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point amount with a currency (decimal.Decimal underneath)
  - Booking / Task / TaskAssignee: The scheduling entities
  - EmployeeWallet: Per-user pending/payable commission balances
  - LedgerEntry: An immutable money-ledger row (reversals are new rows)
  - TenantID and friends: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only reversed
  2. Precision: decimal.Decimal avoids floating-point drift; rounding happens
     at the point of persistence, never mid-calculation
  3. Type Safety: Strong ID types prevent mixing bookings, tasks and users
  4. Explicit tenancy: Every operation takes a TenantID parameter; there is no
     ambient or thread-local tenant state

SEE ALSO:
  - transitions.go: Booking state machine
  - wallet.go: Commission wallet operations
  - workflow.go: The orchestrator composing all of it
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type BookingID string
type TaskID string
type UserID string
type PackageID string

// =============================================================================
// MONEY - Fixed-point amount with currency
// =============================================================================

// Money is an amount in a single currency. Arithmetic keeps full decimal
// precision; Round is applied by the persistence layer when a value is
// written, using the currency's scale.
type Money struct {
	Value    decimal.Decimal
	Currency string
}

// zeroDecimalCurrencies have no minor unit; amounts round to whole numbers.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
}

// CurrencyScale returns the number of decimal places amounts of the given
// currency are persisted with.
func CurrencyScale(currency string) int32 {
	if zeroDecimalCurrencies[currency] {
		return 0
	}
	return 2
}

func NewMoney(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency string) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money              { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money        { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money        { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool    { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool       { return m.Value.Equal(b.Value) }

// Round truncates to the currency's persistence scale. Call at write time only.
func (m Money) Round() Money {
	return Money{Value: m.Value.Round(CurrencyScale(m.Currency)), Currency: m.Currency}
}

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingDraft     BookingStatus = "DRAFT"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking is the tenant-scoped root entity. Status moves only through the
// transition table in transitions.go; monetary fields are non-negative.
type Booking struct {
	ID       BookingID
	TenantID TenantID

	Status          BookingStatus
	PackageID       PackageID
	EventDate       time.Time // date component only, UTC midnight
	StartTime       string    // "HH:mm", empty until scheduled
	DurationMinutes int

	TotalPrice Money
	SubTotal   Money
	Tax        Money
	Deposit    Money
	AmountPaid Money
	Refund     Money

	CompletionPercent  int
	CancellationReason string
	CancelledAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scheduled reports whether the booking carries a concrete time window.
func (b *Booking) Scheduled() bool {
	return b.StartTime != "" && b.DurationMinutes > 0
}

// =============================================================================
// TASK
// =============================================================================

type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Task belongs to exactly one booking. CommissionSnapshot is frozen at
// creation time and immutable once accrued into a wallet. AssignedUserID is
// the legacy single-assignee field, kept in sync with the current LEAD.
type Task struct {
	ID       TaskID
	TenantID TenantID

	BookingID      BookingID
	Title          string
	Status         TaskStatus
	AssignedUserID *UserID

	CommissionSnapshot Money
	DueDate            time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TASK ASSIGNEE - multi-assignee join entity
// =============================================================================

type AssigneeRole string

const (
	RoleLead      AssigneeRole = "LEAD"
	RoleAssistant AssigneeRole = "ASSISTANT"
)

// TaskAssignee links a task to a user. (TaskID, UserID) is unique; at most one
// LEAD per task.
type TaskAssignee struct {
	TaskID             TaskID
	TenantID           TenantID
	UserID             UserID
	Role               AssigneeRole
	CommissionSnapshot Money
	CreatedAt          time.Time
}

// =============================================================================
// EMPLOYEE WALLET - two-stage commission balances
// =============================================================================

// EmployeeWallet holds one user's commission in two stages: pending (task
// assigned, not yet delivered) and payable (task completed, owed at next
// payout). Both balances stay >= 0.
type EmployeeWallet struct {
	TenantID       TenantID
	UserID         UserID
	PendingBalance Money
	PayableBalance Money
	UpdatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRY - immutable money-ledger row
// =============================================================================

type EntryType string

const (
	EntryIncome  EntryType = "INCOME"
	EntryExpense EntryType = "EXPENSE"
	EntryPayroll EntryType = "PAYROLL"
)

// LedgerEntry is an immutable row in the money ledger. Amounts are signed;
// reversal entries carry a negative income amount and reference the booking
// they reverse via ReversalOf. Corrections are new rows, never edits.
type LedgerEntry struct {
	ID       string
	TenantID TenantID

	Type        EntryType
	Amount      Money
	Description string

	BookingID  *BookingID
	TaskID     *TaskID
	ReversalOf *BookingID

	CreatedAt time.Time
}

// =============================================================================
// READ PROJECTIONS - narrow views loaded per workflow step
// =============================================================================

// ServicePackage is the projection of a package needed by confirmation and
// conflict checking: staffing requirement plus the task blueprint.
type ServicePackage struct {
	ID                 PackageID
	TenantID           TenantID
	Name               string
	RequiredStaffCount int
	Items              []PackageItem
}

// PackageItem describes one line of a package: Quantity tasks of this type are
// generated on confirmation, each carrying Commission as its snapshot.
type PackageItem struct {
	TaskTypeName string
	Quantity     int
	Commission   Money
}

// StaffMember is the projection the conflict checker needs.
type StaffMember struct {
	UserID UserID
	Email  string
}

// UserRole gates task completion for field staff.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleManager    UserRole = "MANAGER"
	RoleFieldStaff UserRole = "FIELD_STAFF"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID UserID
	Role   UserRole
}
