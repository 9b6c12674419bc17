// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/tidework/ops-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.Store entirely in memory. Units of work are
// serialized by one mutex, which models the single-writer behaviour the
// engine's locking discipline assumes; rollback is a snapshot restore.
type Memory struct {
	mu sync.Mutex

	bookings  map[rowKey]engine.Booking
	tasks     map[rowKey]engine.Task
	taskOrder []rowKey // creation order, for ByBooking
	assignees []engine.TaskAssignee
	wallets   map[rowKey]engine.EmployeeWallet
	entries   []engine.LedgerEntry
	audit     map[engine.TenantID][]engine.AuditEntry

	packages map[rowKey]engine.ServicePackage
	staff    map[engine.TenantID]map[engine.UserID]engine.StaffMember
	eligible map[rowKey][]engine.UserID // package -> eligible staff
	running  map[rowKey]bool            // task -> running time entry
}

type rowKey struct {
	Tenant engine.TenantID
	ID     string
}

func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[rowKey]engine.Booking),
		tasks:    make(map[rowKey]engine.Task),
		wallets:  make(map[rowKey]engine.EmployeeWallet),
		audit:    make(map[engine.TenantID][]engine.AuditEntry),
		packages: make(map[rowKey]engine.ServicePackage),
		staff:    make(map[engine.TenantID]map[engine.UserID]engine.StaffMember),
		eligible: make(map[rowKey][]engine.UserID),
		running:  make(map[rowKey]bool),
	}
}

// WithUnitOfWork runs fn against the live state under the store mutex. On
// error the pre-transaction snapshot is restored, so fn observes
// all-or-nothing semantics.
func (m *Memory) WithUnitOfWork(ctx context.Context, fn func(engine.UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	uow := &memoryUow{m: m}
	if err := fn(uow); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bookings  map[rowKey]engine.Booking
	tasks     map[rowKey]engine.Task
	taskOrder []rowKey
	assignees []engine.TaskAssignee
	wallets   map[rowKey]engine.EmployeeWallet
	entries   []engine.LedgerEntry
	audit     map[engine.TenantID][]engine.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		bookings:  make(map[rowKey]engine.Booking, len(m.bookings)),
		tasks:     make(map[rowKey]engine.Task, len(m.tasks)),
		taskOrder: append([]rowKey{}, m.taskOrder...),
		assignees: append([]engine.TaskAssignee{}, m.assignees...),
		wallets:   make(map[rowKey]engine.EmployeeWallet, len(m.wallets)),
		entries:   append([]engine.LedgerEntry{}, m.entries...),
		audit:     make(map[engine.TenantID][]engine.AuditEntry, len(m.audit)),
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.tasks {
		s.tasks[k] = v
	}
	for k, v := range m.wallets {
		s.wallets[k] = v
	}
	for k, v := range m.audit {
		s.audit[k] = append([]engine.AuditEntry{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.bookings = s.bookings
	m.tasks = s.tasks
	m.taskOrder = s.taskOrder
	m.assignees = s.assignees
	m.wallets = s.wallets
	m.entries = s.entries
	m.audit = s.audit
}

// =============================================================================
// FIXTURE SETUP - direct writes outside any unit of work
// =============================================================================

func (m *Memory) SeedBooking(b engine.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[rowKey{b.TenantID, string(b.ID)}] = b
}

func (m *Memory) SeedTask(t engine.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{t.TenantID, string(t.ID)}
	if _, exists := m.tasks[k]; !exists {
		m.taskOrder = append(m.taskOrder, k)
	}
	m.tasks[k] = t
}

func (m *Memory) SeedPackage(p engine.ServicePackage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[rowKey{p.TenantID, string(p.ID)}] = p
}

// SeedStaff registers a tenant member and the packages they can work.
func (m *Memory) SeedStaff(tenant engine.TenantID, s engine.StaffMember, eligibleFor ...engine.PackageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staff[tenant] == nil {
		m.staff[tenant] = make(map[engine.UserID]engine.StaffMember)
	}
	m.staff[tenant][s.UserID] = s
	for _, pkg := range eligibleFor {
		k := rowKey{tenant, string(pkg)}
		m.eligible[k] = append(m.eligible[k], s.UserID)
	}
}

func (m *Memory) SetRunningTimeEntry(tenant engine.TenantID, taskID engine.TaskID, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[rowKey{tenant, string(taskID)}] = running
}

// Wallet returns a copy of the user's wallet for assertions, or nil.
func (m *Memory) Wallet(tenant engine.TenantID, userID engine.UserID) *engine.EmployeeWallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[rowKey{tenant, string(userID)}]; ok {
		return &w
	}
	return nil
}

// LedgerEntries returns a copy of all ledger entries for assertions.
func (m *Memory) LedgerEntries() []engine.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.LedgerEntry{}, m.entries...)
}

// AuditEntries returns a copy of the tenant's audit chain.
func (m *Memory) AuditEntries(tenant engine.TenantID) []engine.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.AuditEntry{}, m.audit[tenant]...)
}

// CorruptAuditHash overwrites the stored hash of the entry at index i, for
// chain-integrity tests.
func (m *Memory) CorruptAuditHash(tenant engine.TenantID, i int, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[tenant][i].Hash = hash
}

// =============================================================================
// UNIT OF WORK VIEW
// =============================================================================

type memoryUow struct {
	m *Memory
}

func (u *memoryUow) Bookings() engine.BookingRepo   { return (*memBookings)(u) }
func (u *memoryUow) Tasks() engine.TaskRepo         { return (*memTasks)(u) }
func (u *memoryUow) Assignees() engine.AssigneeRepo { return (*memAssignees)(u) }
func (u *memoryUow) Wallets() engine.WalletRepo     { return (*memWallets)(u) }
func (u *memoryUow) Ledger() engine.LedgerRepo      { return (*memLedger)(u) }
func (u *memoryUow) Audit() engine.AuditRepo        { return (*memAudit)(u) }
func (u *memoryUow) Packages() engine.PackageReader { return (*memPackages)(u) }
func (u *memoryUow) Staff() engine.StaffDirectory   { return (*memStaff)(u) }

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

type memBookings memoryUow

func (r *memBookings) find(tenant engine.TenantID, id engine.BookingID) *engine.Booking {
	if b, ok := r.m.bookings[rowKey{tenant, string(id)}]; ok {
		return &b
	}
	return nil
}

func (r *memBookings) FindLocked(_ context.Context, tenant engine.TenantID, id engine.BookingID) (*engine.Booking, error) {
	// The unit-of-work mutex already serializes writers.
	return r.find(tenant, id), nil
}

func (r *memBookings) Find(_ context.Context, tenant engine.TenantID, id engine.BookingID) (*engine.Booking, error) {
	return r.find(tenant, id), nil
}

func (r *memBookings) Create(_ context.Context, b *engine.Booking) error {
	r.m.bookings[rowKey{b.TenantID, string(b.ID)}] = *b
	return nil
}

func (r *memBookings) Save(_ context.Context, b *engine.Booking) error {
	r.m.bookings[rowKey{b.TenantID, string(b.ID)}] = *b
	return nil
}

func (r *memBookings) ConfirmedForStaffOn(_ context.Context, tenant engine.TenantID, userID engine.UserID, date time.Time, exclude engine.BookingID) ([]engine.Booking, error) {
	var out []engine.Booking
	for k, b := range r.m.bookings {
		if k.Tenant != tenant || b.ID == exclude || b.Status != engine.BookingConfirmed {
			continue
		}
		if !sameDay(b.EventDate, date) {
			continue
		}
		if r.staffAssigned(tenant, b.ID, userID) {
			out = append(out, b)
		}
	}
	return out, nil
}

// staffAssigned reports whether the user works any task of the booking,
// via the roster or the legacy assignee field.
func (r *memBookings) staffAssigned(tenant engine.TenantID, bookingID engine.BookingID, userID engine.UserID) bool {
	for _, k := range r.m.taskOrder {
		t, ok := r.m.tasks[k]
		if !ok || t.TenantID != tenant || t.BookingID != bookingID {
			continue
		}
		if t.AssignedUserID != nil && *t.AssignedUserID == userID {
			return true
		}
		for _, a := range r.m.assignees {
			if a.TenantID == tenant && a.TaskID == t.ID && a.UserID == userID {
				return true
			}
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// -----------------------------------------------------------------------------
// Tasks
// -----------------------------------------------------------------------------

type memTasks memoryUow

func (r *memTasks) FindLocked(_ context.Context, tenant engine.TenantID, id engine.TaskID) (*engine.Task, error) {
	if t, ok := r.m.tasks[rowKey{tenant, string(id)}]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *memTasks) Create(_ context.Context, t *engine.Task) error {
	k := rowKey{t.TenantID, string(t.ID)}
	if _, exists := r.m.tasks[k]; !exists {
		r.m.taskOrder = append(r.m.taskOrder, k)
	}
	r.m.tasks[k] = *t
	return nil
}

func (r *memTasks) Save(_ context.Context, t *engine.Task) error {
	return r.Create(nil, t)
}

func (r *memTasks) ByBooking(_ context.Context, tenant engine.TenantID, bookingID engine.BookingID) ([]engine.Task, error) {
	var out []engine.Task
	for _, k := range r.m.taskOrder {
		t, ok := r.m.tasks[k]
		if ok && t.TenantID == tenant && t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTasks) HasRunningTimeEntry(_ context.Context, tenant engine.TenantID, id engine.TaskID) (bool, error) {
	return r.m.running[rowKey{tenant, string(id)}], nil
}

// -----------------------------------------------------------------------------
// Assignees
// -----------------------------------------------------------------------------

type memAssignees memoryUow

func (r *memAssignees) ByTask(_ context.Context, tenant engine.TenantID, taskID engine.TaskID) ([]engine.TaskAssignee, error) {
	var out []engine.TaskAssignee
	for _, a := range r.m.assignees {
		if a.TenantID == tenant && a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAssignees) Add(_ context.Context, a engine.TaskAssignee) error {
	r.m.assignees = append(r.m.assignees, a)
	return nil
}

func (r *memAssignees) Save(_ context.Context, a engine.TaskAssignee) error {
	for i := range r.m.assignees {
		if r.m.assignees[i].TenantID == a.TenantID && r.m.assignees[i].TaskID == a.TaskID && r.m.assignees[i].UserID == a.UserID {
			r.m.assignees[i] = a
			return nil
		}
	}
	r.m.assignees = append(r.m.assignees, a)
	return nil
}

func (r *memAssignees) Remove(_ context.Context, tenant engine.TenantID, taskID engine.TaskID, userID engine.UserID) error {
	for i := range r.m.assignees {
		a := r.m.assignees[i]
		if a.TenantID == tenant && a.TaskID == taskID && a.UserID == userID {
			r.m.assignees = append(r.m.assignees[:i], r.m.assignees[i+1:]...)
			return nil
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Wallets
// -----------------------------------------------------------------------------

type memWallets memoryUow

func (r *memWallets) FindLocked(_ context.Context, tenant engine.TenantID, userID engine.UserID) (*engine.EmployeeWallet, error) {
	if w, ok := r.m.wallets[rowKey{tenant, string(userID)}]; ok {
		return &w, nil
	}
	return nil, nil
}

func (r *memWallets) Create(_ context.Context, w *engine.EmployeeWallet) error {
	r.m.wallets[rowKey{w.TenantID, string(w.UserID)}] = *w
	return nil
}

func (r *memWallets) Save(_ context.Context, w *engine.EmployeeWallet) error {
	r.m.wallets[rowKey{w.TenantID, string(w.UserID)}] = *w
	return nil
}

// -----------------------------------------------------------------------------
// Money ledger
// -----------------------------------------------------------------------------

type memLedger memoryUow

func (r *memLedger) Append(_ context.Context, e engine.LedgerEntry) error {
	r.m.entries = append(r.m.entries, e)
	return nil
}

func (r *memLedger) IncomeForBooking(_ context.Context, tenant engine.TenantID, bookingID engine.BookingID) (engine.Money, error) {
	total := engine.Money{}
	first := true
	for _, e := range r.m.entries {
		if e.TenantID != tenant || e.Type != engine.EntryIncome || e.ReversalOf != nil {
			continue
		}
		if e.BookingID == nil || *e.BookingID != bookingID {
			continue
		}
		if first {
			total = e.Amount.Zero()
			first = false
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

func (r *memLedger) HasReversalFor(_ context.Context, tenant engine.TenantID, bookingID engine.BookingID) (bool, error) {
	for _, e := range r.m.entries {
		if e.TenantID == tenant && e.ReversalOf != nil && *e.ReversalOf == bookingID {
			return true, nil
		}
	}
	return false, nil
}

// -----------------------------------------------------------------------------
// Audit chain
// -----------------------------------------------------------------------------

type memAudit memoryUow

func (r *memAudit) HeadLocked(_ context.Context, tenant engine.TenantID) (*engine.AuditEntry, error) {
	chain := r.m.audit[tenant]
	if len(chain) == 0 {
		return nil, nil
	}
	head := chain[len(chain)-1]
	return &head, nil
}

func (r *memAudit) Append(_ context.Context, e engine.AuditEntry) error {
	r.m.audit[e.TenantID] = append(r.m.audit[e.TenantID], e)
	return nil
}

func (r *memAudit) Chain(_ context.Context, tenant engine.TenantID) ([]engine.AuditEntry, error) {
	return append([]engine.AuditEntry{}, r.m.audit[tenant]...), nil
}

// -----------------------------------------------------------------------------
// Read-only collaborators
// -----------------------------------------------------------------------------

type memPackages memoryUow

func (r *memPackages) Find(_ context.Context, tenant engine.TenantID, id engine.PackageID) (*engine.ServicePackage, error) {
	if p, ok := r.m.packages[rowKey{tenant, string(id)}]; ok {
		return &p, nil
	}
	return nil, nil
}

type memStaff memoryUow

func (r *memStaff) EligibleForPackage(_ context.Context, tenant engine.TenantID, id engine.PackageID) ([]engine.StaffMember, error) {
	var out []engine.StaffMember
	for _, userID := range r.m.eligible[rowKey{tenant, string(id)}] {
		if s, ok := r.m.staff[tenant][userID]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memStaff) InTenant(_ context.Context, tenant engine.TenantID, userID engine.UserID) (bool, error) {
	_, ok := r.m.staff[tenant][userID]
	return ok, nil
}

func (r *memStaff) Emails(_ context.Context, tenant engine.TenantID, userIDs []engine.UserID) ([]string, error) {
	var out []string
	for _, id := range userIDs {
		if s, ok := r.m.staff[tenant][id]; ok && s.Email != "" {
			out = append(out, s.Email)
		}
	}
	return out, nil
}
