/*
Package sqlite provides the SQLite-backed implementation of engine.Store.

PURPOSE:
  Implements the unit-of-work and all repository interfaces over SQLite. In
  production the same patterns apply to PostgreSQL - BEGIN IMMEDIATE becomes
  row-level SELECT ... FOR UPDATE, everything else is minor dialect.

UNIT OF WORK:
  WithUnitOfWork opens a transaction with the write lock taken up front
  (_txlock=immediate). SQLite has a single writer, so two units of work
  touching the same rows are serialized the same way row locks would
  serialize them. fn returning an error rolls the whole transaction back.

KEY TABLES:
  bookings, tasks, task_assignees:  Scheduling entities
  wallets:                          Per-user commission balances
  ledger_entries:                   Append-only money ledger
  audit_log:                        Hash-chained audit entries per tenant
  packages, package_items:          Package projections
  staff, staff_eligibility:         Staff directory
  time_entries:                     Running-timer checks for reschedule

APPEND-ONLY ENFORCEMENT:
  ledger_entries and audit_log have no UPDATE or DELETE paths. Corrections
  to the money ledger are reversal rows referencing the original booking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidework/ops-engine/engine"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite store. Use ":memory:" for an in-memory
// database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps write-lock semantics simple.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		package_id TEXT NOT NULL,
		event_date TEXT NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		total_price TEXT NOT NULL,
		sub_total TEXT NOT NULL,
		tax TEXT NOT NULL,
		deposit TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		refund TEXT NOT NULL,
		currency TEXT NOT NULL,
		completion_percent INTEGER NOT NULL DEFAULT 0,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancelled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_tenant_status_date
		ON bookings(tenant_id, status, event_date);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_user_id TEXT,
		commission_snapshot TEXT NOT NULL,
		currency TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_tenant_booking
		ON tasks(tenant_id, booking_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_tenant_assignee
		ON tasks(tenant_id, assigned_user_id);

	CREATE TABLE IF NOT EXISTS task_assignees (
		tenant_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		commission_snapshot TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, task_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_assignees_tenant_user
		ON task_assignees(tenant_id, user_id);

	CREATE TABLE IF NOT EXISTS wallets (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		pending_balance TEXT NOT NULL,
		payable_balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		booking_id TEXT,
		task_id TEXT,
		reversal_of TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_tenant_booking
		ON ledger_entries(tenant_id, booking_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_tenant_reversal
		ON ledger_entries(tenant_id, reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		old_values_json TEXT,
		new_values_json TEXT,
		sequence_number INTEGER NOT NULL,
		prev_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (tenant_id, sequence_number)
	);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		required_staff_count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS package_items (
		tenant_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		task_type_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		commission TEXT NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (tenant_id, package_id, position)
	);

	CREATE TABLE IF NOT EXISTS staff (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS staff_eligibility (
		tenant_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, package_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_time_entries_task
		ON time_entries(tenant_id, task_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithUnitOfWork runs fn in one transaction, committing iff fn returns nil.
func (s *Store) WithUnitOfWork(ctx context.Context, fn func(engine.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	uow := &sqliteUow{tx: tx}
	if err := fn(uow); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteUow struct {
	tx *sql.Tx
}

func (u *sqliteUow) Bookings() engine.BookingRepo   { return (*bookingRepo)(u) }
func (u *sqliteUow) Tasks() engine.TaskRepo         { return (*taskRepo)(u) }
func (u *sqliteUow) Assignees() engine.AssigneeRepo { return (*assigneeRepo)(u) }
func (u *sqliteUow) Wallets() engine.WalletRepo     { return (*walletRepo)(u) }
func (u *sqliteUow) Ledger() engine.LedgerRepo      { return (*ledgerRepo)(u) }
func (u *sqliteUow) Audit() engine.AuditRepo        { return (*auditRepo)(u) }
func (u *sqliteUow) Packages() engine.PackageReader { return (*packageRepo)(u) }
func (u *sqliteUow) Staff() engine.StaffDirectory   { return (*staffRepo)(u) }

// =============================================================================
// BOOKINGS
// =============================================================================

type bookingRepo sqliteUow

const bookingColumns = `id, tenant_id, status, package_id, event_date, start_time,
	duration_minutes, total_price, sub_total, tax, deposit, amount_paid, refund,
	currency, completion_percent, cancellation_reason, cancelled_at, created_at, updated_at`

func (r *bookingRepo) FindLocked(ctx context.Context, tenant engine.TenantID, id engine.BookingID) (*engine.Booking, error) {
	// The transaction already holds the write lock.
	return r.Find(ctx, tenant, id)
}

func (r *bookingRepo) Find(ctx context.Context, tenant engine.TenantID, id engine.BookingID) (*engine.Booking, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *bookingRepo) Create(ctx context.Context, b *engine.Booking) error {
	return r.upsert(ctx, b)
}

func (r *bookingRepo) Save(ctx context.Context, b *engine.Booking) error {
	return r.upsert(ctx, b)
}

func (r *bookingRepo) upsert(ctx context.Context, b *engine.Booking) error {
	var cancelledAt *string
	if b.CancelledAt != nil {
		t := b.CancelledAt.UTC().Format(time.RFC3339)
		cancelledAt = &t
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			status = excluded.status,
			event_date = excluded.event_date,
			start_time = excluded.start_time,
			duration_minutes = excluded.duration_minutes,
			total_price = excluded.total_price,
			amount_paid = excluded.amount_paid,
			refund = excluded.refund,
			completion_percent = excluded.completion_percent,
			cancellation_reason = excluded.cancellation_reason,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at`,
		b.ID, b.TenantID, b.Status, b.PackageID,
		b.EventDate.UTC().Format("2006-01-02"), b.StartTime, b.DurationMinutes,
		b.TotalPrice.Value.String(), b.SubTotal.Value.String(), b.Tax.Value.String(),
		b.Deposit.Value.String(), b.AmountPaid.Value.String(), b.Refund.Value.String(),
		b.TotalPrice.Currency, b.CompletionPercent, b.CancellationReason, cancelledAt,
		b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (r *bookingRepo) ConfirmedForStaffOn(ctx context.Context, tenant engine.TenantID, userID engine.UserID, date time.Time, exclude engine.BookingID) ([]engine.Booking, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT DISTINCT `+prefixColumns("b", bookingColumns)+`
		FROM bookings b
		JOIN tasks t ON t.tenant_id = b.tenant_id AND t.booking_id = b.id
		LEFT JOIN task_assignees ta
			ON ta.tenant_id = t.tenant_id AND ta.task_id = t.id
		WHERE b.tenant_id = ?
		  AND b.status = ?
		  AND b.event_date = ?
		  AND b.id != ?
		  AND (t.assigned_user_id = ? OR ta.user_id = ?)`,
		tenant, engine.BookingConfirmed, date.UTC().Format("2006-01-02"), exclude, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*engine.Booking, error) {
	var (
		b           engine.Booking
		eventDate   string
		totalPrice  string
		subTotal    string
		tax         string
		deposit     string
		amountPaid  string
		refund      string
		currency    string
		cancelledAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.Status, &b.PackageID, &eventDate, &b.StartTime,
		&b.DurationMinutes, &totalPrice, &subTotal, &tax, &deposit, &amountPaid,
		&refund, &currency, &b.CompletionPercent, &b.CancellationReason,
		&cancelledAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.EventDate, _ = time.Parse("2006-01-02", eventDate)
	b.TotalPrice = parseMoney(totalPrice, currency)
	b.SubTotal = parseMoney(subTotal, currency)
	b.Tax = parseMoney(tax, currency)
	b.Deposit = parseMoney(deposit, currency)
	b.AmountPaid = parseMoney(amountPaid, currency)
	b.Refund = parseMoney(refund, currency)
	if cancelledAt.Valid {
		t, _ := time.Parse(time.RFC3339, cancelledAt.String)
		b.CancelledAt = &t
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// TASKS
// =============================================================================

type taskRepo sqliteUow

const taskColumns = `id, tenant_id, booking_id, title, status, assigned_user_id,
	commission_snapshot, currency, due_date, created_at, updated_at`

func (r *taskRepo) FindLocked(ctx context.Context, tenant engine.TenantID, id engine.TaskID) (*engine.Task, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *taskRepo) Create(ctx context.Context, t *engine.Task) error {
	return r.upsert(ctx, t)
}

func (r *taskRepo) Save(ctx context.Context, t *engine.Task) error {
	return r.upsert(ctx, t)
}

func (r *taskRepo) upsert(ctx context.Context, t *engine.Task) error {
	var assigned *string
	if t.AssignedUserID != nil {
		s := string(*t.AssignedUserID)
		assigned = &s
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			status = excluded.status,
			assigned_user_id = excluded.assigned_user_id,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at`,
		t.ID, t.TenantID, t.BookingID, t.Title, t.Status, assigned,
		t.CommissionSnapshot.Value.String(), t.CommissionSnapshot.Currency,
		t.DueDate.UTC().Format(time.RFC3339),
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (r *taskRepo) ByBooking(ctx context.Context, tenant engine.TenantID, bookingID engine.BookingID) ([]engine.Task, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE tenant_id = ? AND booking_id = ?
		 ORDER BY created_at ASC, id ASC`,
		tenant, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *taskRepo) HasRunningTimeEntry(ctx context.Context, tenant engine.TenantID, id engine.TaskID) (bool, error) {
	var count int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM time_entries WHERE tenant_id = ? AND task_id = ? AND status = 'RUNNING'`,
		tenant, id).Scan(&count)
	return count > 0, err
}

func scanTask(row rowScanner) (*engine.Task, error) {
	var (
		t          engine.Task
		assigned   sql.NullString
		commission string
		currency   string
		dueDate    string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&t.ID, &t.TenantID, &t.BookingID, &t.Title, &t.Status, &assigned,
		&commission, &currency, &dueDate, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if assigned.Valid {
		u := engine.UserID(assigned.String)
		t.AssignedUserID = &u
	}
	t.CommissionSnapshot = parseMoney(commission, currency)
	t.DueDate, _ = time.Parse(time.RFC3339, dueDate)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

// =============================================================================
// TASK ASSIGNEES
// =============================================================================

type assigneeRepo sqliteUow

func (r *assigneeRepo) ByTask(ctx context.Context, tenant engine.TenantID, taskID engine.TaskID) ([]engine.TaskAssignee, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT tenant_id, task_id, user_id, role, commission_snapshot, currency, created_at
		 FROM task_assignees
		 WHERE tenant_id = ? AND task_id = ?
		 ORDER BY created_at ASC, user_id ASC`,
		tenant, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.TaskAssignee
	for rows.Next() {
		var (
			a          engine.TaskAssignee
			commission string
			currency   string
			createdAt  string
		)
		if err := rows.Scan(&a.TenantID, &a.TaskID, &a.UserID, &a.Role, &commission, &currency, &createdAt); err != nil {
			return nil, err
		}
		a.CommissionSnapshot = parseMoney(commission, currency)
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *assigneeRepo) Add(ctx context.Context, a engine.TaskAssignee) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO task_assignees (tenant_id, task_id, user_id, role, commission_snapshot, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.TenantID, a.TaskID, a.UserID, a.Role,
		a.CommissionSnapshot.Value.String(), a.CommissionSnapshot.Currency,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (r *assigneeRepo) Save(ctx context.Context, a engine.TaskAssignee) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE task_assignees SET role = ?, commission_snapshot = ?, currency = ?
		WHERE tenant_id = ? AND task_id = ? AND user_id = ?`,
		a.Role, a.CommissionSnapshot.Value.String(), a.CommissionSnapshot.Currency,
		a.TenantID, a.TaskID, a.UserID,
	)
	return err
}

func (r *assigneeRepo) Remove(ctx context.Context, tenant engine.TenantID, taskID engine.TaskID, userID engine.UserID) error {
	_, err := r.tx.ExecContext(ctx,
		`DELETE FROM task_assignees WHERE tenant_id = ? AND task_id = ? AND user_id = ?`,
		tenant, taskID, userID)
	return err
}

// =============================================================================
// WALLETS
// =============================================================================

type walletRepo sqliteUow

func (r *walletRepo) FindLocked(ctx context.Context, tenant engine.TenantID, userID engine.UserID) (*engine.EmployeeWallet, error) {
	var (
		w         engine.EmployeeWallet
		pending   string
		payable   string
		currency  string
		updatedAt string
	)
	err := r.tx.QueryRowContext(ctx,
		`SELECT tenant_id, user_id, pending_balance, payable_balance, currency, updated_at
		 FROM wallets WHERE tenant_id = ? AND user_id = ?`,
		tenant, userID).Scan(&w.TenantID, &w.UserID, &pending, &payable, &currency, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.PendingBalance = parseMoney(pending, currency)
	w.PayableBalance = parseMoney(payable, currency)
	w.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &w, nil
}

func (r *walletRepo) Create(ctx context.Context, w *engine.EmployeeWallet) error {
	return r.upsert(ctx, w)
}

func (r *walletRepo) Save(ctx context.Context, w *engine.EmployeeWallet) error {
	return r.upsert(ctx, w)
}

func (r *walletRepo) upsert(ctx context.Context, w *engine.EmployeeWallet) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO wallets (tenant_id, user_id, pending_balance, payable_balance, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET
			pending_balance = excluded.pending_balance,
			payable_balance = excluded.payable_balance,
			updated_at = excluded.updated_at`,
		w.TenantID, w.UserID,
		w.PendingBalance.Value.String(), w.PayableBalance.Value.String(),
		w.PendingBalance.Currency, w.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// MONEY LEDGER - append-only
// =============================================================================

type ledgerRepo sqliteUow

func (r *ledgerRepo) Append(ctx context.Context, e engine.LedgerEntry) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, entry_type, amount, currency, description, booking_id, task_id, reversal_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Type, e.Amount.Value.String(), e.Amount.Currency,
		e.Description, nullableBookingID(e.BookingID), nullableTaskID(e.TaskID),
		nullableBookingID(e.ReversalOf), e.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (r *ledgerRepo) IncomeForBooking(ctx context.Context, tenant engine.TenantID, bookingID engine.BookingID) (engine.Money, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT amount, currency FROM ledger_entries
		 WHERE tenant_id = ? AND booking_id = ? AND entry_type = ? AND reversal_of IS NULL`,
		tenant, bookingID, engine.EntryIncome)
	if err != nil {
		return engine.Money{}, err
	}
	defer rows.Close()

	var total engine.Money
	for rows.Next() {
		var amount, currency string
		if err := rows.Scan(&amount, &currency); err != nil {
			return engine.Money{}, err
		}
		m := parseMoney(amount, currency)
		if total.Currency == "" {
			total = m.Zero()
		}
		total = total.Add(m)
	}
	return total, rows.Err()
}

func (r *ledgerRepo) HasReversalFor(ctx context.Context, tenant engine.TenantID, bookingID engine.BookingID) (bool, error) {
	var count int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE tenant_id = ? AND reversal_of = ?`,
		tenant, bookingID).Scan(&count)
	return count > 0, err
}

// =============================================================================
// AUDIT CHAIN
// =============================================================================

type auditRepo sqliteUow

const auditColumns = `id, tenant_id, action, entity_name, entity_id,
	old_values_json, new_values_json, sequence_number, prev_hash, hash, created_at`

func (r *auditRepo) HeadLocked(ctx context.Context, tenant engine.TenantID) (*engine.AuditEntry, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE tenant_id = ?
		 ORDER BY sequence_number DESC LIMIT 1`,
		tenant)
	e, err := scanAuditEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *auditRepo) Append(ctx context.Context, e engine.AuditEntry) error {
	oldJSON, err := json.Marshal(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(e.NewValues)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Action, e.EntityName, e.EntityID,
		string(oldJSON), string(newJSON),
		e.SequenceNumber, e.PrevHash, e.Hash,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (r *auditRepo) Chain(ctx context.Context, tenant engine.TenantID) ([]engine.AuditEntry, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE tenant_id = ? ORDER BY sequence_number ASC`,
		tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanAuditEntry(row rowScanner) (*engine.AuditEntry, error) {
	var (
		e         engine.AuditEntry
		oldJSON   sql.NullString
		newJSON   sql.NullString
		createdAt string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Action, &e.EntityName, &e.EntityID,
		&oldJSON, &newJSON, &e.SequenceNumber, &e.PrevHash, &e.Hash, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if oldJSON.Valid && oldJSON.String != "" && oldJSON.String != "null" {
		if err := json.Unmarshal([]byte(oldJSON.String), &e.OldValues); err != nil {
			return nil, err
		}
	}
	if newJSON.Valid && newJSON.String != "" && newJSON.String != "null" {
		if err := json.Unmarshal([]byte(newJSON.String), &e.NewValues); err != nil {
			return nil, err
		}
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// =============================================================================
// PACKAGES AND STAFF (read-only collaborators)
// =============================================================================

type packageRepo sqliteUow

func (r *packageRepo) Find(ctx context.Context, tenant engine.TenantID, id engine.PackageID) (*engine.ServicePackage, error) {
	var p engine.ServicePackage
	err := r.tx.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, required_staff_count FROM packages WHERE tenant_id = ? AND id = ?`,
		tenant, id).Scan(&p.ID, &p.TenantID, &p.Name, &p.RequiredStaffCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.QueryContext(ctx,
		`SELECT task_type_name, quantity, commission, currency
		 FROM package_items WHERE tenant_id = ? AND package_id = ?
		 ORDER BY position ASC`,
		tenant, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item       engine.PackageItem
			commission string
			currency   string
		)
		if err := rows.Scan(&item.TaskTypeName, &item.Quantity, &commission, &currency); err != nil {
			return nil, err
		}
		item.Commission = parseMoney(commission, currency)
		p.Items = append(p.Items, item)
	}
	return &p, rows.Err()
}

type staffRepo sqliteUow

func (r *staffRepo) EligibleForPackage(ctx context.Context, tenant engine.TenantID, id engine.PackageID) ([]engine.StaffMember, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT s.user_id, s.email
		FROM staff_eligibility se
		JOIN staff s ON s.tenant_id = se.tenant_id AND s.user_id = se.user_id
		WHERE se.tenant_id = ? AND se.package_id = ?
		ORDER BY s.user_id ASC`,
		tenant, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.StaffMember
	for rows.Next() {
		var s engine.StaffMember
		if err := rows.Scan(&s.UserID, &s.Email); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *staffRepo) InTenant(ctx context.Context, tenant engine.TenantID, userID engine.UserID) (bool, error) {
	var count int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staff WHERE tenant_id = ? AND user_id = ?`,
		tenant, userID).Scan(&count)
	return count > 0, err
}

func (r *staffRepo) Emails(ctx context.Context, tenant engine.TenantID, userIDs []engine.UserID) ([]string, error) {
	var out []string
	for _, id := range userIDs {
		var email string
		err := r.tx.QueryRowContext(ctx,
			`SELECT email FROM staff WHERE tenant_id = ? AND user_id = ?`,
			tenant, id).Scan(&email)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		if email != "" {
			out = append(out, email)
		}
	}
	return out, nil
}

// =============================================================================
// SETUP HELPERS - direct writes outside any unit of work (seeding, admin)
// =============================================================================

// SavePackage upserts a package and replaces its items.
func (s *Store) SavePackage(ctx context.Context, p engine.ServicePackage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO packages (id, tenant_id, name, required_staff_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			required_staff_count = excluded.required_staff_count`,
		p.ID, p.TenantID, p.Name, p.RequiredStaffCount); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM package_items WHERE tenant_id = ? AND package_id = ?`,
		p.TenantID, p.ID); err != nil {
		return err
	}
	for i, item := range p.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO package_items (tenant_id, package_id, position, task_type_name, quantity, commission, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.TenantID, p.ID, i, item.TaskTypeName, item.Quantity,
			item.Commission.Value.String(), item.Commission.Currency); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveStaff upserts a staff member and their package eligibility.
func (s *Store) SaveStaff(ctx context.Context, tenant engine.TenantID, member engine.StaffMember, eligibleFor ...engine.PackageID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO staff (tenant_id, user_id, email)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET email = excluded.email`,
		tenant, member.UserID, member.Email); err != nil {
		return err
	}
	for _, pkg := range eligibleFor {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staff_eligibility (tenant_id, package_id, user_id)
			VALUES (?, ?, ?)
			ON CONFLICT(tenant_id, package_id, user_id) DO NOTHING`,
			tenant, pkg, member.UserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveBooking upserts a booking outside any workflow (seeding).
func (s *Store) SaveBooking(ctx context.Context, b engine.Booking) error {
	return s.WithUnitOfWork(ctx, func(uow engine.UnitOfWork) error {
		return uow.Bookings().Create(ctx, &b)
	})
}

func parseMoney(value, currency string) engine.Money {
	return engine.Money{Value: engine.MustParseDecimal(value), Currency: currency}
}

func nullableBookingID(id *engine.BookingID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func nullableTaskID(id *engine.TaskID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}
