/*
wallet.go - Two-stage commission wallet ledger

PURPOSE:
  Tracks each staff member's commission through two balances:
  - pending: commission reserved when a task is assigned
  - payable: commission owed once the task is completed

  Completing a task moves the assignee's snapshot from pending to payable;
  payout (owned by an external collaborator) zeroes payable afterwards.

TRANSACTION CONTEXT:
  Every operation requires an active unit of work and fails fast with
  ErrTransactionRequired otherwise. Reads that precede a mutation go through
  WalletRepo.FindLocked so the row is exclusively held until commit.

LOCK ORDERING:
  When one operation touches two wallets (transfer on reassignment), the
  wallets are locked in sorted user-id order, never caller-supplied order.
  This prevents deadlock cycles between concurrent reassignments.

ROUNDING:
  Balances are rounded to the currency scale at the point of persistence,
  never mid-calculation.

SEE ALSO:
  - tasks.go: The assignment/completion engine driving these operations
*/
package engine

import (
	"context"
	"time"
)

// WalletLedger mutates employee wallets inside the caller's unit of work.
type WalletLedger struct{}

// GetOrCreate returns the user's wallet under lock, creating a zero-balance
// wallet on first commission event.
func (wl *WalletLedger) GetOrCreate(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID, currency string) (*EmployeeWallet, error) {
	if uow == nil {
		return nil, ErrTransactionRequired
	}
	w, err := uow.Wallets().FindLocked(ctx, tenant, userID)
	if err != nil {
		return nil, err
	}
	if w != nil {
		return w, nil
	}
	w = &EmployeeWallet{
		TenantID:       tenant,
		UserID:         userID,
		PendingBalance: Money{Currency: currency}.Zero(),
		PayableBalance: Money{Currency: currency}.Zero(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := uow.Wallets().Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// AddPending adds a positive amount to the user's pending balance.
func (wl *WalletLedger) AddPending(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID, amount Money) error {
	if uow == nil {
		return ErrTransactionRequired
	}
	if !amount.IsPositive() {
		return &PreconditionError{Reason: "commission amount must be positive"}
	}
	w, err := wl.GetOrCreate(ctx, uow, tenant, userID, amount.Currency)
	if err != nil {
		return err
	}
	w.PendingBalance = w.PendingBalance.Add(amount).Round()
	w.UpdatedAt = time.Now().UTC()
	return uow.Wallets().Save(ctx, w)
}

// SubtractPending removes an amount from pending, flooring the result at 0.
// Under correct sequencing the balance never goes negative, but reassignment
// races are tolerated by clamping rather than failing.
func (wl *WalletLedger) SubtractPending(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID, amount Money) error {
	if uow == nil {
		return ErrTransactionRequired
	}
	if !amount.IsPositive() {
		return &PreconditionError{Reason: "commission amount must be positive"}
	}
	w, err := wl.GetOrCreate(ctx, uow, tenant, userID, amount.Currency)
	if err != nil {
		return err
	}
	next := w.PendingBalance.Sub(amount)
	if next.IsNegative() {
		next = next.Zero()
	}
	w.PendingBalance = next.Round()
	w.UpdatedAt = time.Now().UTC()
	return uow.Wallets().Save(ctx, w)
}

// MoveToPayable atomically decrements pending and increments payable. The
// amount must be positive and within the current pending balance; on failure
// both balances are left unchanged (the unit of work rolls back).
func (wl *WalletLedger) MoveToPayable(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID, amount Money) error {
	if uow == nil {
		return ErrTransactionRequired
	}
	if !amount.IsPositive() {
		return &PreconditionError{Reason: "commission amount must be positive"}
	}
	w, err := wl.GetOrCreate(ctx, uow, tenant, userID, amount.Currency)
	if err != nil {
		return err
	}
	if amount.GreaterThan(w.PendingBalance) {
		return &InsufficientBalanceError{UserID: userID, Available: w.PendingBalance, Requested: amount}
	}
	w.PendingBalance = w.PendingBalance.Sub(amount).Round()
	w.PayableBalance = w.PayableBalance.Add(amount).Round()
	w.UpdatedAt = time.Now().UTC()
	return uow.Wallets().Save(ctx, w)
}

// ResetPayable zeroes the payable balance after a payout has been recorded by
// the payout collaborator.
func (wl *WalletLedger) ResetPayable(ctx context.Context, uow UnitOfWork, tenant TenantID, userID UserID) error {
	if uow == nil {
		return ErrTransactionRequired
	}
	w, err := uow.Wallets().FindLocked(ctx, tenant, userID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrNotFound
	}
	w.PayableBalance = w.PayableBalance.Zero()
	w.UpdatedAt = time.Now().UTC()
	return uow.Wallets().Save(ctx, w)
}

// TransferPending moves pending commission between users; either side may be
// nil (pure subtract or pure add). Used for reassignment and cancellation
// reversal. Both wallets are locked before either is mutated, in sorted
// user-id order.
func (wl *WalletLedger) TransferPending(ctx context.Context, uow UnitOfWork, tenant TenantID, from, to *UserID, amount Money) error {
	if uow == nil {
		return ErrTransactionRequired
	}
	if !amount.IsPositive() {
		return &PreconditionError{Reason: "commission amount must be positive"}
	}

	// Lock acquisition in deterministic order, independent of call order.
	for _, userID := range lockOrder(from, to) {
		if _, err := wl.GetOrCreate(ctx, uow, tenant, userID, amount.Currency); err != nil {
			return err
		}
	}

	if from != nil {
		if err := wl.SubtractPending(ctx, uow, tenant, *from, amount); err != nil {
			return err
		}
	}
	if to != nil {
		if err := wl.AddPending(ctx, uow, tenant, *to, amount); err != nil {
			return err
		}
	}
	return nil
}

// lockOrder returns the non-nil user ids sorted ascending.
func lockOrder(a, b *UserID) []UserID {
	var ids []UserID
	if a != nil {
		ids = append(ids, *a)
	}
	if b != nil && (a == nil || *b != *a) {
		ids = append(ids, *b)
	}
	if len(ids) == 2 && ids[1] < ids[0] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids
}
