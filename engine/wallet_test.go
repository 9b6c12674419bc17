package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/engine/store"
)

// inWallet runs fn in a unit of work against a fresh memory store.
func inWallet(t *testing.T, mem *store.Memory, fn func(uow engine.UnitOfWork) error) error {
	t.Helper()
	return mem.WithUnitOfWork(context.Background(), fn)
}

func TestWallet_NilUnitOfWork_Rejected(t *testing.T) {
	wl := &engine.WalletLedger{}
	ctx := context.Background()

	assert.ErrorIs(t, wl.AddPending(ctx, nil, testTenant, "u1", usd(10)), engine.ErrTransactionRequired)
	assert.ErrorIs(t, wl.SubtractPending(ctx, nil, testTenant, "u1", usd(10)), engine.ErrTransactionRequired)
	assert.ErrorIs(t, wl.MoveToPayable(ctx, nil, testTenant, "u1", usd(10)), engine.ErrTransactionRequired)
	assert.ErrorIs(t, wl.ResetPayable(ctx, nil, testTenant, "u1"), engine.ErrTransactionRequired)
	from := engine.UserID("u1")
	assert.ErrorIs(t, wl.TransferPending(ctx, nil, testTenant, &from, nil, usd(10)), engine.ErrTransactionRequired)
}

func TestWallet_AddPending_CreatesWalletOnFirstEvent(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.AddPending(context.Background(), uow, testTenant, "u1", usd(25))
	})
	require.NoError(t, err)

	w := mem.Wallet(testTenant, "u1")
	require.NotNil(t, w)
	assert.True(t, w.PendingBalance.Equal(usd(25)))
	assert.True(t, w.PayableBalance.IsZero())
}

func TestWallet_AddPending_NonPositiveAmount_Rejected(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.AddPending(context.Background(), uow, testTenant, "u1", usd(0))
	})
	assert.ErrorIs(t, err, engine.ErrPreconditionFailed)
}

func TestWallet_SubtractPending_ClampsAtZero(t *testing.T) {
	// GIVEN: 10 pending
	// WHEN: Subtracting 25
	// THEN: Balance floors at 0 rather than going negative

	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		ctx := context.Background()
		if err := wl.AddPending(ctx, uow, testTenant, "u1", usd(10)); err != nil {
			return err
		}
		return wl.SubtractPending(ctx, uow, testTenant, "u1", usd(25))
	})
	require.NoError(t, err)

	assert.True(t, mem.Wallet(testTenant, "u1").PendingBalance.IsZero())
}

func TestWallet_MoveToPayable_InsufficientPending_NothingChanges(t *testing.T) {
	// GIVEN: 30 pending
	// WHEN: Moving 50 to payable
	// THEN: InsufficientBalanceError and the whole unit of work rolls back

	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.AddPending(context.Background(), uow, testTenant, "u1", usd(30))
	})
	require.NoError(t, err)

	err = inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.MoveToPayable(context.Background(), uow, testTenant, "u1", usd(50))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)

	var insufficient *engine.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, engine.UserID("u1"), insufficient.UserID)
	assert.True(t, insufficient.Available.Equal(usd(30)))
	assert.True(t, insufficient.Requested.Equal(usd(50)))

	w := mem.Wallet(testTenant, "u1")
	assert.True(t, w.PendingBalance.Equal(usd(30)), "pending unchanged")
	assert.True(t, w.PayableBalance.IsZero(), "payable unchanged")
}

func TestWallet_MoveToPayable_ExactBalance(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		ctx := context.Background()
		if err := wl.AddPending(ctx, uow, testTenant, "u1", usd(40)); err != nil {
			return err
		}
		return wl.MoveToPayable(ctx, uow, testTenant, "u1", usd(40))
	})
	require.NoError(t, err)

	w := mem.Wallet(testTenant, "u1")
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, w.PayableBalance.Equal(usd(40)))
}

func TestWallet_TransferPending_ConservesTotal(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	from := engine.UserID("u1")
	to := engine.UserID("u2")
	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		ctx := context.Background()
		if err := wl.AddPending(ctx, uow, testTenant, from, usd(60)); err != nil {
			return err
		}
		return wl.TransferPending(ctx, uow, testTenant, &from, &to, usd(60))
	})
	require.NoError(t, err)

	assert.True(t, mem.Wallet(testTenant, "u1").PendingBalance.IsZero())
	assert.True(t, mem.Wallet(testTenant, "u2").PendingBalance.Equal(usd(60)))
}

func TestWallet_TransferPending_NilFrom_PureAdd(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	to := engine.UserID("u2")
	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.TransferPending(context.Background(), uow, testTenant, nil, &to, usd(15))
	})
	require.NoError(t, err)

	assert.True(t, mem.Wallet(testTenant, "u2").PendingBalance.Equal(usd(15)))
}

func TestWallet_ResetPayable_MissingWallet_NotFound(t *testing.T) {
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.ResetPayable(context.Background(), uow, testTenant, "ghost")
	})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestWallet_ZeroDecimalCurrency_RoundsToWhole(t *testing.T) {
	// JPY has no minor unit: balances persist as whole numbers.
	mem := store.NewMemory()
	wl := &engine.WalletLedger{}

	err := inWallet(t, mem, func(uow engine.UnitOfWork) error {
		return wl.AddPending(context.Background(), uow, testTenant, "u1", engine.NewMoney(100.4, "JPY"))
	})
	require.NoError(t, err)

	assert.True(t, mem.Wallet(testTenant, "u1").PendingBalance.Equal(engine.NewMoney(100, "JPY")))
}
