package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ledger-service/internal/domain"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositThenOverdraw(t *testing.T) {
	store := newFakeStore()
	account := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "1000")
	uc := newTestLedger(store)
	ctx := context.Background()

	txn, err := uc.Deposit(ctx, 1, account.ID, decimal.RequireFromString("500"), domain.FiatKZT, "top up", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeDeposit, txn.Type)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("500")))
	assert.True(t, txn.BalanceAfter.Equal(decimal.RequireFromString("1500")))

	before := store.transactionCount()
	_, err = uc.Withdraw(ctx, 1, account.ID, decimal.RequireFromString("2000"), domain.FiatKZT, "too much", nil)
	require.ErrorIs(t, err, xerrors.ErrInsufficientFunds)

	// Rejected withdrawal must leave no trace.
	assert.True(t, store.balanceOf(account.ID).Equal(decimal.RequireFromString("1500")))
	assert.Equal(t, before, store.transactionCount())
}

func TestDepositValidation(t *testing.T) {
	store := newFakeStore()
	account := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "100")
	uc := newTestLedger(store)
	ctx := context.Background()

	_, err := uc.Deposit(ctx, 1, account.ID, decimal.Zero, domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	_, err = uc.Deposit(ctx, 1, account.ID, decimal.RequireFromString("-5"), domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	// Another user's account id must read as not found.
	_, err = uc.Deposit(ctx, 2, account.ID, decimal.RequireFromString("10"), domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrAccountNotFound)

	_, err = uc.Deposit(ctx, 1, account.ID, decimal.RequireFromString("10"), "USD", "", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestWithdrawFromFrozenAccount(t *testing.T) {
	store := newFakeStore()
	account := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "100")
	store.accounts[account.ID].Status = domain.AccountStatusFrozen
	uc := newTestLedger(store)

	_, err := uc.Withdraw(context.Background(), 1, account.ID, decimal.RequireFromString("10"), domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrAccountNotActive)
}

func TestTransferMovesFundsWithLinkedLegs(t *testing.T) {
	store := newFakeStore()
	from := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "1000")
	to := store.seedAccount(2, domain.AccountTypeChecking, domain.FiatKZT, "50")
	uc := newTestLedger(store)

	fromTx, toTx, err := uc.Transfer(context.Background(), 1, from.ID, to.ID,
		decimal.RequireFromString("300"), domain.FiatKZT, "rent", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeTransferOut, fromTx.Type)
	assert.Equal(t, domain.TypeTransferIn, toTx.Type)
	assert.True(t, fromTx.BalanceAfter.Equal(decimal.RequireFromString("700")))
	assert.True(t, toTx.BalanceAfter.Equal(decimal.RequireFromString("350")))

	// Both legs carry the same link id and point at each other.
	require.NotNil(t, fromTx.LinkID)
	require.NotNil(t, toTx.LinkID)
	assert.Equal(t, *fromTx.LinkID, *toTx.LinkID)
	require.NotNil(t, fromTx.CounterpartyAccountID)
	assert.Equal(t, to.ID, *fromTx.CounterpartyAccountID)

	// The credit leg belongs to the destination owner.
	assert.Equal(t, int64(2), toTx.UserID)
}

func TestTransferRejectsCrossCurrency(t *testing.T) {
	store := newFakeStore()
	from := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "1000")
	to := store.seedAccount(1, domain.AccountTypeCrypto, "BTC", "0")
	uc := newTestLedger(store)

	_, _, err := uc.Transfer(context.Background(), 1, from.ID, to.ID,
		decimal.RequireFromString("100"), domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
	assert.True(t, store.balanceOf(from.ID).Equal(decimal.RequireFromString("1000")))
}

func TestTransferRejectsSameAccount(t *testing.T) {
	store := newFakeStore()
	from := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "1000")
	uc := newTestLedger(store)

	_, _, err := uc.Transfer(context.Background(), 1, from.ID, from.ID,
		decimal.RequireFromString("100"), domain.FiatKZT, "", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestTransferCreditFailureCompensates(t *testing.T) {
	store := newFakeStore()
	from := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "1000")
	to := store.seedAccount(2, domain.AccountTypeChecking, domain.FiatKZT, "0")
	uc := newTestLedger(store)

	// Force the credit leg to fail after the debit committed.
	store.failLeg = func(draft *domain.TransactionDraft) error {
		if draft.Type == domain.TypeTransferIn {
			return fmt.Errorf("%w: destination gone", xerrors.ErrAccountNotActive)
		}
		return nil
	}

	_, _, err := uc.Transfer(context.Background(), 1, from.ID, to.ID,
		decimal.RequireFromString("400"), domain.FiatKZT, "doomed", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, xerrors.ErrTransferFailed)

	var legErr *xerrors.LegError
	require.True(t, errors.As(err, &legErr))
	assert.Equal(t, "credit", legErr.FailedLeg)
	assert.NotEmpty(t, legErr.ReversalNo)

	// Net effect on the source is zero: debit plus reversal.
	assert.True(t, store.balanceOf(from.ID).Equal(decimal.RequireFromString("1000")))
	assert.True(t, store.balanceOf(to.ID).Equal(decimal.Zero))

	txns, err := store.ListTxForUser(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TypeReversal, txns[0].Type)
	assert.Equal(t, domain.TypeTransferOut, txns[1].Type)
	assert.Equal(t, *txns[1].LinkID, *txns[0].LinkID)
}

func TestListTransactionsNewestFirst(t *testing.T) {
	store := newFakeStore()
	account := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "0")
	uc := newTestLedger(store)
	ctx := context.Background()

	for _, amount := range []string{"10", "20", "30"} {
		_, err := uc.Deposit(ctx, 1, account.ID, decimal.RequireFromString(amount), domain.FiatKZT, "", nil)
		require.NoError(t, err)
	}

	txns, err := uc.ListTransactions(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("30")))
	assert.True(t, txns[2].Amount.Equal(decimal.RequireFromString("10")))

	depositType := domain.TypeDeposit
	filtered, err := uc.ListTransactions(ctx, 1, &domain.TransactionFilter{Type: &depositType})
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
}

func TestAccountUsecaseCreateWithOpeningBalance(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	uc := NewAccountUsecase(store, ledger, nil)
	ctx := context.Background()

	opening := decimal.RequireFromString("2500")
	account, err := uc.Create(ctx, 7, domain.AccountTypeChecking, domain.FiatKZT, &opening)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(opening))

	txns, err := store.ListTxForUser(ctx, 7, nil)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TypeDeposit, txns[0].Type)

	_, err = uc.Create(ctx, 7, domain.AccountTypeChecking, "USD", nil)
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	_, err = uc.Create(ctx, 7, domain.AccountTypeCrypto, "DOGE", nil)
	assert.ErrorIs(t, err, xerrors.ErrUnsupportedSymbol)
}

func TestAccountUsecaseCloseRequiresZeroBalance(t *testing.T) {
	store := newFakeStore()
	ledger := newTestLedger(store)
	uc := NewAccountUsecase(store, ledger, nil)
	account := store.seedAccount(1, domain.AccountTypeChecking, domain.FiatKZT, "10")

	err := uc.Close(context.Background(), 1, account.ID)
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	store.accounts[account.ID].Balance = decimal.Zero
	require.NoError(t, uc.Close(context.Background(), 1, account.ID))

	_, err = store.GetByID(context.Background(), account.ID)
	assert.ErrorIs(t, err, xerrors.ErrAccountNotFound)
}
