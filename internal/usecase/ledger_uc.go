package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	idgen "ledger-service/pkg/id"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "ledger:idem:"
	idempotencyTTL       = 24 * time.Hour

	compensationAttempts = 5
	compensationBackoff  = 100 * time.Millisecond
)

// LedgerUsecase owns the money-movement operations. Single-leg operations
// (deposit, withdrawal) commit through one leg; paired operations (transfer,
// market orders, conversions) commit debit first, then credit, and reverse the
// debit if the credit cannot land.
type LedgerUsecase struct {
	ledgerRepo  repository.LedgerRepository
	accountRepo repository.AccountRepository
	txRepo      repository.TransactionRepository
	rdb         *redis.Client
	events      *pub.TransactionEventPublisher
	logger      *zap.Logger
}

func NewLedgerUsecase(
	ledgerRepo repository.LedgerRepository,
	accountRepo repository.AccountRepository,
	txRepo repository.TransactionRepository,
	rdb *redis.Client,
	events *pub.TransactionEventPublisher,
	logger *zap.Logger,
) *LedgerUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerUsecase{
		ledgerRepo:  ledgerRepo,
		accountRepo: accountRepo,
		txRepo:      txRepo,
		rdb:         rdb,
		events:      events,
		logger:      logger,
	}
}

// Deposit credits the account. The amount must be positive; direction is
// carried by the transaction type.
func (uc *LedgerUsecase) Deposit(
	ctx context.Context,
	userID, accountID int64,
	amount decimal.Decimal,
	currency, description string,
	idemKey *string,
) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrValidation)
	}

	if replayed := uc.replayIdempotent(ctx, idemKey); replayed != nil {
		return replayed[0], nil
	}

	account, err := uc.ownedActiveAccount(ctx, userID, accountID, currency)
	if err != nil {
		return nil, err
	}

	_, txn, err := uc.ledgerRepo.ApplyDelta(ctx, account.ID, amount, &domain.TransactionDraft{
		Type:        domain.TypeDeposit,
		UserID:      userID,
		AccountID:   account.ID,
		Amount:      amount,
		Currency:    account.Currency,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	uc.afterCommit(ctx, idemKey, txn)
	return txn, nil
}

// Withdraw debits the account; rejected with ErrInsufficientFunds when the
// balance would go negative.
func (uc *LedgerUsecase) Withdraw(
	ctx context.Context,
	userID, accountID int64,
	amount decimal.Decimal,
	currency, description string,
	idemKey *string,
) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrValidation)
	}

	if replayed := uc.replayIdempotent(ctx, idemKey); replayed != nil {
		return replayed[0], nil
	}

	account, err := uc.ownedActiveAccount(ctx, userID, accountID, currency)
	if err != nil {
		return nil, err
	}

	_, txn, err := uc.ledgerRepo.ApplyDelta(ctx, account.ID, amount.Neg(), &domain.TransactionDraft{
		Type:        domain.TypeWithdrawal,
		UserID:      userID,
		AccountID:   account.ID,
		Amount:      amount,
		Currency:    account.Currency,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	uc.afterCommit(ctx, idemKey, txn)
	return txn, nil
}

// Transfer moves funds between two same-currency accounts. The destination may
// belong to another user. Cross-currency transfers are rejected; conversion is
// an explicit priced operation, never implicit in a transfer.
func (uc *LedgerUsecase) Transfer(
	ctx context.Context,
	userID, fromAccountID, toAccountID int64,
	amount decimal.Decimal,
	currency, description string,
	idemKey *string,
) (*domain.Transaction, *domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrValidation)
	}
	if fromAccountID == toAccountID {
		return nil, nil, fmt.Errorf("%w: cannot transfer to the same account", xerrors.ErrValidation)
	}

	if replayed := uc.replayIdempotent(ctx, idemKey); replayed != nil {
		return replayed[0], replayed[1], nil
	}

	from, err := uc.ownedActiveAccount(ctx, userID, fromAccountID, currency)
	if err != nil {
		return nil, nil, err
	}

	to, err := uc.accountRepo.GetByID(ctx, toAccountID)
	if err != nil {
		return nil, nil, err
	}
	if !to.IsActive() {
		return nil, nil, fmt.Errorf("%w: destination account %d", xerrors.ErrAccountNotActive, to.ID)
	}
	if to.Currency != from.Currency {
		return nil, nil, fmt.Errorf("%w: cross-currency transfer from %s to %s",
			xerrors.ErrValidation, from.Currency, to.Currency)
	}

	linkID := idgen.NewULID()

	debitTx, creditTx, err := uc.runLinkedLegs(ctx,
		legSpec{
			accountID: from.ID,
			delta:     amount.Neg(),
			draft: &domain.TransactionDraft{
				Type:                  domain.TypeTransferOut,
				UserID:                userID,
				AccountID:             from.ID,
				CounterpartyAccountID: &to.ID,
				LinkID:                &linkID,
				Amount:                amount,
				Currency:              from.Currency,
				Description:           description,
			},
		},
		legSpec{
			accountID: to.ID,
			delta:     amount,
			draft: &domain.TransactionDraft{
				Type:                  domain.TypeTransferIn,
				UserID:                to.UserID,
				AccountID:             to.ID,
				CounterpartyAccountID: &from.ID,
				LinkID:                &linkID,
				Amount:                amount,
				Currency:              to.Currency,
				Description:           description,
			},
		},
		xerrors.ErrTransferFailed,
	)
	if err != nil {
		return nil, nil, err
	}

	uc.afterCommit(ctx, idemKey, debitTx, creditTx)
	return debitTx, creditTx, nil
}

// ListTransactions returns the user's transaction history, newest first.
func (uc *LedgerUsecase) ListTransactions(
	ctx context.Context,
	userID int64,
	f *domain.TransactionFilter,
) ([]*domain.Transaction, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", xerrors.ErrValidation)
	}
	return uc.txRepo.ListForUser(ctx, userID, f)
}

// legSpec describes one half of a paired operation.
type legSpec struct {
	accountID int64
	delta     decimal.Decimal
	draft     *domain.TransactionDraft
}

// runLinkedLegs commits the debit, then the credit. A debit failure has no
// partial effect and surfaces as-is. A credit failure after a committed debit
// triggers a compensating reversal of the debit and surfaces as a LegError
// wrapping kind.
func (uc *LedgerUsecase) runLinkedLegs(
	ctx context.Context,
	debit, credit legSpec,
	kind error,
) (*domain.Transaction, *domain.Transaction, error) {
	_, debitTx, err := uc.ledgerRepo.ApplyDelta(ctx, debit.accountID, debit.delta, debit.draft)
	if err != nil {
		return nil, nil, err
	}

	// The debit is durable. From here the operation must reach a terminal
	// state even if the caller goes away, so cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	_, creditTx, err := uc.ledgerRepo.ApplyDelta(ctx, credit.accountID, credit.delta, credit.draft)
	if err == nil {
		return debitTx, creditTx, nil
	}

	uc.logger.Error("credit leg failed after committed debit, reversing",
		zap.String("link_id", deref(debit.draft.LinkID)),
		zap.Int64("debit_account_id", debit.accountID),
		zap.Error(err),
	)

	legErr := &xerrors.LegError{
		Kind:      kind,
		FailedLeg: "credit",
		Cause:     err,
	}

	if reversal := uc.compensate(ctx, debit); reversal != nil {
		legErr.ReversalTxID = reversal.ID
		legErr.ReversalNo = reversal.TransactionNo
	}

	return nil, nil, legErr
}

// compensate re-credits the debited account, retrying with backoff. Running
// out of attempts leaves the ledger unbalanced for this link id; the error log
// carries everything reconciliation needs.
func (uc *LedgerUsecase) compensate(ctx context.Context, debit legSpec) *domain.Transaction {
	draft := &domain.TransactionDraft{
		Type:                  domain.TypeReversal,
		UserID:                debit.draft.UserID,
		AccountID:             debit.accountID,
		CounterpartyAccountID: debit.draft.CounterpartyAccountID,
		LinkID:                debit.draft.LinkID,
		Amount:                debit.draft.Amount,
		Currency:              debit.draft.Currency,
		Description:           "REVERSAL: " + debit.draft.Description,
	}

	backoff := compensationBackoff
	for attempt := 1; attempt <= compensationAttempts; attempt++ {
		_, txn, err := uc.ledgerRepo.ApplyDelta(ctx, debit.accountID, debit.delta.Neg(), draft)
		if err == nil {
			uc.publish(ctx, txn)
			return txn
		}

		uc.logger.Error("compensating reversal attempt failed",
			zap.Int("attempt", attempt),
			zap.String("link_id", deref(debit.draft.LinkID)),
			zap.Error(err),
		)

		if attempt < compensationAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	uc.logger.Error("compensating reversal exhausted retries, manual reconciliation required",
		zap.String("link_id", deref(debit.draft.LinkID)),
		zap.Int64("account_id", debit.accountID),
		zap.String("amount", debit.draft.Amount.String()),
		zap.String("currency", debit.draft.Currency),
	)
	return nil
}

// ownedActiveAccount loads the account and checks ownership, status and
// currency. A foreign account id reads as not found so account ids of other
// users cannot be probed.
func (uc *LedgerUsecase) ownedActiveAccount(
	ctx context.Context,
	userID, accountID int64,
	currency string,
) (*domain.Account, error) {
	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, xerrors.ErrAccountNotFound
	}
	if !account.IsActive() {
		return nil, fmt.Errorf("%w: account %d", xerrors.ErrAccountNotActive, account.ID)
	}
	if currency != "" && account.Currency != currency {
		return nil, fmt.Errorf("%w: account currency is %s, not %s",
			xerrors.ErrValidation, account.Currency, currency)
	}
	return account, nil
}

func (uc *LedgerUsecase) afterCommit(ctx context.Context, idemKey *string, txns ...*domain.Transaction) {
	uc.storeIdempotent(ctx, idemKey, txns)
	for _, txn := range txns {
		uc.publish(ctx, txn)
	}
}

func (uc *LedgerUsecase) publish(ctx context.Context, txn *domain.Transaction) {
	if uc.events != nil {
		uc.events.PublishCommitted(ctx, txn)
	}
}

// replayIdempotent returns the stored result of an earlier call with the same
// idempotency key, or nil when there is none.
func (uc *LedgerUsecase) replayIdempotent(ctx context.Context, idemKey *string) []*domain.Transaction {
	if uc.rdb == nil || idemKey == nil || *idemKey == "" {
		return nil
	}

	raw, err := uc.rdb.Get(ctx, idempotencyKeyPrefix+*idemKey).Result()
	if err != nil {
		if err != redis.Nil {
			uc.logger.Warn("idempotency lookup failed", zap.Error(err))
		}
		return nil
	}

	var txns []*domain.Transaction
	if err := json.Unmarshal([]byte(raw), &txns); err != nil || len(txns) == 0 {
		uc.logger.Warn("discarding unreadable idempotency record", zap.String("key", *idemKey))
		return nil
	}

	uc.logger.Info("replaying idempotent request",
		zap.String("key", *idemKey),
		zap.String("transaction_no", txns[0].TransactionNo),
	)
	return txns
}

func (uc *LedgerUsecase) storeIdempotent(ctx context.Context, idemKey *string, txns []*domain.Transaction) {
	if uc.rdb == nil || idemKey == nil || *idemKey == "" {
		return
	}

	payload, err := json.Marshal(txns)
	if err != nil {
		return
	}

	if err := uc.rdb.Set(ctx, idempotencyKeyPrefix+*idemKey, payload, idempotencyTTL).Err(); err != nil {
		uc.logger.Warn("failed to store idempotency record", zap.Error(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
