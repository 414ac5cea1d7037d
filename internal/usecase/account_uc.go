package usecase

import (
	"context"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountUsecase manages account lifecycle. Balance changes never happen here.
type AccountUsecase struct {
	accountRepo repository.AccountRepository
	ledger      *LedgerUsecase
	logger      *zap.Logger
}

func NewAccountUsecase(
	accountRepo repository.AccountRepository,
	ledger *LedgerUsecase,
	logger *zap.Logger,
) *AccountUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountUsecase{
		accountRepo: accountRepo,
		ledger:      ledger,
		logger:      logger,
	}
}

// Create returns the (user, type, currency) account, creating it if absent.
// A positive opening balance is booked as a regular deposit so it appears in
// the transaction log like any other credit.
func (uc *AccountUsecase) Create(
	ctx context.Context,
	userID int64,
	accountType domain.AccountType,
	currency string,
	openingBalance *decimal.Decimal,
) (*domain.Account, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", xerrors.ErrValidation)
	}

	switch accountType {
	case domain.AccountTypeChecking:
		if currency != domain.FiatKZT {
			return nil, fmt.Errorf("%w: checking accounts settle in %s", xerrors.ErrValidation, domain.FiatKZT)
		}
	case domain.AccountTypeCrypto:
		if !domain.IsSupportedSymbol(currency) {
			return nil, fmt.Errorf("%w: %q", xerrors.ErrUnsupportedSymbol, currency)
		}
	default:
		return nil, fmt.Errorf("%w: invalid account type %q", xerrors.ErrValidation, accountType)
	}

	account, err := uc.accountRepo.GetOrCreate(ctx, userID, accountType, currency)
	if err != nil {
		return nil, err
	}

	if openingBalance != nil && !openingBalance.IsZero() {
		if openingBalance.IsNegative() {
			return nil, fmt.Errorf("%w: opening balance cannot be negative", xerrors.ErrValidation)
		}

		txn, err := uc.ledger.Deposit(ctx, userID, account.ID, *openingBalance,
			account.Currency, "Opening balance", nil)
		if err != nil {
			return nil, err
		}
		account.Balance = txn.BalanceAfter
	}

	return account, nil
}

func (uc *AccountUsecase) ListForUser(ctx context.Context, userID int64) ([]*domain.Account, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", xerrors.ErrValidation)
	}
	return uc.accountRepo.ListForUser(ctx, userID)
}

// Close soft-deletes an owned account. Accounts with a non-zero balance stay
// open until emptied.
func (uc *AccountUsecase) Close(ctx context.Context, userID, accountID int64) error {
	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.UserID != userID {
		return xerrors.ErrAccountNotFound
	}
	if !account.Balance.IsZero() {
		return fmt.Errorf("%w: account %d still holds %s %s",
			xerrors.ErrValidation, accountID, account.Balance.String(), account.Currency)
	}

	return uc.accountRepo.SoftDelete(ctx, accountID)
}
