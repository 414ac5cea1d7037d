package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository is the single balance-mutation primitive. One call commits
// one leg: a conditional balance update plus its log entry in one database
// transaction. The row lock taken by the UPDATE serializes all mutations of
// one account, so two concurrent withdrawals can never both pass the
// insufficient-funds check against a stale balance.
type LedgerRepository interface {
	// ApplyDelta atomically adjusts the account balance by the signed delta
	// and appends the transaction entry. Fails with ErrInsufficientFunds if
	// the resulting balance would be negative, ErrAccountNotActive if the
	// account is frozen/closed/deleted, ErrAccountNotFound otherwise.
	// No partial effect: on any error neither the balance nor the log changes.
	ApplyDelta(
		ctx context.Context,
		accountID int64,
		delta decimal.Decimal,
		draft *domain.TransactionDraft,
	) (*domain.Account, *domain.Transaction, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) ApplyDelta(
	ctx context.Context,
	accountID int64,
	delta decimal.Decimal,
	draft *domain.TransactionDraft,
) (*domain.Account, *domain.Transaction, error) {
	if draft == nil || !draft.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: leg amount must be positive", xerrors.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to begin leg transaction: %v", xerrors.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	// Guarded update: the WHERE clause is the final atomic check against the
	// committed balance, not a snapshot taken at validation time.
	row := tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2::numeric, updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND deleted_at IS NULL
		  AND balance + $2::numeric >= 0
		RETURNING id, user_id, account_type, currency, balance::text, status,
		          created_at, updated_at, deleted_at
	`, accountID, delta.String())

	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, xerrors.ErrAccountNotFound) {
			return nil, nil, r.classifyRejection(ctx, tx, accountID)
		}
		return nil, nil, err
	}

	if draft.Currency != account.Currency {
		return nil, nil, fmt.Errorf("%w: leg currency %s does not match account currency %s",
			xerrors.ErrValidation, draft.Currency, account.Currency)
	}

	txn, err := insertTransactionTx(ctx, tx, draft, account.Balance)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to commit leg: %v", xerrors.ErrStorage, err)
	}

	return account, txn, nil
}

// classifyRejection resolves why the guarded update matched no row.
func (r *ledgerRepo) classifyRejection(ctx context.Context, tx pgx.Tx, accountID int64) error {
	var status domain.AccountStatus
	var deleted *string

	err := tx.QueryRow(ctx, `
		SELECT status, deleted_at::text FROM accounts WHERE id = $1
	`, accountID).Scan(&status, &deleted)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return xerrors.ErrAccountNotFound
		}
		return fmt.Errorf("failed to classify rejected leg: %w", err)
	}

	if status != domain.AccountStatusActive || deleted != nil {
		return xerrors.ErrAccountNotActive
	}

	return xerrors.ErrInsufficientFunds
}
