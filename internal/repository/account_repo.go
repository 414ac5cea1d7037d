package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AccountRepository defines account persistence. Balances are read here but
// mutated only through the LedgerRepository leg-commit path.
type AccountRepository interface {
	// GetOrCreate returns the account matching (user, type, currency),
	// creating it with zero balance if absent. Safe under concurrent calls:
	// the unique index guarantees exactly one row, and both racers observe
	// the same account id.
	GetOrCreate(ctx context.Context, userID int64, accountType domain.AccountType, currency string) (*domain.Account, error)

	GetByID(ctx context.Context, accountID int64) (*domain.Account, error)
	ListForUser(ctx context.Context, userID int64) ([]*domain.Account, error)

	// SoftDelete marks the account deleted; rows referenced by transactions
	// are never physically removed.
	SoftDelete(ctx context.Context, accountID int64) error
}

type accountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) AccountRepository {
	return &accountRepo{db: db}
}

const baseAccountSelect = `
	SELECT id, user_id, account_type, currency, balance::text, status,
	       created_at, updated_at, deleted_at
	FROM accounts`

// scanAccount scans a row into a domain.Account
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var balance string

	err := row.Scan(
		&a.ID, &a.UserID, &a.AccountType, &a.Currency, &balance,
		&a.Status, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}

	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*domain.Account, error) {
	defer rows.Close()
	var accounts []*domain.Account

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

// GetOrCreate implements the lazy account creation pattern. The upsert makes
// the create idempotent under concurrent callers.
func (r *accountRepo) GetOrCreate(
	ctx context.Context,
	userID int64,
	accountType domain.AccountType,
	currency string,
) (*domain.Account, error) {
	if !accountType.IsValid() {
		return nil, fmt.Errorf("%w: invalid account type %q", xerrors.ErrValidation, accountType)
	}
	if currency == "" {
		return nil, fmt.Errorf("%w: currency required", xerrors.ErrValidation)
	}

	now := time.Now()
	row := r.db.QueryRow(ctx, `
		INSERT INTO accounts (user_id, account_type, currency, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 'active', $4, $4)
		ON CONFLICT (user_id, account_type, currency) WHERE deleted_at IS NULL
		DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, account_type, currency, balance::text, status,
		          created_at, updated_at, deleted_at
	`, userID, accountType, currency, now)

	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create account: %w", err)
	}

	return account, nil
}

func (r *accountRepo) GetByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, baseAccountSelect+` WHERE id=$1 AND deleted_at IS NULL`, accountID)
	return scanAccount(row)
}

func (r *accountRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx,
		baseAccountSelect+` WHERE user_id=$1 AND deleted_at IS NULL ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts for user: %w", err)
	}

	return scanAccountRows(rows)
}

func (r *accountRepo) SoftDelete(ctx context.Context, accountID int64) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET deleted_at = now(), status = 'closed', updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to soft delete account: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrAccountNotFound
	}

	return nil
}
