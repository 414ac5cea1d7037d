package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	idgen "ledger-service/pkg/id"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionRepository reads the append-only transaction log. Appends happen
// exclusively inside the leg-commit path (LedgerRepository), so a log entry
// is always created atomically with its balance effect.
type TransactionRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)

	// ListForUser returns the user's transactions, newest first.
	// Redacted entries are excluded.
	ListForUser(ctx context.Context, userID int64, f *domain.TransactionFilter) ([]*domain.Transaction, error)

	// Redact soft-deletes an entry for compliance redaction only. Corrections
	// are never redactions; they are new reversing transactions.
	Redact(ctx context.Context, id int64) error
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const baseTransactionSelect = `
	SELECT id, transaction_no, type, user_id, account_id, counterparty_account_id,
	       link_id, amount::text, currency, balance_after::text, description, created_at
	FROM transactions`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount, balanceAfter string

	err := row.Scan(
		&t.ID, &t.TransactionNo, &t.Type, &t.UserID, &t.AccountID,
		&t.CounterpartyAccountID, &t.LinkID, &amount, &t.Currency,
		&balanceAfter, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if t.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return nil, fmt.Errorf("failed to parse balance_after %q: %w", balanceAfter, err)
	}

	return &t, nil
}

// insertTransactionTx appends one log entry inside an open leg transaction.
// The BIGSERIAL id keeps entries monotonically ordered under concurrent
// appenders; the ULID transaction number is the external reference.
func insertTransactionTx(
	ctx context.Context,
	tx pgx.Tx,
	draft *domain.TransactionDraft,
	balanceAfter decimal.Decimal,
) (*domain.Transaction, error) {
	t := &domain.Transaction{
		TransactionNo:         idgen.NewULID(),
		Type:                  draft.Type,
		UserID:                draft.UserID,
		AccountID:             draft.AccountID,
		CounterpartyAccountID: draft.CounterpartyAccountID,
		LinkID:                draft.LinkID,
		Amount:                draft.Amount,
		Currency:              draft.Currency,
		BalanceAfter:          balanceAfter,
		Description:           draft.Description,
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			transaction_no, type, user_id, account_id, counterparty_account_id,
			link_id, amount, currency, balance_after, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10)
		RETURNING id, created_at
	`,
		t.TransactionNo,
		t.Type,
		t.UserID,
		t.AccountID,
		t.CounterpartyAccountID,
		t.LinkID,
		t.Amount.String(),
		t.Currency,
		t.BalanceAfter.String(),
		t.Description,
	).Scan(&t.ID, &t.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return t, nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, baseTransactionSelect+` WHERE id=$1 AND redacted_at IS NULL`, id)
	return scanTransaction(row)
}

func (r *transactionRepo) ListForUser(
	ctx context.Context,
	userID int64,
	f *domain.TransactionFilter,
) ([]*domain.Transaction, error) {
	query := baseTransactionSelect + ` WHERE user_id=$1 AND redacted_at IS NULL`
	args := []interface{}{userID}
	argPos := 2

	if f != nil {
		if f.AccountID != nil {
			query += fmt.Sprintf(` AND account_id=$%d`, argPos)
			args = append(args, *f.AccountID)
			argPos++
		}
		if f.Type != nil {
			query += fmt.Sprintf(` AND type=$%d`, argPos)
			args = append(args, *f.Type)
			argPos++
		}
		if f.From != nil {
			query += fmt.Sprintf(` AND created_at >= $%d`, argPos)
			args = append(args, *f.From)
			argPos++
		}
		if f.To != nil {
			query += fmt.Sprintf(` AND created_at <= $%d`, argPos)
			args = append(args, *f.To)
			argPos++
		}
	}

	limit := 50
	skip := 0
	if f != nil {
		if f.Limit > 0 {
			limit = f.Limit
		}
		if f.Limit > 500 {
			limit = 500
		}
		if f.Skip > 0 {
			skip = f.Skip
		}
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, limit, skip)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return txns, nil
}

func (r *transactionRepo) Redact(ctx context.Context, id int64) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE transactions SET redacted_at = now()
		WHERE id = $1 AND redacted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to redact transaction: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}
