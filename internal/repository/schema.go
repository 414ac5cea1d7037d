package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS accounts (
	id            BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL,
	account_type  VARCHAR(20) NOT NULL,
	currency      VARCHAR(10) NOT NULL,
	balance       NUMERIC(28,10) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	status        VARCHAR(10) NOT NULL DEFAULT 'active',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_user_type_currency
	ON accounts (user_id, account_type, currency)
	WHERE deleted_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts (user_id);

CREATE TABLE IF NOT EXISTS transactions (
	id                      BIGSERIAL PRIMARY KEY,
	transaction_no          VARCHAR(26) NOT NULL UNIQUE,
	type                    VARCHAR(20) NOT NULL,
	user_id                 BIGINT NOT NULL,
	account_id              BIGINT NOT NULL REFERENCES accounts(id),
	counterparty_account_id BIGINT,
	link_id                 VARCHAR(26),
	amount                  NUMERIC(28,10) NOT NULL CHECK (amount > 0),
	currency                VARCHAR(10) NOT NULL,
	balance_after           NUMERIC(28,10) NOT NULL,
	description             VARCHAR(256) NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	redacted_at             TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_link ON transactions (link_id) WHERE link_id IS NOT NULL;
`

// EnsureSchema creates the ledger tables if they do not exist yet.
// Idempotent; runs at startup before the server accepts traffic.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
