package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

// Amount is always positive; direction is carried by the type, never by sign.
const (
	TypeDeposit       TransactionType = "deposit"         // credit
	TypeWithdrawal    TransactionType = "withdrawal"      // debit
	TypeTransferIn    TransactionType = "transfer_in"     // credit leg of a transfer
	TypeTransferOut   TransactionType = "transfer_out"    // debit leg of a transfer
	TypeMarketBuy     TransactionType = "market_buy"      // credit of the crypto account
	TypeMarketSell    TransactionType = "market_sell"     // debit of the crypto account
	TypeConversionLeg TransactionType = "conversion_leg"  // either leg of an explicit conversion
	TypeReversal      TransactionType = "reversal"        // compensating credit after a failed paired leg
)

// Transaction is one append-only ledger entry. Entries are written atomically
// with their balance effect and are never updated afterwards; RedactedAt is
// set only for compliance redaction, corrections are new reversing entries.
type Transaction struct {
	ID                    int64           `json:"id"`
	TransactionNo         string          `json:"transaction_no"`
	Type                  TransactionType `json:"type"`
	UserID                int64           `json:"user_id"`
	AccountID             int64           `json:"account_id"`
	CounterpartyAccountID *int64          `json:"counterparty_account_id,omitempty"`
	LinkID                *string         `json:"link_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	Description           string          `json:"description,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	RedactedAt            *time.Time      `json:"-"`
}

// TransactionDraft is the input to a leg commit. The repository assigns id,
// transaction number and timestamp.
type TransactionDraft struct {
	Type                  TransactionType
	UserID                int64
	AccountID             int64
	CounterpartyAccountID *int64
	LinkID                *string
	Amount                decimal.Decimal // positive
	Currency              string
	Description           string
}

type TransactionFilter struct {
	AccountID *int64
	Type      *TransactionType
	From      *time.Time
	To        *time.Time
	Skip      int
	Limit     int
}
