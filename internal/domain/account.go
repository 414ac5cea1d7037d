package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeCrypto   AccountType = "crypto"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Account is a single-currency ledger account. Balance is mutated only
// through the ledger leg-commit path, never written directly.
type Account struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	AccountType AccountType     `json:"account_type"`
	Currency    string          `json:"currency"` // fiat code or crypto symbol
	Balance     decimal.Decimal `json:"balance"`
	Status      AccountStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"-"`
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive && a.DeletedAt == nil
}

func (t AccountType) IsValid() bool {
	return t == AccountTypeChecking || t == AccountTypeCrypto
}
