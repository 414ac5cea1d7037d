package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a cached crypto→fiat exchange rate. A quote older than its TTL is
// not usable for pricing; Degraded marks a stale value served because the
// provider was unreachable.
type Quote struct {
	Symbol    string          `json:"symbol"`
	FiatCode  string          `json:"fiat_code"`
	Rate      decimal.Decimal `json:"rate"` // units of fiat per unit of crypto
	FetchedAt time.Time       `json:"fetched_at"`
	Degraded  bool            `json:"degraded,omitempty"`
}

func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

// Supported crypto assets and the fiat currency in scope.
const FiatKZT = "KZT"

var SupportedSymbols = []string{"BTC", "ETH", "USDT"}

func IsSupportedSymbol(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}
