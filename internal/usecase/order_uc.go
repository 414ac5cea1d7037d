package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	idgen "ledger-service/pkg/id"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	priceBookKey = "ledger:prices:"
	priceBookTTL = 10 * time.Second

	// Crypto quantities are stored to 10 decimal places; buys truncate toward
	// zero so a user is never credited more than the fiat paid for.
	quantityScale = 10

	// Fiat notionals settle at 2 decimal places, rounded half to even.
	fiatScale = 2
)

// QuoteSource yields priced quotes. Implemented by quote.Cache in production
// and by fakes in tests.
type QuoteSource interface {
	GetRate(ctx context.Context, symbol, fiat string) (domain.Quote, error)
	GetRates(ctx context.Context, symbols []string, fiat string) (map[string]domain.Quote, map[string]error)
}

// OrderUsecase prices and settles crypto market orders and conversions. All
// settlement goes through the ledger's paired-leg path; this layer only adds
// quoting and notional arithmetic.
type OrderUsecase struct {
	ledger      *LedgerUsecase
	accountRepo repository.AccountRepository
	quotes      QuoteSource
	rdb         *redis.Client
	logger      *zap.Logger
}

func NewOrderUsecase(
	ledger *LedgerUsecase,
	accountRepo repository.AccountRepository,
	quotes QuoteSource,
	rdb *redis.Client,
	logger *zap.Logger,
) *OrderUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderUsecase{
		ledger:      ledger,
		accountRepo: accountRepo,
		quotes:      quotes,
		rdb:         rdb,
		logger:      logger,
	}
}

// PriceBook is the public quote snapshot for all supported symbols.
type PriceBook struct {
	FiatCode    string                     `json:"fiat_code"`
	Rates       map[string]decimal.Decimal `json:"rates"`
	Degraded    []string                   `json:"degraded,omitempty"`
	Unavailable []string                   `json:"unavailable,omitempty"`
	FetchedAt   time.Time                  `json:"fetched_at"`
}

// PortfolioItem is one crypto holding valued at the current quote.
type PortfolioItem struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

type Portfolio struct {
	FiatCode   string          `json:"fiat_code"`
	Items      []PortfolioItem `json:"items"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// ConversionResult reports both committed legs of a conversion plus the
// settled fiat notional.
type ConversionResult struct {
	Withdrawal *domain.Transaction `json:"withdrawal"`
	Deposit    *domain.Transaction `json:"deposit"`
	FiatAmount decimal.Decimal     `json:"fiat_amount"`
}

// MarketBuy spends fiatAmount from the user's fiat account and credits the
// bought quantity to the user's crypto account for the symbol, creating it on
// first use. Returns the crypto credit transaction.
func (uc *OrderUsecase) MarketBuy(
	ctx context.Context,
	userID int64,
	symbol string,
	fiatAmount decimal.Decimal,
	fiatAccountID int64,
	idemKey *string,
) (*domain.Transaction, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !fiatAmount.IsPositive() {
		return nil, fmt.Errorf("%w: fiat amount must be positive", xerrors.ErrValidation)
	}

	if replayed := uc.ledger.replayIdempotent(ctx, idemKey); replayed != nil {
		return replayed[len(replayed)-1], nil
	}

	fiatAccount, err := uc.ledger.ownedActiveAccount(ctx, userID, fiatAccountID, domain.FiatKZT)
	if err != nil {
		return nil, err
	}

	// Quote before touching any balance: a quote failure must have no effect.
	q, err := uc.quotes.GetRate(ctx, symbol, domain.FiatKZT)
	if err != nil {
		return nil, err
	}

	// QuoRem gives the exact truncated quotient: the buyer never receives
	// more than the fiat paid for.
	quantity, _ := fiatAmount.QuoRem(q.Rate, quantityScale)
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: fiat amount too small to buy any %s", xerrors.ErrValidation, symbol)
	}

	cryptoAccount, err := uc.accountRepo.GetOrCreate(ctx, userID, domain.AccountTypeCrypto, symbol)
	if err != nil {
		return nil, err
	}

	linkID := idgen.NewULID()
	description := fmt.Sprintf("BUY %s @ %s %s", symbol, q.Rate.String(), domain.FiatKZT)

	debitTx, creditTx, err := uc.ledger.runLinkedLegs(ctx,
		legSpec{
			accountID: fiatAccount.ID,
			delta:     fiatAmount.Neg(),
			draft: &domain.TransactionDraft{
				Type:                  domain.TypeWithdrawal,
				UserID:                userID,
				AccountID:             fiatAccount.ID,
				CounterpartyAccountID: &cryptoAccount.ID,
				LinkID:                &linkID,
				Amount:                fiatAmount,
				Currency:              fiatAccount.Currency,
				Description:           description,
			},
		},
		legSpec{
			accountID: cryptoAccount.ID,
			delta:     quantity,
			draft: &domain.TransactionDraft{
				Type:                  domain.TypeMarketBuy,
				UserID:                userID,
				AccountID:             cryptoAccount.ID,
				CounterpartyAccountID: &fiatAccount.ID,
				LinkID:                &linkID,
				Amount:                quantity,
				Currency:              symbol,
				Description:           description,
			},
		},
		xerrors.ErrConversionFailed,
	)
	if err != nil {
		return nil, err
	}

	uc.ledger.afterCommit(ctx, idemKey, debitTx, creditTx)
	return creditTx, nil
}

// MarketSell sells quantity from the user's crypto account and credits the
// proceeds to the fiat account. Returns the fiat credit transaction, whose
// amount is the settled notional.
func (uc *OrderUsecase) MarketSell(
	ctx context.Context,
	userID int64,
	symbol string,
	quantity decimal.Decimal,
	fiatAccountID int64,
	idemKey *string,
) (*domain.Transaction, error) {
	if replayed := uc.ledger.replayIdempotent(ctx, idemKey); replayed != nil {
		return replayed[len(replayed)-1], nil
	}

	debitTx, creditTx, _, err := uc.sellInto(ctx, userID, symbol, quantity, fiatAccountID,
		domain.TypeMarketSell, domain.TypeDeposit, "SELL")
	if err != nil {
		return nil, err
	}

	uc.ledger.afterCommit(ctx, idemKey, debitTx, creditTx)
	return creditTx, nil
}

// Convert liquidates a crypto amount into the fiat account. Semantically a
// sell; the legs are typed conversion_leg so statements distinguish explicit
// conversions from market orders.
func (uc *OrderUsecase) Convert(
	ctx context.Context,
	userID int64,
	symbol string,
	amount decimal.Decimal,
	fiatAccountID int64,
	idemKey *string,
) (*ConversionResult, error) {
	if replayed := uc.ledger.replayIdempotent(ctx, idemKey); replayed != nil && len(replayed) >= 2 {
		return &ConversionResult{
			Withdrawal: replayed[0],
			Deposit:    replayed[1],
			FiatAmount: replayed[1].Amount,
		}, nil
	}

	debitTx, creditTx, fiatAmount, err := uc.sellInto(ctx, userID, symbol, amount, fiatAccountID,
		domain.TypeConversionLeg, domain.TypeConversionLeg, "CONVERT")
	if err != nil {
		return nil, err
	}

	uc.ledger.afterCommit(ctx, idemKey, debitTx, creditTx)
	return &ConversionResult{
		Withdrawal: debitTx,
		Deposit:    creditTx,
		FiatAmount: fiatAmount,
	}, nil
}

// sellInto is the shared crypto-to-fiat settlement path.
func (uc *OrderUsecase) sellInto(
	ctx context.Context,
	userID int64,
	symbol string,
	quantity decimal.Decimal,
	fiatAccountID int64,
	debitType, creditType domain.TransactionType,
	verb string,
) (*domain.Transaction, *domain.Transaction, decimal.Decimal, error) {
	var zero decimal.Decimal

	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, nil, zero, err
	}
	if !quantity.IsPositive() {
		return nil, nil, zero, fmt.Errorf("%w: quantity must be positive", xerrors.ErrValidation)
	}

	fiatAccount, err := uc.ledger.ownedActiveAccount(ctx, userID, fiatAccountID, domain.FiatKZT)
	if err != nil {
		return nil, nil, zero, err
	}

	cryptoAccount, err := uc.accountRepo.GetOrCreate(ctx, userID, domain.AccountTypeCrypto, symbol)
	if err != nil {
		return nil, nil, zero, err
	}

	q, err := uc.quotes.GetRate(ctx, symbol, domain.FiatKZT)
	if err != nil {
		return nil, nil, zero, err
	}

	proceeds := quantity.Mul(q.Rate).RoundBank(fiatScale)
	if !proceeds.IsPositive() {
		return nil, nil, zero, fmt.Errorf("%w: quantity too small to settle in %s", xerrors.ErrValidation, domain.FiatKZT)
	}

	linkID := idgen.NewULID()
	description := fmt.Sprintf("%s %s @ %s %s", verb, symbol, q.Rate.String(), domain.FiatKZT)

	debitTx, creditTx, err := uc.ledger.runLinkedLegs(ctx,
		legSpec{
			accountID: cryptoAccount.ID,
			delta:     quantity.Neg(),
			draft: &domain.TransactionDraft{
				Type:                  debitType,
				UserID:                userID,
				AccountID:             cryptoAccount.ID,
				CounterpartyAccountID: &fiatAccount.ID,
				LinkID:                &linkID,
				Amount:                quantity,
				Currency:              symbol,
				Description:           description,
			},
		},
		legSpec{
			accountID: fiatAccount.ID,
			delta:     proceeds,
			draft: &domain.TransactionDraft{
				Type:                  creditType,
				UserID:                userID,
				AccountID:             fiatAccount.ID,
				CounterpartyAccountID: &cryptoAccount.ID,
				LinkID:                &linkID,
				Amount:                proceeds,
				Currency:              fiatAccount.Currency,
				Description:           description,
			},
		},
		xerrors.ErrConversionFailed,
	)
	if err != nil {
		return nil, nil, zero, err
	}

	return debitTx, creditTx, proceeds, nil
}

// Prices returns current quotes for every supported symbol. The snapshot is
// cached in Redis for a few seconds so a burst of dashboard polls costs one
// quote-cache pass. Fails only when no symbol can be priced at all.
func (uc *OrderUsecase) Prices(ctx context.Context) (*PriceBook, error) {
	if book := uc.cachedPriceBook(ctx); book != nil {
		return book, nil
	}

	quotes, failures := uc.quotes.GetRates(ctx, domain.SupportedSymbols, domain.FiatKZT)
	if len(quotes) == 0 {
		for symbol, err := range failures {
			return nil, fmt.Errorf("no symbol could be priced (%s): %w", symbol, err)
		}
		return nil, xerrors.ErrQuoteUnavailable
	}

	book := &PriceBook{
		FiatCode:  domain.FiatKZT,
		Rates:     make(map[string]decimal.Decimal, len(quotes)),
		FetchedAt: time.Now(),
	}
	for symbol, q := range quotes {
		book.Rates[symbol] = q.Rate
		if q.Degraded {
			book.Degraded = append(book.Degraded, symbol)
		}
	}
	for symbol := range failures {
		book.Unavailable = append(book.Unavailable, symbol)
	}

	uc.storePriceBook(ctx, book)
	return book, nil
}

// PortfolioBalances values every crypto holding of the user at current quotes.
// Crypto accounts for all supported symbols are materialized on first read so
// the portfolio always lists all of them, zero balances included.
func (uc *OrderUsecase) PortfolioBalances(ctx context.Context, userID int64) (*Portfolio, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id required", xerrors.ErrValidation)
	}

	accounts := make([]*domain.Account, 0, len(domain.SupportedSymbols))
	for _, symbol := range domain.SupportedSymbols {
		account, err := uc.accountRepo.GetOrCreate(ctx, userID, domain.AccountTypeCrypto, symbol)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	quotes, failures := uc.quotes.GetRates(ctx, domain.SupportedSymbols, domain.FiatKZT)
	for symbol, err := range failures {
		return nil, fmt.Errorf("cannot value portfolio, %s unpriced: %w", symbol, err)
	}

	portfolio := &Portfolio{
		FiatCode: domain.FiatKZT,
		Items:    make([]PortfolioItem, 0, len(accounts)),
	}
	for _, account := range accounts {
		q := quotes[account.Currency]
		value := account.Balance.Mul(q.Rate).RoundBank(fiatScale)
		portfolio.Items = append(portfolio.Items, PortfolioItem{
			Symbol:   account.Currency,
			Quantity: account.Balance,
			Price:    q.Rate,
			Value:    value,
		})
		portfolio.TotalValue = portfolio.TotalValue.Add(value)
	}

	return portfolio, nil
}

func (uc *OrderUsecase) cachedPriceBook(ctx context.Context) *PriceBook {
	if uc.rdb == nil {
		return nil
	}

	raw, err := uc.rdb.Get(ctx, priceBookKey+domain.FiatKZT).Result()
	if err != nil {
		if err != redis.Nil {
			uc.logger.Warn("price snapshot lookup failed", zap.Error(err))
		}
		return nil
	}

	var book PriceBook
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		return nil
	}
	return &book
}

func (uc *OrderUsecase) storePriceBook(ctx context.Context, book *PriceBook) {
	if uc.rdb == nil {
		return
	}

	payload, err := json.Marshal(book)
	if err != nil {
		return
	}

	if err := uc.rdb.Set(ctx, priceBookKey+book.FiatCode, payload, priceBookTTL).Err(); err != nil {
		uc.logger.Warn("failed to store price snapshot", zap.Error(err))
	}
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !domain.IsSupportedSymbol(symbol) {
		return "", fmt.Errorf("%w: %q", xerrors.ErrUnsupportedSymbol, symbol)
	}
	return symbol, nil
}
