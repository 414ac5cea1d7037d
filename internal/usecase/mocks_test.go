package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-service/internal/domain"
	idgen "ledger-service/pkg/id"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory stand-in for the three repositories. ApplyDelta
// mirrors the production guard order: existence, status, currency, then funds.
type fakeStore struct {
	mu sync.Mutex

	accounts      map[int64]*domain.Account
	nextAccountID int64

	txns     []*domain.Transaction
	nextTxID int64

	// failLeg, when set, rejects matching drafts before any state change.
	failLeg func(draft *domain.TransactionDraft) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[int64]*domain.Account),
	}
}

func (s *fakeStore) seedAccount(userID int64, accountType domain.AccountType, currency, balance string) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	a := &domain.Account{
		ID:          s.nextAccountID,
		UserID:      userID,
		AccountType: accountType,
		Currency:    currency,
		Balance:     decimal.RequireFromString(balance),
		Status:      domain.AccountStatusActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.accounts[a.ID] = a
	return a
}

func (s *fakeStore) balanceOf(accountID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountID].Balance
}

func (s *fakeStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

// --- repository.AccountRepository ---

func (s *fakeStore) GetOrCreate(ctx context.Context, userID int64, accountType domain.AccountType, currency string) (*domain.Account, error) {
	s.mu.Lock()

	for _, a := range s.accounts {
		if a.UserID == userID && a.AccountType == accountType && a.Currency == currency && a.DeletedAt == nil {
			copied := *a
			s.mu.Unlock()
			return &copied, nil
		}
	}
	s.mu.Unlock()

	return s.seedAccount(userID, accountType, currency, "0"), nil
}

func (s *fakeStore) GetByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok || a.DeletedAt != nil {
		return nil, xerrors.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) ListForUser(ctx context.Context, userID int64) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Account
	for _, a := range s.accounts {
		if a.UserID == userID && a.DeletedAt == nil {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) SoftDelete(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok || a.DeletedAt != nil {
		return xerrors.ErrAccountNotFound
	}
	now := time.Now()
	a.DeletedAt = &now
	a.Status = domain.AccountStatusClosed
	return nil
}

// --- repository.LedgerRepository ---

func (s *fakeStore) ApplyDelta(
	ctx context.Context,
	accountID int64,
	delta decimal.Decimal,
	draft *domain.TransactionDraft,
) (*domain.Account, *domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLeg != nil {
		if err := s.failLeg(draft); err != nil {
			return nil, nil, err
		}
	}

	a, ok := s.accounts[accountID]
	if !ok || a.DeletedAt != nil {
		return nil, nil, xerrors.ErrAccountNotFound
	}
	if a.Status != domain.AccountStatusActive {
		return nil, nil, xerrors.ErrAccountNotActive
	}
	if draft.Currency != a.Currency {
		return nil, nil, fmt.Errorf("%w: currency mismatch", xerrors.ErrValidation)
	}

	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return nil, nil, xerrors.ErrInsufficientFunds
	}
	a.Balance = next
	a.UpdatedAt = time.Now()

	s.nextTxID++
	txn := &domain.Transaction{
		ID:                    s.nextTxID,
		TransactionNo:         idgen.NewULID(),
		Type:                  draft.Type,
		UserID:                draft.UserID,
		AccountID:             draft.AccountID,
		CounterpartyAccountID: draft.CounterpartyAccountID,
		LinkID:                draft.LinkID,
		Amount:                draft.Amount,
		Currency:              draft.Currency,
		BalanceAfter:          next,
		Description:           draft.Description,
		CreatedAt:             time.Now(),
	}
	s.txns = append(s.txns, txn)

	copied := *a
	return &copied, txn, nil
}

// --- repository.TransactionRepository ---

func (s *fakeStore) GetTxByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.txns {
		if t.ID == id && t.RedactedAt == nil {
			return t, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *fakeStore) ListTxForUser(ctx context.Context, userID int64, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		t := s.txns[i]
		if t.UserID != userID || t.RedactedAt != nil {
			continue
		}
		if f != nil {
			if f.AccountID != nil && t.AccountID != *f.AccountID {
				continue
			}
			if f.Type != nil && t.Type != *f.Type {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) Redact(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.txns {
		if t.ID == id && t.RedactedAt == nil {
			now := time.Now()
			t.RedactedAt = &now
			return nil
		}
	}
	return xerrors.ErrNotFound
}

// txRepoAdapter exposes the fake store under the TransactionRepository method
// names without colliding with AccountRepository's GetByID/ListForUser.
type txRepoAdapter struct{ store *fakeStore }

func (a txRepoAdapter) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	return a.store.GetTxByID(ctx, id)
}

func (a txRepoAdapter) ListForUser(ctx context.Context, userID int64, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return a.store.ListTxForUser(ctx, userID, f)
}

func (a txRepoAdapter) Redact(ctx context.Context, id int64) error {
	return a.store.Redact(ctx, id)
}

// --- QuoteSource ---

type fakeQuotes struct {
	rates    map[string]decimal.Decimal
	errs     map[string]error
	degraded map[string]bool
}

func (f *fakeQuotes) GetRate(ctx context.Context, symbol, fiat string) (domain.Quote, error) {
	if err, ok := f.errs[symbol]; ok {
		return domain.Quote{}, err
	}
	rate, ok := f.rates[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: %s", xerrors.ErrQuoteUnavailable, symbol)
	}
	return domain.Quote{
		Symbol:    symbol,
		FiatCode:  fiat,
		Rate:      rate,
		FetchedAt: time.Now(),
		Degraded:  f.degraded[symbol],
	}, nil
}

func (f *fakeQuotes) GetRates(ctx context.Context, symbols []string, fiat string) (map[string]domain.Quote, map[string]error) {
	quotes := make(map[string]domain.Quote)
	failures := make(map[string]error)
	for _, s := range symbols {
		q, err := f.GetRate(ctx, s, fiat)
		if err != nil {
			failures[s] = err
			continue
		}
		quotes[s] = q
	}
	return quotes, failures
}

func newTestLedger(store *fakeStore) *LedgerUsecase {
	return NewLedgerUsecase(store, store, txRepoAdapter{store}, nil, nil, nil)
}

func newTestOrders(store *fakeStore, quotes *fakeQuotes) *OrderUsecase {
	return NewOrderUsecase(newTestLedger(store), store, quotes, nil, nil)
}
