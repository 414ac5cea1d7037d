package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore backs the handler tests with a single account.
type memStore struct {
	account *domain.Account
	txSeq   int64
}

func newMemStore(balance string) *memStore {
	return &memStore{
		account: &domain.Account{
			ID:          1,
			UserID:      1,
			AccountType: domain.AccountTypeChecking,
			Currency:    domain.FiatKZT,
			Balance:     decimal.RequireFromString(balance),
			Status:      domain.AccountStatusActive,
		},
	}
}

func (s *memStore) GetOrCreate(ctx context.Context, userID int64, accountType domain.AccountType, currency string) (*domain.Account, error) {
	return s.account, nil
}

func (s *memStore) GetByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	if accountID != s.account.ID {
		return nil, xerrors.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *memStore) ListForUser(ctx context.Context, userID int64) ([]*domain.Account, error) {
	return []*domain.Account{s.account}, nil
}

func (s *memStore) SoftDelete(ctx context.Context, accountID int64) error {
	return nil
}

func (s *memStore) ApplyDelta(ctx context.Context, accountID int64, delta decimal.Decimal, draft *domain.TransactionDraft) (*domain.Account, *domain.Transaction, error) {
	next := s.account.Balance.Add(delta)
	if next.IsNegative() {
		return nil, nil, xerrors.ErrInsufficientFunds
	}
	s.account.Balance = next
	s.txSeq++
	return s.account, &domain.Transaction{
		ID:           s.txSeq,
		Type:         draft.Type,
		UserID:       draft.UserID,
		AccountID:    draft.AccountID,
		Amount:       draft.Amount,
		Currency:     draft.Currency,
		BalanceAfter: next,
		CreatedAt:    time.Now(),
	}, nil
}

func (s *memStore) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return nil, xerrors.ErrNotFound
}

func (s *memStore) ListTransactions(ctx context.Context, userID int64, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return nil, nil
}

func (s *memStore) Redact(ctx context.Context, id int64) error {
	return xerrors.ErrNotFound
}

type txAdapter struct{ s *memStore }

func (a txAdapter) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	return a.s.GetTransaction(ctx, id)
}

func (a txAdapter) ListForUser(ctx context.Context, userID int64, f *domain.TransactionFilter) ([]*domain.Transaction, error) {
	return a.s.ListTransactions(ctx, userID, f)
}

func (a txAdapter) Redact(ctx context.Context, id int64) error {
	return a.s.Redact(ctx, id)
}

func newTestRouter(store *memStore) http.Handler {
	ledgerUC := usecase.NewLedgerUsecase(store, store, txAdapter{store}, nil, nil, nil)
	accountUC := usecase.NewAccountUsecase(store, ledgerUC, nil)
	handler := NewLedgerRestHandler(accountUC, ledgerUC, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestDepositEndpoint(t *testing.T) {
	router := newTestRouter(newMemStore("1000"))

	body := `{"account_id": 1, "amount": "500", "currency": "KZT", "description": "top up"}`
	req := httptest.NewRequest(http.MethodPost, "/transactions/deposit?user_id=1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Status string             `json:"status"`
		Data   domain.Transaction `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, domain.TypeDeposit, resp.Data.Type)
	assert.True(t, resp.Data.BalanceAfter.Equal(decimal.RequireFromString("1500")))
}

func TestWithdrawalEndpointInsufficientFunds(t *testing.T) {
	router := newTestRouter(newMemStore("100"))

	body := `{"account_id": 1, "amount": "2000", "currency": "KZT"}`
	req := httptest.NewRequest(http.MethodPost, "/transactions/withdrawal?user_id=1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDepositEndpointRejectsMissingUserID(t *testing.T) {
	router := newTestRouter(newMemStore("100"))

	body := `{"account_id": 1, "amount": "10", "currency": "KZT"}`
	req := httptest.NewRequest(http.MethodPost, "/transactions/deposit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositEndpointUnknownAccount(t *testing.T) {
	router := newTestRouter(newMemStore("100"))

	body := `{"account_id": 99, "amount": "10", "currency": "KZT"}`
	req := httptest.NewRequest(http.MethodPost, "/transactions/deposit?user_id=1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserAccountsEndpoint(t *testing.T) {
	router := newTestRouter(newMemStore("42.50"))

	req := httptest.NewRequest(http.MethodGet, "/accounts/user/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []*domain.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.True(t, resp.Data[0].Balance.Equal(decimal.RequireFromString("42.50")))
}

func TestGetUserTransactionsEndpointBadFilter(t *testing.T) {
	router := newTestRouter(newMemStore("0"))

	req := httptest.NewRequest(http.MethodGet, "/transactions/user/1?from=yesterday", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
