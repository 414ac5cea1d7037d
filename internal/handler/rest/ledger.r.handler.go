package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/response"
	xerrors "ledger-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LedgerRestHandler struct {
	accountUC *usecase.AccountUsecase
	ledgerUC  *usecase.LedgerUsecase
	logger    *zap.Logger
}

func NewLedgerRestHandler(
	accountUC *usecase.AccountUsecase,
	ledgerUC *usecase.LedgerUsecase,
	logger *zap.Logger,
) *LedgerRestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerRestHandler{
		accountUC: accountUC,
		ledgerUC:  ledgerUC,
		logger:    logger,
	}
}

func (h *LedgerRestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/user/{userID}", h.GetUserAccounts)
		r.Post("/", h.CreateAccount)
		r.Delete("/{accountID}", h.CloseAccount)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/user/{userID}", h.GetUserTransactions)
		r.Post("/deposit", h.Deposit)
		r.Post("/withdrawal", h.Withdraw)
		r.Post("/transfer", h.Transfer)
	})
}

type createAccountRequest struct {
	UserID         int64              `json:"user_id"`
	AccountType    domain.AccountType `json:"account_type"`
	Currency       string             `json:"currency"`
	OpeningBalance *decimal.Decimal   `json:"opening_balance,omitempty"`
}

func (h *LedgerRestHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.accountUC.Create(r.Context(), req.UserID, req.AccountType, req.Currency, req.OpeningBalance)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, account)
}

func (h *LedgerRestHandler) GetUserAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	accounts, err := h.accountUC.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, accounts)
}

func (h *LedgerRestHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathInt64(r, "accountID")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid account id")
		return
	}
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.accountUC.Close(r.Context(), userID, accountID); err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]int64{"account_id": accountID})
}

func (h *LedgerRestHandler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	filter, err := transactionFilterFromQuery(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	txns, err := h.ledgerUC.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txns == nil {
		txns = []*domain.Transaction{}
	}

	response.JSON(w, http.StatusOK, txns)
}

type movementRequest struct {
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

func (h *LedgerRestHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.ledgerUC.Deposit)
}

func (h *LedgerRestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.ledgerUC.Withdraw)
}

func (h *LedgerRestHandler) movement(
	w http.ResponseWriter,
	r *http.Request,
	commit func(ctx context.Context, userID, accountID int64, amount decimal.Decimal, currency, description string, idemKey *string) (*domain.Transaction, error),
) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := commit(r.Context(), userID, req.AccountID, req.Amount, req.Currency, req.Description, idempotencyKey(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, txn)
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

func (h *LedgerRestHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fromTx, toTx, err := h.ledgerUC.Transfer(r.Context(), userID,
		req.FromAccountID, req.ToAccountID, req.Amount, req.Currency, req.Description, idempotencyKey(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]*domain.Transaction{
		"from_transaction": fromTx,
		"to_transaction":   toTx,
	})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged
// and masked as 500s.
func (h *LedgerRestHandler) writeError(w http.ResponseWriter, err error) {
	writeDomainError(w, h.logger, err)
}

func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, xerrors.ErrValidation),
		errors.Is(err, xerrors.ErrUnsupportedSymbol),
		errors.Is(err, xerrors.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, xerrors.ErrAccountNotFound),
		errors.Is(err, xerrors.ErrNotFound):
		response.Error(w, http.StatusNotFound, err.Error())

	case errors.Is(err, xerrors.ErrAccountNotActive),
		errors.Is(err, xerrors.ErrInsufficientFunds),
		errors.Is(err, xerrors.ErrTransferFailed),
		errors.Is(err, xerrors.ErrConversionFailed):
		response.Error(w, http.StatusConflict, err.Error())

	case errors.Is(err, xerrors.ErrQuoteUnavailable):
		response.Error(w, http.StatusServiceUnavailable, err.Error())

	default:
		logger.Error("unhandled error", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func queryUserID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

// idempotencyKey reads the Idempotency-Key header; nil when absent.
func idempotencyKey(r *http.Request) *string {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return nil
	}
	return &key
}

func transactionFilterFromQuery(r *http.Request) (*domain.TransactionFilter, error) {
	q := r.URL.Query()
	f := &domain.TransactionFilter{}

	if raw := q.Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("invalid account_id")
		}
		f.AccountID = &id
	}
	if raw := q.Get("type"); raw != "" {
		t := domain.TransactionType(raw)
		f.Type = &t
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid from timestamp, want RFC3339")
		}
		f.From = &ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid to timestamp, want RFC3339")
		}
		f.To = &ts
	}
	if raw := q.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, errors.New("invalid skip")
		}
		f.Skip = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, errors.New("invalid limit")
		}
		f.Limit = n
	}

	return f, nil
}
