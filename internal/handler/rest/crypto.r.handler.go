package rest

import (
	"encoding/json"
	"net/http"

	"ledger-service/internal/usecase"
	"ledger-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CryptoRestHandler struct {
	orderUC *usecase.OrderUsecase
	logger  *zap.Logger
}

func NewCryptoRestHandler(orderUC *usecase.OrderUsecase, logger *zap.Logger) *CryptoRestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CryptoRestHandler{orderUC: orderUC, logger: logger}
}

func (h *CryptoRestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/crypto", func(r chi.Router) {
		r.Get("/prices", h.GetPrices)
		r.Get("/portfolio/balances", h.GetPortfolioBalances)
		r.Post("/orders/market/buy", h.MarketBuy)
		r.Post("/orders/market/sell", h.MarketSell)
		r.Post("/convert", h.Convert)
	})
}

func (h *CryptoRestHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	book, err := h.orderUC.Prices(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, book)
}

func (h *CryptoRestHandler) GetPortfolioBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	portfolio, err := h.orderUC.PortfolioBalances(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, portfolio)
}

type marketBuyRequest struct {
	Symbol        string          `json:"symbol"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	FiatAccountID int64           `json:"fiat_account_id"`
}

func (h *CryptoRestHandler) MarketBuy(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req marketBuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := h.orderUC.MarketBuy(r.Context(), userID, req.Symbol, req.FiatAmount,
		req.FiatAccountID, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusCreated, txn)
}

type marketSellRequest struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	FiatAccountID int64           `json:"fiat_account_id"`
}

func (h *CryptoRestHandler) MarketSell(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req marketSellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txn, err := h.orderUC.MarketSell(r.Context(), userID, req.Symbol, req.Quantity,
		req.FiatAccountID, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusCreated, txn)
}

type convertRequest struct {
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	FiatAccountID int64           `json:"fiat_account_id"`
}

func (h *CryptoRestHandler) Convert(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orderUC.Convert(r.Context(), userID, req.Symbol, req.Amount,
		req.FiatAccountID, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	response.JSON(w, http.StatusCreated, result)
}
