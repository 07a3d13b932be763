package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
)

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	settlement SettlementService
	reads      ReadService
	logger     *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(settlement SettlementService, reads ReadService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{settlement: settlement, reads: reads, logger: logger}
}

type createMarketRequest struct {
	Symbol          string `json:"symbol" validate:"required,max=32"`
	Oracle          string `json:"oracle" validate:"required,hexadecimal"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required,gt=0"`
}

// Create opens a market for the signed caller.
// POST /api/markets
func (h *MarketHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	oracle, err := domain.ParseAddress(req.Oracle)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	m, err := h.settlement.CreateMarket(r.Context(), c, engine.CreateMarketParams{
		Symbol:   req.Symbol,
		Oracle:   oracle,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Get returns a market by address.
// GET /api/markets/{address}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	m, err := h.reads.GetMarket(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Resolve settles a market against the current oracle price.
// POST /api/markets/{address}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	m, err := h.settlement.ResolveMarket(r.Context(), c, addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// WithdrawFee releases the market fee to the team wallet.
// POST /api/markets/{address}/fee
func (h *MarketHandler) WithdrawFee(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw fee", err)
		return
	}
	receipt, err := h.settlement.WithdrawFee(r.Context(), c, addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw fee", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
