package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountHandler serves balances.
type AccountHandler struct {
	settlement SettlementService
	reads      ReadService
	logger     *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(settlement SettlementService, reads ReadService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{settlement: settlement, reads: reads, logger: logger}
}

type fundRequest struct {
	Amount uint64 `json:"amount" validate:"required,gt=0"`
}

type balanceResponse struct {
	Owner   common.Address `json:"owner"`
	Balance uint64         `json:"balance"`
}

// Fund credits an identity's balance.
// POST /api/accounts/{owner}/fund
func (h *AccountHandler) Fund(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	owner, err := parseIdentity(r.PathValue("owner"))
	if err != nil {
		writeServiceError(w, r, h.logger, "fund", err)
		return
	}
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "fund", err)
		return
	}
	balance, err := h.settlement.Fund(r.Context(), c, owner, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Owner: owner, Balance: balance})
}

// Get returns an identity's available balance.
// GET /api/accounts/{owner}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, err := parseIdentity(r.PathValue("owner"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	balance, err := h.reads.Balance(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Owner: owner, Balance: balance})
}
