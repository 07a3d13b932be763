package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// PositionHandler serves enrollment, bets and claims.
type PositionHandler struct {
	settlement SettlementService
	reads      ReadService
	logger     *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(settlement SettlementService, reads ReadService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{settlement: settlement, reads: reads, logger: logger}
}

type placeBetRequest struct {
	Amount  uint64 `json:"amount" validate:"required,gt=0"`
	Outcome string `json:"outcome" validate:"required,oneof=yes no YES NO Yes No"`
}

// Enroll opens the signed caller's position.
// POST /api/markets/{address}/positions
func (h *PositionHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "enroll position", err)
		return
	}
	pos, err := h.settlement.EnrollPosition(r.Context(), c, addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "enroll position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// Get returns a user's position.
// GET /api/markets/{address}/positions/{user}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	user, err := parseIdentity(r.PathValue("user"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	pos, err := h.reads.GetPosition(r.Context(), addr, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Bet stakes an amount on one outcome.
// POST /api/markets/{address}/bets
func (h *PositionHandler) Bet(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	receipt, err := h.settlement.PlaceBet(r.Context(), c, addr, req.Amount, outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Claim pays out the signed caller's position.
// POST /api/markets/{address}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	receipt, err := h.settlement.ClaimWinnings(r.Context(), c, addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
