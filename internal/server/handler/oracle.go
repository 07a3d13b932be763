package handler

import (
	"log/slog"
	"net/http"
)

// OracleHandler serves oracle bindings and price publication.
type OracleHandler struct {
	settlement SettlementService
	reads      ReadService
	logger     *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(settlement SettlementService, reads ReadService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{settlement: settlement, reads: reads, logger: logger}
}

type registerOracleRequest struct {
	Reference string `json:"reference" validate:"required,max=32"`
}

type publishPriceRequest struct {
	Value *int64 `json:"value" validate:"required"`
	Expo  int32  `json:"expo" validate:"gte=-18,lte=18"`
}

// Register binds a price reference to the signed caller.
// POST /api/oracles
func (h *OracleHandler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerOracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register oracle", err)
		return
	}
	binding, err := h.settlement.RegisterOracle(r.Context(), c, req.Reference)
	if err != nil {
		writeServiceError(w, r, h.logger, "register oracle", err)
		return
	}
	writeJSON(w, http.StatusCreated, binding)
}

// Get returns a binding by address.
// GET /api/oracles/{address}
func (h *OracleHandler) Get(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, "get oracle", err)
		return
	}
	binding, err := h.reads.GetOracle(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get oracle", err)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

// PublishPrice records a reading for a reference. References containing
// "/" must be path-escaped.
// PUT /api/oracles/{reference}/price
func (h *OracleHandler) PublishPrice(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req publishPriceRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "publish price", err)
		return
	}
	price, err := h.settlement.PublishPrice(r.Context(), c, r.PathValue("reference"), *req.Value, req.Expo)
	if err != nil {
		writeServiceError(w, r, h.logger, "publish price", err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

// GetPrice returns the latest reading for a reference.
// GET /api/oracles/{reference}/price
func (h *OracleHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.reads.GetPrice(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}
