package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// QueryHandler serves quotes, address derivation and the audit log.
type QueryHandler struct {
	reads  ReadService
	logger *slog.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(reads ReadService, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{reads: reads, logger: logger}
}

type addressResponse struct {
	Address domain.Address `json:"address"`
}

// Quote previews the shares for an amount.
// GET /api/quote?amount=N
func (h *QueryHandler) Quote(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", fmt.Errorf("amount: %w", domain.ErrInvalidInput))
		return
	}
	q, err := h.reads.Quote(amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// OracleAddress derives a binding address.
// GET /api/address/oracle?owner=&reference=
func (h *QueryHandler) OracleAddress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := parseIdentity(q.Get("owner"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", err)
		return
	}
	addr, err := address.Oracle(owner, q.Get("reference"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", fmt.Errorf("%v: %w", err, domain.ErrInvalidInput))
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{Address: addr})
}

// MarketAddress derives a market address.
// GET /api/address/market?authority=&symbol=
func (h *QueryHandler) MarketAddress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authority, err := parseIdentity(q.Get("authority"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", err)
		return
	}
	addr, err := address.Market(authority, q.Get("symbol"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", fmt.Errorf("%v: %w", err, domain.ErrInvalidInput))
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{Address: addr})
}

// PositionAddress derives a position address.
// GET /api/address/position?market=&user=
func (h *QueryHandler) PositionAddress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	market, err := domain.ParseAddress(q.Get("market"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", err)
		return
	}
	user, err := parseIdentity(q.Get("user"))
	if err != nil {
		writeServiceError(w, r, h.logger, "derive address", err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{Address: address.Position(market, user)})
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Audit lists audit entries newest first.
// GET /api/audit?limit=50&offset=0
func (h *QueryHandler) Audit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.reads.ListAudit(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}
