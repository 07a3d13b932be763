package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// ArchiveHandler serves settled markets that were copied to cold storage.
type ArchiveHandler struct {
	archive domain.ArchiveBrowser
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive domain.ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// List returns the archived months.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	months, err := h.archive.ListArchives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months})
}

// Get returns every market settled in one month.
// GET /api/archive/{month}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	month := r.PathValue("month")
	markets, err := h.archive.ReadArchive(r.Context(), month)
	if err != nil {
		writeServiceError(w, r, h.logger, "read archive", err)
		return
	}
	if markets == nil {
		markets = []domain.SettledMarket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "markets": markets})
}
