package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/domain"
)

// HistoryStore records the outcome of report generations. History is
// append-only; entries are returned newest first.
type HistoryStore interface {
	AppendHistory(ctx context.Context, item domain.ReportHistoryItem) error
	ListHistory(ctx context.Context, reportID uuid.UUID) ([]domain.ReportHistoryItem, error)
}

// MountHistoryRoutes registers history endpoints on the router.
func MountHistoryRoutes(r chi.Router, srv *Server) {
	r.Get("/reports/{reportID}/history", srv.HandleListHistory)
}

// HandleListHistory returns a report's generation history, newest first.
func (s *Server) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	items, err := s.History.ListHistory(r.Context(), id)
	if err != nil {
		internalError(w, "failed to list history", err)
		return
	}

	total := len(items)
	limit, offset := parsePagination(r)
	items = paginate(items, limit, offset)

	writeJSON(w, http.StatusOK, map[string]any{
		"history": items,
		"total":   total,
	})
}
