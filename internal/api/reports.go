package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/validate"
)

// ReportStore defines the persistence interface for saved reports.
// Identity is assigned by the caller on create. UpdateConfiguration
// replaces the embedded configuration wholesale and bumps UpdatedAt.
type ReportStore interface {
	ListReports(ctx context.Context) ([]domain.SavedReport, error)
	GetReport(ctx context.Context, id uuid.UUID) (*domain.SavedReport, error)
	CreateReport(ctx context.Context, report *domain.SavedReport) error
	UpdateConfiguration(ctx context.Context, id uuid.UUID, cfg domain.ReportConfiguration) (*domain.SavedReport, error)
	SetFavorite(ctx context.Context, id uuid.UUID, favorited bool) (*domain.SavedReport, error)
	IncrementViews(ctx context.Context, id uuid.UUID) error
	TouchGenerated(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteReport(ctx context.Context, id uuid.UUID) error
}

// MountReportRoutes registers saved report endpoints on the router.
func MountReportRoutes(r chi.Router, srv *Server) {
	r.Get("/reports", srv.HandleListReports)
	r.Get("/reports/{reportID}", srv.HandleGetReport)
	r.Put("/reports/{reportID}/configuration", srv.HandleUpdateReportConfiguration)
	r.Put("/reports/{reportID}/favorite", srv.HandleFavoriteReport)
	r.Delete("/reports/{reportID}", srv.HandleDeleteReport)
}

// HandleListReports returns all saved reports.
func (s *Server) HandleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.Reports.ListReports(r.Context())
	if err != nil {
		internalError(w, "failed to list reports", err)
		return
	}

	total := len(reports)
	limit, offset := parsePagination(r)
	reports = paginate(reports, limit, offset)

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"total":   total,
	})
}

// HandleGetReport returns a single report and counts the view.
func (s *Server) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	report, err := s.Reports.GetReport(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get report", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	if err := s.Reports.IncrementViews(r.Context(), id); err == nil {
		report.TimesViewed++
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleUpdateReportConfiguration replaces a report's configuration after
// re-validating it against the catalog. The stored configuration keeps its
// identity; only UpdatedAt moves.
func (s *Server) HandleUpdateReportConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	var cfg domain.ReportConfiguration
	if !decodeJSON(w, r, &cfg) {
		return
	}

	var src *domain.DataSource
	if resolved, found := s.Catalog.Source(cfg.DataSourceID); found {
		src = &resolved
	}
	if res := validate.Complete(&cfg, src); !res.Valid {
		validationErrorJSON(w, res.Errors)
		return
	}

	report, err := s.Reports.UpdateConfiguration(r.Context(), id, cfg)
	if err != nil {
		internalError(w, "failed to update report", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// FavoriteRequest is the JSON body for the favorite endpoint.
type FavoriteRequest struct {
	Favorited bool `json:"favorited"`
}

// HandleFavoriteReport toggles the favorite flag.
func (s *Server) HandleFavoriteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	var req FavoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := s.Reports.SetFavorite(r.Context(), id, req.Favorited)
	if err != nil {
		internalError(w, "failed to update report", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleDeleteReport removes a saved report.
func (s *Server) HandleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	if err := s.Reports.DeleteReport(r.Context(), id); err != nil {
		internalError(w, "failed to delete report", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseReportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		errorJSON(w, "invalid report id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
