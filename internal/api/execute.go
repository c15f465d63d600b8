package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/engine"
	"github.com/reportd-data/reportd/internal/validate"
)

// Executor runs a finished configuration. Implemented by engine.Engine.
type Executor interface {
	Execute(ctx context.Context, cfg domain.ReportConfiguration, opts engine.Options) (*domain.ReportResult, error)
}

// MountExecuteRoutes registers execution endpoints on the router.
func MountExecuteRoutes(r chi.Router, srv *Server) {
	r.Post("/reports/{reportID}/execute", srv.HandleExecuteReport)
	r.Post("/preview", srv.HandlePreview)
}

// ExecuteRequest is the JSON body for the execute endpoint.
type ExecuteRequest struct {
	ForceRefresh bool `json:"force_refresh"`
}

// HandleExecuteReport runs a saved report's configuration and records the
// run in history. Manual runs honor the cache unless force_refresh is set.
func (s *Server) HandleExecuteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseReportID(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
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

	res, execErr := s.Executor.Execute(r.Context(), report.Configuration, engine.Options{
		ForceRefresh: req.ForceRefresh,
	})

	item := domain.ReportHistoryItem{
		ID:             uuid.New(),
		ReportID:       id,
		DeliveryStatus: domain.DeliverySuccess,
		CreatedAt:      time.Now().UTC(),
	}
	if execErr != nil {
		item.DeliveryStatus = domain.DeliveryError
		item.ErrorMessage = execErr.Error()
	} else {
		item.ResultID = &res.ID
		item.ProcessingTimeMs = res.ProcessingTimeMs
	}
	if err := s.History.AppendHistory(r.Context(), item); err != nil {
		internalError(w, "failed to append history", err)
		return
	}

	if execErr != nil {
		executionErrorJSON(w, execErr)
		return
	}

	if err := s.Reports.TouchGenerated(r.Context(), id, res.GeneratedAt); err != nil {
		internalError(w, "failed to update report", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PreviewRequest is the JSON body for the preview endpoint.
type PreviewRequest struct {
	Configuration domain.ReportConfiguration `json:"configuration"`
	ForceRefresh  bool                       `json:"force_refresh"`
}

// HandlePreview runs an inline configuration without persisting anything.
// The configuration must pass full validation; results come from the same
// fingerprint cache as saved report runs, so repeated previews of the same
// configuration are cheap.
func (s *Server) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg := req.Configuration
	var src *domain.DataSource
	if resolved, found := s.Catalog.Source(cfg.DataSourceID); found {
		src = &resolved
	}
	if res := validate.Complete(&cfg, src); !res.Valid {
		validationErrorJSON(w, res.Errors)
		return
	}

	res, err := s.Executor.Execute(r.Context(), cfg, engine.Options{
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		executionErrorJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// executionErrorJSON maps engine errors to HTTP responses.
func executionErrorJSON(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSourceUnavailable):
		errorJSON(w, "data source unavailable: "+err.Error(), "SOURCE_UNAVAILABLE", http.StatusBadGateway)
	case errors.Is(err, domain.ErrAggregationMismatch):
		errorJSON(w, err.Error(), "AGGREGATION_MISMATCH", http.StatusUnprocessableEntity)
	case errors.Is(err, context.Canceled):
		errorJSON(w, "execution cancelled", "CANCELLED", 499)
	default:
		internalError(w, "execution failed", err)
	}
}
