package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/builder"
	"github.com/reportd-data/reportd/internal/catalog"
	"github.com/reportd-data/reportd/internal/domain"
)

// BuilderSessions owns the live builder state machines, keyed by session
// ID. A session is owned by one caller; the manager's lock serializes the
// advance/retreat/complete calls the state machine itself does not guard.
type BuilderSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*builder.Session
	catalog  *catalog.Catalog
}

// NewBuilderSessions creates an empty session manager over the catalog.
func NewBuilderSessions(cat *catalog.Catalog) *BuilderSessions {
	return &BuilderSessions{
		sessions: make(map[uuid.UUID]*builder.Session),
		catalog:  cat,
	}
}

// Create starts a new session and registers it.
func (b *BuilderSessions) Create(createdBy string) *builder.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := builder.NewSession(b.catalog, createdBy)
	b.sessions[s.ID] = s
	return s
}

// CreateFromConfiguration starts a session seeded from an existing
// configuration (template instantiation), registered like any other.
func (b *BuilderSessions) CreateFromConfiguration(cfg domain.ReportConfiguration, name string) *builder.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := builder.ResumeSession(b.catalog, cfg)
	if name != "" {
		s.SetName(name, cfg.Description)
	}
	b.sessions[s.ID] = s
	return s
}

// With runs fn against the identified session under the manager's lock.
// Returns false if the session does not exist.
func (b *BuilderSessions) With(id uuid.UUID, fn func(*builder.Session)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// MountBuilderRoutes registers builder session endpoints on the router.
func MountBuilderRoutes(r chi.Router, srv *Server) {
	r.Post("/builder", srv.HandleCreateBuilder)
	r.Get("/builder/{sessionID}", srv.HandleGetBuilder)
	r.Put("/builder/{sessionID}", srv.HandleUpdateBuilder)
	r.Post("/builder/{sessionID}/advance", srv.HandleAdvanceBuilder)
	r.Post("/builder/{sessionID}/retreat", srv.HandleRetreatBuilder)
	r.Post("/builder/{sessionID}/complete", srv.HandleCompleteBuilder)
	r.Post("/builder/{sessionID}/abandon", srv.HandleAbandonBuilder)
}

// BuilderStateResponse is the session snapshot returned by builder endpoints.
type BuilderStateResponse struct {
	ID            uuid.UUID                  `json:"id"`
	Stage         domain.Stage               `json:"stage"`
	Configuration domain.ReportConfiguration `json:"configuration"`
	Errors        []domain.FieldError        `json:"errors,omitempty"`
}

func builderState(s *builder.Session, errs []domain.FieldError) BuilderStateResponse {
	return BuilderStateResponse{
		ID:            s.ID,
		Stage:         s.Stage(),
		Configuration: s.Configuration(),
		Errors:        errs,
	}
}

// CreateBuilderRequest is the JSON body for POST /api/v1/builder.
type CreateBuilderRequest struct {
	CreatedBy string `json:"created_by"`
}

// HandleCreateBuilder starts a builder session at the data source stage.
func (s *Server) HandleCreateBuilder(w http.ResponseWriter, r *http.Request) {
	var req CreateBuilderRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	sess := s.Builders.Create(req.CreatedBy)
	writeJSON(w, http.StatusCreated, builderState(sess, nil))
}

// HandleGetBuilder returns the current session snapshot.
func (s *Server) HandleGetBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var resp BuilderStateResponse
	if !s.Builders.With(id, func(sess *builder.Session) {
		resp = builderState(sess, nil)
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DimensionInput, MetricInput, FilterInput and SortInput are the request
// shapes for selection edits.
type DimensionInput struct {
	Field   string `json:"field"`
	Label   string `json:"label"`
	GroupBy bool   `json:"group_by"`
}

type MetricInput struct {
	Field       string `json:"field"`
	Aggregation string `json:"aggregation"`
	Label       string `json:"label"`
}

type FilterInput struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type SortInput struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// BuilderUpdateRequest applies declarative edits to the in-progress
// configuration. Nil sections are untouched; present sections replace the
// corresponding selections wholesale.
type BuilderUpdateRequest struct {
	DataSourceID *string           `json:"data_source_id"`
	Name         *string           `json:"name"`
	Description  *string           `json:"description"`
	Dimensions   *[]DimensionInput `json:"dimensions"`
	Metrics      *[]MetricInput    `json:"metrics"`
	Filters      *[]FilterInput    `json:"filters"`
	ChartType    *string           `json:"chart_type"`
	TimeFrame    *string           `json:"time_frame"`
	StartDate    *time.Time        `json:"start_date"`
	EndDate      *time.Time        `json:"end_date"`
	Sorting      *SortInput        `json:"sorting"`
	Limit        *int              `json:"limit"`
}

// HandleUpdateBuilder edits the in-progress configuration. Edits are always
// accepted; validation only gates stage transitions, so users can navigate
// back and adjust earlier selections freely.
func (s *Server) HandleUpdateBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var req BuilderUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var resp BuilderStateResponse
	if !s.Builders.With(id, func(sess *builder.Session) {
		applyBuilderUpdate(sess, req)
		resp = builderState(sess, nil)
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func applyBuilderUpdate(sess *builder.Session, req BuilderUpdateRequest) {
	if req.DataSourceID != nil {
		sess.SetDataSource(*req.DataSourceID)
	}
	if req.Name != nil || req.Description != nil {
		cfg := sess.Configuration()
		name, desc := cfg.Name, cfg.Description
		if req.Name != nil {
			name = *req.Name
		}
		if req.Description != nil {
			desc = *req.Description
		}
		sess.SetName(name, desc)
	}
	if req.Dimensions != nil {
		for _, d := range sess.Configuration().Dimensions {
			sess.RemoveDimension(d.ID)
		}
		for _, d := range *req.Dimensions {
			sess.AddDimension(d.Field, d.Label, d.GroupBy)
		}
	}
	if req.Metrics != nil {
		for _, m := range sess.Configuration().Metrics {
			sess.RemoveMetric(m.ID)
		}
		for _, m := range *req.Metrics {
			sess.AddMetric(m.Field, domain.Aggregation(m.Aggregation), m.Label)
		}
	}
	if req.Filters != nil {
		for _, f := range sess.Configuration().Filters {
			sess.RemoveFilter(f.ID)
		}
		for _, f := range *req.Filters {
			sess.AddFilter(f.Field, domain.FilterOperator(f.Operator), f.Value)
		}
	}
	if req.ChartType != nil {
		sess.SetChartType(domain.ChartType(*req.ChartType))
	}
	if req.TimeFrame != nil {
		sess.SetTimeFrame(domain.TimeFrame(*req.TimeFrame), req.StartDate, req.EndDate)
	}
	if req.Sorting != nil {
		sess.SetSorting(req.Sorting.Field, domain.SortDirection(req.Sorting.Direction))
	}
	if req.Limit != nil {
		sess.SetLimit(*req.Limit)
	}
}

// HandleAdvanceBuilder validates the current stage and moves forward on
// success. Validation errors come back with the unchanged stage; the
// session stays in place.
func (s *Server) HandleAdvanceBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var resp BuilderStateResponse
	if !s.Builders.With(id, func(sess *builder.Session) {
		res := sess.Advance()
		resp = builderState(sess, res.Errors)
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRetreatBuilder moves one stage back, keeping every selection.
func (s *Server) HandleRetreatBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var resp BuilderStateResponse
	if !s.Builders.With(id, func(sess *builder.Session) {
		sess.Retreat()
		resp = builderState(sess, nil)
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CompleteBuilderRequest is the JSON body for the complete endpoint.
// Intent "schedule" attaches the given schedule spec to the saved report.
type CompleteBuilderRequest struct {
	Intent   string               `json:"intent"` // "save" (default) or "schedule"
	Schedule *domain.ScheduleSpec `json:"schedule,omitempty"`
}

// HandleCompleteBuilder materializes the configuration, persists it as a
// saved report, and for schedule intent creates the attached schedule.
// The scheduler initializes the schedule's next_run_at on its next tick.
func (s *Server) HandleCompleteBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var req CompleteBuilderRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	intent := builder.IntentSave
	if req.Intent == string(builder.IntentSchedule) {
		intent = builder.IntentSchedule
	}

	var (
		cfg     domain.ReportConfiguration
		errs    []domain.FieldError
		callErr error
	)
	if !s.Builders.With(id, func(sess *builder.Session) {
		c, vres, err := sess.Complete(intent)
		cfg, errs, callErr = c, vres.Errors, err
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	switch callErr {
	case nil:
	case builder.ErrInvalid:
		validationErrorJSON(w, errs)
		return
	case builder.ErrWrongStage, builder.ErrTerminal:
		errorJSON(w, callErr.Error(), "CONFLICT", http.StatusConflict)
		return
	default:
		internalError(w, "failed to complete configuration", callErr)
		return
	}

	report := &domain.SavedReport{
		ID:            uuid.New(),
		Configuration: cfg,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
	if err := s.Reports.CreateReport(r.Context(), report); err != nil {
		internalError(w, "failed to save report", err)
		return
	}

	var schedule *domain.ScheduledReport
	if intent == builder.IntentSchedule && req.Schedule != nil {
		schedule = &domain.ScheduledReport{
			ID:        uuid.New(),
			ReportID:  report.ID,
			Spec:      *req.Schedule,
			Status:    domain.ScheduleActive,
			CreatedAt: cfg.CreatedAt,
			UpdatedAt: cfg.UpdatedAt,
		}
		if !schedule.Spec.Enabled {
			schedule.Status = domain.SchedulePaused
		}
		if err := s.Schedules.CreateSchedule(r.Context(), schedule); err != nil {
			internalError(w, "failed to create schedule", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"report":   report,
		"schedule": schedule,
	})
}

// HandleAbandonBuilder cancels the session.
func (s *Server) HandleAbandonBuilder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSessionID(w, r)
	if !ok {
		return
	}
	var resp BuilderStateResponse
	if !s.Builders.With(id, func(sess *builder.Session) {
		sess.Abandon()
		resp = builderState(sess, nil)
	}) {
		errorJSON(w, "builder session not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseSessionID extracts and parses the sessionID URL parameter.
func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		errorJSON(w, "invalid session id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
