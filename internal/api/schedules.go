package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/engine"
)

// ScheduleRunUpdate is a partial update applied after a schedule fires (or
// when its lifecycle state changes). Nil pointer fields are left untouched;
// ClearNextRun forces next_run_at back to unset so the scheduler recomputes
// it on the next tick.
type ScheduleRunUpdate struct {
	LastRunAt    *time.Time
	NextRunAt    *time.Time
	ClearNextRun bool
	Status       *domain.ScheduleStatus
	ErrorMessage *string
}

// ScheduleStore defines the persistence interface for scheduled reports.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]domain.ScheduledReport, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*domain.ScheduledReport, error)
	CreateSchedule(ctx context.Context, sched *domain.ScheduledReport) error
	UpdateScheduleSpec(ctx context.Context, id uuid.UUID, spec domain.ScheduleSpec) (*domain.ScheduledReport, error)
	UpdateScheduleRun(ctx context.Context, id uuid.UUID, update ScheduleRunUpdate) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

// MountScheduleRoutes registers schedule endpoints on the router.
func MountScheduleRoutes(r chi.Router, srv *Server) {
	r.Get("/schedules", srv.HandleListSchedules)
	r.Get("/schedules/{scheduleID}", srv.HandleGetSchedule)
	r.Post("/schedules", srv.HandleCreateSchedule)
	r.Put("/schedules/{scheduleID}", srv.HandleUpdateSchedule)
	r.Post("/schedules/{scheduleID}/pause", srv.HandlePauseSchedule)
	r.Post("/schedules/{scheduleID}/resume", srv.HandleResumeSchedule)
	r.Post("/schedules/{scheduleID}/run", srv.HandleRunScheduleNow)
	r.Delete("/schedules/{scheduleID}", srv.HandleDeleteSchedule)
}

// HandleListSchedules returns all schedules, optionally filtered by report.
func (s *Server) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Schedules.ListSchedules(r.Context())
	if err != nil {
		internalError(w, "failed to list schedules", err)
		return
	}

	if raw := r.URL.Query().Get("report_id"); raw != "" {
		reportID, err := uuid.Parse(raw)
		if err != nil {
			errorJSON(w, "invalid report_id", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		filtered := schedules[:0]
		for _, sched := range schedules {
			if sched.ReportID == reportID {
				filtered = append(filtered, sched)
			}
		}
		schedules = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

// HandleGetSchedule returns a single schedule by ID.
func (s *Server) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}
	sched, err := s.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get schedule", err)
		return
	}
	if sched == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// CreateScheduleRequest is the JSON body for creating a schedule on an
// existing saved report.
type CreateScheduleRequest struct {
	ReportID uuid.UUID           `json:"report_id"`
	Spec     domain.ScheduleSpec `json:"schedule"`
}

// HandleCreateSchedule attaches a recurrence to a saved report. The
// schedule's next_run_at starts unset; the scheduler fills it in on its
// next tick.
func (s *Server) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateScheduleSpec(req.Spec); len(errs) > 0 {
		validationErrorJSON(w, errs)
		return
	}

	report, err := s.Reports.GetReport(r.Context(), req.ReportID)
	if err != nil {
		internalError(w, "failed to get report", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	sched := &domain.ScheduledReport{
		ID:        uuid.New(),
		ReportID:  req.ReportID,
		Spec:      req.Spec,
		Status:    domain.ScheduleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !sched.Spec.Enabled {
		sched.Status = domain.SchedulePaused
	}
	if err := s.Schedules.CreateSchedule(r.Context(), sched); err != nil {
		internalError(w, "failed to create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

// UpdateScheduleRequest is the JSON body for replacing a schedule's spec.
type UpdateScheduleRequest struct {
	Spec domain.ScheduleSpec `json:"schedule"`
}

// HandleUpdateSchedule replaces the recurrence spec. next_run_at is cleared
// so the new recurrence takes effect from the next scheduler tick.
func (s *Server) HandleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}
	var req UpdateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateScheduleSpec(req.Spec); len(errs) > 0 {
		validationErrorJSON(w, errs)
		return
	}

	sched, err := s.Schedules.UpdateScheduleSpec(r.Context(), id, req.Spec)
	if err != nil {
		internalError(w, "failed to update schedule", err)
		return
	}
	if sched == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// HandlePauseSchedule stops future runs without deleting the schedule.
func (s *Server) HandlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, domain.SchedulePaused)
}

// HandleResumeSchedule reactivates a paused (or errored) schedule. The next
// run time is recomputed from now by the scheduler, never backfilled; runs
// missed while paused do not fire.
func (s *Server) HandleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleStatus(w, r, domain.ScheduleActive)
}

func (s *Server) setScheduleStatus(w http.ResponseWriter, r *http.Request, status domain.ScheduleStatus) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}
	sched, err := s.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get schedule", err)
		return
	}
	if sched == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	empty := ""
	update := ScheduleRunUpdate{
		Status:       &status,
		ClearNextRun: true,
		ErrorMessage: &empty,
	}
	if err := s.Schedules.UpdateScheduleRun(r.Context(), id, update); err != nil {
		internalError(w, "failed to update schedule", err)
		return
	}

	sched.Status = status
	sched.NextRunAt = nil
	sched.ErrorMessage = ""
	writeJSON(w, http.StatusOK, sched)
}

// HandleRunScheduleNow fires one manual run outside the recurrence. The
// run bypasses the cache like any scheduled run and is recorded in history,
// but the schedule's next_run_at is left alone.
func (s *Server) HandleRunScheduleNow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}
	sched, err := s.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get schedule", err)
		return
	}
	if sched == nil {
		errorJSON(w, "schedule not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	report, err := s.Reports.GetReport(r.Context(), sched.ReportID)
	if err != nil {
		internalError(w, "failed to get report", err)
		return
	}
	if report == nil {
		errorJSON(w, "report not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	res, execErr := s.Executor.Execute(r.Context(), report.Configuration, engine.Options{ForceRefresh: true})

	item := domain.ReportHistoryItem{
		ID:             uuid.New(),
		ReportID:       sched.ReportID,
		ScheduleID:     &sched.ID,
		ExportFormat:   sched.Spec.ExportFormat,
		DeliveryMethod: sched.Spec.DeliveryMethod,
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
		errorJSON(w, "execution failed: "+execErr.Error(), "EXECUTION_FAILED", http.StatusBadGateway)
		return
	}
	if err := s.Reports.TouchGenerated(r.Context(), sched.ReportID, res.GeneratedAt); err != nil {
		internalError(w, "failed to update report", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleDeleteSchedule removes a schedule. The report it points at stays.
func (s *Server) HandleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseScheduleID(w, r)
	if !ok {
		return
	}
	if err := s.Schedules.DeleteSchedule(r.Context(), id); err != nil {
		internalError(w, "failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateScheduleSpec checks the recurrence shape before persisting. A cron
// expression overrides the frequency fields, so either one is acceptable.
func validateScheduleSpec(spec domain.ScheduleSpec) []domain.FieldError {
	var errs []domain.FieldError
	if spec.CronExpr == "" {
		if !domain.ValidFrequency(string(spec.Frequency)) {
			errs = append(errs, domain.FieldError{Field: "frequency", Message: "unknown frequency"})
		}
		if spec.Time == "" {
			errs = append(errs, domain.FieldError{Field: "time", Message: "time of day is required"})
		}
	}
	if spec.DayOfWeek != nil && (*spec.DayOfWeek < 0 || *spec.DayOfWeek > 6) {
		errs = append(errs, domain.FieldError{Field: "day_of_week", Message: "must be between 0 (Sunday) and 6 (Saturday)"})
	}
	if spec.DayOfMonth != nil && (*spec.DayOfMonth < 1 || *spec.DayOfMonth > 31) {
		errs = append(errs, domain.FieldError{Field: "day_of_month", Message: "must be between 1 and 31"})
	}
	return errs
}

func parseScheduleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		errorJSON(w, "invalid schedule id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
