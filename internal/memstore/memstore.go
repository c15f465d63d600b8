// Package memstore provides in-memory implementations of the api store
// interfaces. It backs the zero-configuration deployment mode (no DATABASE_URL
// configured) and doubles as the store implementation used by tests.
//
// All stores are safe for concurrent use. Values are copied on the way in and
// out so callers can never alias internal state.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
)

// Store holds every collection behind one lock. Report, template, schedule
// and history volumes are small enough that finer-grained locking buys
// nothing.
type Store struct {
	mu        sync.RWMutex
	reports   map[uuid.UUID]*domain.SavedReport
	templates map[uuid.UUID]*domain.ReportTemplate
	schedules map[uuid.UUID]*domain.ScheduledReport
	history   []domain.ReportHistoryItem
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		reports:   make(map[uuid.UUID]*domain.SavedReport),
		templates: make(map[uuid.UUID]*domain.ReportTemplate),
		schedules: make(map[uuid.UUID]*domain.ScheduledReport),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ api.ReportStore   = (*Store)(nil)
	_ api.TemplateStore = (*Store)(nil)
	_ api.ScheduleStore = (*Store)(nil)
	_ api.HistoryStore  = (*Store)(nil)
)

func cloneReport(r *domain.SavedReport) *domain.SavedReport {
	cp := *r
	cp.Configuration = r.Configuration.Clone()
	if r.LastGeneratedAt != nil {
		t := *r.LastGeneratedAt
		cp.LastGeneratedAt = &t
	}
	return &cp
}

func cloneTemplate(t *domain.ReportTemplate) *domain.ReportTemplate {
	cp := *t
	cp.Configuration = t.Configuration.Clone()
	return &cp
}

func cloneSchedule(s *domain.ScheduledReport) *domain.ScheduledReport {
	cp := *s
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		cp.LastRunAt = &t
	}
	if s.NextRunAt != nil {
		t := *s.NextRunAt
		cp.NextRunAt = &t
	}
	cp.Spec = cloneSpec(s.Spec)
	return &cp
}

func cloneSpec(spec domain.ScheduleSpec) domain.ScheduleSpec {
	cp := spec
	if spec.DayOfWeek != nil {
		v := *spec.DayOfWeek
		cp.DayOfWeek = &v
	}
	if spec.DayOfMonth != nil {
		v := *spec.DayOfMonth
		cp.DayOfMonth = &v
	}
	cp.Recipients = append([]string(nil), spec.Recipients...)
	return cp
}

// ListReports returns all saved reports, newest first.
func (s *Store) ListReports(_ context.Context) ([]domain.SavedReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SavedReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, *cloneReport(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetReport returns a report by ID, nil if absent.
func (s *Store) GetReport(_ context.Context, id uuid.UUID) (*domain.SavedReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	return cloneReport(r), nil
}

// CreateReport stores a new report.
func (s *Store) CreateReport(_ context.Context, report *domain.SavedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.ID]; ok {
		return fmt.Errorf("report %s: %w", report.ID, domain.ErrAlreadyExists)
	}
	s.reports[report.ID] = cloneReport(report)
	return nil
}

// UpdateConfiguration replaces a report's configuration wholesale. The
// embedded configuration keeps its original identity and creation time;
// UpdatedAt moves on both the configuration and the report.
func (s *Store) UpdateConfiguration(_ context.Context, id uuid.UUID, cfg domain.ReportConfiguration) (*domain.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	now := s.now().UTC()
	next := cfg.Clone()
	next.ID = r.Configuration.ID
	next.CreatedAt = r.Configuration.CreatedAt
	next.UpdatedAt = now
	r.Configuration = next
	r.UpdatedAt = now
	return cloneReport(r), nil
}

// SetFavorite toggles the favorite flag.
func (s *Store) SetFavorite(_ context.Context, id uuid.UUID, favorited bool) (*domain.SavedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	r.Favorited = favorited
	r.UpdatedAt = s.now().UTC()
	return cloneReport(r), nil
}

// IncrementViews bumps the view counter.
func (s *Store) IncrementViews(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	r.TimesViewed++
	return nil
}

// TouchGenerated records the time the report was last executed.
func (s *Store) TouchGenerated(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	t := at
	r.LastGeneratedAt = &t
	return nil
}

// DeleteReport removes a report and any schedules pointing at it.
func (s *Store) DeleteReport(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, id)
	for sid, sched := range s.schedules {
		if sched.ReportID == id {
			delete(s.schedules, sid)
		}
	}
	return nil
}

// ListTemplates returns all templates, system templates first, then by name.
func (s *Store) ListTemplates(_ context.Context) ([]domain.ReportTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReportTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, *cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystem != out[j].IsSystem {
			return out[i].IsSystem
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetTemplate returns a template by ID, nil if absent.
func (s *Store) GetTemplate(_ context.Context, id uuid.UUID) (*domain.ReportTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	return cloneTemplate(t), nil
}

// CreateTemplate stores a template (system or user-defined).
func (s *Store) CreateTemplate(_ context.Context, tpl *domain.ReportTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; ok {
		return fmt.Errorf("template %s: %w", tpl.ID, domain.ErrAlreadyExists)
	}
	s.templates[tpl.ID] = cloneTemplate(tpl)
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, id)
	return nil
}

// ListSchedules returns every schedule.
func (s *Store) ListSchedules(_ context.Context) ([]domain.ScheduledReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScheduledReport, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *cloneSchedule(sched))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetSchedule returns a schedule by ID, nil if absent.
func (s *Store) GetSchedule(_ context.Context, id uuid.UUID) (*domain.ScheduledReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return cloneSchedule(sched), nil
}

// CreateSchedule stores a new schedule.
func (s *Store) CreateSchedule(_ context.Context, sched *domain.ScheduledReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; ok {
		return fmt.Errorf("schedule %s: %w", sched.ID, domain.ErrAlreadyExists)
	}
	s.schedules[sched.ID] = cloneSchedule(sched)
	return nil
}

// UpdateScheduleSpec replaces the recurrence spec and clears next_run_at so
// the scheduler recomputes it under the new recurrence.
func (s *Store) UpdateScheduleSpec(_ context.Context, id uuid.UUID, spec domain.ScheduleSpec) (*domain.ScheduledReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	sched.Spec = cloneSpec(spec)
	sched.NextRunAt = nil
	if spec.Enabled && sched.Status != domain.ScheduleError {
		sched.Status = domain.ScheduleActive
	}
	if !spec.Enabled {
		sched.Status = domain.SchedulePaused
	}
	sched.UpdatedAt = s.now().UTC()
	return cloneSchedule(sched), nil
}

// UpdateScheduleRun applies a partial run-state update.
func (s *Store) UpdateScheduleRun(_ context.Context, id uuid.UUID, update api.ScheduleRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		sched.LastRunAt = &t
	}
	switch {
	case update.ClearNextRun:
		sched.NextRunAt = nil
	case update.NextRunAt != nil:
		t := *update.NextRunAt
		sched.NextRunAt = &t
	}
	if update.Status != nil {
		sched.Status = *update.Status
		sched.Spec.Enabled = *update.Status != domain.SchedulePaused
	}
	if update.ErrorMessage != nil {
		sched.ErrorMessage = *update.ErrorMessage
	}
	sched.UpdatedAt = s.now().UTC()
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

// AppendHistory records one generation outcome.
func (s *Store) AppendHistory(_ context.Context, item domain.ReportHistoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, item)
	return nil
}

// ListHistory returns a report's history, newest first.
func (s *Store) ListHistory(_ context.Context, reportID uuid.UUID) ([]domain.ReportHistoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReportHistoryItem
	for _, item := range s.history {
		if item.ReportID == reportID {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
