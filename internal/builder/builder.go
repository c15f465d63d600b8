// Package builder implements the five-step report builder as an explicit
// state machine over domain.Stage. It holds the in-progress configuration,
// gates forward navigation on validation, and materializes an immutable
// ReportConfiguration on completion.
//
// A Session is owned exclusively by the caller that created it. It is not
// safe for concurrent use; callers must serialize Advance/Retreat/Complete.
package builder

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/catalog"
	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/validate"
)

// ErrTerminal is returned when an operation is attempted on a finished session.
var ErrTerminal = errors.New("builder session has ended")

// ErrWrongStage is returned when Complete is called before the final stage.
var ErrWrongStage = errors.New("complete is only allowed from the visualization stage")

// ErrInvalid is returned when Complete fails full-configuration validation.
var ErrInvalid = errors.New("configuration is not valid")

// stageOrder is the wizard's forward path.
var stageOrder = []domain.Stage{
	domain.StageSelectDataSource,
	domain.StageChooseDimensions,
	domain.StageSelectMetrics,
	domain.StageAddFilters,
	domain.StageConfigureVisualization,
}

// Intent selects the terminal stage a completed session lands in.
type Intent string

const (
	IntentSave     Intent = "save"
	IntentSchedule Intent = "schedule"
)

// Session is one in-progress builder run.
type Session struct {
	ID        uuid.UUID
	catalog   *catalog.Catalog
	stage     int // index into stageOrder while non-terminal
	terminal  domain.Stage
	cfg       domain.ReportConfiguration
	snapshots map[domain.Stage]domain.ReportConfiguration
	now       func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock injects a clock, used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession starts a builder session at the data source stage.
func NewSession(cat *catalog.Catalog, createdBy string, opts ...Option) *Session {
	s := &Session{
		ID:        uuid.New(),
		catalog:   cat,
		snapshots: make(map[domain.Stage]domain.ReportConfiguration),
		now:       time.Now,
	}
	s.cfg.CreatedBy = createdBy
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResumeSession starts a session pre-populated from an existing
// configuration, positioned at the visualization stage so the caller can
// review and complete. Selection IDs are reissued so the resulting report
// shares no identity with the configuration it was cloned from.
func ResumeSession(cat *catalog.Catalog, cfg domain.ReportConfiguration, opts ...Option) *Session {
	s := &Session{
		ID:        uuid.New(),
		catalog:   cat,
		stage:     len(stageOrder) - 1,
		cfg:       cfg.Clone(),
		snapshots: make(map[domain.Stage]domain.ReportConfiguration),
		now:       time.Now,
	}
	s.cfg.ID = uuid.Nil
	s.cfg.CreatedAt = time.Time{}
	s.cfg.UpdatedAt = time.Time{}
	for i := range s.cfg.Dimensions {
		s.cfg.Dimensions[i].ID = uuid.New()
	}
	for i := range s.cfg.Metrics {
		s.cfg.Metrics[i].ID = uuid.New()
	}
	for i := range s.cfg.Filters {
		s.cfg.Filters[i].ID = uuid.New()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage returns the current stage.
func (s *Session) Stage() domain.Stage {
	if s.terminal != "" {
		return s.terminal
	}
	return stageOrder[s.stage]
}

// Configuration returns a copy of the in-progress configuration.
func (s *Session) Configuration() domain.ReportConfiguration {
	return s.cfg.Clone()
}

// source resolves the active data source, nil if unset or unknown.
func (s *Session) source() *domain.DataSource {
	if s.cfg.DataSourceID == "" {
		return nil
	}
	src, ok := s.catalog.Source(s.cfg.DataSourceID)
	if !ok {
		return nil
	}
	return &src
}

// SetDataSource selects (or switches) the data source. Switching prunes
// every dimension, metric, and filter that references a field name not
// present in the new source's catalog; field names are not guaranteed
// unique across sources, so surviving selections are re-checked by name.
func (s *Session) SetDataSource(id string) {
	if s.terminal != "" || s.cfg.DataSourceID == id {
		return
	}
	s.cfg.DataSourceID = id

	src, ok := s.catalog.Source(id)
	if !ok {
		return
	}

	dims := s.cfg.Dimensions[:0]
	for _, d := range s.cfg.Dimensions {
		if f := src.FieldByName(d.Field); f != nil && f.IsDimension {
			dims = append(dims, d)
		}
	}
	s.cfg.Dimensions = dims

	metrics := s.cfg.Metrics[:0]
	for _, m := range s.cfg.Metrics {
		if f := src.FieldByName(m.Field); f != nil && f.IsMetric && f.SupportsAggregation(m.Aggregation) {
			metrics = append(metrics, m)
		}
	}
	s.cfg.Metrics = metrics

	filters := s.cfg.Filters[:0]
	for _, fl := range s.cfg.Filters {
		if src.FieldByName(fl.Field) != nil {
			filters = append(filters, fl)
		}
	}
	s.cfg.Filters = filters

	if s.cfg.Sorting.Field != "" && !s.cfg.SelectsField(s.cfg.Sorting.Field) {
		s.cfg.Sorting = domain.SortSpec{}
	}
}

// SetName sets the report's display name and description.
func (s *Session) SetName(name, description string) {
	s.cfg.Name = name
	s.cfg.Description = description
}

// AddDimension appends a dimension selection, assigning it an ID.
func (s *Session) AddDimension(field, label string, groupBy bool) uuid.UUID {
	id := uuid.New()
	s.cfg.Dimensions = append(s.cfg.Dimensions, domain.DimensionSelection{
		ID: id, Field: field, Label: label, GroupBy: groupBy,
	})
	return id
}

// RemoveDimension deletes a dimension selection by ID.
func (s *Session) RemoveDimension(id uuid.UUID) {
	for i, d := range s.cfg.Dimensions {
		if d.ID == id {
			s.cfg.Dimensions = append(s.cfg.Dimensions[:i], s.cfg.Dimensions[i+1:]...)
			return
		}
	}
}

// AddMetric appends a metric selection, assigning it an ID.
func (s *Session) AddMetric(field string, agg domain.Aggregation, label string) uuid.UUID {
	id := uuid.New()
	m := domain.MetricSelection{ID: id, Field: field, Aggregation: agg, Label: label}
	if src := s.source(); src != nil {
		if f := src.FieldByName(field); f != nil {
			m.Format = f.Format
		}
	}
	s.cfg.Metrics = append(s.cfg.Metrics, m)
	return id
}

// RemoveMetric deletes a metric selection by ID.
func (s *Session) RemoveMetric(id uuid.UUID) {
	for i, m := range s.cfg.Metrics {
		if m.ID == id {
			s.cfg.Metrics = append(s.cfg.Metrics[:i], s.cfg.Metrics[i+1:]...)
			return
		}
	}
}

// AddFilter appends a filter, deriving its field type from the catalog.
func (s *Session) AddFilter(field string, op domain.FilterOperator, value any) uuid.UUID {
	id := uuid.New()
	fl := domain.Filter{ID: id, Field: field, Operator: op, Value: value}
	if src := s.source(); src != nil {
		if f := src.FieldByName(field); f != nil {
			fl.FieldType = f.Type
		}
	}
	s.cfg.Filters = append(s.cfg.Filters, fl)
	return id
}

// RemoveFilter deletes a filter by ID.
func (s *Session) RemoveFilter(id uuid.UUID) {
	for i, fl := range s.cfg.Filters {
		if fl.ID == id {
			s.cfg.Filters = append(s.cfg.Filters[:i], s.cfg.Filters[i+1:]...)
			return
		}
	}
}

// SetTimeFrame sets the reporting period. start/end are only meaningful
// for the custom time frame.
func (s *Session) SetTimeFrame(tf domain.TimeFrame, start, end *time.Time) {
	s.cfg.TimeFrame = tf
	s.cfg.StartDate = start
	s.cfg.EndDate = end
}

// SetChartType sets the visualization type.
func (s *Session) SetChartType(ct domain.ChartType) {
	s.cfg.ChartType = ct
}

// SetSorting sets the output ordering.
func (s *Session) SetSorting(field string, dir domain.SortDirection) {
	s.cfg.Sorting = domain.SortSpec{Field: field, Direction: dir}
}

// SetLimit caps the number of groups in the output. Zero means unlimited.
func (s *Session) SetLimit(limit int) {
	s.cfg.Limit = limit
}

// Advance validates the current stage. On success it snapshots the partial
// configuration and moves to the next stage; on failure it stays in place
// and surfaces the errors.
func (s *Session) Advance() validate.Result {
	if s.terminal != "" {
		return validate.Result{Valid: false, Errors: []domain.FieldError{{
			Field: "stage", Message: "session has ended",
		}}}
	}

	stage := stageOrder[s.stage]
	res := validate.Check(&s.cfg, stage, s.source())
	if !res.Valid {
		return res
	}

	s.snapshots[stage] = s.cfg.Clone()
	if s.stage < len(stageOrder)-1 {
		s.stage++
	}
	return res
}

// Retreat moves to the previous stage without validation and without
// discarding already-entered selections. Returns false at the first stage
// or after the session has ended.
func (s *Session) Retreat() bool {
	if s.terminal != "" || s.stage == 0 {
		return false
	}
	s.stage--
	return true
}

// Complete validates the full configuration and, if valid, materializes an
// immutable ReportConfiguration with a fresh ID and timestamps. The session
// transitions to Saved or Scheduled depending on intent. Only callable from
// the visualization stage.
func (s *Session) Complete(intent Intent) (domain.ReportConfiguration, validate.Result, error) {
	if s.terminal != "" {
		return domain.ReportConfiguration{}, validate.Result{}, ErrTerminal
	}
	if stageOrder[s.stage] != domain.StageConfigureVisualization {
		return domain.ReportConfiguration{}, validate.Result{}, ErrWrongStage
	}

	res := validate.Complete(&s.cfg, s.source())
	if !res.Valid {
		return domain.ReportConfiguration{}, res, ErrInvalid
	}

	now := s.now()
	cfg := s.cfg.Clone()
	cfg.ID = uuid.New()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if intent == IntentSchedule {
		s.terminal = domain.StageScheduled
	} else {
		s.terminal = domain.StageSaved
	}
	return cfg, res, nil
}

// Abandon cancels the session from any non-terminal stage.
func (s *Session) Abandon() {
	if s.terminal == "" {
		s.terminal = domain.StageAbandoned
	}
}
