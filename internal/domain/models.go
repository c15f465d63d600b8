// Package domain defines the core business types shared across reportd.
// These types represent the engine's data model, not HTTP specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses and in Postgres JSONB columns. When the API shape diverges from
// the domain type, define a response struct in the api package instead.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FieldType classifies the value space of a catalog field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeDate    FieldType = "date"
	FieldTypeBoolean FieldType = "boolean"
)

// ValidFieldType checks if a string is a known field type.
func ValidFieldType(s string) bool {
	switch FieldType(s) {
	case FieldTypeString, FieldTypeNumber, FieldTypeDate, FieldTypeBoolean:
		return true
	}
	return false
}

// Aggregation is a reduction applied to a metric over a group of rows.
type Aggregation string

const (
	AggSum     Aggregation = "sum"
	AggAverage Aggregation = "average"
	AggMin     Aggregation = "min"
	AggMax     Aggregation = "max"
	AggCount   Aggregation = "count"
)

// ValidAggregation checks if a string is a known aggregation.
func ValidAggregation(s string) bool {
	switch Aggregation(s) {
	case AggSum, AggAverage, AggMin, AggMax, AggCount:
		return true
	}
	return false
}

// FieldFormat hints how a value should be rendered.
type FieldFormat string

const (
	FormatCurrency   FieldFormat = "currency"
	FormatPercentage FieldFormat = "percentage"
	FormatNumber     FieldFormat = "number"
)

// Field describes one column exposed by a data source.
// A field with IsMetric set must declare at least one supported aggregation.
// A field with neither flag set cannot appear in dimensions or metrics.
type Field struct {
	Name                  string        `json:"name"`
	Label                 string        `json:"label"`
	Type                  FieldType     `json:"type"`
	IsDimension           bool          `json:"is_dimension"`
	IsMetric              bool          `json:"is_metric"`
	SupportedAggregations []Aggregation `json:"supported_aggregations,omitempty"`
	Format                FieldFormat   `json:"format,omitempty"`
}

// SupportsAggregation reports whether agg is in the field's supported set.
func (f Field) SupportsAggregation(agg Aggregation) bool {
	for _, a := range f.SupportedAggregations {
		if a == agg {
			return true
		}
	}
	return false
}

// DataSource owns a field catalog. Immutable after load for the duration
// of a builder session.
type DataSource struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Fields      []Field `json:"fields"`
	RefreshRate int     `json:"refresh_rate_minutes"` // cache freshness window, minutes
}

// FieldByName looks up a field by name. Returns nil if not present.
func (d DataSource) FieldByName(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// Row is a raw record fetched from a data source: field name → value.
type Row map[string]any

// MetricSelection pairs a metric field with the aggregation to apply.
type MetricSelection struct {
	ID          uuid.UUID   `json:"id"`
	Field       string      `json:"field"`
	Aggregation Aggregation `json:"aggregation"`
	Label       string      `json:"label"`
	Format      FieldFormat `json:"format,omitempty"`
}

// DimensionSelection picks a field used to bucket rows. Only selections
// with GroupBy set participate in grouping.
type DimensionSelection struct {
	ID      uuid.UUID `json:"id"`
	Field   string    `json:"field"`
	Label   string    `json:"label"`
	GroupBy bool      `json:"group_by"`
}

// FilterOperator is a row-level predicate kind.
type FilterOperator string

const (
	OpEquals      FilterOperator = "equals"
	OpNotEquals   FilterOperator = "notEquals"
	OpContains    FilterOperator = "contains"
	OpGreaterThan FilterOperator = "greaterThan"
	OpLessThan    FilterOperator = "lessThan"
	OpBetween     FilterOperator = "between"
)

// OperatorValidFor reports whether op is applicable to a field of type ft.
// "between" is restricted to dates and numbers, "contains" to strings, and
// the ordered comparisons to dates and numbers. Equality works everywhere.
func OperatorValidFor(op FilterOperator, ft FieldType) bool {
	switch op {
	case OpEquals, OpNotEquals:
		return true
	case OpContains:
		return ft == FieldTypeString
	case OpGreaterThan, OpLessThan, OpBetween:
		return ft == FieldTypeNumber || ft == FieldTypeDate
	}
	return false
}

// Filter is one row-level predicate. Value holds the comparison operand;
// for "between" it is a two-element slice of bounds (inclusive).
type Filter struct {
	ID        uuid.UUID      `json:"id"`
	Field     string         `json:"field"`
	Operator  FilterOperator `json:"operator"`
	Value     any            `json:"value"`
	FieldType FieldType      `json:"field_type"`
}

// ChartType selects the visualization. Cosmetic: it never affects the
// computed dataset or the cache fingerprint.
type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
	ChartArea ChartType = "area"
)

// ValidChartType checks if a string is a known chart type.
func ValidChartType(s string) bool {
	switch ChartType(s) {
	case ChartBar, ChartLine, ChartPie, ChartArea:
		return true
	}
	return false
}

// TimeFrame is the reporting period: a named preset or an explicit range.
type TimeFrame string

const (
	TimeFrameDay     TimeFrame = "day"
	TimeFrameWeek    TimeFrame = "week"
	TimeFrameMonth   TimeFrame = "month"
	TimeFrameQuarter TimeFrame = "quarter"
	TimeFrameCustom  TimeFrame = "custom"
)

// ValidTimeFrame checks if a string is a known time frame.
func ValidTimeFrame(s string) bool {
	switch TimeFrame(s) {
	case TimeFrameDay, TimeFrameWeek, TimeFrameMonth, TimeFrameQuarter, TimeFrameCustom:
		return true
	}
	return false
}

// SortDirection orders series values ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec orders the final dataset by a selected dimension or metric.
type SortSpec struct {
	Field     string        `json:"field,omitempty"`
	Direction SortDirection `json:"direction,omitempty"`
}

// ReportConfiguration is the immutable, serializable description of one
// report: what to fetch, how to group, aggregate, filter, and present it.
// A completed configuration satisfies:
//   - timeFrame "custom" carries both dates with StartDate <= EndDate
//   - at least one metric or one group-by dimension is present
//   - Sorting.Field, when set, references a selected dimension or metric
type ReportConfiguration struct {
	ID           uuid.UUID            `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	DataSourceID string               `json:"data_source_id"`
	TimeFrame    TimeFrame            `json:"time_frame"`
	StartDate    *time.Time           `json:"start_date,omitempty"`
	EndDate      *time.Time           `json:"end_date,omitempty"`
	Dimensions   []DimensionSelection `json:"dimensions"`
	Metrics      []MetricSelection    `json:"metrics"`
	Filters      []Filter             `json:"filters"`
	ChartType    ChartType            `json:"chart_type"`
	Sorting      SortSpec             `json:"sorting"`
	Limit        int                  `json:"limit,omitempty"` // 0 = unlimited
	CreatedBy    string               `json:"created_by"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// GroupByDimensions returns the dimensions that participate in grouping.
func (c ReportConfiguration) GroupByDimensions() []DimensionSelection {
	var out []DimensionSelection
	for _, d := range c.Dimensions {
		if d.GroupBy {
			out = append(out, d)
		}
	}
	return out
}

// SelectsField reports whether name is referenced by a selected dimension
// or metric. Used to validate Sorting.Field.
func (c ReportConfiguration) SelectsField(name string) bool {
	for _, d := range c.Dimensions {
		if d.Field == name {
			return true
		}
	}
	for _, m := range c.Metrics {
		if m.Field == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the configuration. Slices are copied so the
// clone can be edited without aliasing the original.
func (c ReportConfiguration) Clone() ReportConfiguration {
	out := c
	out.Dimensions = append([]DimensionSelection(nil), c.Dimensions...)
	out.Metrics = append([]MetricSelection(nil), c.Metrics...)
	out.Filters = append([]Filter(nil), c.Filters...)
	if c.StartDate != nil {
		t := *c.StartDate
		out.StartDate = &t
	}
	if c.EndDate != nil {
		t := *c.EndDate
		out.EndDate = &t
	}
	return out
}

// SavedReport wraps a completed configuration with usage state. Updates
// never mutate the embedded configuration in place; edits produce a new
// configuration version with a bumped UpdatedAt.
type SavedReport struct {
	ID              uuid.UUID           `json:"id"`
	Configuration   ReportConfiguration `json:"configuration"`
	Favorited       bool                `json:"favorited"`
	TimesViewed     int                 `json:"times_viewed"`
	LastGeneratedAt *time.Time          `json:"last_generated_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ReportTemplate is a named, reusable configuration. Templates are cloned,
// not referenced, when instantiated into a new report.
type ReportTemplate struct {
	ID            uuid.UUID           `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Category      string              `json:"category,omitempty"`
	IsSystem      bool                `json:"is_system"`
	Configuration ReportConfiguration `json:"configuration"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Frequency is a recurrence preset for scheduled reports.
type Frequency string

const (
	FreqDaily     Frequency = "daily"
	FreqWeekly    Frequency = "weekly"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
)

// ValidFrequency checks if a string is a known frequency.
func ValidFrequency(s string) bool {
	switch Frequency(s) {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqQuarterly:
		return true
	}
	return false
}

// ScheduleSpec describes when and how a scheduled report runs and is
// delivered. Time is "HH:MM" in the schedule's Timezone (IANA name).
// CronExpr, when set, overrides the frequency fields entirely.
type ScheduleSpec struct {
	Enabled        bool      `json:"enabled"`
	Frequency      Frequency `json:"frequency"`
	DayOfWeek      *int      `json:"day_of_week,omitempty"`  // 0=Sunday .. 6=Saturday (weekly)
	DayOfMonth     *int      `json:"day_of_month,omitempty"` // 1..31, clamped to month length (monthly/quarterly)
	Time           string    `json:"time"`                   // "HH:MM"
	Timezone       string    `json:"timezone"`
	Recipients     []string  `json:"recipients"`
	DeliveryMethod string    `json:"delivery_method"`
	ExportFormat   string    `json:"export_format"`
	CronExpr       string    `json:"cron,omitempty"`
}

// ScheduleStatus is the lifecycle state of a scheduled report.
type ScheduleStatus string

const (
	ScheduleActive ScheduleStatus = "active"
	SchedulePaused ScheduleStatus = "paused"
	ScheduleError  ScheduleStatus = "error"
)

// ScheduledReport attaches a recurrence to a saved report.
// NextRunAt is recomputed after every run or schedule edit. A failed run
// sets status to "error" (retaining ErrorMessage) but still computes
// NextRunAt so a future retry is possible.
type ScheduledReport struct {
	ID           uuid.UUID      `json:"id"`
	ReportID     uuid.UUID      `json:"report_id"`
	Spec         ScheduleSpec   `json:"schedule"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty"`
	Status       ScheduleStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Series is one metric's aggregated values, aligned positionally to the
// dataset's labels.
type Series struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
	Color string    `json:"color,omitempty"`
}

// Dataset is the chartable output of an execution: group labels plus one
// series per metric.
type Dataset struct {
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// Summary is aggregate-of-aggregates over the first metric's series.
type Summary struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"` // number of groups
}

// ReportResult is the immutable outcome of one execution. A new execution
// always produces a new result, never mutates a prior one.
type ReportResult struct {
	ID               uuid.UUID           `json:"id"`
	Configuration    ReportConfiguration `json:"configuration"`
	Dataset          Dataset             `json:"dataset"`
	Summary          Summary             `json:"summary"`
	GeneratedAt      time.Time           `json:"generated_at"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	CacheHit         bool                `json:"cache_hit"`
}

// DeliveryStatus records the outcome of a delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryError   DeliveryStatus = "error"
)

// ReportHistoryItem is an append-only record of one execution/delivery
// attempt. Never mutated after creation.
type ReportHistoryItem struct {
	ID               uuid.UUID      `json:"id"`
	ReportID         uuid.UUID      `json:"report_id"`
	ScheduleID       *uuid.UUID     `json:"schedule_id,omitempty"`
	ResultID         *uuid.UUID     `json:"result_id,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	ExportFormat     string         `json:"export_format,omitempty"`
	DeliveryMethod   string         `json:"delivery_method,omitempty"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Stage identifies one step of the report builder wizard.
type Stage string

const (
	StageSelectDataSource       Stage = "select_data_source"
	StageChooseDimensions       Stage = "choose_dimensions"
	StageSelectMetrics          Stage = "select_metrics"
	StageAddFilters             Stage = "add_filters"
	StageConfigureVisualization Stage = "configure_visualization"
	StageSaved                  Stage = "saved"
	StageScheduled              Stage = "scheduled"
	StageAbandoned              Stage = "abandoned"
)

// Terminal reports whether the stage ends a builder session.
func (s Stage) Terminal() bool {
	return s == StageSaved || s == StageScheduled || s == StageAbandoned
}
