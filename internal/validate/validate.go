// Package validate checks report configurations for structural and
// semantic validity. All checks are pure: errors come back as values and
// validation never has side effects. The builder state machine decides
// whether a non-empty error list blocks a transition.
package validate

import (
	"fmt"

	"github.com/reportd-data/reportd/internal/domain"
)

// Result is the outcome of a validation pass.
type Result struct {
	Valid  bool                `json:"valid"`
	Errors []domain.FieldError `json:"errors"`
}

// Check validates a partial configuration against the rules of one builder
// stage. src is the active data source's catalog entry; nil means the
// configuration's DataSourceID did not resolve.
func Check(cfg *domain.ReportConfiguration, stage domain.Stage, src *domain.DataSource) Result {
	var errs []domain.FieldError

	switch stage {
	case domain.StageSelectDataSource:
		errs = checkDataSource(cfg, src)
	case domain.StageChooseDimensions:
		errs = checkDimensions(cfg, src)
	case domain.StageSelectMetrics:
		errs = checkMetrics(cfg, src)
	case domain.StageAddFilters:
		errs = checkFilters(cfg, src)
	case domain.StageConfigureVisualization:
		errs = checkVisualization(cfg)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// Complete validates a finished configuration: every stage's rules plus the
// whole-configuration invariants (at least one metric or one group-by
// dimension, sorting referencing a selected field).
func Complete(cfg *domain.ReportConfiguration, src *domain.DataSource) Result {
	var errs []domain.FieldError
	errs = append(errs, checkDataSource(cfg, src)...)
	errs = append(errs, checkDimensions(cfg, src)...)
	errs = append(errs, checkMetrics(cfg, src)...)
	errs = append(errs, checkFilters(cfg, src)...)
	errs = append(errs, checkVisualization(cfg)...)

	if len(cfg.Metrics) == 0 && len(cfg.GroupByDimensions()) == 0 {
		errs = append(errs, domain.FieldError{
			Field:   "metrics",
			Message: "at least one metric or one group-by dimension is required",
		})
	}
	if cfg.Sorting.Field != "" && !cfg.SelectsField(cfg.Sorting.Field) {
		errs = append(errs, domain.FieldError{
			Field:   "sorting.field",
			Message: fmt.Sprintf("%q is not a selected dimension or metric", cfg.Sorting.Field),
		})
	}
	if cfg.Limit < 0 {
		errs = append(errs, domain.FieldError{Field: "limit", Message: "limit must not be negative"})
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkDataSource(cfg *domain.ReportConfiguration, src *domain.DataSource) []domain.FieldError {
	if cfg.DataSourceID == "" {
		return []domain.FieldError{{Field: "data_source_id", Message: "a data source is required"}}
	}
	if src == nil {
		return []domain.FieldError{{
			Field:   "data_source_id",
			Message: fmt.Sprintf("unknown data source %q", cfg.DataSourceID),
		}}
	}
	return nil
}

// checkDimensions allows zero dimensions (they are optional) but requires
// every selected dimension to belong to the active source with the
// dimension flag set.
func checkDimensions(cfg *domain.ReportConfiguration, src *domain.DataSource) []domain.FieldError {
	if src == nil {
		return nil // already reported by the data source stage
	}
	var errs []domain.FieldError
	for _, d := range cfg.Dimensions {
		f := src.FieldByName(d.Field)
		if f == nil {
			errs = append(errs, domain.FieldError{
				Field:   "dimensions",
				Message: fmt.Sprintf("field %q does not exist in data source %q", d.Field, src.ID),
			})
			continue
		}
		if !f.IsDimension {
			errs = append(errs, domain.FieldError{
				Field:   "dimensions",
				Message: fmt.Sprintf("field %q is not usable as a dimension", d.Field),
			})
		}
	}
	return errs
}

// checkMetrics requires at least one metric, each referencing a metric
// field of the active source with a supported aggregation.
func checkMetrics(cfg *domain.ReportConfiguration, src *domain.DataSource) []domain.FieldError {
	var errs []domain.FieldError
	if len(cfg.Metrics) == 0 {
		errs = append(errs, domain.FieldError{Field: "metrics", Message: "at least one metric is required"})
	}
	if src == nil {
		return errs
	}
	for _, m := range cfg.Metrics {
		f := src.FieldByName(m.Field)
		if f == nil {
			errs = append(errs, domain.FieldError{
				Field:   "metrics",
				Message: fmt.Sprintf("field %q does not exist in data source %q", m.Field, src.ID),
			})
			continue
		}
		if !f.IsMetric {
			errs = append(errs, domain.FieldError{
				Field:   "metrics",
				Message: fmt.Sprintf("field %q is not usable as a metric", m.Field),
			})
			continue
		}
		if !f.SupportsAggregation(m.Aggregation) {
			errs = append(errs, domain.FieldError{
				Field:   "metrics",
				Message: fmt.Sprintf("field %q does not support aggregation %q", m.Field, m.Aggregation),
			})
		}
	}
	return errs
}

// checkFilters allows zero filters but requires each present filter to
// reference an existing field and to pair its operator with a compatible
// field type.
func checkFilters(cfg *domain.ReportConfiguration, src *domain.DataSource) []domain.FieldError {
	var errs []domain.FieldError
	for _, fl := range cfg.Filters {
		if src != nil && src.FieldByName(fl.Field) == nil {
			errs = append(errs, domain.FieldError{
				Field:   "filters",
				Message: fmt.Sprintf("field %q does not exist in data source %q", fl.Field, src.ID),
			})
			continue
		}
		if !domain.OperatorValidFor(fl.Operator, fl.FieldType) {
			errs = append(errs, domain.FieldError{
				Field:   "filters",
				Message: fmt.Sprintf("operator %q is not valid for %s field %q", fl.Operator, fl.FieldType, fl.Field),
			})
		}
		if fl.Operator == domain.OpBetween {
			if bounds, ok := fl.Value.([]any); !ok || len(bounds) != 2 {
				errs = append(errs, domain.FieldError{
					Field:   "filters",
					Message: fmt.Sprintf("filter on %q: between requires exactly two bounds", fl.Field),
				})
			}
		}
	}
	return errs
}

func checkVisualization(cfg *domain.ReportConfiguration) []domain.FieldError {
	var errs []domain.FieldError
	if cfg.ChartType == "" {
		errs = append(errs, domain.FieldError{Field: "chart_type", Message: "a chart type is required"})
	} else if !domain.ValidChartType(string(cfg.ChartType)) {
		errs = append(errs, domain.FieldError{
			Field:   "chart_type",
			Message: fmt.Sprintf("unknown chart type %q", cfg.ChartType),
		})
	}

	if cfg.TimeFrame == "" {
		errs = append(errs, domain.FieldError{Field: "time_frame", Message: "a time frame is required"})
	} else if !domain.ValidTimeFrame(string(cfg.TimeFrame)) {
		errs = append(errs, domain.FieldError{
			Field:   "time_frame",
			Message: fmt.Sprintf("unknown time frame %q", cfg.TimeFrame),
		})
	}

	if cfg.TimeFrame == domain.TimeFrameCustom {
		switch {
		case cfg.StartDate == nil || cfg.EndDate == nil:
			errs = append(errs, domain.FieldError{
				Field:   "time_frame",
				Message: "custom time frame requires both start and end dates",
			})
		case cfg.StartDate.After(*cfg.EndDate):
			errs = append(errs, domain.FieldError{
				Field:   "time_frame",
				Message: "start date must not be after end date",
			})
		}
	}

	return errs
}
