package validate_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/validate"
)

func ordersSource() *domain.DataSource {
	return &domain.DataSource{
		ID: "orders", Name: "Orders",
		Fields: []domain.Field{
			{Name: "status", Type: domain.FieldTypeString, IsDimension: true},
			{Name: "created_at", Type: domain.FieldTypeDate, IsDimension: true},
			{
				Name: "total", Type: domain.FieldTypeNumber, IsMetric: true,
				SupportedAggregations: []domain.Aggregation{domain.AggSum, domain.AggAverage},
			},
		},
	}
}

func validConfig() *domain.ReportConfiguration {
	return &domain.ReportConfiguration{
		DataSourceID: "orders",
		TimeFrame:    domain.TimeFrameMonth,
		ChartType:    domain.ChartBar,
		Dimensions: []domain.DimensionSelection{
			{ID: uuid.New(), Field: "status", GroupBy: true},
		},
		Metrics: []domain.MetricSelection{
			{ID: uuid.New(), Field: "total", Aggregation: domain.AggSum},
		},
	}
}

func fieldsOf(errs []domain.FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

// --- Check: stage gating ---

func TestCheck_DataSourceStage_MissingID(t *testing.T) {
	cfg := &domain.ReportConfiguration{}

	res := validate.Check(cfg, domain.StageSelectDataSource, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "data_source_id")
}

func TestCheck_DataSourceStage_UnresolvedSource(t *testing.T) {
	cfg := &domain.ReportConfiguration{DataSourceID: "ghost"}

	res := validate.Check(cfg, domain.StageSelectDataSource, nil)

	assert.False(t, res.Valid)
}

func TestCheck_DataSourceStage_Valid(t *testing.T) {
	cfg := validConfig()

	res := validate.Check(cfg, domain.StageSelectDataSource, ordersSource())

	assert.True(t, res.Valid)
}

func TestCheck_DimensionsStage_ZeroDimensionsAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Dimensions = nil

	res := validate.Check(cfg, domain.StageChooseDimensions, ordersSource())

	assert.True(t, res.Valid)
}

func TestCheck_DimensionsStage_UnknownField(t *testing.T) {
	cfg := validConfig()
	cfg.Dimensions = []domain.DimensionSelection{{ID: uuid.New(), Field: "nope", GroupBy: true}}

	res := validate.Check(cfg, domain.StageChooseDimensions, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_DimensionsStage_MetricOnlyField(t *testing.T) {
	cfg := validConfig()
	cfg.Dimensions = []domain.DimensionSelection{{ID: uuid.New(), Field: "total", GroupBy: true}}

	res := validate.Check(cfg, domain.StageChooseDimensions, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_MetricsStage_AtLeastOneRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = nil

	res := validate.Check(cfg, domain.StageSelectMetrics, ordersSource())

	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "metrics")
}

func TestCheck_MetricsStage_UnsupportedAggregation(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = []domain.MetricSelection{
		{ID: uuid.New(), Field: "total", Aggregation: domain.AggMax},
	}

	res := validate.Check(cfg, domain.StageSelectMetrics, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_MetricsStage_DimensionOnlyField(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = []domain.MetricSelection{
		{ID: uuid.New(), Field: "status", Aggregation: domain.AggCount},
	}

	res := validate.Check(cfg, domain.StageSelectMetrics, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_FiltersStage_ZeroFiltersAllowed(t *testing.T) {
	cfg := validConfig()

	res := validate.Check(cfg, domain.StageAddFilters, ordersSource())

	assert.True(t, res.Valid)
}

func TestCheck_FiltersStage_OperatorTypeMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.Filters = []domain.Filter{
		// contains makes no sense on a number field
		{ID: uuid.New(), Field: "total", Operator: domain.OpContains, Value: "1", FieldType: domain.FieldTypeNumber},
	}

	res := validate.Check(cfg, domain.StageAddFilters, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_FiltersStage_BetweenRequiresTwoBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Filters = []domain.Filter{
		{ID: uuid.New(), Field: "total", Operator: domain.OpBetween, Value: []any{10.0}, FieldType: domain.FieldTypeNumber},
	}

	res := validate.Check(cfg, domain.StageAddFilters, ordersSource())

	assert.False(t, res.Valid)
}

func TestCheck_FiltersStage_ValidBetween(t *testing.T) {
	cfg := validConfig()
	cfg.Filters = []domain.Filter{
		{ID: uuid.New(), Field: "total", Operator: domain.OpBetween, Value: []any{10.0, 100.0}, FieldType: domain.FieldTypeNumber},
	}

	res := validate.Check(cfg, domain.StageAddFilters, ordersSource())

	assert.True(t, res.Valid)
}

func TestCheck_VisualizationStage_RequiresChartAndTimeFrame(t *testing.T) {
	cfg := validConfig()
	cfg.ChartType = ""
	cfg.TimeFrame = ""

	res := validate.Check(cfg, domain.StageConfigureVisualization, ordersSource())

	assert.False(t, res.Valid)
	fields := fieldsOf(res.Errors)
	assert.Contains(t, fields, "chart_type")
	assert.Contains(t, fields, "time_frame")
}

func TestCheck_VisualizationStage_UnknownChartType(t *testing.T) {
	cfg := validConfig()
	cfg.ChartType = "sparkline"

	res := validate.Check(cfg, domain.StageConfigureVisualization, ordersSource())

	assert.False(t, res.Valid)
}

// --- Complete ---

func TestComplete_ValidConfiguration(t *testing.T) {
	res := validate.Complete(validConfig(), ordersSource())

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestComplete_AccumulatesAcrossStages(t *testing.T) {
	cfg := &domain.ReportConfiguration{
		DataSourceID: "orders",
		Dimensions:   []domain.DimensionSelection{{ID: uuid.New(), Field: "nope", GroupBy: true}},
	}

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
	fields := fieldsOf(res.Errors)
	assert.Contains(t, fields, "dimensions")
	assert.Contains(t, fields, "metrics")
	assert.Contains(t, fields, "chart_type")
}

func TestComplete_MetricOrGroupByRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = nil
	cfg.Dimensions[0].GroupBy = false

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
}

func TestComplete_GroupByAloneSatisfiesFloor(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics = nil

	res := validate.Complete(cfg, ordersSource())

	// The whole-configuration floor is satisfied by the group-by dimension,
	// but the metrics stage itself still demands a metric.
	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "metrics")
	for _, e := range res.Errors {
		assert.NotEqual(t, "at least one metric or one group-by dimension is required", e.Message)
	}
}

func TestComplete_SortFieldMustBeSelected(t *testing.T) {
	cfg := validConfig()
	cfg.Sorting = domain.SortSpec{Field: "created_at", Direction: domain.SortAsc}

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "sorting.field")
}

func TestComplete_SortBySelectedMetric_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.Sorting = domain.SortSpec{Field: "total", Direction: domain.SortDesc}

	res := validate.Complete(cfg, ordersSource())

	assert.True(t, res.Valid)
}

func TestComplete_NegativeLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Limit = -1

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "limit")
}

func TestComplete_CustomTimeFrame_MissingDates(t *testing.T) {
	cfg := validConfig()
	cfg.TimeFrame = domain.TimeFrameCustom

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
	assert.Contains(t, fieldsOf(res.Errors), "time_frame")
}

func TestComplete_CustomTimeFrame_StartAfterEnd(t *testing.T) {
	cfg := validConfig()
	cfg.TimeFrame = domain.TimeFrameCustom
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cfg.StartDate = &start
	cfg.EndDate = &end

	res := validate.Complete(cfg, ordersSource())

	assert.False(t, res.Valid)
}

func TestComplete_CustomTimeFrame_EqualDatesValid(t *testing.T) {
	cfg := validConfig()
	cfg.TimeFrame = domain.TimeFrameCustom
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	cfg.StartDate = &day
	cfg.EndDate = &day

	res := validate.Complete(cfg, ordersSource())

	assert.True(t, res.Valid)
}
