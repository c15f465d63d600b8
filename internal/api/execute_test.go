package api_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
)

func TestExecuteReport(t *testing.T) {
	e := newEnv(t)
	report := e.seedReport(t, ordersConfig())
	path := "/api/v1/reports/" + report.ID.String() + "/execute"

	resp := e.do(t, http.MethodPost, path, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeAs[domain.ReportResult](t, resp)
	assert.NotEmpty(t, res.Dataset.Labels)
	require.Len(t, res.Dataset.Series, 1)
	assert.Len(t, res.Dataset.Series[0].Data, len(res.Dataset.Labels))
	assert.False(t, res.CacheHit)
	assert.Equal(t, len(res.Dataset.Labels), res.Summary.Count)
}

func TestExecuteReport_SecondRunHitsCache(t *testing.T) {
	e := newEnv(t)
	report := e.seedReport(t, ordersConfig())
	path := "/api/v1/reports/" + report.ID.String() + "/execute"

	first := decodeAs[domain.ReportResult](t, e.do(t, http.MethodPost, path, nil))

	resp := e.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeAs[domain.ReportResult](t, resp)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.ID, second.ID, "cached runs reuse the stored result")
}

func TestExecuteReport_ForceRefresh(t *testing.T) {
	e := newEnv(t)
	report := e.seedReport(t, ordersConfig())
	path := "/api/v1/reports/" + report.ID.String() + "/execute"

	first := decodeAs[domain.ReportResult](t, e.do(t, http.MethodPost, path, nil))

	resp := e.do(t, http.MethodPost, path, api.ExecuteRequest{ForceRefresh: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decodeAs[domain.ReportResult](t, resp)
	assert.False(t, refreshed.CacheHit)
	assert.NotEqual(t, first.ID, refreshed.ID)
}

func TestExecuteReport_NotFound(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/reports/"+uuid.NewString()+"/execute", nil)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteReport_SourceUnavailable(t *testing.T) {
	e := newEnv(t)
	cfg := ordersConfig()
	cfg.DataSourceID = "ghost"
	report := e.seedReport(t, cfg)

	resp := e.do(t, http.MethodPost, "/api/v1/reports/"+report.ID.String()+"/execute", nil)

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "SOURCE_UNAVAILABLE", errCode(t, resp))
}

func TestExecuteReport_AggregationMismatch(t *testing.T) {
	e := newEnv(t)
	cfg := ordersConfig()
	// quantity does not support max; only a bypassed validator gets here.
	cfg.Metrics = []domain.MetricSelection{
		{ID: uuid.New(), Field: "quantity", Aggregation: domain.AggMax},
	}
	report := e.seedReport(t, cfg)

	resp := e.do(t, http.MethodPost, "/api/v1/reports/"+report.ID.String()+"/execute", nil)

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "AGGREGATION_MISMATCH", errCode(t, resp))
}

func TestPreview(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/preview", api.PreviewRequest{
		Configuration: ordersConfig(),
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeAs[domain.ReportResult](t, resp)
	assert.NotEmpty(t, res.Dataset.Labels)

	// Previews persist nothing.
	lresp := e.do(t, http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, 0, decodeAs[reportList](t, lresp).Total)
}

func TestPreview_SharesResultCacheWithExecute(t *testing.T) {
	e := newEnv(t)
	cfg := ordersConfig()
	report := e.seedReport(t, cfg)

	executed := decodeAs[domain.ReportResult](t,
		e.do(t, http.MethodPost, "/api/v1/reports/"+report.ID.String()+"/execute", nil))

	resp := e.do(t, http.MethodPost, "/api/v1/preview", api.PreviewRequest{Configuration: cfg})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	previewed := decodeAs[domain.ReportResult](t, resp)
	assert.True(t, previewed.CacheHit)
	assert.Equal(t, executed.ID, previewed.ID)
}

func TestPreview_InvalidConfiguration(t *testing.T) {
	e := newEnv(t)
	cfg := ordersConfig()
	cfg.Metrics = nil
	cfg.Dimensions = nil

	resp := e.do(t, http.MethodPost, "/api/v1/preview", api.PreviewRequest{Configuration: cfg})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	env := decodeAs[errEnvelope](t, resp)
	assert.Equal(t, "INVALID_CONFIGURATION", env.Error.Code)
	assert.NotEmpty(t, env.Error.Details)
}

func TestPreview_UnknownSourceFailsValidation(t *testing.T) {
	e := newEnv(t)
	cfg := ordersConfig()
	cfg.DataSourceID = "ghost"

	resp := e.do(t, http.MethodPost, "/api/v1/preview", api.PreviewRequest{Configuration: cfg})

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INVALID_CONFIGURATION", errCode(t, resp))
}

func TestPreview_MalformedBody(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/preview", "not an object")

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", errCode(t, resp))
}
