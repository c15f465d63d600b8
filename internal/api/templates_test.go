package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
)

type templateList struct {
	Templates []domain.ReportTemplate `json:"templates"`
	Total     int                     `json:"total"`
}

func (e *env) seedTemplate(t *testing.T, name, category string, system bool) *domain.ReportTemplate {
	t.Helper()
	tpl := &domain.ReportTemplate{
		ID:            uuid.New(),
		Name:          name,
		Category:      category,
		IsSystem:      system,
		Configuration: ordersConfig(),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateTemplate(context.Background(), tpl))
	return tpl
}

func TestCreateTemplate(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/templates", api.CreateTemplateRequest{
		Name:          "Monthly revenue",
		Category:      "sales",
		Configuration: ordersConfig(),
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tpl := decodeAs[domain.ReportTemplate](t, resp)
	assert.Equal(t, "Monthly revenue", tpl.Name)
	assert.False(t, tpl.IsSystem, "user templates are never system templates")
	assert.NotEqual(t, uuid.Nil, tpl.ID)
}

func TestCreateTemplate_NameRequired(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/templates", api.CreateTemplateRequest{
		Configuration: ordersConfig(),
	})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", errCode(t, resp))
}

func TestListTemplates_CategoryFilter(t *testing.T) {
	e := newEnv(t)
	e.seedTemplate(t, "Revenue", "sales", false)
	e.seedTemplate(t, "Churn", "retention", false)
	e.seedTemplate(t, "Pipeline", "sales", false)

	resp := e.do(t, http.MethodGet, "/api/v1/templates", nil)
	body := decodeAs[templateList](t, resp)
	assert.Equal(t, 3, body.Total)

	resp = e.do(t, http.MethodGet, "/api/v1/templates?category=sales", nil)
	body = decodeAs[templateList](t, resp)
	require.Equal(t, 2, body.Total)
	for _, tpl := range body.Templates {
		assert.Equal(t, "sales", tpl.Category)
	}
}

func TestGetTemplate_NotFound(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/v1/templates/"+uuid.NewString(), nil)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errCode(t, resp))
}

func TestInstantiateTemplate(t *testing.T) {
	e := newEnv(t)
	tpl := e.seedTemplate(t, "Revenue", "sales", true)

	resp := e.do(t, http.MethodPost, "/api/v1/templates/"+tpl.ID.String()+"/instantiate",
		api.InstantiateTemplateRequest{Name: "Q3 revenue"})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	state := decodeAs[api.BuilderStateResponse](t, resp)
	assert.Equal(t, domain.StageConfigureVisualization, state.Stage)
	assert.Equal(t, "Q3 revenue", state.Configuration.Name)
	assert.Equal(t, "orders", state.Configuration.DataSourceID)
	require.Len(t, state.Configuration.Metrics, 1)

	// The session is live and can be completed independently of the template.
	resp = e.do(t, http.MethodPost, "/api/v1/builder/"+state.ID.String()+"/complete", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestInstantiateTemplate_DefaultsToTemplateName(t *testing.T) {
	e := newEnv(t)
	tpl := e.seedTemplate(t, "Revenue", "sales", false)

	resp := e.do(t, http.MethodPost, "/api/v1/templates/"+tpl.ID.String()+"/instantiate", nil)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	state := decodeAs[api.BuilderStateResponse](t, resp)
	assert.Equal(t, "Revenue", state.Configuration.Name)
}

func TestDeleteTemplate(t *testing.T) {
	e := newEnv(t)
	tpl := e.seedTemplate(t, "Revenue", "sales", false)

	resp := e.do(t, http.MethodDelete, "/api/v1/templates/"+tpl.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteTemplate_SystemForbidden(t *testing.T) {
	e := newEnv(t)
	tpl := e.seedTemplate(t, "Builtin revenue", "sales", true)

	resp := e.do(t, http.MethodDelete, "/api/v1/templates/"+tpl.ID.String(), nil)

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errCode(t, resp))

	resp = e.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "template survives the attempt")
}
