package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reportd-data/reportd/internal/domain"
)

// TemplateStore defines the persistence interface for report templates.
type TemplateStore interface {
	ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.ReportTemplate, error)
	CreateTemplate(ctx context.Context, tpl *domain.ReportTemplate) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
}

// MountTemplateRoutes registers template endpoints on the router.
func MountTemplateRoutes(r chi.Router, srv *Server) {
	r.Get("/templates", srv.HandleListTemplates)
	r.Get("/templates/{templateID}", srv.HandleGetTemplate)
	r.Post("/templates", srv.HandleCreateTemplate)
	r.Post("/templates/{templateID}/instantiate", srv.HandleInstantiateTemplate)
	r.Delete("/templates/{templateID}", srv.HandleDeleteTemplate)
}

// HandleListTemplates returns all templates, optionally filtered by category.
func (s *Server) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.Templates.ListTemplates(r.Context())
	if err != nil {
		internalError(w, "failed to list templates", err)
		return
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := templates[:0]
		for _, tpl := range templates {
			if tpl.Category == category {
				filtered = append(filtered, tpl)
			}
		}
		templates = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"total":     len(templates),
	})
}

// HandleGetTemplate returns a single template by ID.
func (s *Server) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTemplateID(w, r)
	if !ok {
		return
	}

	tpl, err := s.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get template", err)
		return
	}
	if tpl == nil {
		errorJSON(w, "template not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// CreateTemplateRequest is the JSON body for creating a template from an
// existing configuration.
type CreateTemplateRequest struct {
	Name          string                     `json:"name"`
	Description   string                     `json:"description"`
	Category      string                     `json:"category"`
	Configuration domain.ReportConfiguration `json:"configuration"`
}

// HandleCreateTemplate stores a user-defined template. The embedded
// configuration is stored as-is; it is validated when instantiated, so a
// template may reference fields that a future catalog no longer carries.
func (s *Server) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		errorJSON(w, "template name is required", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	tpl := &domain.ReportTemplate{
		ID:            uuid.New(),
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		IsSystem:      false,
		Configuration: req.Configuration,
		CreatedAt:     now,
	}
	if err := s.Templates.CreateTemplate(r.Context(), tpl); err != nil {
		internalError(w, "failed to create template", err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// InstantiateTemplateRequest is the JSON body for the instantiate endpoint.
type InstantiateTemplateRequest struct {
	Name string `json:"name"`
}

// HandleInstantiateTemplate starts a builder session pre-populated from a
// template. The session resumes at the visualization stage so the caller
// can review, adjust, and complete; fields the current catalog no longer
// carries surface as validation errors on completion rather than here.
func (s *Server) HandleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTemplateID(w, r)
	if !ok {
		return
	}

	tpl, err := s.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get template", err)
		return
	}
	if tpl == nil {
		errorJSON(w, "template not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	var req InstantiateTemplateRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	name := req.Name
	if name == "" {
		name = tpl.Name
	}

	sess := s.Builders.CreateFromConfiguration(tpl.Configuration, name)
	writeJSON(w, http.StatusCreated, builderState(sess, nil))
}

// HandleDeleteTemplate removes a user-defined template. System templates
// cannot be deleted.
func (s *Server) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTemplateID(w, r)
	if !ok {
		return
	}

	tpl, err := s.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		internalError(w, "failed to get template", err)
		return
	}
	if tpl == nil {
		errorJSON(w, "template not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if tpl.IsSystem {
		errorJSON(w, "system templates cannot be deleted", "FORBIDDEN", http.StatusForbidden)
		return
	}

	if err := s.Templates.DeleteTemplate(r.Context(), id); err != nil {
		internalError(w, "failed to delete template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTemplateID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		errorJSON(w, "invalid template id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
