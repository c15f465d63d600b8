package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountSourceRoutes registers field catalog endpoints on the router.
func MountSourceRoutes(r chi.Router, srv *Server) {
	r.Get("/sources", srv.HandleListSources)
	r.Get("/sources/{sourceID}", srv.HandleGetSource)
}

// HandleListSources returns every data source with its field catalog.
func (s *Server) HandleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.Catalog.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"total":   len(sources),
	})
}

// HandleGetSource returns a single data source by ID.
func (s *Server) HandleGetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceID")
	src, ok := s.Catalog.Source(id)
	if !ok {
		errorJSON(w, "data source not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, src)
}
