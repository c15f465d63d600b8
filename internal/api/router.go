// Package api provides the HTTP surface of reportd. All endpoints are
// mounted under /api/v1. The package also declares the store interfaces
// the handlers (and the scheduler) depend on; internal/postgres and
// internal/memstore implement them.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/reportd-data/reportd/internal/catalog"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit and offset from query params with defaults and bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// paginate applies in-memory offset/limit to a slice.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// APIError is the structured JSON error envelope returned by all API error
// responses: {"error": {"code": "...", "message": "..."}}.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"` // field-level validation errors
}

// errorJSON writes a structured JSON error response.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: code, Message: message},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// validationErrorJSON writes a 422 carrying field-level validation detail.
func validationErrorJSON(w http.ResponseWriter, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(APIError{
		Error: APIErrorDetail{Code: "INVALID_CONFIGURATION", Message: "configuration is not valid", Details: details},
	}); err != nil {
		slog.Error("failed to encode JSON error response", "error", err)
	}
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON parses a request body into v, reporting malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorJSON(w, "invalid request body", "INVALID_ARGUMENT", http.StatusBadRequest)
		return false
	}
	return true
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if r.Body != nil && !strings.HasPrefix(ct, "multipart/") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Server holds dependencies for all API handlers.
type Server struct {
	Catalog   *catalog.Catalog
	Reports   ReportStore
	Templates TemplateStore
	Schedules ScheduleStore
	History   HistoryStore
	Executor  Executor
	Builders  *BuilderSessions

	CORSOrigins []string                        // Allowed CORS origins. Defaults to ["http://localhost:3000"].
	DBHealth    HealthChecker                   // Postgres health check (pool.Ping). Nil = skip.
	Auth        func(http.Handler) http.Handler // Auth middleware for /api/v1. Nil = open.
	RateLimit   *RateLimitConfig                // Per-IP rate limiting. Nil = disabled.

	// RateLimiterStop releases the limiter's cleanup goroutines. Populated
	// by NewRouter when RateLimit is set; main calls it during shutdown.
	RateLimiterStop func()
}

// NewRouter creates a configured chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	if srv.Builders == nil {
		srv.Builders = NewBuilderSessions(srv.Catalog)
	}

	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health (unauthenticated, outside /api/v1)
	r.Get("/health", srv.HandleHealth)
	r.Get("/health/ready", srv.HandleHealthReady)

	// Per-IP rate limiting: a global limiter for the API plus a tighter one
	// on execution endpoints, which do real aggregation work on cache misses.
	var globalLimitMW, executeLimitMW func(http.Handler) http.Handler
	if srv.RateLimit != nil {
		globalRL, gmw := RateLimit(*srv.RateLimit)
		executeRL, emw := RateLimit(ExecuteRateLimitConfig())
		globalLimitMW, executeLimitMW = gmw, emw
		srv.RateLimiterStop = func() {
			globalRL.Stop()
			executeRL.Stop()
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.Auth != nil {
			r.Use(srv.Auth)
		}
		if globalLimitMW != nil {
			r.Use(globalLimitMW)
		}

		MountSourceRoutes(r, srv)
		MountBuilderRoutes(r, srv)
		MountReportRoutes(r, srv)
		MountTemplateRoutes(r, srv)
		MountScheduleRoutes(r, srv)
		MountHistoryRoutes(r, srv)

		r.Group(func(r chi.Router) {
			if executeLimitMW != nil {
				r.Use(executeLimitMW)
			}
			MountExecuteRoutes(r, srv)
		})
	})

	return r
}
