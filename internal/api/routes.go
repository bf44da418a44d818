package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/inputhaven/inputhaven/internal/pkg/httputil"
)

// setupRoutes configures all routes. The submission endpoint computes its own
// per-tenant CORS headers (the allowlist is per form, so the static CORS
// middleware cannot serve it); the read API uses the shared CORS middleware
// since its callers are servers and the dashboard, not tenant sites.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/health", s.handleHealth)

	// Public intake surface. No CORS middleware here on purpose.
	r.Post("/api/v1/submit", s.handleSubmit)
	r.Options("/api/v1/submit", s.handleSubmitPreflight)

	// Download tokens are opaque and expiring; the URL is the credential.
	r.Get("/api/v1/download/{token}", s.handleDownload)

	// Operational sweep trigger, guarded by the cron secret.
	r.Post("/api/cron/retry-emails", s.handleRetryEmails)

	// Read API: API-key auth, server-to-server callers.
	r.Route("/api/v1/forms/{formID}", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.baseURL},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(s.requireAPIKey)

		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/submissions/export.csv", s.handleExportCSV)
		r.Post("/submissions/{id}/read", s.handleMarkRead)
		r.Delete("/submissions/{id}", s.handleDeleteSubmission)
		r.Post("/files/{fileID}/download-token", s.handleCreateDownloadToken)
	})

	return r
}

// requestID tags every request and response with a correlation id so a
// submission can be traced through logs without exposing anything else.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRetryEmails runs one email retry sweep. Triggered by an external
// scheduler with the shared cron secret.
func (s *Server) handleRetryEmails(w http.ResponseWriter, r *http.Request) {
	if s.cronSecret == "" {
		httputil.NotFound(w, "not found")
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token != s.cronSecret {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	retried, failed, err := s.emails.RetryDue(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"retried": retried, "failed": failed})
}
