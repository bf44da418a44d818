// Package api is the HTTP surface: the public submission endpoint, the
// API-key-gated read API, the download-token redirect, and the cron sweep
// trigger. Handlers depend on narrow interfaces so the intake pipeline can be
// exercised end to end with in-memory fakes.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/quota"
	"github.com/inputhaven/inputhaven/internal/ratelimit"
	"github.com/inputhaven/inputhaven/internal/spam"
	"github.com/inputhaven/inputhaven/internal/storage"
)

// Store is the persistence surface the handlers use. *storage.Storage
// satisfies it; tests swap in a fake.
type Store interface {
	GetFormByAccessKey(ctx context.Context, accessKey string) (*domain.Form, error)
	CreateSubmission(ctx context.Context, sub *domain.Submission) error
	ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]domain.Submission, int, error)
	MarkSubmissionRead(ctx context.Context, formID, id string) error
	DeleteSubmission(ctx context.Context, formID, id string) error
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*storage.Account, error)
	OwnsForm(ctx context.Context, ownerID, formID string) (bool, error)
	CreateSubmissionFile(ctx context.Context, f *domain.SubmissionFile) error
	ListSubmissionFiles(ctx context.Context, submissionID string) ([]domain.SubmissionFile, error)
	CreateDownloadToken(ctx context.Context, ownerID, fileID string, ttl time.Duration) (*domain.DownloadToken, error)
	GetDownloadFile(ctx context.Context, token string) (*domain.SubmissionFile, error)
}

// QuotaAccountant reserves monthly quota slots.
type QuotaAccountant interface {
	Reserve(ctx context.Context, ownerID string, plan domain.Plan) (*quota.Reservation, error)
}

// EmailNotifier fans out notification emails and auto-responses.
type EmailNotifier interface {
	DispatchSubmission(ctx context.Context, form *domain.Form, sub *domain.Submission, recipients []string)
	SendAutoResponse(ctx context.Context, form *domain.Form, sub *domain.Submission)
	RetryDue(ctx context.Context) (retried, failed int, err error)
}

// WebhookDeliverer posts signed submission events.
type WebhookDeliverer interface {
	Deliver(ctx context.Context, formID, webhookURL, secret string, payload domain.WebhookPayload) error
}

// FileUploader stores uploaded files and presigns downloads.
type FileUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignDownload(ctx context.Context, key, filename string, expires time.Duration) (string, error)
}

// Server represents the API server.
type Server struct {
	store      Store
	limiter    ratelimit.Limiter
	apiLimiter ratelimit.Limiter
	quota      QuotaAccountant
	classifier *spam.Classifier
	emails     EmailNotifier
	webhooks   WebhookDeliverer
	files      FileUploader

	// baseURL is the service's own canonical origin; forms with an empty
	// allowlist accept browser traffic only from here.
	baseURL    string
	cronSecret string

	router *chi.Mux
	server *http.Server
}

// Options carries everything the server composes. Files may be nil (uploads
// disabled); Webhooks and Emails must be non-nil.
type Options struct {
	Store      Store
	Limiter    ratelimit.Limiter
	APILimiter ratelimit.Limiter
	Quota      QuotaAccountant
	Classifier *spam.Classifier
	Emails     EmailNotifier
	Webhooks   WebhookDeliverer
	Files      FileUploader
	BaseURL    string
	CronSecret string
}

// NewServer creates the API server and wires its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		limiter:    opts.Limiter,
		apiLimiter: opts.APILimiter,
		quota:      opts.Quota,
		classifier: opts.Classifier,
		emails:     opts.Emails,
		webhooks:   opts.Webhooks,
		files:      opts.Files,
		baseURL:    opts.BaseURL,
		cronSecret: opts.CronSecret,
	}
	s.router = s.setupRoutes()
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// Submissions are small (64KB body cap); keep timeouts tight so a
		// slow client cannot hold a connection open.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
