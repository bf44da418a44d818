package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/pkg/httputil"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
	"github.com/inputhaven/inputhaven/internal/quota"
	"github.com/inputhaven/inputhaven/internal/routing"
	"github.com/inputhaven/inputhaven/internal/spam"
	"github.com/inputhaven/inputhaven/internal/storage"
)

// accessKeyFields are the reserved field names that carry the form's access
// key, in lookup order. The later ones are legacy aliases still sent by old
// embed snippets.
var accessKeyFields = []string{"_form_id", "_access_key", "access_key", "_accessKey"}

const redirectField = "_redirect"

// handleSubmit is the intake pipeline. Stage order is deliberate: rate limit
// before any parsing work, tenant and origin before quota, quota before the
// potentially costly spam classifier, and a rollback path for verdicts that
// arrive after the reservation.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	allowed, _ := s.limiter.Allow(ctx, ip)
	if !allowed {
		httputil.TooManyRequests(w, "too many requests")
		return
	}

	fields, uploads, serr := parseSubmission(w, r)
	if serr != nil {
		httputil.Error(w, serr.status, serr.message)
		return
	}

	accessKey := extractAccessKey(fields, r)
	if accessKey == "" {
		httputil.BadRequest(w, "missing form id: include a _form_id field or X-Form-Id header")
		return
	}

	form, err := s.store.GetFormByAccessKey(ctx, accessKey)
	if errors.Is(err, storage.ErrNotFound) {
		// Inactive and nonexistent forms answer identically.
		httputil.NotFound(w, "form not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" {
		if !s.originAllowed(form, origin) {
			logger.Warn("submission origin rejected",
				"request_id", RequestID(ctx), "form_id", form.ID, "origin", origin)
			httputil.Error(w, http.StatusForbidden, "origin not allowed")
			return
		}
		setSubmitCORSHeaders(w, origin)
	}

	reservation, err := s.quota.Reserve(ctx, form.OwnerID, form.OwnerPlan)
	if errors.Is(err, quota.ErrLimitExceeded) {
		httputil.TooManyRequests(w, "monthly submission limit reached")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	redirectTarget := fields[redirectField]
	sub := &domain.Submission{
		FormID:    form.ID,
		Data:      sanitizeFields(fields, form.HoneypotField),
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}

	// Honeypot runs on the raw payload and bypasses the classifier: store as
	// spam, give back the quota slot, and answer exactly like a success so
	// bots learn nothing.
	if spam.CheckHoneypot(fields, form.HoneypotField) {
		score := 100
		sub.IsSpam = true
		sub.SpamScore = &score
		sub.SpamReason = "Honeypot field filled"
		sub.SpamMethod = domain.SpamMethodHoneypot
		if err := s.store.CreateSubmission(ctx, sub); err != nil {
			logger.Error("spam submission store failed",
				"request_id", RequestID(ctx), "form_id", form.ID, "error", err.Error())
		}
		reservation.Rollback(ctx)
		s.respondSuccess(w, r, form, sub, redirectTarget)
		return
	}

	useAI := form.AISpamFilter && form.OwnerPlan.Config().AISpamFilter
	verdict := s.classifier.Classify(ctx, sub.Data, useAI)
	sub.IsSpam = verdict.IsSpam
	sub.SpamMethod = verdict.Method
	sub.SpamReason = verdict.Reason
	if verdict.Method != domain.SpamMethodNone {
		score := verdict.Score
		sub.SpamScore = &score
	}

	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		reservation.Rollback(ctx)
		httputil.InternalError(w, err)
		return
	}

	if sub.IsSpam {
		// Spam never counts toward quota; the verdict arrived after the
		// reservation, so compensate.
		reservation.Rollback(ctx)
		logger.Info("submission flagged as spam",
			"request_id", RequestID(ctx), "form_id", form.ID,
			"submission_id", sub.ID, "method", string(sub.SpamMethod))
		s.respondSuccess(w, r, form, sub, redirectTarget)
		return
	}

	if len(uploads) > 0 && s.files != nil && form.OwnerPlan.Config().FileUploads {
		s.storeUploads(ctx, sub, uploads)
	}

	recipients := []string{form.EmailTo}
	if form.OwnerPlan.Config().EmailRouting && len(form.EmailRoutes) > 0 {
		recipients = routing.Evaluate(sub.Data, form.EmailRoutes, form.EmailTo)
	}
	s.emails.DispatchSubmission(ctx, form, sub, recipients)
	s.emails.SendAutoResponse(ctx, form, sub)

	if form.WebhookURL != "" && form.OwnerPlan.Config().Webhooks {
		payload := domain.WebhookPayload{
			Event:        "submission.created",
			FormID:       form.ID,
			SubmissionID: sub.ID,
			Data:         sub.Data,
			CreatedAt:    sub.CreatedAt.UTC().Format(time.RFC3339),
		}
		// Fire and forget: webhook retries span seconds and must not hold
		// the response. Detached context because the request context is
		// canceled as soon as the response is written.
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = s.webhooks.Deliver(wctx, form.ID, form.WebhookURL, form.WebhookSecret, payload)
		}()
	}

	logger.Info("submission accepted",
		"request_id", RequestID(ctx), "form_id", form.ID, "submission_id", sub.ID, "ip", ip)
	s.respondSuccess(w, r, form, sub, redirectTarget)
}

func extractAccessKey(fields map[string]string, r *http.Request) string {
	for _, name := range accessKeyFields {
		if v := strings.TrimSpace(fields[name]); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Form-Id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-Access-Key"))
}

// sanitizeFields strips protocol-control fields so they never reach storage,
// classification, or notifications.
func sanitizeFields(fields map[string]string, honeypotField string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, name := range accessKeyFields {
		delete(out, name)
	}
	delete(out, redirectField)
	if honeypotField != "" {
		delete(out, honeypotField)
	}
	return out
}

func (s *Server) storeUploads(ctx context.Context, sub *domain.Submission, uploads []upload) {
	for _, up := range uploads {
		key := fmt.Sprintf("uploads/%s/%s/%s", sub.FormID, sub.ID, up.FileName)
		if err := s.files.Upload(ctx, key, up.ContentType, bytes.NewReader(up.Data)); err != nil {
			logger.Error("file upload failed",
				"request_id", RequestID(ctx), "submission_id", sub.ID, "error", err.Error())
			continue
		}
		f := &domain.SubmissionFile{
			SubmissionID: sub.ID,
			FileName:     up.FileName,
			ContentType:  up.ContentType,
			SizeBytes:    int64(len(up.Data)),
			StorageKey:   key,
		}
		if err := s.store.CreateSubmissionFile(ctx, f); err != nil {
			logger.Error("file reference store failed",
				"request_id", RequestID(ctx), "submission_id", sub.ID, "error", err.Error())
		}
	}
}

// respondSuccess shapes the acceptance response: validated redirect first,
// then JSON for AJAX-looking callers, then the generic success page. Spam and
// non-spam take the same path.
func (s *Server) respondSuccess(w http.ResponseWriter, r *http.Request, form *domain.Form, sub *domain.Submission, redirectTarget string) {
	if redirectTarget != "" {
		if target, ok := s.validateRedirect(redirectTarget, form, r.Header.Get("Origin")); ok {
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		logger.Warn("redirect target rejected",
			"request_id", RequestID(r.Context()), "form_id", form.ID)
	}

	if wantsJSON(r) {
		httputil.OK(w, map[string]any{"success": true, "submissionId": sub.ID})
		return
	}

	http.Redirect(w, r, strings.TrimRight(s.baseURL, "/")+"/success", http.StatusSeeOther)
}

// validateRedirect admits only http/https targets pointing at the app
// origin, the request's own validated origin, or an allowlisted domain.
// Anything else (javascript:, data:, attacker hosts) falls back to the
// default response rather than erroring.
func (s *Server) validateRedirect(raw string, form *domain.Form, origin string) (string, bool) {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return strings.TrimRight(s.baseURL, "/") + raw, true
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}

	if sameOrigin(u.Scheme+"://"+u.Host, s.baseURL) {
		return raw, true
	}
	if origin != "" && sameOrigin(u.Scheme+"://"+u.Host, origin) {
		return raw, true
	}
	if form.MatchesDomain(host) {
		return raw, true
	}
	return "", false
}

// wantsJSON reports whether the caller expects a machine-readable response
// instead of a browser redirect.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}
