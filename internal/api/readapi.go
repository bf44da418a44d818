package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inputhaven/inputhaven/internal/pkg/httputil"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
	"github.com/inputhaven/inputhaven/internal/storage"
)

const downloadTokenTTL = 15 * time.Minute

type accountContextKey struct{}

// requireAPIKey authenticates read-API requests with a bearer API key,
// rate-limits per key, and verifies the account owns the addressed form.
// Failures are deliberately vague: a caller probing form ids learns nothing
// beyond 401/404.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || key == "" {
			httputil.Error(w, http.StatusUnauthorized, "missing API key")
			return
		}

		if s.apiLimiter != nil {
			if allowed, _ := s.apiLimiter.Allow(r.Context(), key); !allowed {
				httputil.TooManyRequests(w, "too many requests")
				return
			}
		}

		account, err := s.store.GetAccountByAPIKey(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			httputil.Error(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if err != nil {
			httputil.InternalError(w, err)
			return
		}

		formID := chi.URLParam(r, "formID")
		owns, err := s.store.OwnsForm(r.Context(), account.ID, formID)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if !owns {
			httputil.NotFound(w, "form not found")
			return
		}

		ctx := withAccount(r.Context(), account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withAccount(ctx context.Context, a *storage.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, a)
}

func accountFrom(ctx context.Context) *storage.Account {
	a, _ := ctx.Value(accountContextKey{}).(*storage.Account)
	return a
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	subs, total, err := s.store.ListSubmissions(r.Context(), formID, limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	// File references are opt-in; the download-token endpoint needs their ids.
	if r.URL.Query().Get("include") == "files" {
		for i := range subs {
			files, err := s.store.ListSubmissionFiles(r.Context(), subs[i].ID)
			if err != nil {
				httputil.InternalError(w, err)
				return
			}
			subs[i].Files = files
		}
	}

	httputil.OK(w, map[string]any{
		"submissions": subs,
		"total":       total,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	id := chi.URLParam(r, "id")

	err := s.store.MarkSubmissionRead(r.Context(), formID, id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "submission not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"success": true})
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")
	id := chi.URLParam(r, "id")

	err := s.store.DeleteSubmission(r.Context(), formID, id)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "submission not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// exportPageSize bounds a CSV export; beyond this, callers page with the
// JSON API instead.
const exportPageSize = 1000

// handleExportCSV streams a form's submissions as CSV. Column set is the
// sorted union of field names across the exported page; encoding/csv handles
// quoting, so formula-looking or comma-bearing values cannot break rows.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	subs, _, err := s.store.ListSubmissions(r.Context(), formID, exportPageSize, 0)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	fieldSet := map[string]struct{}{}
	for _, sub := range subs {
		for k := range sub.Data {
			fieldSet[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "submissions-"+formID+".csv"))

	cw := csv.NewWriter(w)
	header := append([]string{"id", "created_at", "is_spam", "is_read"}, fields...)
	if err := cw.Write(header); err != nil {
		return
	}
	for _, sub := range subs {
		row := []string{
			sub.ID,
			sub.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(sub.IsSpam),
			strconv.FormatBool(sub.IsRead),
		}
		for _, f := range fields {
			row = append(row, sub.Data[f])
		}
		if err := cw.Write(row); err != nil {
			return
		}
	}
	cw.Flush()
}

// handleCreateDownloadToken mints an expiring token for an uploaded file the
// caller's account owns.
func (s *Server) handleCreateDownloadToken(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r.Context())
	if account == nil {
		httputil.Error(w, http.StatusUnauthorized, "missing API key")
		return
	}
	fileID := chi.URLParam(r, "fileID")

	token, err := s.store.CreateDownloadToken(r.Context(), account.ID, fileID, downloadTokenTTL)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "file not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"token":      token.Token,
		"url":        "/api/v1/download/" + token.Token,
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleDownload resolves a download token and redirects to a presigned
// object-store URL. Expired and unknown tokens are indistinguishable.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		httputil.NotFound(w, "not found")
		return
	}
	token := chi.URLParam(r, "token")

	file, err := s.store.GetDownloadFile(r.Context(), token)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.NotFound(w, "not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	signed, err := s.files.PresignDownload(r.Context(), file.StorageKey, file.FileName, downloadTokenTTL)
	if err != nil {
		logger.Error("presign failed", "file_id", file.ID, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}

	http.Redirect(w, r, signed, http.StatusFound)
}
