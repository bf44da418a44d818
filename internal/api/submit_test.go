package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/quota"
	"github.com/inputhaven/inputhaven/internal/spam"
	"github.com/inputhaven/inputhaven/internal/storage"
)

const testBaseURL = "https://app.inputhaven.example"

type fakeStore struct {
	mu    sync.Mutex
	forms map[string]*domain.Form // keyed by access key
	subs  []*domain.Submission
	files []*domain.SubmissionFile

	accounts   map[string]*storage.Account // keyed by API key
	owns       map[string]string           // form id -> owner id
	readIDs    []string
	deletedIDs []string

	downloadFiles map[string]*domain.SubmissionFile // keyed by token
}

func newFakeStore(forms ...*domain.Form) *fakeStore {
	fs := &fakeStore{
		forms:         map[string]*domain.Form{},
		accounts:      map[string]*storage.Account{},
		owns:          map[string]string{},
		downloadFiles: map[string]*domain.SubmissionFile{},
	}
	for _, f := range forms {
		fs.forms[f.AccessKey] = f
		fs.owns[f.ID] = f.OwnerID
	}
	return fs
}

func (f *fakeStore) GetFormByAccessKey(_ context.Context, accessKey string) (*domain.Form, error) {
	if form, ok := f.forms[accessKey]; ok && form.IsActive {
		return form, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) CreateSubmission(_ context.Context, sub *domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeStore) ListSubmissions(_ context.Context, formID string, _, _ int) ([]domain.Submission, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Submission
	for _, s := range f.subs {
		if s.FormID == formID {
			out = append(out, *s)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) MarkSubmissionRead(_ context.Context, formID, id string) error {
	for _, s := range f.subs {
		if s.ID == id && s.FormID == formID {
			s.IsRead = true
			f.readIDs = append(f.readIDs, id)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) DeleteSubmission(_ context.Context, formID, id string) error {
	for _, s := range f.subs {
		if s.ID == id && s.FormID == formID {
			f.deletedIDs = append(f.deletedIDs, id)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) GetAccountByAPIKey(_ context.Context, apiKey string) (*storage.Account, error) {
	if a, ok := f.accounts[apiKey]; ok {
		return a, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) OwnsForm(_ context.Context, ownerID, formID string) (bool, error) {
	return f.owns[formID] == ownerID, nil
}

func (f *fakeStore) CreateSubmissionFile(_ context.Context, file *domain.SubmissionFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return nil
}

func (f *fakeStore) ListSubmissionFiles(_ context.Context, submissionID string) ([]domain.SubmissionFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SubmissionFile
	for _, file := range f.files {
		if file.SubmissionID == submissionID {
			out = append(out, *file)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateDownloadToken(_ context.Context, _, fileID string, ttl time.Duration) (*domain.DownloadToken, error) {
	for _, file := range f.files {
		if file.ID == fileID {
			tok := &domain.DownloadToken{Token: uuid.New().String(), FileID: fileID, ExpiresAt: time.Now().Add(ttl)}
			f.downloadFiles[tok.Token] = file
			return tok, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetDownloadFile(_ context.Context, token string) (*domain.SubmissionFile, error) {
	if file, ok := f.downloadFiles[token]; ok {
		return file, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) lastSubmission(t *testing.T) *domain.Submission {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.subs, "expected a stored submission")
	return f.subs[len(f.subs)-1]
}

type fakeLimiter struct {
	allowed bool
}

func (l *fakeLimiter) Allow(context.Context, string) (bool, error) { return l.allowed, nil }

type fakeQuota struct {
	err   error
	calls int
}

func (q *fakeQuota) Reserve(context.Context, string, domain.Plan) (*quota.Reservation, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return &quota.Reservation{}, nil
}

type fakeEmails struct {
	mu            sync.Mutex
	dispatched    [][]string
	autoResponses int
	retried       int
	failed        int
}

func (e *fakeEmails) DispatchSubmission(_ context.Context, _ *domain.Form, _ *domain.Submission, recipients []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatched = append(e.dispatched, recipients)
}

func (e *fakeEmails) SendAutoResponse(context.Context, *domain.Form, *domain.Submission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoResponses++
}

func (e *fakeEmails) RetryDue(context.Context) (int, int, error) {
	return e.retried, e.failed, nil
}

func (e *fakeEmails) dispatchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dispatched)
}

type fakeWebhooks struct {
	delivered chan domain.WebhookPayload
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{delivered: make(chan domain.WebhookPayload, 4)}
}

func (w *fakeWebhooks) Deliver(_ context.Context, _, _, _ string, payload domain.WebhookPayload) error {
	w.delivered <- payload
	return nil
}

type testEnv struct {
	store    *fakeStore
	limiter  *fakeLimiter
	quota    *fakeQuota
	emails   *fakeEmails
	webhooks *fakeWebhooks
	server   *Server
}

func newTestEnv(t *testing.T, forms ...*domain.Form) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(forms...),
		limiter:  &fakeLimiter{allowed: true},
		quota:    &fakeQuota{},
		emails:   &fakeEmails{},
		webhooks: newFakeWebhooks(),
	}
	env.server = NewServer(Options{
		Store:      env.store,
		Limiter:    env.limiter,
		APILimiter: &fakeLimiter{allowed: true},
		Quota:      env.quota,
		Classifier: spam.NewClassifier(nil),
		Emails:     env.emails,
		Webhooks:   env.webhooks,
		BaseURL:    testBaseURL,
		CronSecret: "cron-secret",
	})
	return env
}

func activeForm() *domain.Form {
	return &domain.Form{
		ID:             "form-1",
		OwnerID:        "owner-1",
		Name:           "Contact",
		AccessKey:      "key-abc",
		IsActive:       true,
		AllowedDomains: []string{"mysite.com"},
		HoneypotField:  "_gotcha",
		EmailTo:        "owner@acme.test",
		OwnerPlan:      domain.PlanFree,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func formPost(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit",
		strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonPost(t *testing.T, body map[string]any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubmitMissingFormID(t *testing.T) {
	env := newTestEnv(t, activeForm())
	rec := env.do(formPost(url.Values{"name": {"Ada"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "_form_id")
}

func TestSubmitUnknownForm(t *testing.T) {
	env := newTestEnv(t, activeForm())
	rec := env.do(formPost(url.Values{"_form_id": {"nope"}, "name": {"Ada"}}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitInactiveFormIndistinguishable(t *testing.T) {
	inactive := activeForm()
	inactive.IsActive = false
	env := newTestEnv(t, inactive)

	recInactive := env.do(formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}}))
	recMissing := env.do(formPost(url.Values{"_form_id": {"ghost"}, "name": {"Ada"}}))

	assert.Equal(t, http.StatusNotFound, recInactive.Code)
	assert.Equal(t, recMissing.Code, recInactive.Code)
	assert.Equal(t, recMissing.Body.String(), recInactive.Body.String())
}

func TestSubmitAccessKeyAliases(t *testing.T) {
	for _, field := range []string{"_form_id", "_access_key", "access_key", "_accessKey"} {
		t.Run(field, func(t *testing.T) {
			env := newTestEnv(t, activeForm())
			rec := env.do(formPost(url.Values{field: {"key-abc"}, "name": {"Ada"}}))
			assert.Equal(t, http.StatusSeeOther, rec.Code)
		})
	}

	t.Run("X-Form-Id header", func(t *testing.T) {
		env := newTestEnv(t, activeForm())
		req := formPost(url.Values{"name": {"Ada"}})
		req.Header.Set("X-Form-Id", "key-abc")
		rec := env.do(req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, activeForm())
	env.limiter.allowed = false

	rec := env.do(formPost(url.Values{"_form_id": {"key-abc"}}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 0, env.quota.calls, "rate limiting runs before quota")
}

func TestSubmitQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, activeForm())
	env.quota.err = quota.ErrLimitExceeded

	rec := env.do(formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, env.store.subs, "no submission stored past an exhausted quota")
}

type fixedCounter struct {
	count int
}

func (c *fixedCounter) CountMonthlySubmissions(context.Context, string, time.Time) (int, error) {
	return c.count, nil
}

func TestSpamLeavesQuotaCounterNetZero(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	form := activeForm()
	env := newTestEnv(t, form)
	env.server.quota = quota.New(client, &fixedCounter{count: 42})

	key := "submissions:" + form.OwnerID + ":" + time.Now().UTC().Format("2006-01")
	counter := func() string {
		v, err := client.Get(context.Background(), key).Result()
		require.NoError(t, err)
		return v
	}

	// Honeypot: the reservation is taken, then given back.
	rec := env.do(formPost(url.Values{"_form_id": {"key-abc"}, "_gotcha": {"x"}, "name": {"Bot"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "42", counter())

	// Keyword spam: same net-zero outcome through the classifier path.
	rec = env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "message": "buy viagra now"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", counter())

	// A clean submission keeps its slot.
	rec = env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "message": "hello there"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "43", counter())
}

func TestSubmitOriginEnforcement(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		status int
	}{
		{"allowlisted domain", "https://mysite.com", http.StatusSeeOther},
		{"subdomain of allowlisted", "https://app.mysite.com", http.StatusSeeOther},
		{"app origin", testBaseURL, http.StatusSeeOther},
		{"hostile origin", "https://evil.example", http.StatusForbidden},
		{"no origin header", "", http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, activeForm())
			req := formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}})
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := env.do(req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.origin != "" && tt.status != http.StatusForbidden {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestSubmitEmptyAllowlistOnlyAppOrigin(t *testing.T) {
	form := activeForm()
	form.AllowedDomains = nil
	env := newTestEnv(t, form)

	req := formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}})
	req.Header.Set("Origin", "https://mysite.com")
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)

	req = formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}})
	req.Header.Set("Origin", testBaseURL)
	assert.Equal(t, http.StatusSeeOther, env.do(req).Code)
}

func TestSubmitHoneypotSilentAccept(t *testing.T) {
	env := newTestEnv(t, activeForm())

	rec := env.do(formPost(url.Values{
		"_form_id": {"key-abc"},
		"_gotcha":  {"x"},
		"name":     {"Bot"},
	}))

	// Response is indistinguishable from a real acceptance.
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	sub := env.store.lastSubmission(t)
	assert.True(t, sub.IsSpam)
	assert.Equal(t, domain.SpamMethodHoneypot, sub.SpamMethod)
	assert.NotContains(t, sub.Data, "_gotcha", "control fields never reach storage")
	assert.Equal(t, 0, env.emails.dispatchCount(), "spam gets no notifications")
}

func TestSubmitKeywordSpamStoredNotNotified(t *testing.T) {
	env := newTestEnv(t, activeForm())

	req := jsonPost(t, map[string]any{"_form_id": "key-abc", "message": "buy viagra now"})
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, "spam answers like success")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	sub := env.store.lastSubmission(t)
	assert.True(t, sub.IsSpam)
	assert.Equal(t, domain.SpamMethodKeyword, sub.SpamMethod)
	require.NotNil(t, sub.SpamScore)
	assert.Equal(t, 100, *sub.SpamScore)
	assert.Equal(t, 0, env.emails.dispatchCount())
}

func TestSubmitSuccessJSON(t *testing.T) {
	env := newTestEnv(t, activeForm())

	rec := env.do(jsonPost(t, map[string]any{
		"_form_id": "key-abc",
		"name":     "Ada",
		"message":  "I would like a quote",
		"count":    3,
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	sub := env.store.lastSubmission(t)
	assert.Equal(t, sub.ID, resp["submissionId"])
	assert.False(t, sub.IsSpam)
	assert.Equal(t, "3", sub.Data["count"], "non-string JSON values flatten to strings")
	assert.NotContains(t, sub.Data, "_form_id")

	require.Equal(t, 1, env.emails.dispatchCount())
	assert.Equal(t, []string{"owner@acme.test"}, env.emails.dispatched[0])
}

func TestSubmitBrowserRedirectsToSuccessPage(t *testing.T) {
	env := newTestEnv(t, activeForm())
	rec := env.do(formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}}))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, testBaseURL+"/success", rec.Header().Get("Location"))
}

func TestSubmitRedirectValidation(t *testing.T) {
	tests := []struct {
		name         string
		redirect     string
		origin       string
		wantLocation string
	}{
		{"javascript scheme never honored", "javascript:alert(1)", "", testBaseURL + "/success"},
		{"data scheme never honored", "data:text/html,hi", "", testBaseURL + "/success"},
		{"attacker host falls back", "https://evil.example/phish", "", testBaseURL + "/success"},
		{"allowlisted domain honored", "https://mysite.com/thanks", "", "https://mysite.com/thanks"},
		{"app origin honored", testBaseURL + "/done", "", testBaseURL + "/done"},
		{"relative path resolves against app origin", "/thanks", "", testBaseURL + "/thanks"},
		{"protocol-relative not treated as path", "//evil.example/x", "", testBaseURL + "/success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, activeForm())
			values := url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}, "_redirect": {tt.redirect}}
			req := formPost(values)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := env.do(req)

			require.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))

			sub := env.store.lastSubmission(t)
			assert.NotContains(t, sub.Data, "_redirect")
		})
	}
}

func TestSubmitBodyTooLargeJSON(t *testing.T) {
	env := newTestEnv(t, activeForm())

	big := strings.Repeat("x", 70<<10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit",
		strings.NewReader(`{"_form_id":"key-abc","blob":"`+big+`"}`))
	req.Header.Set("Content-Type", "application/json")

	assert.Equal(t, http.StatusRequestEntityTooLarge, env.do(req).Code)
}

func TestSubmitFieldTooLargeForm(t *testing.T) {
	env := newTestEnv(t, activeForm())

	rec := env.do(formPost(url.Values{
		"_form_id": {"key-abc"},
		"blob":     {strings.Repeat("x", 11<<10)},
	}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitMalformedJSON(t *testing.T) {
	env := newTestEnv(t, activeForm())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")

	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestSubmitWebhookForPaidPlan(t *testing.T) {
	form := activeForm()
	form.OwnerPlan = domain.PlanPro
	form.WebhookURL = "https://hooks.example.com/x"
	form.WebhookSecret = "whsec"
	env := newTestEnv(t, form)

	rec := env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "name": "Ada"}))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case payload := <-env.webhooks.delivered:
		assert.Equal(t, "submission.created", payload.Event)
		assert.Equal(t, form.ID, payload.FormID)
		assert.Equal(t, "Ada", payload.Data["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestSubmitWebhookGatedOnFreePlan(t *testing.T) {
	form := activeForm()
	form.WebhookURL = "https://hooks.example.com/x"
	env := newTestEnv(t, form)

	rec := env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "name": "Ada"}))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-env.webhooks.delivered:
		t.Fatal("free plan must not trigger webhooks")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitRoutingForPaidPlan(t *testing.T) {
	form := activeForm()
	form.OwnerPlan = domain.PlanPro
	form.EmailRoutes = []domain.EmailRoute{
		{Field: "dept", Operator: domain.RouteEquals, Value: "sales", EmailTo: "sales@acme.test"},
	}
	env := newTestEnv(t, form)

	rec := env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "dept": "Sales"}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, env.emails.dispatchCount())
	assert.Equal(t, []string{"sales@acme.test"}, env.emails.dispatched[0])
}

func TestSubmitRoutingIgnoredOnFreePlan(t *testing.T) {
	form := activeForm()
	form.EmailRoutes = []domain.EmailRoute{
		{Field: "dept", Operator: domain.RouteEquals, Value: "sales", EmailTo: "sales@acme.test"},
	}
	env := newTestEnv(t, form)

	rec := env.do(jsonPost(t, map[string]any{"_form_id": "key-abc", "dept": "sales"}))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, 1, env.emails.dispatchCount())
	assert.Equal(t, []string{"owner@acme.test"}, env.emails.dispatched[0])
}

func TestSubmitPreflight(t *testing.T) {
	env := newTestEnv(t, activeForm())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/submit", nil)
	req.Header.Set("Origin", testBaseURL)
	rec := env.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testBaseURL, rec.Header().Get("Access-Control-Allow-Origin"))

	// Foreign origins get no approval from the preflight; the allowlist can
	// only be checked once the POST names its form.
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/submit", nil)
	req.Header.Set("Origin", "https://mysite.com")
	rec = env.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWantsJSONDetection(t *testing.T) {
	env := newTestEnv(t, activeForm())

	req := formPost(url.Values{"_form_id": {"key-abc"}, "name": {"Ada"}})
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rec := env.do(req)

	assert.Equal(t, http.StatusOK, rec.Code, "AJAX marker header selects the JSON response")
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "submissionId")
}
