package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// originAllowed decides whether a browser Origin may submit to the form. An
// empty allowlist means only the service's own canonical origin; otherwise
// any allowlisted domain (including subdomains) qualifies. This backs both
// the CORS response headers and the server-side 403; the header alone only
// protects well-behaved browsers.
func (s *Server) originAllowed(form *domain.Form, origin string) bool {
	if sameOrigin(origin, s.baseURL) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return form.MatchesDomain(u.Hostname())
}

// setSubmitCORSHeaders reflects a validated origin back on the response.
func setSubmitCORSHeaders(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-Form-Id, X-Access-Key, X-Requested-With")
	h.Add("Vary", "Origin")
}

// handleSubmitPreflight answers CORS preflights for the submission endpoint.
// Preflights carry no body, so the form (and its allowlist) is unknown here;
// only the app's own origin gets approval. Plain HTML form posts never
// preflight, and the POST handler re-checks the origin either way.
func (s *Server) handleSubmitPreflight(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); sameOrigin(origin, s.baseURL) {
		setSubmitCORSHeaders(w, origin)
		w.Header().Set("Access-Control-Max-Age", "300")
	}
	w.WriteHeader(http.StatusNoContent)
}

// sameOrigin compares scheme+host+port of two origin strings.
func sameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) &&
		strings.EqualFold(ua.Host, ub.Host) &&
		ua.Scheme != "" && ua.Host != ""
}
