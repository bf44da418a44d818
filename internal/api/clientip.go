package api

import (
	"net"
	"net/http"
	"strings"
)

// clientIP resolves the submitting client's address. Priority order matters:
// True-Client-IP is injected by the edge and cannot be set by the client
// through it, X-Real-IP comes from our own proxy, and X-Forwarded-For is the
// weakest since clients can prepend to it. RemoteAddr is the last resort for
// direct connections.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("True-Client-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
