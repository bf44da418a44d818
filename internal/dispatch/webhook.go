package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
)

// WebhookLogStore records delivery attempts for audit.
type WebhookLogStore interface {
	AppendWebhookLog(ctx context.Context, l *domain.WebhookLog) error
}

// WebhookDispatcher delivers signed submission events to tenant-configured
// URLs. Retries are few and short (this runs inside the dispatch call, not
// in an out-of-band sweep like email) and every attempt is logged whether
// it succeeds or not.
type WebhookDispatcher struct {
	store  WebhookLogStore
	client *http.Client

	// retryDelays[i] is the wait before attempt i. Attempt 0 is immediate.
	retryDelays []time.Duration

	// validateURL guards every outbound target. Tests swap in a relaxed
	// checker so deliveries can reach local listeners.
	validateURL func(string) error
}

const webhookAttemptTimeout = 10 * time.Second

// NewWebhookDispatcher creates a dispatcher with the default retry schedule
// (immediate, 1s, 5s).
func NewWebhookDispatcher(store WebhookLogStore) *WebhookDispatcher {
	return &WebhookDispatcher{
		store:       store,
		client:      &http.Client{Timeout: webhookAttemptTimeout},
		retryDelays: []time.Duration{0, time.Second, 5 * time.Second},
		validateURL: ValidateWebhookURL,
	}
}

// ValidateWebhookURL rejects targets the dispatcher must never call: non-HTTP
// schemes and addresses that resolve into private or loopback ranges (SSRF).
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("webhook URL resolves to a private address")
	}
	ips, err := net.LookupIP(host)
	if err == nil {
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return fmt.Errorf("webhook URL resolves to a private address")
			}
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Deliver POSTs the payload to the webhook URL with an HMAC signature,
// retrying per the schedule. Callers run this in a goroutine; it must never
// block the submission response path.
func (d *WebhookDispatcher) Deliver(ctx context.Context, formID, webhookURL, secret string, payload domain.WebhookPayload) error {
	if err := d.validateURL(webhookURL); err != nil {
		logger.Warn("webhook target rejected", "form_id", formID, "error", err.Error())
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for attempt := 0; attempt < len(d.retryDelays); attempt++ {
		if delay := d.retryDelays[attempt]; delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		code, respBody, duration, attemptErr := d.attempt(ctx, webhookURL, secret, body)

		entry := &domain.WebhookLog{
			FormID:       formID,
			URL:          webhookURL,
			RequestBody:  string(body),
			ResponseBody: respBody,
			DurationMs:   duration.Milliseconds(),
			Success:      attemptErr == nil && code >= 200 && code < 300,
		}
		if code != 0 {
			entry.ResponseCode = &code
		}
		if attemptErr != nil {
			entry.Error = attemptErr.Error()
		}
		if logErr := d.store.AppendWebhookLog(ctx, entry); logErr != nil {
			logger.Error("webhook log append failed", "form_id", formID, "error", logErr.Error())
		}

		if entry.Success {
			logger.Info("webhook delivered",
				"form_id", formID, "attempt", attempt+1, "status", code)
			return nil
		}

		logger.Warn("webhook delivery failed",
			"form_id", formID, "attempt", attempt+1, "status", code,
			"error", entry.Error)
	}

	return fmt.Errorf("webhook delivery to %s exhausted %d attempts", webhookURL, len(d.retryDelays))
}

func (d *WebhookDispatcher) attempt(ctx context.Context, webhookURL, secret string, body []byte) (code int, respBody string, duration time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "InputHaven-Webhook/1.0")
	if secret != "" {
		req.Header.Set("X-InputHaven-Signature", SignPayload(string(body), secret))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	duration = time.Since(start)
	if err != nil {
		return 0, "", duration, err
	}
	defer resp.Body.Close()

	// Cap the stored response body; it goes into an audit row, not a pipe.
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(b), duration, nil
}
