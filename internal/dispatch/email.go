// Package dispatch fans out accepted submissions: notification emails with a
// durable retry queue, auto-responses, and signed webhooks. Nothing in this
// package can fail a submission: the submission is already persisted by the
// time dispatch runs, and delivery failures land in the queue or the audit
// log instead of the response.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
	"github.com/inputhaven/inputhaven/internal/storage"
)

// EmailQueueStore is the persistence contract for the retry queue.
type EmailQueueStore interface {
	CreateEmailQueueEntry(ctx context.Context, e *domain.EmailQueueEntry) error
	MarkEmailSent(ctx context.Context, id, providerID string) error
	MarkEmailRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	MarkEmailFailed(ctx context.Context, id, lastErr string) error
	DueEmailEntries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]storage.RetryItem, error)
}

// MaxEmailAttempts caps delivery attempts per queue entry; after this the
// entry goes FAILED permanently.
const MaxEmailAttempts = 3

// backoffTiers are the fixed delays before each retry: short, medium, long.
var backoffTiers = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

// NextRetryAt returns when an entry that has made the given number of
// attempts becomes eligible again.
func NextRetryAt(attempts int) time.Time {
	tier := attempts
	if tier >= len(backoffTiers) {
		tier = len(backoffTiers) - 1
	}
	if tier < 0 {
		tier = 0
	}
	return time.Now().Add(backoffTiers[tier])
}

// EmailDispatcher owns notification delivery: one queue entry per recipient,
// a synchronous first attempt, and an out-of-band sweep for retries. This
// decouples submission-request latency from email-provider outages.
type EmailDispatcher struct {
	store     EmailQueueStore
	sender    EmailSender
	templates *Templates
}

// NewEmailDispatcher wires the queue store, the provider, and the renderer.
func NewEmailDispatcher(store EmailQueueStore, sender EmailSender, templates *Templates) *EmailDispatcher {
	return &EmailDispatcher{store: store, sender: sender, templates: templates}
}

// DispatchSubmission enqueues and attempts one notification per recipient.
// Send failures leave the entry PENDING with a scheduled retry; they are
// never reported to the submitter.
func (d *EmailDispatcher) DispatchSubmission(ctx context.Context, form *domain.Form, sub *domain.Submission, recipients []string) {
	subject := form.CustomSubject
	if subject == "" {
		subject = fmt.Sprintf("New submission from %s", form.Name)
	}

	meta := fmt.Sprintf("%s from %s", sub.CreatedAt.Format(time.RFC3339), orUnknown(sub.Referer))
	body, err := d.templates.RenderNotification(form.Name, sub.Data, meta)
	if err != nil {
		logger.Error("notification render failed", "form_id", form.ID, "error", err.Error())
		return
	}

	for _, recipient := range recipients {
		entry := &domain.EmailQueueEntry{
			SubmissionID: sub.ID,
			To:           recipient,
			Subject:      subject,
		}
		if err := d.store.CreateEmailQueueEntry(ctx, entry); err != nil {
			logger.Error("email enqueue failed", "form_id", form.ID, "to", recipient, "error", err.Error())
			continue
		}

		providerID, err := d.sender.Send(ctx, recipient, subject, body)
		if err != nil {
			if markErr := d.store.MarkEmailRetry(ctx, entry.ID, NextRetryAt(0), err.Error()); markErr != nil {
				logger.Error("email retry schedule failed", "email_id", entry.ID, "error", markErr.Error())
			}
			logger.Warn("email send failed, queued for retry",
				"email_id", entry.ID, "to", recipient, "error", err.Error())
			continue
		}

		if err := d.store.MarkEmailSent(ctx, entry.ID, providerID); err != nil {
			logger.Error("email sent-mark failed", "email_id", entry.ID, "error", err.Error())
		}
	}
}

// SendAutoResponse sends the tenant's configured reply to the submitter,
// best effort with no queue entry: a lost auto-response is not worth a retry
// pipeline.
func (d *EmailDispatcher) SendAutoResponse(ctx context.Context, form *domain.Form, sub *domain.Submission) {
	if !form.AutoResponse || form.AutoResponseMessage == "" {
		return
	}
	submitter := strings.TrimSpace(sub.Data["email"])
	if submitter == "" || !strings.Contains(submitter, "@") {
		return
	}

	body, err := d.templates.RenderAutoResponse(form.AutoResponseMessage, sub.Data)
	if err != nil {
		logger.Warn("auto-response render failed", "form_id", form.ID, "error", err.Error())
		return
	}

	subject := fmt.Sprintf("Re: %s", form.Name)
	if _, err := d.sender.Send(ctx, submitter, subject, body); err != nil {
		logger.Warn("auto-response send failed", "form_id", form.ID, "to", submitter, "error", err.Error())
	}
}

// RetryDue re-attempts every pending entry whose retry time has come,
// marking entries FAILED once they exhaust the attempt cap. Triggered
// externally (cron endpoint or ticker), never from the request path.
func (d *EmailDispatcher) RetryDue(ctx context.Context) (retried, failed int, err error) {
	items, err := d.store.DueEmailEntries(ctx, time.Now(), MaxEmailAttempts, 50)
	if err != nil {
		return 0, 0, fmt.Errorf("query due emails: %w", err)
	}

	for _, item := range items {
		meta := item.SubmittedAt.Format(time.RFC3339)
		body, renderErr := d.templates.RenderNotification(item.FormName, item.SubmissionData, meta)
		if renderErr != nil {
			// Unrenderable entries would fail forever; retire them now.
			d.markFailure(ctx, item, renderErr)
			failed++
			continue
		}

		providerID, sendErr := d.sender.Send(ctx, item.Entry.To, item.Entry.Subject, body)
		if sendErr != nil {
			d.markFailure(ctx, item, sendErr)
			failed++
			continue
		}

		if markErr := d.store.MarkEmailSent(ctx, item.Entry.ID, providerID); markErr != nil {
			logger.Error("email sent-mark failed", "email_id", item.Entry.ID, "error", markErr.Error())
		}
		retried++
		logger.Info("email retry succeeded", "email_id", item.Entry.ID, "to", item.Entry.To)
	}

	return retried, failed, nil
}

func (d *EmailDispatcher) markFailure(ctx context.Context, item storage.RetryItem, cause error) {
	newAttempts := item.Entry.Attempts + 1
	if newAttempts >= MaxEmailAttempts {
		if err := d.store.MarkEmailFailed(ctx, item.Entry.ID, cause.Error()); err != nil {
			logger.Error("email failed-mark failed", "email_id", item.Entry.ID, "error", err.Error())
		}
		logger.Warn("email permanently failed",
			"email_id", item.Entry.ID, "to", item.Entry.To, "attempts", newAttempts)
		return
	}
	if err := d.store.MarkEmailRetry(ctx, item.Entry.ID, NextRetryAt(newAttempts-1), cause.Error()); err != nil {
		logger.Error("email retry schedule failed", "email_id", item.Entry.ID, "error", err.Error())
	}
	logger.Warn("email retry failed",
		"email_id", item.Entry.ID, "to", item.Entry.To, "attempts", newAttempts)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
