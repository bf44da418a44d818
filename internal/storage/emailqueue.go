package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// CreateEmailQueueEntry records one pending notification delivery, one entry
// per (submission, recipient) pair.
func (s *Storage) CreateEmailQueueEntry(ctx context.Context, e *domain.EmailQueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = domain.EmailPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_queue
			(id, submission_id, recipient, subject, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, e.ID, e.SubmissionID, e.To, e.Subject, e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email queue entry: %w", err)
	}
	return nil
}

// MarkEmailSent transitions an entry to its SENT terminal state.
func (s *Storage) MarkEmailSent(ctx context.Context, id, providerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_queue
		SET status = $2, provider_id = $3, sent_at = NOW(),
		    attempts = attempts + 1, next_retry_at = NULL
		WHERE id = $1
	`, id, domain.EmailSent, providerID)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return nil
}

// MarkEmailRetry keeps an entry PENDING with an incremented attempt count and
// a scheduled next retry.
func (s *Storage) MarkEmailRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_queue
		SET status = $2, attempts = attempts + 1, next_retry_at = $3, last_error = $4
		WHERE id = $1
	`, id, domain.EmailPending, nextRetryAt, lastErr)
	if err != nil {
		return fmt.Errorf("mark email retry: %w", err)
	}
	return nil
}

// MarkEmailFailed transitions an entry to its FAILED terminal state after
// the attempt cap is reached.
func (s *Storage) MarkEmailFailed(ctx context.Context, id, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_queue
		SET status = $2, attempts = attempts + 1, next_retry_at = NULL, last_error = $3
		WHERE id = $1
	`, id, domain.EmailFailed, lastErr)
	if err != nil {
		return fmt.Errorf("mark email failed: %w", err)
	}
	return nil
}

// RetryItem is one due queue entry joined with the context needed to
// re-render and re-send its notification.
type RetryItem struct {
	Entry          domain.EmailQueueEntry
	FormName       string
	SubmissionData map[string]string
	SubmittedAt    time.Time
}

// DueEmailEntries returns pending entries eligible for another attempt:
// under the attempt cap and with no scheduled retry or one that has come due.
func (s *Storage) DueEmailEntries(ctx context.Context, now time.Time, maxAttempts, limit int) ([]RetryItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.id, eq.submission_id, eq.recipient, eq.subject, eq.status,
		       eq.attempts, eq.next_retry_at, COALESCE(eq.last_error,''), eq.created_at,
		       f.name, sub.data, sub.created_at
		FROM email_queue eq
		JOIN submissions sub ON sub.id = eq.submission_id
		JOIN forms f ON f.id = sub.form_id
		WHERE eq.status = $1 AND eq.attempts < $2
		  AND (eq.next_retry_at IS NULL OR eq.next_retry_at <= $3)
		ORDER BY eq.created_at
		LIMIT $4
	`, domain.EmailPending, maxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due emails: %w", err)
	}
	defer rows.Close()

	var out []RetryItem
	for rows.Next() {
		var item RetryItem
		var dataJSON []byte
		if err := rows.Scan(
			&item.Entry.ID, &item.Entry.SubmissionID, &item.Entry.To,
			&item.Entry.Subject, &item.Entry.Status, &item.Entry.Attempts,
			&item.Entry.NextRetryAt, &item.Entry.LastError, &item.Entry.CreatedAt,
			&item.FormName, &dataJSON, &item.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan due email: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &item.SubmissionData); err != nil {
			item.SubmissionData = map[string]string{}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
