package domain

import "time"

// EmailStatus enumerates the delivery states of a queued notification email.
//
// Transitions: PENDING → SENT (terminal), PENDING → FAILED (terminal), or
// PENDING → PENDING with an incremented attempt count awaiting the next
// retry. Attempts are monotonically increasing and capped.
type EmailStatus string

const (
	EmailPending EmailStatus = "PENDING"
	EmailSent    EmailStatus = "SENT"
	EmailFailed  EmailStatus = "FAILED"
)

// EmailQueueEntry is one notification delivery: one entry per
// (submission, recipient) pair.
type EmailQueueEntry struct {
	ID           string      `json:"id" db:"id"`
	SubmissionID string      `json:"submission_id" db:"submission_id"`
	To           string      `json:"to" db:"recipient"`
	Subject      string      `json:"subject" db:"subject"`
	Status       EmailStatus `json:"status" db:"status"`
	Attempts     int         `json:"attempts" db:"attempts"`
	NextRetryAt  *time.Time  `json:"next_retry_at" db:"next_retry_at"`
	LastError    string      `json:"last_error" db:"last_error"`
	ProviderID   string      `json:"provider_id" db:"provider_id"`
	SentAt       *time.Time  `json:"sent_at" db:"sent_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
