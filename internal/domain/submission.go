package domain

import "time"

// SpamMethod identifies which classifier stage produced a spam verdict.
type SpamMethod string

const (
	SpamMethodNone     SpamMethod = "none"
	SpamMethodHoneypot SpamMethod = "honeypot"
	SpamMethodKeyword  SpamMethod = "keyword"
	SpamMethodAI       SpamMethod = "ai"
)

// Submission is one accepted form post. It belongs to exactly one form and
// holds the raw field-value mapping as opaque data; no schema is enforced
// beyond size and count bounds at ingestion.
//
// Spam submissions are stored too (for auditability), they just never count
// toward the owner's monthly quota. A submission is never mutated after
// creation except for IsRead and deletion.
type Submission struct {
	ID     string `json:"id" db:"id"`
	FormID string `json:"form_id" db:"form_id"`

	Data map[string]string `json:"data" db:"data"`

	IPAddress string `json:"ip_address" db:"ip_address"`
	UserAgent string `json:"user_agent" db:"user_agent"`
	Referer   string `json:"referer" db:"referer"`

	IsSpam     bool       `json:"is_spam" db:"is_spam"`
	SpamScore  *int       `json:"spam_score" db:"spam_score"`
	SpamReason string     `json:"spam_reason" db:"spam_reason"`
	SpamMethod SpamMethod `json:"spam_method" db:"spam_method"`

	IsRead bool `json:"is_read" db:"is_read"`

	Files []SubmissionFile `json:"files,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SubmissionFile is a reference to an uploaded file attached to a submission.
// Storage mechanics live behind the download-token endpoint; the intake path
// only records the reference.
type SubmissionFile struct {
	ID           string    `json:"id" db:"id"`
	SubmissionID string    `json:"submission_id" db:"submission_id"`
	FileName     string    `json:"file_name" db:"file_name"`
	ContentType  string    `json:"content_type" db:"content_type"`
	SizeBytes    int64     `json:"size_bytes" db:"size_bytes"`
	StorageKey   string    `json:"-" db:"storage_key"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DownloadToken resolves an opaque token to a stored file for a limited time.
type DownloadToken struct {
	Token     string    `json:"token" db:"token"`
	FileID    string    `json:"file_id" db:"file_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}
