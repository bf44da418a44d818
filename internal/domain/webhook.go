package domain

import "time"

// WebhookLog is an append-only audit record of one webhook delivery attempt.
// Never mutated.
type WebhookLog struct {
	ID           string    `json:"id" db:"id"`
	FormID       string    `json:"form_id" db:"form_id"`
	URL          string    `json:"url" db:"url"`
	RequestBody  string    `json:"request_body" db:"request_body"`
	ResponseCode *int      `json:"response_code" db:"response_code"`
	ResponseBody string    `json:"response_body" db:"response_body"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
	Success      bool      `json:"success" db:"success"`
	Error        string    `json:"error" db:"error"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// WebhookPayload is the body POSTed to a tenant's webhook URL.
type WebhookPayload struct {
	Event        string            `json:"event"`
	FormID       string            `json:"formId"`
	SubmissionID string            `json:"submissionId"`
	Data         map[string]string `json:"data"`
	CreatedAt    string            `json:"createdAt"`
}
