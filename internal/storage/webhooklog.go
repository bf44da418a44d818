package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// AppendWebhookLog records one delivery attempt. The log is append-only;
// rows are never updated.
func (s *Storage) AppendWebhookLog(ctx context.Context, l *domain.WebhookLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_logs
			(id, form_id, url, request_body, response_code, response_body,
			 duration_ms, success, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.ID, l.FormID, l.URL, l.RequestBody, l.ResponseCode, l.ResponseBody,
		l.DurationMs, l.Success, l.Error, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("append webhook log: %w", err)
	}
	return nil
}
