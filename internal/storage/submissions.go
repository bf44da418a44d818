package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// CreateSubmission persists one accepted submission with its final spam
// verdict. Spam and non-spam both get a row, exactly one per request.
func (s *Storage) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("marshal submission data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions
			(id, form_id, data, ip_address, user_agent, referer,
			 is_spam, spam_score, spam_reason, spam_method, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
	`, sub.ID, sub.FormID, dataJSON, sub.IPAddress, sub.UserAgent, sub.Referer,
		sub.IsSpam, sub.SpamScore, sub.SpamReason, sub.SpamMethod, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// CountMonthlySubmissions returns the authoritative count of non-spam
// submissions across all of the owner's forms since the given instant. This
// seeds the quota counter and serves as its outage fallback.
func (s *Storage) CountMonthlySubmissions(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM submissions sub
		JOIN forms f ON f.id = sub.form_id
		WHERE f.owner_id = $1 AND sub.created_at >= $2 AND sub.is_spam = false
	`, ownerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count monthly submissions: %w", err)
	}
	return count, nil
}

// ListSubmissions returns a page of a form's submissions, newest first,
// plus the total count for pagination.
func (s *Storage) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]domain.Submission, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE form_id = $1`, formID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, data, COALESCE(ip_address,''), COALESCE(user_agent,''),
		       COALESCE(referer,''), is_spam, spam_score, COALESCE(spam_reason,''),
		       spam_method, is_read, created_at
		FROM submissions
		WHERE form_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, formID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		var dataJSON []byte
		if err := rows.Scan(
			&sub.ID, &sub.FormID, &dataJSON, &sub.IPAddress, &sub.UserAgent,
			&sub.Referer, &sub.IsSpam, &sub.SpamScore, &sub.SpamReason,
			&sub.SpamMethod, &sub.IsRead, &sub.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &sub.Data); err != nil {
			sub.Data = map[string]string{}
		}
		out = append(out, sub)
	}
	return out, total, rows.Err()
}

// MarkSubmissionRead flips the only mutable flag on a submission.
func (s *Storage) MarkSubmissionRead(ctx context.Context, formID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET is_read = true WHERE id = $1 AND form_id = $2`, id, formID)
	if err != nil {
		return fmt.Errorf("mark submission read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubmission removes a submission and, via FK cascade, its queue
// entries and file references.
func (s *Storage) DeleteSubmission(ctx context.Context, formID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM submissions WHERE id = $1 AND form_id = $2`, id, formID)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDownloadFile resolves an opaque download token to its file reference.
// Expired and unknown tokens are indistinguishable to the caller.
func (s *Storage) GetDownloadFile(ctx context.Context, token string) (*domain.SubmissionFile, error) {
	f := &domain.SubmissionFile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT sf.id, sf.submission_id, sf.file_name, sf.content_type,
		       sf.size_bytes, sf.storage_key, sf.created_at
		FROM download_tokens dt
		JOIN submission_files sf ON sf.id = dt.file_id
		WHERE dt.token = $1 AND dt.expires_at > NOW()
	`, token).Scan(
		&f.ID, &f.SubmissionID, &f.FileName, &f.ContentType,
		&f.SizeBytes, &f.StorageKey, &f.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve download token: %w", err)
	}
	return f, nil
}
