package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// CreateSubmissionFile records an uploaded file's reference. The bytes live
// in object storage under StorageKey; only the reference is relational.
func (s *Storage) CreateSubmissionFile(ctx context.Context, f *domain.SubmissionFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_files
			(id, submission_id, file_name, content_type, size_bytes, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.SubmissionID, f.FileName, f.ContentType, f.SizeBytes, f.StorageKey, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create submission file: %w", err)
	}
	return nil
}

// ListSubmissionFiles returns the file references attached to a submission.
func (s *Storage) ListSubmissionFiles(ctx context.Context, submissionID string) ([]domain.SubmissionFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, file_name, content_type, size_bytes, storage_key, created_at
		FROM submission_files
		WHERE submission_id = $1
		ORDER BY created_at
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission files: %w", err)
	}
	defer rows.Close()

	var out []domain.SubmissionFile
	for rows.Next() {
		var f domain.SubmissionFile
		if err := rows.Scan(&f.ID, &f.SubmissionID, &f.FileName, &f.ContentType,
			&f.SizeBytes, &f.StorageKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateDownloadToken mints an opaque, expiring token for a file the account
// owns. The ownership join is part of the insert so a token can never be
// minted across tenants; zero rows means not-owned-or-missing, reported as
// ErrNotFound without distinguishing.
func (s *Storage) CreateDownloadToken(ctx context.Context, ownerID, fileID string, ttl time.Duration) (*domain.DownloadToken, error) {
	token := &domain.DownloadToken{
		Token:     uuid.New().String(),
		FileID:    fileID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	var inserted string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_tokens (token, file_id, expires_at)
		SELECT $1, sf.id, $2
		FROM submission_files sf
		JOIN submissions sub ON sub.id = sf.submission_id
		JOIN forms f ON f.id = sub.form_id
		WHERE sf.id = $3 AND f.owner_id = $4
		RETURNING token
	`, token.Token, token.ExpiresAt, fileID, ownerID).Scan(&inserted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create download token: %w", err)
	}
	return token, nil
}
