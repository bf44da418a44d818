package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// Account is the read-API caller's identity, resolved from its API key.
type Account struct {
	ID   string
	Plan domain.Plan
}

// GetAccountByAPIKey authenticates a read-API request. Unknown keys return
// ErrNotFound; the handler maps that to a generic 401.
func (s *Storage) GetAccountByAPIKey(ctx context.Context, apiKey string) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, plan FROM accounts WHERE api_key = $1`, apiKey,
	).Scan(&a.ID, &a.Plan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by api key: %w", err)
	}
	return a, nil
}

// OwnsForm reports whether the form belongs to the account. Every read-API
// operation is scoped through this check so one tenant can never touch
// another tenant's submissions.
func (s *Storage) OwnsForm(ctx context.Context, ownerID, formID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM forms WHERE id = $1 AND owner_id = $2)`,
		formID, ownerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check form ownership: %w", err)
	}
	return exists, nil
}
