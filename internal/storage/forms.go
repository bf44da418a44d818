package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// GetFormByAccessKey resolves the tenant for an incoming submission. The
// owner's plan is joined in so the intake path needs a single query.
// Inactive forms resolve the same as missing ones; callers must not be able
// to distinguish them.
func (s *Storage) GetFormByAccessKey(ctx context.Context, accessKey string) (*domain.Form, error) {
	f := &domain.Form{}
	var routesJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.owner_id, f.name, f.access_key, f.is_active,
		       f.allowed_domains, COALESCE(f.honeypot_field,''), f.ai_spam_filter,
		       f.email_to, COALESCE(f.custom_subject,''), COALESCE(f.email_routes,'[]'),
		       COALESCE(f.webhook_url,''), COALESCE(f.webhook_secret,''),
		       f.auto_response, COALESCE(f.auto_response_message,''),
		       a.plan, f.created_at, f.updated_at
		FROM forms f
		JOIN accounts a ON a.id = f.owner_id
		WHERE f.access_key = $1 AND f.is_active = true
	`, accessKey).Scan(
		&f.ID, &f.OwnerID, &f.Name, &f.AccessKey, &f.IsActive,
		pq.Array(&f.AllowedDomains), &f.HoneypotField, &f.AISpamFilter,
		&f.EmailTo, &f.CustomSubject, &routesJSON,
		&f.WebhookURL, &f.WebhookSecret,
		&f.AutoResponse, &f.AutoResponseMessage,
		&f.OwnerPlan, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get form by access key: %w", err)
	}

	if err := json.Unmarshal(routesJSON, &f.EmailRoutes); err != nil {
		// A corrupt rule set should not reject submissions; routing just
		// falls back to the default recipient.
		f.EmailRoutes = nil
	}
	return f, nil
}
