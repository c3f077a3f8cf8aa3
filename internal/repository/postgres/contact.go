package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
)

// ContactRepo reads contacts and writes their consent and topic
// preferences. It serves the materializer, the automation engine and the
// public preference links.
type ContactRepo struct{ db *sql.DB }

func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactColumns = `
	id, tenant_id, email, COALESCE(first_name,''), COALESCE(last_name,''),
	COALESCE(town,''), COALESCE(county,''), COALESCE(postcode,''),
	consent_status, tags, preferences, created_at, updated_at`

func scanContact(s rowScanner) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := s.Scan(
		&c.ID, &c.TenantID, &c.Email, &c.FirstName, &c.LastName,
		&c.Town, &c.County, &c.Postcode,
		&c.ConsentStatus, pq.Array(&c.Tags), pq.Array(&c.Preferences), &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ContactRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+contactColumns+` FROM contacts WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetContact returns nil, nil when the contact no longer exists.
func (r *ContactRepo) GetContact(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT`+contactColumns+` FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// GetByEmail returns nil, nil when no contact has the address.
func (r *ContactRepo) GetByEmail(ctx context.Context, tenantID, email string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT`+contactColumns+` FROM contacts WHERE tenant_id = $1 AND lower(email) = lower($2)`,
		tenantID, domain.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by email: %w", err)
	}
	return c, nil
}

// SetConsent is a no-op for unknown addresses; suppressions still apply to
// them.
func (r *ContactRepo) SetConsent(ctx context.Context, tenantID, email string, status domain.ConsentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET consent_status = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND lower(email) = lower($3)
	`, status, tenantID, domain.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set consent: %w", err)
	}
	return nil
}

func (r *ContactRepo) SetPreferences(ctx context.Context, tenantID, email string, prefs []string) error {
	if prefs == nil {
		prefs = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET preferences = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND lower(email) = lower($3)
	`, pq.Array(prefs), tenantID, domain.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return nil
}
