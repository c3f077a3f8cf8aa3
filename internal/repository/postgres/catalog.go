package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/recipients"
)

// OrderRepo reads ticket orders.
type OrderRepo struct{ db *sql.DB }

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

func (r *OrderRepo) ListForContacts(ctx context.Context, tenantID string, contactIDs []string) ([]domain.Order, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, contact_id, status, total_pence, COALESCE(category,''), COALESCE(venue_id,''),
		       COALESCE(event_type,''), COALESCE(town,''), COALESCE(county,''), placed_at
		FROM orders
		WHERE tenant_id = $1 AND contact_id = ANY($2)
		ORDER BY placed_at
	`, tenantID, pq.Array(contactIDs))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.TenantID, &o.ContactID, &o.Status, &o.TotalPence, &o.Category, &o.VenueID,
			&o.EventType, &o.Town, &o.County, &o.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SegmentRepo serves stored rule sets and the tenant alias tables.
type SegmentRepo struct{ db *sql.DB }

func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func (r *SegmentRepo) GetRules(ctx context.Context, tenantID, segmentID string) ([]byte, error) {
	var rules []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT rules FROM segments WHERE tenant_id = $1 AND id = $2`, tenantID, segmentID).Scan(&rules)
	if err == sql.ErrNoRows {
		return nil, recipients.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment rules: %w", err)
	}
	return rules, nil
}

func (r *SegmentRepo) GetOverrides(ctx context.Context, tenantID string) (segmentation.Overrides, error) {
	ov := segmentation.Overrides{}
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, canonical, alias FROM segment_aliases WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return ov, fmt.Errorf("load aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, canonical, alias string
		if err := rows.Scan(&kind, &canonical, &alias); err != nil {
			return ov, fmt.Errorf("scan alias: %w", err)
		}
		switch kind {
		case "venue":
			if ov.VenueAliases == nil {
				ov.VenueAliases = map[string][]string{}
			}
			ov.VenueAliases[canonical] = append(ov.VenueAliases[canonical], alias)
		case "category":
			if ov.CategoryAliases == nil {
				ov.CategoryAliases = map[string][]string{}
			}
			ov.CategoryAliases[canonical] = append(ov.CategoryAliases[canonical], alias)
		}
	}
	return ov, rows.Err()
}

// TemplateRepo loads email templates.
type TemplateRepo struct{ db *sql.DB }

func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) GetTemplate(ctx context.Context, tenantID, id string) (*domain.EmailTemplate, error) {
	t := &domain.EmailTemplate{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, subject, html, COALESCE(text,'')
		FROM email_templates
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&t.ID, &t.TenantID, &t.Name, &t.Subject, &t.HTML, &t.Text)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrMissingTemplate
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
