package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
)

// EventRepo is the marketing email event log. It is also the history the
// intelligent-send guard reads: DELIVERED rows carry the campaign name and
// show id stamped at dispatch.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, events ...domain.MarketingEmailEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marketing_email_events
			(id, tenant_id, campaign_id, campaign_name, show_id, contact_id, email, type, payload, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		var payload interface{}
		if len(e.Payload) > 0 {
			payload = []byte(e.Payload)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.TenantID, e.CampaignID, e.CampaignName, e.ShowID,
			e.ContactID, domain.NormalizeEmail(e.Email), e.Type, payload, e.CreatedAt); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func (r *EventRepo) CountIntelligentDelivered(ctx context.Context, tenantID, email, prefix string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM marketing_email_events
		WHERE tenant_id = $1 AND email = $2 AND type = $3
		  AND starts_with(campaign_name, $4) AND created_at >= $5
	`, tenantID, domain.NormalizeEmail(email), domain.EventDelivered, prefix, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count intelligent deliveries: %w", err)
	}
	return n, nil
}

func (r *EventRepo) LastIntelligentShowSend(ctx context.Context, tenantID, email, showID, prefix string) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM marketing_email_events
		WHERE tenant_id = $1 AND email = $2 AND type = $3
		  AND show_id = $4 AND starts_with(campaign_name, $5)
	`, tenantID, domain.NormalizeEmail(email), domain.EventDelivered, showID, prefix).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last intelligent show send: %w", err)
	}
	return nullTime(last), nil
}
