package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, tenant_id, name, template_id, segment_id, rules_override, show_id, status,
	scheduled_at, created_by_user_id, from_name, from_email, COALESCE(reply_to,''),
	COALESCE(failure_reason,''), materialized, total_recipients, sent_count, failed_count,
	started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var segmentID, showID sql.NullString
	var scheduledAt, startedAt, completedAt sql.NullTime
	err := s.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.TemplateID, &segmentID, &c.RulesOverride, &showID, &c.Status,
		&scheduledAt, &c.CreatedByUserID, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.FailureReason, &c.Materialized, &c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&startedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SegmentID = nullString(segmentID)
	c.ShowID = nullString(showID)
	c.ScheduledAt = nullTime(scheduledAt)
	c.StartedAt = nullTime(startedAt)
	c.CompletedAt = nullTime(completedAt)
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT`+campaignColumns+` FROM campaigns WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	out, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, tenant_id, name, template_id, segment_id, rules_override, show_id, status,
			 scheduled_at, created_by_user_id, from_name, from_email, reply_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, c.ID, c.TenantID, c.Name, c.TemplateID, c.SegmentID, c.RulesOverride, c.ShowID, c.Status,
		c.ScheduledAt, c.CreatedByUserID, c.FromName, c.FromEmail, c.ReplyTo)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	out, err := r.query(ctx, `SELECT`+campaignColumns+`
		FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`, domain.CampaignScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) ListSending(ctx context.Context, limit int) ([]domain.Campaign, error) {
	out, err := r.query(ctx, `SELECT`+campaignColumns+`
		FROM campaigns
		WHERE status = $1
		ORDER BY started_at ASC NULLS FIRST
		LIMIT $2`, domain.CampaignSending, limit)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}
	return out, nil
}

// CompareAndSetStatus is a single conditional UPDATE; the WHERE on the
// current status is what makes concurrent claims safe.
func (r *CampaignRepo) CompareAndSetStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u campaign.StatusUpdate) (bool, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sets := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{to, at}
	idx := 3
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	switch to {
	case domain.CampaignScheduled:
		sendAt := u.ScheduledAt
		if sendAt.IsZero() {
			sendAt = at
		}
		add("scheduled_at", sendAt)
	case domain.CampaignSending:
		add("started_at", at)
	case domain.CampaignSent, domain.CampaignFailed:
		add("completed_at", at)
		if u.FailureReason != "" {
			add("failure_reason", u.FailureReason)
		}
		if u.Totals != nil {
			add("total_recipients", u.Totals.Recipients)
			add("sent_count", u.Totals.Sent)
			add("failed_count", u.Totals.Failed)
		}
	}

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d AND status = $%d", strings.Join(sets, ", "), idx, idx+1)
	args = append(args, id, from)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("transition campaign %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	return n == 1, nil
}

func (r *CampaignRepo) MarkMaterialized(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET materialized = true, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark materialized: %w", err)
	}
	return nil
}

func (r *CampaignRepo) query(ctx context.Context, q string, args ...interface{}) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
