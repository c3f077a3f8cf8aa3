package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
)

// RecipientRepo persists campaign recipients and their dispatch outcomes.
type RecipientRepo struct{ db *sql.DB }

func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// InsertRecipients writes rows in one transaction. Rows that already exist
// for (campaign_id, contact_id) are left untouched and not counted.
func (r *RecipientRepo) InsertRecipients(ctx context.Context, recipients []domain.CampaignRecipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_recipients
			(id, tenant_id, campaign_id, contact_id, email, merge_context, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW())
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range recipients {
		rec := &recipients[i]
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		status := rec.Status
		if status == "" {
			status = domain.RecipientPending
		}
		merge, err := json.Marshal(rec.MergeContext)
		if err != nil {
			return 0, fmt.Errorf("encode merge context: %w", err)
		}
		res, err := stmt.ExecContext(ctx, rec.ID, rec.TenantID, rec.CampaignID, rec.ContactID,
			domain.NormalizeEmail(rec.Email), merge, status)
		if err != nil {
			return 0, fmt.Errorf("insert recipient %s: %w", rec.ContactID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListPending pages through PENDING recipients by id.
func (r *RecipientRepo) ListPending(ctx context.Context, campaignID, afterID string, limit int) ([]domain.CampaignRecipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, campaign_id, contact_id, email, merge_context, status, attempts,
		       COALESCE(last_error,''), COALESCE(provider_message_id,''), sent_at
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = $2 AND id > $3
		ORDER BY id
		LIMIT $4
	`, campaignID, domain.RecipientPending, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignRecipient
	for rows.Next() {
		var rec domain.CampaignRecipient
		var merge []byte
		var sentAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.CampaignID, &rec.ContactID, &rec.Email, &merge,
			&rec.Status, &rec.Attempts, &rec.LastError, &rec.ProviderMessageID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(merge) > 0 {
			if err := json.Unmarshal(merge, &rec.MergeContext); err != nil {
				return nil, fmt.Errorf("decode merge context for %s: %w", rec.ID, err)
			}
		}
		rec.SentAt = nullTime(sentAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RecipientRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = $1, provider_message_id = $2, sent_at = $3, attempts = attempts + 1, last_error = NULL
		WHERE id = $4 AND status = $5
	`, domain.RecipientSent, providerMessageID, at, id, domain.RecipientPending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailedAttempt increments attempts and flips the row to FAILED once
// maxAttempts is reached, returning the resulting status.
func (r *RecipientRepo) MarkFailedAttempt(ctx context.Context, id, lastError string, maxAttempts int) (domain.RecipientStatus, error) {
	var status domain.RecipientStatus
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaign_recipients
		SET attempts = attempts + 1,
		    last_error = $1,
		    status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE status END
		WHERE id = $4 AND status = $5
		RETURNING status
	`, lastError, maxAttempts, domain.RecipientFailed, id, domain.RecipientPending).Scan(&status)
	if err == sql.ErrNoRows {
		// Already resolved by another writer.
		return domain.RecipientFailed, nil
	}
	if err != nil {
		return "", fmt.Errorf("mark failed attempt: %w", err)
	}
	return status, nil
}

func (r *RecipientRepo) MarkSuppressed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = $1, last_error = $2
		WHERE id = $3 AND status = $4
	`, domain.RecipientSuppressed, reason, id, domain.RecipientPending)
	if err != nil {
		return fmt.Errorf("mark suppressed: %w", err)
	}
	return nil
}

func (r *RecipientRepo) CountByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	out := map[domain.RecipientStatus]int{}
	for rows.Next() {
		var s domain.RecipientStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}
