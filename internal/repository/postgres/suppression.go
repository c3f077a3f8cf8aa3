package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) Get(ctx context.Context, tenantID, email string) (*domain.Suppression, error) {
	s := &domain.Suppression{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, type, COALESCE(reason,''), created_at, updated_at
		FROM suppressions
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID, email).Scan(&s.ID, &s.TenantID, &s.Email, &s.Type, &s.Reason, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return s, nil
}

// Upsert relies on the (tenant_id, lower(email)) unique index. The stored
// type only changes when the incoming one is at least as severe, so a late
// UNSUBSCRIBE cannot downgrade a HARD_BOUNCE.
func (r *SuppressionRepo) Upsert(ctx context.Context, s *domain.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, tenant_id, email, type, severity, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, lower(email)) DO UPDATE
		SET type = EXCLUDED.type,
		    severity = EXCLUDED.severity,
		    reason = EXCLUDED.reason,
		    updated_at = NOW()
		WHERE suppressions.severity <= EXCLUDED.severity
	`, s.ID, s.TenantID, domain.NormalizeEmail(s.Email), s.Type, s.Type.Severity(), s.Reason)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) ListByEmails(ctx context.Context, tenantID string, emails []string) ([]domain.Suppression, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, type, COALESCE(reason,''), created_at, updated_at
		FROM suppressions
		WHERE tenant_id = $1 AND lower(email) = ANY($2)
	`, tenantID, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("list suppressions by email: %w", err)
	}
	defer rows.Close()
	return scanSuppressions(rows)
}

// Remove deletes only UNSUBSCRIBE records.
func (r *SuppressionRepo) Remove(ctx context.Context, tenantID, email string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM suppressions
		WHERE tenant_id = $1 AND lower(email) = lower($2) AND type = $3
	`, tenantID, email, domain.SuppressionUnsubscribe)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, tenantID string, f suppression.ListFilter) ([]domain.Suppression, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND email ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	q := `SELECT id, tenant_id, email, type, COALESCE(reason,''), created_at, updated_at FROM suppressions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()
	out, err := scanSuppressions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanSuppressions(rows *sql.Rows) ([]domain.Suppression, error) {
	var out []domain.Suppression
	for rows.Next() {
		var s domain.Suppression
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Email, &s.Type, &s.Reason, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
