package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// AutomationRepo implements automation.Store.
type AutomationRepo struct{ db *sql.DB }

func NewAutomationRepo(db *sql.DB) *AutomationRepo { return &AutomationRepo{db: db} }

func (r *AutomationRepo) ListActive(ctx context.Context) ([]domain.Automation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, trigger_type, COALESCE(trigger_days,0), COALESCE(trigger_minutes,0),
		       rules, steps, from_name, from_email, COALESCE(reply_to,''), active, created_at
		FROM automations
		WHERE active = true
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	var out []domain.Automation
	for rows.Next() {
		var a domain.Automation
		var rules, steps []byte
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.TriggerType, &a.TriggerDays, &a.TriggerMinutes,
			&rules, &steps, &a.FromName, &a.FromEmail, &a.ReplyTo, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		if len(rules) > 0 {
			a.Rules = json.RawMessage(rules)
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &a.Steps); err != nil {
				// One tenant's broken automation must not stall the rest.
				logger.Warn("skipping automation with undecodable steps",
					"automation_id", a.ID, "tenant_id", a.TenantID, "error", err)
				continue
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Enroll leans on two unique indexes: one open run per (automation,
// contact) and one run per (automation, contact, trigger_key).
func (r *AutomationRepo) Enroll(ctx context.Context, run domain.AutomationRun) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_runs
			(id, automation_id, tenant_id, contact_id, email, trigger_key,
			 current_step_index, last_advanced_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
	`, run.ID, run.AutomationID, run.TenantID, run.ContactID, run.Email, run.TriggerKey,
		run.CurrentStepIndex, run.LastAdvancedAt, run.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("enroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enroll: %w", err)
	}
	return n == 1, nil
}

func (r *AutomationRepo) ListOpenRuns(ctx context.Context, automationID string, limit int) ([]domain.AutomationRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, automation_id, tenant_id, contact_id, email, trigger_key,
		       current_step_index, last_advanced_at, attempts, step_sent, created_at
		FROM automation_runs
		WHERE automation_id = $1 AND completed_at IS NULL
		ORDER BY last_advanced_at
		LIMIT $2
	`, automationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list open runs: %w", err)
	}
	defer rows.Close()

	var out []domain.AutomationRun
	for rows.Next() {
		var run domain.AutomationRun
		if err := rows.Scan(&run.ID, &run.AutomationID, &run.TenantID, &run.ContactID, &run.Email, &run.TriggerKey,
			&run.CurrentStepIndex, &run.LastAdvancedAt, &run.Attempts, &run.StepSent, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *AutomationRepo) Advance(ctx context.Context, runID string, from int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs
		SET current_step_index = $1, last_advanced_at = $2, attempts = 0, step_sent = false
		WHERE id = $3 AND current_step_index = $4 AND completed_at IS NULL
	`, from+1, at, runID, from)
	if err != nil {
		return false, fmt.Errorf("advance run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance run: %w", err)
	}
	return n == 1, nil
}

// RecordAttempt counts a failed send of step and returns the new total. It
// returns 0 when the run has moved on.
func (r *AutomationRepo) RecordAttempt(ctx context.Context, runID string, step int) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE automation_runs SET attempts = attempts + 1
		WHERE id = $1 AND current_step_index = $2 AND completed_at IS NULL
		RETURNING attempts
	`, runID, step).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return attempts, nil
}

func (r *AutomationRepo) MarkStepSent(ctx context.Context, runID string, step int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs SET step_sent = true
		WHERE id = $1 AND current_step_index = $2 AND completed_at IS NULL
	`, runID, step)
	if err != nil {
		return fmt.Errorf("mark step sent: %w", err)
	}
	return nil
}

func (r *AutomationRepo) Complete(ctx context.Context, runID string, at time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE automation_runs SET completed_at = $1, exit_reason = $2
		WHERE id = $3 AND completed_at IS NULL
	`, at, reason, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}
