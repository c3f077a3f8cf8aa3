// Package automation runs trigger-driven message sequences. The enrollment
// pass finds newly qualifying contacts and opens a run at step 0; the
// advancement pass sends each run's due step through the same recipient
// build and dispatch path as campaigns.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/recipients"
	"github.com/ignite/audience-engine/internal/service/sending"
)

const (
	defaultRunPage     = 500
	defaultStepRetries = 3
)

// Exit reasons recorded on completed runs.
const (
	ExitFinished       = "finished"
	ExitSuppressed     = "suppressed"
	ExitContactRemoved = "contact_removed"
)

// Builder applies suppression and eligibility to selected contacts.
type Builder interface {
	Build(ctx context.Context, t recipients.Target, contacts []domain.Contact) (recipients.Outcome, error)
}

// Dispatcher sends one recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, env sending.Envelope, r *domain.CampaignRecipient) (*domain.SendResult, error)
}

// Config controls the engine. MaxStepAttempts bounds how many passes may
// fail to send a step before the run moves past it.
type Config struct {
	RequireVerifiedSender bool
	RunPageSize           int
	MaxStepAttempts       int
}

// Deps are the engine's collaborators.
type Deps struct {
	Store      Store
	Population Population
	Contacts   ContactLookup
	Templates  TemplateSource
	Builder    Builder
	Verifier   sending.SenderVerifier
	Dispatcher Dispatcher
}

// PassStats summarizes one enrollment or advancement pass.
type PassStats struct {
	Enrolled   int
	Sent       int
	Skipped    int
	Completed  int
	Suppressed int
	Deferred   int
	Failed     int
}

// Engine evaluates triggers and advances runs.
type Engine struct {
	cfg  Config
	deps Deps
	log  *logger.Entry
	now  func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.RunPageSize <= 0 {
		cfg.RunPageSize = defaultRunPage
	}
	if cfg.MaxStepAttempts <= 0 {
		cfg.MaxStepAttempts = defaultStepRetries
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  logger.With("component", "automation"),
		now:  time.Now,
	}
}

// RunPasses runs enrollment followed by advancement.
func (e *Engine) RunPasses(ctx context.Context) error {
	automations, err := e.deps.Store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}
	if len(automations) == 0 {
		return nil
	}
	enrolled, enrollErr := e.Enroll(ctx, automations)
	advanced, advanceErr := e.Advance(ctx, automations)
	e.log.Info("automation passes finished", "automations", len(automations), "enrolled", enrolled.Enrolled,
		"sent", advanced.Sent, "skipped", advanced.Skipped, "completed", advanced.Completed,
		"suppressed", advanced.Suppressed, "deferred", advanced.Deferred, "failed", advanced.Failed)
	return errors.Join(enrollErr, advanceErr)
}

// Enroll opens runs for contacts that newly satisfy each automation's
// trigger and optional rules. Enrollment is idempotent per trigger
// occurrence.
func (e *Engine) Enroll(ctx context.Context, automations []domain.Automation) (PassStats, error) {
	var stats PassStats
	var errs []error

	byTenant := map[string][]*domain.Automation{}
	for i := range automations {
		a := &automations[i]
		if a.Active && len(a.Steps) > 0 {
			byTenant[a.TenantID] = append(byTenant[a.TenantID], a)
		}
	}

	for tenantID, list := range byTenant {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		n, err := e.enrollTenant(ctx, tenantID, list)
		stats.Enrolled += n
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return stats, errors.Join(errs...)
}

func (e *Engine) enrollTenant(ctx context.Context, tenantID string, list []*domain.Automation) (int, error) {
	contacts, err := e.deps.Population.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list contacts: %w", err)
	}
	if len(contacts) == 0 {
		return 0, nil
	}
	ids := make([]string, len(contacts))
	for i := range contacts {
		ids[i] = contacts[i].ID
	}
	orders, err := e.deps.Population.ListForContacts(ctx, tenantID, ids)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}
	ov, err := e.deps.Population.GetOverrides(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("load overrides: %w", err)
	}

	now := e.now()
	ordersByContact := map[string][]domain.Order{}
	for _, o := range orders {
		ordersByContact[o.ContactID] = append(ordersByContact[o.ContactID], o)
	}

	enrolled := 0
	for _, a := range list {
		rules := segmentation.ParseRules(a.Rules)
		for i := range contacts {
			c := &contacts[i]
			key, ok := Qualify(a, c, ordersByContact[c.ID], now)
			if !ok {
				continue
			}
			if len(rules) > 0 && !segmentation.Matches(c, rules, segmentation.ComputeOrderStats(ordersByContact[c.ID], now), ov) {
				continue
			}
			inserted, err := e.deps.Store.Enroll(ctx, domain.AutomationRun{
				ID:             uuid.New().String(),
				AutomationID:   a.ID,
				TenantID:       a.TenantID,
				ContactID:      c.ID,
				Email:          domain.NormalizeEmail(c.Email),
				TriggerKey:     key,
				LastAdvancedAt: now,
				CreatedAt:      now,
			})
			if err != nil {
				return enrolled, fmt.Errorf("enroll contact %s in %s: %w", c.ID, a.ID, err)
			}
			if inserted {
				enrolled++
			}
		}
	}
	return enrolled, nil
}

// Advance sends every due step. A suppressed contact ends its run; an
// ineligible contact silently skips the step.
func (e *Engine) Advance(ctx context.Context, automations []domain.Automation) (PassStats, error) {
	var stats PassStats
	var errs []error
	for i := range automations {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		a := &automations[i]
		if len(a.Steps) == 0 {
			continue
		}
		err := e.advanceAutomation(ctx, a, &stats)
		if errors.Is(err, sending.ErrDailyLimitReached) {
			e.log.Info("daily send limit reached, deferring automation steps")
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("automation %s: %w", a.ID, err))
		}
	}
	return stats, errors.Join(errs...)
}

func (e *Engine) advanceAutomation(ctx context.Context, a *domain.Automation, stats *PassStats) error {
	runs, err := e.deps.Store.ListOpenRuns(ctx, a.ID, e.cfg.RunPageSize)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	now := e.now()
	due := runs[:0]
	for _, r := range runs {
		if at, ok := r.DueAt(a.Steps); ok && !at.After(now) {
			due = append(due, r)
		} else if !ok {
			// Steps were removed since the run was enrolled.
			e.complete(ctx, &r, ExitFinished, stats)
		}
	}
	if len(due) == 0 {
		return nil
	}

	if err := sending.AssertSenderVerified(ctx, e.deps.Verifier, a.FromEmail, e.cfg.RequireVerifiedSender); err != nil {
		return err
	}

	templates := map[string]*domain.EmailTemplate{}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run := &due[i]
		step := a.Steps[run.CurrentStepIndex]
		tpl, ok := templates[step.TemplateID]
		if !ok {
			tpl, err = e.deps.Templates.GetTemplate(ctx, a.TenantID, step.TemplateID)
			if err != nil {
				return fmt.Errorf("load template %s: %w", step.TemplateID, err)
			}
			templates[step.TemplateID] = tpl
		}
		if err := e.advanceRun(ctx, a, run, step, tpl, stats); err != nil {
			if errors.Is(err, sending.ErrDailyLimitReached) || sending.IsFatal(err) {
				return err
			}
			e.log.Warn("advance run failed", "automation_id", a.ID, "run_id", run.ID, "email", run.Email, "error", err)
		}
	}
	return nil
}

func (e *Engine) advanceRun(ctx context.Context, a *domain.Automation, run *domain.AutomationRun, step domain.AutomationStep,
	tpl *domain.EmailTemplate, stats *PassStats) error {
	if run.StepSent {
		// Sent on an earlier pass whose advance did not land.
		return e.step(ctx, a, run, stats)
	}
	contact, err := e.deps.Contacts.GetContact(ctx, a.TenantID, run.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		e.complete(ctx, run, ExitContactRemoved, stats)
		return nil
	}

	campaignID := a.StepCampaignID(run.CurrentStepIndex)
	out, err := e.deps.Builder.Build(ctx, recipients.Target{
		TenantID:     a.TenantID,
		CampaignID:   campaignID,
		CampaignName: a.Name,
		ShowID:       step.ShowID,
	}, []domain.Contact{*contact})
	if err != nil {
		return fmt.Errorf("build recipient: %w", err)
	}

	switch {
	case len(out.Suppressed) > 0:
		stats.Suppressed++
		e.complete(ctx, run, ExitSuppressed, stats)
		return nil
	case len(out.Ineligible) > 0, len(out.Entries) == 0:
		stats.Skipped++
		return e.step(ctx, a, run, stats)
	}

	if step.Subject != "" {
		t := *tpl
		t.Subject = step.Subject
		tpl = &t
	}
	env := sending.Envelope{
		TenantID:     a.TenantID,
		CampaignID:   campaignID,
		CampaignName: a.Name,
		ShowID:       step.ShowID,
		FromName:     a.FromName,
		FromEmail:    a.FromEmail,
		ReplyTo:      a.ReplyTo,
		Template:     tpl,
	}
	if _, err := e.deps.Dispatcher.Dispatch(ctx, env, &out.Entries[0]); err != nil {
		return e.sendFailed(ctx, a, run, err, stats)
	}
	stats.Sent++
	if err := e.deps.Store.MarkStepSent(ctx, run.ID, run.CurrentStepIndex); err != nil {
		e.log.Error("mark step sent failed", "run_id", run.ID, "step", run.CurrentStepIndex, "error", err)
	} else {
		run.StepSent = true
	}
	return e.step(ctx, a, run, stats)
}

// sendFailed counts a failed dispatch against the step. Limits, fatal
// errors and cancellation leave the step for a later pass untouched; any
// other failure moves the run on once MaxStepAttempts is reached.
func (e *Engine) sendFailed(ctx context.Context, a *domain.Automation, run *domain.AutomationRun, sendErr error, stats *PassStats) error {
	if errors.Is(sendErr, sending.ErrDailyLimitReached) || sending.IsFatal(sendErr) || ctx.Err() != nil {
		stats.Deferred++
		return sendErr
	}
	attempts, err := e.deps.Store.RecordAttempt(ctx, run.ID, run.CurrentStepIndex)
	if err != nil {
		stats.Deferred++
		return errors.Join(sendErr, fmt.Errorf("record attempt: %w", err))
	}
	run.Attempts = attempts
	if attempts < e.cfg.MaxStepAttempts {
		stats.Deferred++
		return sendErr
	}
	stats.Failed++
	e.log.Warn("giving up on automation step", "automation_id", a.ID, "run_id", run.ID,
		"step", run.CurrentStepIndex, "attempts", attempts, "error", sendErr)
	return e.step(ctx, a, run, stats)
}

// step moves the run past its current step, completing it after the last.
func (e *Engine) step(ctx context.Context, a *domain.Automation, run *domain.AutomationRun, stats *PassStats) error {
	now := e.now()
	ok, err := e.deps.Store.Advance(ctx, run.ID, run.CurrentStepIndex, now)
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	if !ok {
		return nil
	}
	run.CurrentStepIndex++
	run.LastAdvancedAt = now
	run.Attempts = 0
	run.StepSent = false
	if run.CurrentStepIndex >= len(a.Steps) {
		e.complete(ctx, run, ExitFinished, stats)
	}
	return nil
}

func (e *Engine) complete(ctx context.Context, run *domain.AutomationRun, reason string, stats *PassStats) {
	if err := e.deps.Store.Complete(ctx, run.ID, e.now(), reason); err != nil {
		e.log.Error("complete run failed", "run_id", run.ID, "error", err)
		return
	}
	stats.Completed++
}
