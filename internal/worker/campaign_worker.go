package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/distlock"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/eligibility"
	"github.com/ignite/audience-engine/internal/service/recipients"
	"github.com/ignite/audience-engine/internal/service/sending"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

// =============================================================================
// CAMPAIGN WORKER
// =============================================================================
// One ticker drives everything. Every tick:
//   1. claims due SCHEDULED campaigns (SCHEDULED -> SENDING is the claim),
//   2. resumes campaigns left in SENDING by earlier ticks,
//   3. runs the automation passes.
// Ticks run in their own goroutines and never wait for the previous one.
// A per-campaign lease keeps an overlapping tick from joining a campaign
// that is still being dispatched.

const (
	DefaultTickInterval = 30 * time.Second
	DefaultBatchSize    = 200
	DefaultMaxAttempts  = 3
	DefaultTickTimeout  = 10 * time.Minute
	DefaultLeaseTTL     = 15 * time.Minute
	defaultCampaignPage = 50
)

// Campaigns is the lifecycle surface the worker drives.
type Campaigns interface {
	ListDue(ctx context.Context, limit int) ([]domain.Campaign, error)
	ListSending(ctx context.Context, limit int) ([]domain.Campaign, error)
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, totals campaign.Totals) error
	Fail(ctx context.Context, id, reason string) error
	MarkMaterialized(ctx context.Context, id string) error
}

// RecipientRepository tracks per-recipient dispatch outcomes.
type RecipientRepository interface {
	// ListPending returns PENDING recipients with id > afterID, ordered by id.
	ListPending(ctx context.Context, campaignID, afterID string, limit int) ([]domain.CampaignRecipient, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	// MarkFailedAttempt records a failed attempt and returns the resulting
	// status: FAILED once attempts reach maxAttempts, PENDING otherwise.
	MarkFailedAttempt(ctx context.Context, id, lastError string, maxAttempts int) (domain.RecipientStatus, error)
	MarkSuppressed(ctx context.Context, id, reason string) error
	CountByStatus(ctx context.Context, campaignID string) (map[domain.RecipientStatus]int, error)
}

// TemplateSource loads email templates. A missing template is reported as
// campaign.ErrMissingTemplate.
type TemplateSource interface {
	GetTemplate(ctx context.Context, tenantID, id string) (*domain.EmailTemplate, error)
}

// Materializer builds a campaign's recipient list.
type Materializer interface {
	Materialize(ctx context.Context, c *domain.Campaign) (recipients.Result, error)
}

// Dispatcher sends one recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, env sending.Envelope, r *domain.CampaignRecipient) (*domain.SendResult, error)
}

// Leaser hands out per-key leases.
type Leaser interface {
	For(key string) distlock.DistLock
}

// EligibilityChecker re-applies intelligent send governance just before
// dispatch.
type EligibilityChecker interface {
	Check(ctx context.Context, req eligibility.Request) (eligibility.Result, error)
}

// AutomationPasses is run once per tick after the campaign passes.
type AutomationPasses interface {
	RunPasses(ctx context.Context) error
}

// Config controls the worker.
type Config struct {
	TickInterval          time.Duration
	TickTimeout           time.Duration
	BatchSize             int
	MaxAttempts           int
	RequireVerifiedSender bool
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = DefaultTickTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Deps are the worker's collaborators. Eligibility and Automations may be
// nil.
type Deps struct {
	Campaigns    Campaigns
	Recipients   RecipientRepository
	Templates    TemplateSource
	Materializer Materializer
	Suppressions recipients.SuppressionFetcher
	Verifier     sending.SenderVerifier
	Dispatcher   Dispatcher
	Leases       Leaser
	Eligibility  EligibilityChecker
	Automations  AutomationPasses
}

// TickStats summarizes one tick.
type TickStats struct {
	Claimed    int
	Resumed    int
	Sent       int
	Failed     int
	Suppressed int
	Completed  int
	Aborted    int
}

// CampaignWorker owns the tick loop. Start and Stop are idempotent.
type CampaignWorker struct {
	cfg  Config
	deps Deps
	log  *logger.Entry
	now  func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	ticks    sync.WaitGroup
	stopping atomic.Bool

	ticksRun int64
}

// NewCampaignWorker creates a worker. Leases default to an in-process table.
func NewCampaignWorker(cfg Config, deps Deps) *CampaignWorker {
	cfg.applyDefaults()
	if deps.Leases == nil {
		deps.Leases = distlock.NewLocalLocks()
	}
	return &CampaignWorker{
		cfg:  cfg,
		deps: deps,
		log:  logger.With("component", "campaign_worker"),
		now:  time.Now,
	}
}

// Start begins ticking. Calling Start on a running worker does nothing.
func (w *CampaignWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopping.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	go w.loop(ctx, w.loopDone)

	w.log.Info("started", "interval", w.cfg.TickInterval.String(), "batch_size", w.cfg.BatchSize)
}

// Stop halts the timer. No new work is claimed; in-flight dispatches finish
// and Stop returns once their ticks have returned.
func (w *CampaignWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.stopping.Store(true)
	w.cancel()
	done := w.loopDone
	w.mu.Unlock()

	<-done
	w.ticks.Wait()
	w.log.Info("stopped", "ticks", atomic.LoadInt64(&w.ticksRun))
}

// Running reports whether the timer is active.
func (w *CampaignWorker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *CampaignWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ticks.Add(1)
			go func() {
				defer w.ticks.Done()
				tickCtx, cancel := context.WithTimeout(context.Background(), w.cfg.TickTimeout)
				defer cancel()
				w.Tick(tickCtx)
			}()
		}
	}
}

// Tick runs one pass of the worker. It is safe to call concurrently with
// itself.
func (w *CampaignWorker) Tick(ctx context.Context) TickStats {
	atomic.AddInt64(&w.ticksRun, 1)
	var stats TickStats
	handled := map[string]bool{}

	due, err := w.deps.Campaigns.ListDue(ctx, defaultCampaignPage)
	if err != nil {
		w.log.Error("list due campaigns failed", "error", err)
	}
	for i := range due {
		if w.stopped(ctx) {
			return stats
		}
		c := &due[i]
		ok, err := w.deps.Campaigns.Claim(ctx, c.ID)
		if err != nil {
			w.log.Error("claim failed", "campaign_id", c.ID, "error", err)
			continue
		}
		if !ok {
			w.log.Debug("campaign already claimed", "campaign_id", c.ID)
			continue
		}
		stats.Claimed++
		handled[c.ID] = true
		c.Status = domain.CampaignSending
		w.withLease(ctx, c, &stats)
	}

	active, err := w.deps.Campaigns.ListSending(ctx, defaultCampaignPage)
	if err != nil {
		w.log.Error("list sending campaigns failed", "error", err)
	}
	for i := range active {
		if w.stopped(ctx) {
			return stats
		}
		c := &active[i]
		if handled[c.ID] {
			continue
		}
		if w.withLease(ctx, c, &stats) {
			stats.Resumed++
		}
	}

	if w.deps.Automations != nil && !w.stopped(ctx) {
		w.runAutomations(ctx)
	}

	if stats.Claimed+stats.Resumed > 0 {
		w.log.Info("tick finished", "claimed", stats.Claimed, "resumed", stats.Resumed, "sent", stats.Sent,
			"failed", stats.Failed, "suppressed", stats.Suppressed, "completed", stats.Completed, "aborted", stats.Aborted)
	}
	return stats
}

func (w *CampaignWorker) stopped(ctx context.Context) bool {
	return w.stopping.Load() || ctx.Err() != nil
}

// withLease runs the campaign under its lease. It returns false when
// another tick holds the lease.
func (w *CampaignWorker) withLease(ctx context.Context, c *domain.Campaign, stats *TickStats) bool {
	lease := w.deps.Leases.For("campaign:" + c.ID)
	ok, err := lease.Acquire(ctx)
	if err != nil {
		w.log.Warn("lease acquire failed", "campaign_id", c.ID, "error", err)
		return false
	}
	if !ok {
		w.log.Debug("campaign busy in another tick", "campaign_id", c.ID)
		return false
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			w.log.Warn("lease release failed", "campaign_id", c.ID, "error", err)
		}
	}()
	w.runCampaign(ctx, c, stats)
	return true
}

// runCampaign materializes if needed, gates on sender verification and
// dispatches one pass over the pending recipients.
func (w *CampaignWorker) runCampaign(ctx context.Context, c *domain.Campaign, stats *TickStats) {
	log := w.log.With("campaign_id", c.ID, "tenant_id", c.TenantID)

	if !c.Materialized {
		if _, err := w.deps.Materializer.Materialize(ctx, c); err != nil {
			if errors.Is(err, recipients.ErrSegmentNotFound) {
				w.abort(ctx, c, err.Error(), stats)
				return
			}
			log.Error("materialize failed", "error", err)
			return
		}
		if err := w.deps.Campaigns.MarkMaterialized(ctx, c.ID); err != nil {
			log.Error("mark materialized failed", "error", err)
			return
		}
		c.Materialized = true
	}

	if err := sending.AssertSenderVerified(ctx, w.deps.Verifier, c.FromEmail, w.cfg.RequireVerifiedSender); err != nil {
		if sending.IsFatal(err) {
			w.abort(ctx, c, err.Error(), stats)
			return
		}
		log.Warn("sender verification unavailable, retrying next tick", "error", err)
		return
	}

	tpl, err := w.deps.Templates.GetTemplate(ctx, c.TenantID, c.TemplateID)
	if err != nil {
		if errors.Is(err, campaign.ErrMissingTemplate) {
			w.abort(ctx, c, fmt.Sprintf("template %s not found", c.TemplateID), stats)
			return
		}
		log.Error("load template failed", "error", err)
		return
	}

	env := sending.Envelope{
		TenantID:     c.TenantID,
		CampaignID:   c.ID,
		CampaignName: c.Name,
		ShowID:       c.ShowRef(),
		FromName:     c.FromName,
		FromEmail:    c.FromEmail,
		ReplyTo:      c.ReplyTo,
		Template:     tpl,
	}
	if done := w.dispatchPending(ctx, c, env, stats); !done {
		return
	}
	w.completeIfFinished(ctx, c, stats)
}

// dispatchPending walks the PENDING recipients once. It returns false when
// the campaign was aborted or the pass must stop early.
func (w *CampaignWorker) dispatchPending(ctx context.Context, c *domain.Campaign, env sending.Envelope, stats *TickStats) bool {
	log := w.log.With("campaign_id", c.ID)
	after := ""
	for {
		if w.stopped(ctx) {
			return false
		}
		batch, err := w.deps.Recipients.ListPending(ctx, c.ID, after, w.cfg.BatchSize)
		if err != nil {
			log.Error("list pending recipients failed", "error", err)
			return false
		}
		if len(batch) == 0 {
			return true
		}
		after = batch[len(batch)-1].ID

		// Suppressions can change while a campaign is sending, so every
		// batch reads them fresh.
		emails := make([]string, len(batch))
		for i := range batch {
			emails[i] = batch[i].Email
		}
		idx, err := w.deps.Suppressions.Fetch(ctx, c.TenantID, emails)
		if err != nil {
			log.Error("fetch suppressions failed", "error", err)
			return false
		}

		for i := range batch {
			if w.stopped(ctx) {
				return false
			}
			r := &batch[i]
			if d := suppression.ShouldSuppress("", idx.Lookup(r.Email)); d.Suppressed {
				if err := w.deps.Recipients.MarkSuppressed(ctx, r.ID, d.Reason); err != nil {
					log.Error("mark suppressed failed", "recipient_id", r.ID, "error", err)
				}
				stats.Suppressed++
				continue
			}
			reason, err := w.ineligible(ctx, env, r)
			if err != nil {
				log.Error("eligibility check failed", "recipient_id", r.ID, "error", err)
				return false
			}
			if reason != "" {
				if err := w.deps.Recipients.MarkSuppressed(ctx, r.ID, reason); err != nil {
					log.Error("mark suppressed failed", "recipient_id", r.ID, "error", err)
				}
				stats.Suppressed++
				continue
			}

			res, err := w.deps.Dispatcher.Dispatch(ctx, env, r)
			switch {
			case err == nil:
				if err := w.deps.Recipients.MarkSent(ctx, r.ID, res.MessageID, res.SentAt); err != nil {
					log.Error("mark sent failed", "recipient_id", r.ID, "error", err)
				}
				stats.Sent++
			case errors.Is(err, sending.ErrDailyLimitReached):
				log.Info("daily send limit reached, deferring remaining recipients")
				return false
			case sending.IsFatal(err):
				w.abort(ctx, c, err.Error(), stats)
				return false
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				if ctx.Err() != nil {
					return false
				}
				w.recordFailure(ctx, r, err, stats)
			default:
				w.recordFailure(ctx, r, err, stats)
			}
		}
	}
}

// ineligible returns the rejection reason when an intelligent campaign may
// no longer send to r. Other intelligent sends may have landed since the
// recipient list was built.
func (w *CampaignWorker) ineligible(ctx context.Context, env sending.Envelope, r *domain.CampaignRecipient) (string, error) {
	if w.deps.Eligibility == nil {
		return "", nil
	}
	res, err := w.deps.Eligibility.Check(ctx, eligibility.Request{
		TenantID:     env.TenantID,
		Email:        r.Email,
		CampaignName: env.CampaignName,
		ShowID:       env.ShowID,
	})
	if err != nil {
		return "", err
	}
	if res.Eligible {
		return "", nil
	}
	return res.Reason, nil
}

func (w *CampaignWorker) recordFailure(ctx context.Context, r *domain.CampaignRecipient, sendErr error, stats *TickStats) {
	status, err := w.deps.Recipients.MarkFailedAttempt(ctx, r.ID, sendErr.Error(), w.cfg.MaxAttempts)
	if err != nil {
		w.log.Error("record failed attempt failed", "recipient_id", r.ID, "error", err)
		return
	}
	if status == domain.RecipientFailed {
		stats.Failed++
	}
	w.log.Warn("dispatch failed", "campaign_id", r.CampaignID, "email", r.Email,
		"attempt", r.Attempts+1, "status", string(status), "error", sendErr)
}

func (w *CampaignWorker) completeIfFinished(ctx context.Context, c *domain.Campaign, stats *TickStats) {
	counts, err := w.deps.Recipients.CountByStatus(ctx, c.ID)
	if err != nil {
		w.log.Error("count recipients failed", "campaign_id", c.ID, "error", err)
		return
	}
	if counts[domain.RecipientPending] > 0 {
		return
	}
	totals := campaign.Totals{
		Sent:   counts[domain.RecipientSent],
		Failed: counts[domain.RecipientFailed],
	}
	for _, n := range counts {
		totals.Recipients += n
	}
	if err := w.deps.Campaigns.Complete(ctx, c.ID, totals); err != nil {
		w.log.Error("complete campaign failed", "campaign_id", c.ID, "error", err)
		return
	}
	stats.Completed++
}

func (w *CampaignWorker) abort(ctx context.Context, c *domain.Campaign, reason string, stats *TickStats) {
	if err := w.deps.Campaigns.Fail(ctx, c.ID, reason); err != nil {
		w.log.Error("fail campaign failed", "campaign_id", c.ID, "error", err)
		return
	}
	stats.Aborted++
}

func (w *CampaignWorker) runAutomations(ctx context.Context) {
	lease := w.deps.Leases.For("automation:passes")
	ok, err := lease.Acquire(ctx)
	if err != nil || !ok {
		if err != nil {
			w.log.Warn("automation lease failed", "error", err)
		}
		return
	}
	defer lease.Release(context.Background())
	if err := w.deps.Automations.RunPasses(ctx); err != nil {
		w.log.Error("automation passes failed", "error", err)
	}
}
