// Package eligibility enforces frequency governance for intelligent
// (system-generated) sends: a trailing send cap per contact and a per-show
// cooldown. Human-authored campaigns are never restricted here.
//
// Both checks read the marketing email event log. DELIVERED rows carry the
// campaign name and show id stamped at dispatch time, which is enough to
// derive the intelligent send history without a dedicated table.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingIdentity is returned (wrapped in a rejection) when tenant,
// email or show ids are absent.
var ErrMissingIdentity = errors.New("missing identity for eligibility check")

// History answers questions about past intelligent deliveries.
type History interface {
	// CountIntelligentDelivered counts DELIVERED events for (tenant, email)
	// whose campaign name starts with prefix, created at or after since.
	CountIntelligentDelivered(ctx context.Context, tenantID, email, prefix string, since time.Time) (int, error)

	// LastIntelligentShowSend returns the most recent DELIVERED event time for
	// (tenant, email, show) among intelligent campaigns, or nil.
	LastIntelligentShowSend(ctx context.Context, tenantID, email, showID, prefix string) (*time.Time, error)
}

// Config holds the governance knobs.
type Config struct {
	NamePrefix       string
	Cap              int
	CapWindow        time.Duration
	ShowCooldownDays int
}

// DefaultConfig returns the production defaults: 3 sends per 30 days and a
// 30 day per-show cooldown.
func DefaultConfig() Config {
	return Config{
		NamePrefix:       "[AI] ",
		Cap:              3,
		CapWindow:        30 * 24 * time.Hour,
		ShowCooldownDays: 30,
	}
}

// Request identifies one prospective send.
type Request struct {
	TenantID     string
	Email        string
	CampaignName string
	ShowID       string
}

// Result is the guard's verdict. Reason is set when not eligible.
type Result struct {
	Eligible bool
	Reason   string
}

func eligible() Result            { return Result{Eligible: true} }
func reject(reason string) Result { return Result{Reason: reason} }

// Guard applies the cap and cooldown checks.
type Guard struct {
	history History
	cfg     Config
	now     func() time.Time
}

// NewGuard creates a Guard. Zero-valued knobs fall back to DefaultConfig,
// except ShowCooldownDays where 0 disables the cooldown.
func NewGuard(history History, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = def.NamePrefix
	}
	if cfg.Cap <= 0 {
		cfg.Cap = def.Cap
	}
	if cfg.CapWindow <= 0 {
		cfg.CapWindow = def.CapWindow
	}
	return &Guard{history: history, cfg: cfg, now: time.Now}
}

// IsIntelligent reports whether a campaign or automation name marks it as a
// system-generated send.
func (g *Guard) IsIntelligent(name string) bool {
	return strings.HasPrefix(name, g.cfg.NamePrefix)
}

// Check runs every applicable check. Non-intelligent sends are always
// eligible. The show cooldown applies only when ShowID is set.
func (g *Guard) Check(ctx context.Context, req Request) (Result, error) {
	if !g.IsIntelligent(req.CampaignName) {
		return eligible(), nil
	}
	res, err := g.CheckCap(ctx, req.TenantID, req.Email)
	if err != nil || !res.Eligible {
		return res, err
	}
	if req.ShowID == "" {
		return res, nil
	}
	return g.CheckShowCooldown(ctx, req.TenantID, req.Email, req.ShowID)
}

// CheckCap rejects when the contact already received Cap intelligent sends
// inside the trailing window.
func (g *Guard) CheckCap(ctx context.Context, tenantID, email string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" || email == "" {
		return reject(ErrMissingIdentity.Error()), nil
	}
	since := g.now().Add(-g.cfg.CapWindow)
	n, err := g.history.CountIntelligentDelivered(ctx, tenantID, email, g.cfg.NamePrefix, since)
	if err != nil {
		return reject("send history unavailable"), fmt.Errorf("count intelligent sends: %w", err)
	}
	if n >= g.cfg.Cap {
		return reject(fmt.Sprintf("intelligent send cap reached (%d/%d)", n, g.cfg.Cap)), nil
	}
	return eligible(), nil
}

// CheckShowCooldown rejects when the contact received an intelligent send
// about the same show inside the cooldown window. A zero cooldown always
// passes.
func (g *Guard) CheckShowCooldown(ctx context.Context, tenantID, email, showID string) (Result, error) {
	if g.cfg.ShowCooldownDays <= 0 {
		return eligible(), nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if tenantID == "" || email == "" || strings.TrimSpace(showID) == "" {
		return reject(ErrMissingIdentity.Error()), nil
	}
	last, err := g.history.LastIntelligentShowSend(ctx, tenantID, email, showID, g.cfg.NamePrefix)
	if err != nil {
		return reject("send history unavailable"), fmt.Errorf("last show send: %w", err)
	}
	if last == nil {
		return eligible(), nil
	}
	cooldown := time.Duration(g.cfg.ShowCooldownDays) * 24 * time.Hour
	if g.now().Sub(*last) < cooldown {
		return reject(fmt.Sprintf("show %s emailed %s ago, cooldown %dd", showID,
			g.now().Sub(*last).Truncate(time.Hour), g.cfg.ShowCooldownDays)), nil
	}
	return eligible(), nil
}
