package recipients

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/eligibility"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

// ContactSource lists a tenant's contacts.
type ContactSource interface {
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Contact, error)
}

// OrderSource lists orders for a set of contacts.
type OrderSource interface {
	ListForContacts(ctx context.Context, tenantID string, contactIDs []string) ([]domain.Order, error)
}

// SegmentSource resolves stored rule sets and per-tenant alias overrides.
type SegmentSource interface {
	GetRules(ctx context.Context, tenantID, segmentID string) ([]byte, error)
	GetOverrides(ctx context.Context, tenantID string) (segmentation.Overrides, error)
}

// RecipientStore persists recipients; existing (campaign, contact) rows are
// left untouched.
type RecipientStore interface {
	InsertRecipients(ctx context.Context, recipients []domain.CampaignRecipient) (int, error)
}

// SuppressionFetcher returns fresh suppression state.
type SuppressionFetcher interface {
	Fetch(ctx context.Context, tenantID string, emails []string) (suppression.Index, error)
}

// EligibilityChecker is the intelligent-send guard.
type EligibilityChecker interface {
	Check(ctx context.Context, req eligibility.Request) (eligibility.Result, error)
}

// Target names the send the recipients are built for.
type Target struct {
	TenantID     string
	CampaignID   string
	CampaignName string
	ShowID       string
}

// Outcome reports what happened to each candidate.
type Outcome struct {
	Entries    []domain.CampaignRecipient
	Suppressed []string // contact ids
	Ineligible []string // contact ids
}

// Result summarizes one campaign materialization.
type Result struct {
	Contacts   int
	Matched    int
	Suppressed int
	Ineligible int
	Inserted   int
}

// Materializer selects, filters and persists campaign recipients.
type Materializer struct {
	contacts     ContactSource
	orders       OrderSource
	segments     SegmentSource
	store        RecipientStore
	suppressions SuppressionFetcher
	eligibility  EligibilityChecker
	log          *logger.Entry
	now          func() time.Time
}

// NewMaterializer wires the collaborators.
func NewMaterializer(contacts ContactSource, orders OrderSource, segments SegmentSource, store RecipientStore,
	suppressions SuppressionFetcher, elig EligibilityChecker) *Materializer {
	return &Materializer{
		contacts:     contacts,
		orders:       orders,
		segments:     segments,
		store:        store,
		suppressions: suppressions,
		eligibility:  elig,
		log:          logger.With("component", "materializer"),
		now:          time.Now,
	}
}

// Materialize builds and persists the recipient list for a campaign.
// Re-running it for the same campaign inserts nothing new for contacts
// already present.
func (m *Materializer) Materialize(ctx context.Context, c *domain.Campaign) (Result, error) {
	raw := c.RulesOverride
	if len(raw) == 0 && c.SegmentID != nil && *c.SegmentID != "" {
		var err error
		raw, err = m.segments.GetRules(ctx, c.TenantID, *c.SegmentID)
		if err != nil {
			return Result{}, fmt.Errorf("load segment rules: %w", err)
		}
	}
	rules := segmentation.ParseRules(raw)

	all, err := m.contacts.ListByTenant(ctx, c.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("list contacts: %w", err)
	}
	matched, err := m.Select(ctx, c.TenantID, all, rules)
	if err != nil {
		return Result{}, err
	}

	out, err := m.Build(ctx, Target{
		TenantID:     c.TenantID,
		CampaignID:   c.ID,
		CampaignName: c.Name,
		ShowID:       c.ShowRef(),
	}, matched)
	if err != nil {
		return Result{}, err
	}

	inserted, err := m.store.InsertRecipients(ctx, out.Entries)
	if err != nil {
		return Result{}, fmt.Errorf("insert recipients: %w", err)
	}
	res := Result{
		Contacts:   len(all),
		Matched:    len(matched),
		Suppressed: len(out.Suppressed),
		Ineligible: len(out.Ineligible),
		Inserted:   inserted,
	}
	m.log.Info("materialized recipients", "campaign_id", c.ID, "contacts", res.Contacts,
		"matched", res.Matched, "suppressed", res.Suppressed, "ineligible", res.Ineligible, "inserted", res.Inserted)
	return res, nil
}

// Select returns the contacts that satisfy rules, computing order stats as
// of now.
func (m *Materializer) Select(ctx context.Context, tenantID string, contacts []domain.Contact, rules []segmentation.Rule) ([]domain.Contact, error) {
	if len(contacts) == 0 {
		return nil, nil
	}
	ov, err := m.segments.GetOverrides(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	ids := make([]string, len(contacts))
	for i := range contacts {
		ids[i] = contacts[i].ID
	}
	orders, err := m.orders.ListForContacts(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	statsFor := segmentation.ComputeStatsByContact(orders, m.now())

	matched := make([]domain.Contact, 0, len(contacts))
	for i := range contacts {
		c := &contacts[i]
		if segmentation.Matches(c, rules, statsFor(c.ID), ov) {
			matched = append(matched, *c)
		}
	}
	return matched, nil
}

// Build applies fresh suppression state and the eligibility guard to
// already-selected contacts and returns the final entries. Nothing is
// persisted.
func (m *Materializer) Build(ctx context.Context, t Target, contacts []domain.Contact) (Outcome, error) {
	emails := make([]string, 0, len(contacts))
	for i := range contacts {
		emails = append(emails, contacts[i].Email)
	}
	idx, err := m.suppressions.Fetch(ctx, t.TenantID, emails)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch suppressions: %w", err)
	}

	var out Outcome
	passed := make([]domain.Contact, 0, len(contacts))
	for i := range contacts {
		c := &contacts[i]
		if suppression.ShouldSuppress(c.ConsentStatus, idx.Lookup(c.Email)).Suppressed {
			out.Suppressed = append(out.Suppressed, c.ID)
			continue
		}
		if m.eligibility != nil {
			res, err := m.eligibility.Check(ctx, eligibility.Request{
				TenantID:     t.TenantID,
				Email:        c.Email,
				CampaignName: t.CampaignName,
				ShowID:       t.ShowID,
			})
			if err != nil {
				m.log.Warn("eligibility check failed", "campaign_id", t.CampaignID, "email", c.Email, "error", err)
			}
			if !res.Eligible {
				out.Ineligible = append(out.Ineligible, c.ID)
				continue
			}
		}
		passed = append(passed, *c)
	}

	records := make([]domain.Suppression, 0, len(idx))
	for _, rec := range idx {
		records = append(records, *rec)
	}
	out.Entries = BuildRecipientEntries(Input{
		TenantID:     t.TenantID,
		CampaignID:   t.CampaignID,
		Contacts:     passed,
		Suppressions: records,
	})
	return out, nil
}
