// Package recipients turns candidate contacts into the persisted,
// deduplicated send list for one campaign (or one automation step).
package recipients

import (
	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

// recipientNamespace seeds deterministic recipient ids so rebuilding the
// same input yields identical rows.
var recipientNamespace = uuid.MustParse("6f1c7a52-3b0e-4c1e-9a7d-2d0f5b8e4a11")

// Input is everything BuildRecipientEntries looks at.
type Input struct {
	TenantID     string
	CampaignID   string
	Contacts     []domain.Contact
	Suppressions []domain.Suppression
}

// RecipientID derives the stable id for (campaign, contact).
func RecipientID(campaignID, contactID string) string {
	return uuid.NewSHA1(recipientNamespace, []byte(campaignID+":"+contactID)).String()
}

// BuildRecipientEntries returns one PENDING recipient per distinct contact
// id, in first-seen order. Contacts that are suppressed (by consent or by a
// suppression record), belong to another tenant, or have no email are
// dropped. The function is pure.
func BuildRecipientEntries(in Input) []domain.CampaignRecipient {
	idx := suppression.NewIndex(in.Suppressions)
	seen := make(map[string]struct{}, len(in.Contacts))
	out := make([]domain.CampaignRecipient, 0, len(in.Contacts))

	for i := range in.Contacts {
		c := &in.Contacts[i]
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		if c.TenantID != "" && c.TenantID != in.TenantID {
			continue
		}
		email := domain.NormalizeEmail(c.Email)
		if email == "" {
			continue
		}
		if suppression.ShouldSuppress(c.ConsentStatus, idx.Lookup(email)).Suppressed {
			continue
		}
		out = append(out, domain.CampaignRecipient{
			ID:           RecipientID(in.CampaignID, c.ID),
			TenantID:     in.TenantID,
			CampaignID:   in.CampaignID,
			ContactID:    c.ID,
			Email:        email,
			MergeContext: MergeContext(c),
			Status:       domain.RecipientPending,
		})
	}
	return out
}

// MergeContext snapshots the contact fields templates may reference.
func MergeContext(c *domain.Contact) map[string]string {
	return map[string]string{
		"contact_id": c.ID,
		"email":      domain.NormalizeEmail(c.Email),
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"town":       c.Town,
		"county":     c.County,
		"postcode":   c.Postcode,
	}
}
