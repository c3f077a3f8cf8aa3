package campaign

import "github.com/ignite/audience-engine/internal/domain"

var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:     {domain.CampaignScheduled},
	domain.CampaignScheduled: {domain.CampaignSending},
	domain.CampaignSending:   {domain.CampaignSent, domain.CampaignFailed},
}

// CanTransition reports whether from → to is a legal forward move.
func CanTransition(from, to domain.CampaignStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
