package suppression

import (
	"github.com/ignite/audience-engine/internal/domain"
)

// Decision is the outcome of ShouldSuppress. Reason is empty when the
// contact may be sent to.
type Decision struct {
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
}

// ShouldSuppress decides whether a marketing send to a contact is blocked.
// rec may be nil. Callers evaluate it once per contact per pass and never
// cache the result across campaigns.
func ShouldSuppress(consent domain.ConsentStatus, rec *domain.Suppression) Decision {
	if rec != nil {
		switch rec.Type {
		case domain.SuppressionHardBounce:
			return Decision{Suppressed: true, Reason: "address hard bounced"}
		case domain.SuppressionSpamComplaint:
			return Decision{Suppressed: true, Reason: "recipient filed a spam complaint"}
		}
	}
	if consent == domain.ConsentUnsubscribed {
		return Decision{Suppressed: true, Reason: "contact consent is unsubscribed"}
	}
	if rec != nil {
		if rec.Type == domain.SuppressionUnsubscribe {
			return Decision{Suppressed: true, Reason: "email unsubscribed from marketing"}
		}
		return Decision{Suppressed: true, Reason: "unrecognized suppression type " + string(rec.Type)}
	}
	return Decision{}
}

// Index keys suppression records by normalized email.
type Index map[string]*domain.Suppression

// NewIndex builds an Index, merging duplicates most-restrictive-wins.
func NewIndex(records []domain.Suppression) Index {
	idx := make(Index, len(records))
	for i := range records {
		rec := records[i]
		key := domain.NormalizeEmail(rec.Email)
		if cur, ok := idx[key]; ok {
			rec.Type = domain.MergeSuppressionType(cur.Type, rec.Type)
		}
		idx[key] = &rec
	}
	return idx
}

// Lookup returns the record for email, or nil.
func (idx Index) Lookup(email string) *domain.Suppression {
	return idx[domain.NormalizeEmail(email)]
}
