package domain

import "time"

// SuppressionType enumerates why an email is blocked from marketing sends.
type SuppressionType string

const (
	SuppressionUnsubscribe   SuppressionType = "UNSUBSCRIBE"
	SuppressionHardBounce    SuppressionType = "HARD_BOUNCE"
	SuppressionSpamComplaint SuppressionType = "SPAM_COMPLAINT"
)

// Severity orders suppression types so the most restrictive one wins when
// records for the same (tenant, email) are merged. Unknown types rank 0.
func (t SuppressionType) Severity() int {
	switch t {
	case SuppressionUnsubscribe:
		return 1
	case SuppressionHardBounce:
		return 2
	case SuppressionSpamComplaint:
		return 3
	default:
		return 0
	}
}

// IsPermanent is true for types that block every future send for the
// tenant regardless of later consent changes.
func (t SuppressionType) IsPermanent() bool {
	return t == SuppressionHardBounce || t == SuppressionSpamComplaint
}

// MergeSuppressionType returns the type that governs after observing next on
// top of current: the more severe wins, ties go to the most recent.
func MergeSuppressionType(current, next SuppressionType) SuppressionType {
	if next.Severity() >= current.Severity() {
		return next
	}
	return current
}

// Suppression is the single governing record for (TenantID, Email).
type Suppression struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	Email     string          `json:"email" db:"email"`
	Type      SuppressionType `json:"type" db:"type"`
	Reason    string          `json:"reason" db:"reason"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
