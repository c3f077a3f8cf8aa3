package domain

import (
	"encoding/json"
	"time"
)

// EmailEventType enumerates the delivery and engagement events we record.
type EmailEventType string

const (
	EventDelivered   EmailEventType = "DELIVERED"
	EventOpen        EmailEventType = "OPEN"
	EventClick       EmailEventType = "CLICK"
	EventBounce      EmailEventType = "BOUNCE"
	EventComplaint   EmailEventType = "COMPLAINT"
	EventUnsubscribe EmailEventType = "UNSUBSCRIBE"
)

// MarketingEmailEvent is an append-only log row. CampaignName and ShowID are
// stamped at dispatch time so frequency governance can be derived from the
// log alone.
type MarketingEmailEvent struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	CampaignID   string          `json:"campaign_id" db:"campaign_id"`
	CampaignName string          `json:"campaign_name,omitempty" db:"campaign_name"`
	ShowID       string          `json:"show_id,omitempty" db:"show_id"`
	ContactID    *string         `json:"contact_id,omitempty" db:"contact_id"`
	Email        string          `json:"email" db:"email"`
	Type         EmailEventType  `json:"type" db:"type"`
	Payload      json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
