package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
// Transitions only move forward: draft → scheduled → sending → sent|failed.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignSent      CampaignStatus = "SENT"
	CampaignFailed    CampaignStatus = "FAILED"
)

// Campaign is a single marketing send to a segment (or an inline rule set)
// of a tenant's contacts.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	Name            string         `json:"name" db:"name"`
	TemplateID      string         `json:"template_id" db:"template_id"`
	SegmentID       *string        `json:"segment_id,omitempty" db:"segment_id"`
	RulesOverride   []byte         `json:"rules_override,omitempty" db:"rules_override"`
	ShowID          *string        `json:"show_id,omitempty" db:"show_id"`
	Status          CampaignStatus `json:"status" db:"status"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedByUserID string         `json:"created_by_user_id" db:"created_by_user_id"`
	FromName        string         `json:"from_name" db:"from_name"`
	FromEmail       string         `json:"from_email" db:"from_email"`
	ReplyTo         string         `json:"reply_to,omitempty" db:"reply_to"`
	FailureReason   string         `json:"failure_reason,omitempty" db:"failure_reason"`
	Materialized    bool           `json:"materialized" db:"materialized"`

	// Stats (read-only, populated on completion)
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed
}

// ShowRef returns the linked show id or "" when the campaign is not show-linked.
func (c *Campaign) ShowRef() string {
	if c.ShowID == nil {
		return ""
	}
	return *c.ShowID
}

// RecipientStatus enumerates the dispatch state of a single campaign recipient.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "PENDING"
	RecipientSent       RecipientStatus = "SENT"
	RecipientFailed     RecipientStatus = "FAILED"
	RecipientSuppressed RecipientStatus = "SUPPRESSED"
)

// IsTerminal reports whether the recipient has a final dispatch outcome.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientFailed || s == RecipientSuppressed
}

// CampaignRecipient is one materialized row of a campaign's send list.
// (CampaignID, ContactID) is unique.
type CampaignRecipient struct {
	ID                string            `json:"id" db:"id"`
	TenantID          string            `json:"tenant_id" db:"tenant_id"`
	CampaignID        string            `json:"campaign_id" db:"campaign_id"`
	ContactID         string            `json:"contact_id" db:"contact_id"`
	Email             string            `json:"email" db:"email"`
	MergeContext      map[string]string `json:"merge_context" db:"merge_context"`
	Status            RecipientStatus   `json:"status" db:"status"`
	Attempts          int               `json:"attempts" db:"attempts"`
	LastError         string            `json:"last_error,omitempty" db:"last_error"`
	ProviderMessageID string            `json:"provider_message_id,omitempty" db:"provider_message_id"`
	SentAt            *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
}
