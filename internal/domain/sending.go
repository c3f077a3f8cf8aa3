package domain

import "time"

// ProviderType identifies the delivery provider used for sending.
type ProviderType string

const (
	ProviderSES      ProviderType = "ses"
	ProviderSendGrid ProviderType = "sendgrid"
)

// EmailMessage is the fully-resolved message ready for a delivery provider.
// By the time a message reaches this struct, all template substitution and
// header generation is complete.
type EmailMessage struct {
	TenantID    string            `json:"tenant_id"`
	CampaignID  string            `json:"campaign_id"`
	ContactID   string            `json:"contact_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	// Metadata is echoed back by the provider on webhook events.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SendResult is returned by a provider after accepting a message.
type SendResult struct {
	MessageID string       `json:"message_id"`
	Provider  ProviderType `json:"provider"`
	SentAt    time.Time    `json:"sent_at"`
}

// EmailTemplate is the tenant-owned content a campaign or automation step
// renders per recipient.
type EmailTemplate struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
	Subject  string `json:"subject" db:"subject"`
	HTML     string `json:"html" db:"html"`
	Text     string `json:"text,omitempty" db:"text"`
}
