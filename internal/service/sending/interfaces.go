// Package sending defines the delivery-provider contract and the dispatch
// path shared by campaigns and automations.
//
// Each provider (SES, SendGrid) implements Sender and SenderVerifier. The
// Dispatcher renders a recipient's message, waits on the rate limiter,
// hands the message to the provider with a bounded timeout and records a
// DELIVERED event on acceptance.
package sending

import (
	"context"

	"github.com/ignite/audience-engine/internal/domain"
)

// Sender sends a single email through a provider. Implementations must be
// safe for concurrent use and must return ErrProviderNotConfigured (wrapped
// or not) when credentials are missing, and a *TransportError otherwise.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// SenderVerifier reports whether the provider has a verified identity for
// the domain of fromEmail.
type SenderVerifier interface {
	VerifySender(ctx context.Context, fromEmail string) (bool, error)
}

// Provider is a Sender that can also verify sender domains.
type Provider interface {
	Sender
	SenderVerifier
}

// Renderer merges a template with a recipient's merge context.
type Renderer interface {
	Render(tpl *domain.EmailTemplate, vars map[string]string) (subject, html, text string, err error)
}

// Limiter paces dispatches. Wait blocks until a send slot is available and
// returns ErrDailyLimitReached when today's budget is spent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// EventLog appends to the marketing email event log.
type EventLog interface {
	Append(ctx context.Context, events ...domain.MarketingEmailEvent) error
}

// LinkBuilder produces the signed public links embedded in every message.
type LinkBuilder interface {
	UnsubscribeURL(tenantID, email string) (string, error)
	PreferencesURL(tenantID, email string) (string, error)
}
