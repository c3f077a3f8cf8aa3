package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Envelope is the per-send context shared by every recipient of a campaign
// or automation step.
type Envelope struct {
	TenantID     string
	CampaignID   string
	CampaignName string
	ShowID       string
	FromName     string
	FromEmail    string
	ReplyTo      string
	Template     *domain.EmailTemplate
}

// Dispatcher delivers one recipient at a time.
type Dispatcher struct {
	sender   Sender
	renderer Renderer
	limiter  Limiter
	events   EventLog
	links    LinkBuilder
	timeout  time.Duration
	log      *logger.Entry
	now      func() time.Time
}

// NewDispatcher wires a dispatcher. limiter and links may be nil.
func NewDispatcher(sender Sender, renderer Renderer, limiter Limiter, events EventLog, links LinkBuilder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		sender:   sender,
		renderer: renderer,
		limiter:  limiter,
		events:   events,
		links:    links,
		timeout:  timeout,
		log:      logger.With("component", "dispatcher"),
		now:      time.Now,
	}
}

// Dispatch renders, paces and sends r's message. On provider acceptance a
// DELIVERED event stamped with the campaign name and show id is appended.
// Errors are ErrDailyLimitReached, a configuration error (see IsFatal) or a
// per-recipient error.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope, r *domain.CampaignRecipient) (*domain.SendResult, error) {
	if d.sender == nil {
		return nil, ErrProviderNotConfigured
	}
	if env.Template == nil {
		return nil, fmt.Errorf("envelope for %s has no template", env.CampaignID)
	}

	msg, err := d.build(env, r)
	if err != nil {
		return nil, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.sender.Send(sendCtx, msg)
	if err != nil {
		var te *TransportError
		if IsFatal(err) || errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{Provider: "provider", Err: err}
	}

	contactID := r.ContactID
	ev := domain.MarketingEmailEvent{
		ID:           uuid.New().String(),
		TenantID:     env.TenantID,
		CampaignID:   env.CampaignID,
		CampaignName: env.CampaignName,
		ShowID:       env.ShowID,
		ContactID:    &contactID,
		Email:        r.Email,
		Type:         domain.EventDelivered,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.events.Append(ctx, ev); err != nil {
		d.log.Error("record delivered event failed", "campaign_id", env.CampaignID, "email", r.Email, "error", err)
	}
	return res, nil
}

func (d *Dispatcher) build(env Envelope, r *domain.CampaignRecipient) (*domain.EmailMessage, error) {
	vars := make(map[string]string, len(r.MergeContext)+2)
	for k, v := range r.MergeContext {
		vars[k] = v
	}
	headers := map[string]string{}
	if d.links != nil {
		unsub, err := d.links.UnsubscribeURL(env.TenantID, r.Email)
		if err != nil {
			return nil, fmt.Errorf("unsubscribe link: %w: %w", ErrLinksNotConfigured, err)
		}
		prefs, err := d.links.PreferencesURL(env.TenantID, r.Email)
		if err != nil {
			return nil, fmt.Errorf("preferences link: %w: %w", ErrLinksNotConfigured, err)
		}
		vars["unsubscribe_url"] = unsub
		vars["preferences_url"] = prefs
		headers["List-Unsubscribe"] = "<" + unsub + ">"
		headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}

	subject, html, text, err := d.renderer.Render(env.Template, vars)
	if err != nil {
		return nil, fmt.Errorf("render template %s: %w", env.Template.ID, err)
	}
	return &domain.EmailMessage{
		TenantID:    env.TenantID,
		CampaignID:  env.CampaignID,
		ContactID:   r.ContactID,
		Email:       r.Email,
		FromName:    env.FromName,
		FromEmail:   env.FromEmail,
		ReplyTo:     env.ReplyTo,
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
		Headers:     headers,
		Metadata: map[string]string{
			"tenantId":   env.TenantID,
			"campaignId": env.CampaignID,
			"contactId":  r.ContactID,
		},
	}, nil
}
