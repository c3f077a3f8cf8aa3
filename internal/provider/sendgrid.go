package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httpretry"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/service/sending"
)

const sendGridBaseURL = "https://api.sendgrid.com/v3"

// SendGrid sends through the SendGrid v3 Mail Send API. Correlation ids go
// in custom_args so webhook events can be traced back to the tenant,
// campaign and contact.
type SendGrid struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
	log     *logger.Entry
}

// NewSendGrid creates a SendGrid provider. A nil client gets a retrying
// http.Client; an empty baseURL targets the public API.
func NewSendGrid(apiKey, baseURL string, client httpretry.HTTPDoer) *SendGrid {
	if baseURL == "" {
		baseURL = sendGridBaseURL
	}
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	}
	return &SendGrid{apiKey: apiKey, baseURL: baseURL, client: client, log: logger.With("component", "sendgrid")}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To         []sgAddress       `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

// Send delivers one message.
func (s *SendGrid) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("%w: SendGrid API key missing", sending.ErrProviderNotConfigured)
	}

	mail := sgMail{
		Personalizations: []sgPersonalization{{
			To:         []sgAddress{{Email: msg.Email}},
			CustomArgs: msg.Metadata,
			Headers:    msg.Headers,
		}},
		From:    sgAddress{Email: msg.FromEmail, Name: msg.FromName},
		Subject: msg.Subject,
	}
	if msg.TextContent != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/plain", Value: msg.TextContent})
	}
	mail.Content = append(mail.Content, sgContent{Type: "text/html", Value: msg.HTMLContent})
	if msg.ReplyTo != "" {
		mail.ReplyTo = &sgAddress{Email: msg.ReplyTo}
	}

	body, err := json.Marshal(mail)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPost, "/mail/send", body)
	if err != nil {
		return nil, &sending.TransportError{Provider: "sendgrid", Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	id := resp.Header.Get("X-Message-Id")
	if id == "" {
		id = uuid.New().String()
	}
	s.log.Debug("sent", "email", msg.Email, "message_id", id)
	return &domain.SendResult{MessageID: id, Provider: domain.ProviderSendGrid, SentAt: time.Now()}, nil
}

// VerifySender reports whether the from-address's domain is an
// authenticated, valid SendGrid domain.
func (s *SendGrid) VerifySender(ctx context.Context, fromEmail string) (bool, error) {
	if s.apiKey == "" {
		return false, fmt.Errorf("%w: SendGrid API key missing", sending.ErrProviderNotConfigured)
	}
	d, err := sending.SenderDomain(fromEmail)
	if err != nil {
		return false, nil
	}
	resp, err := s.do(ctx, http.MethodGet, "/whitelabel/domains?domain="+url.QueryEscape(d), nil)
	if err != nil {
		return false, fmt.Errorf("list authenticated domains: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return false, err
	}

	var domains []struct {
		Domain string `json:"domain"`
		Valid  bool   `json:"valid"`
	}
	if err := json.Unmarshal(body, &domains); err != nil {
		return false, fmt.Errorf("decode authenticated domains: %w", err)
	}
	for _, ad := range domains {
		if ad.Valid && strings.EqualFold(ad.Domain, d) {
			return true, nil
		}
	}
	return false, nil
}

func (s *SendGrid) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.client.Do(req)
}

// classifyStatus maps credential failures to configuration errors and the
// rest of the 4xx/5xx range to transport errors.
func classifyStatus(status int, body []byte) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: sendgrid status %d", sending.ErrProviderNotConfigured, status)
	default:
		return &sending.TransportError{Provider: "sendgrid", StatusCode: status, Err: fmt.Errorf("%s", bytes.TrimSpace(body))}
	}
}
