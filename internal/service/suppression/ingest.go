package suppression

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// providerEventTypes is the fixed mapping from provider event names to
// internal event types. Anything else is skipped.
var providerEventTypes = map[string]domain.EmailEventType{
	"delivered":   domain.EventDelivered,
	"bounce":      domain.EventBounce,
	"spamreport":  domain.EventComplaint,
	"open":        domain.EventOpen,
	"click":       domain.EventClick,
	"unsubscribe": domain.EventUnsubscribe,
}

// ProviderEvent is one entry of a webhook batch. Correlation ids are read
// from custom_args, falling back to top-level fields for providers that
// flatten them.
type ProviderEvent struct {
	Email      string            `json:"email"`
	Event      string            `json:"event"`
	Reason     string            `json:"reason,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	MessageID  string            `json:"sg_message_id,omitempty"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
	TenantID   string            `json:"tenantId,omitempty"`
	CampaignID string            `json:"campaignId,omitempty"`
	ContactID  string            `json:"contactId,omitempty"`

	raw json.RawMessage
}

func (e *ProviderEvent) arg(key, fallback string) string {
	if v := strings.TrimSpace(e.CustomArgs[key]); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// ParseBatch decodes a webhook body. Entries that cannot be decoded are
// returned as zero events so they are counted and skipped downstream.
// Only a body that is not a JSON array is an error.
func ParseBatch(body []byte) ([]ProviderEvent, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode webhook batch: %w", err)
	}
	events := make([]ProviderEvent, len(entries))
	for i, raw := range entries {
		var generic map[string]json.RawMessage
		if err := json.Unmarshal(raw, &generic); err != nil {
			continue
		}
		ev := ProviderEvent{raw: raw}
		_ = json.Unmarshal(raw, &ev)
		if args, ok := generic["custom_args"]; ok {
			ev.CustomArgs = stringMap(args)
		}
		events[i] = ev
	}
	return events, nil
}

// stringMap decodes an object whose values may be strings or numbers.
func stringMap(raw json.RawMessage) map[string]string {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}

// IngestResult summarizes one batch.
type IngestResult struct {
	Received   int `json:"received"`
	Recorded   int `json:"recorded"`
	Suppressed int `json:"suppressed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Archiver stores raw webhook bodies for audit. Failures never block ingestion.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// Ingestor consumes provider webhook batches, appends them to the event log
// and upserts suppressions for bounces, spam reports and unsubscribes.
type Ingestor struct {
	svc      *Service
	events   EventLog
	token    string
	archiver Archiver
	log      *logger.Entry
	now      func() time.Time
}

// NewIngestor creates an Ingestor. An empty token disables the check.
func NewIngestor(svc *Service, events EventLog, token string) *Ingestor {
	return &Ingestor{
		svc:    svc,
		events: events,
		token:  token,
		log:    logger.With("component", "suppression-ingest"),
		now:    time.Now,
	}
}

// WithArchiver enables raw batch archiving.
func (i *Ingestor) WithArchiver(a Archiver) *Ingestor {
	i.archiver = a
	return i
}

// Authorize compares the presented token in constant time.
func (i *Ingestor) Authorize(presented string) error {
	if i.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(i.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// IngestRaw authorizes, archives, decodes and ingests a webhook body.
func (i *Ingestor) IngestRaw(ctx context.Context, presentedToken string, body []byte) (IngestResult, error) {
	if err := i.Authorize(presentedToken); err != nil {
		return IngestResult{}, err
	}
	if i.archiver != nil {
		key := fmt.Sprintf("webhooks/%s/%s.json", i.now().UTC().Format("2006/01/02"), uuid.New().String())
		if err := i.archiver.Archive(ctx, key, body); err != nil {
			i.log.Warn("archive webhook batch failed", "key", key, "error", err)
		}
	}
	events, err := ParseBatch(body)
	if err != nil {
		return IngestResult{}, err
	}
	return i.ingest(ctx, events), nil
}

// Ingest authorizes and processes an already-decoded batch. Individual bad
// events are skipped; only a token mismatch fails the batch.
func (i *Ingestor) Ingest(ctx context.Context, presentedToken string, events []ProviderEvent) (IngestResult, error) {
	if err := i.Authorize(presentedToken); err != nil {
		return IngestResult{}, err
	}
	return i.ingest(ctx, events), nil
}

func (i *Ingestor) ingest(ctx context.Context, events []ProviderEvent) IngestResult {
	res := IngestResult{Received: len(events)}
	for n := range events {
		ev := &events[n]
		typ, ok := providerEventTypes[strings.ToLower(strings.TrimSpace(ev.Event))]
		tenantID := ev.arg("tenantId", ev.TenantID)
		campaignID := ev.arg("campaignId", ev.CampaignID)
		email := domain.NormalizeEmail(ev.Email)
		if !ok || tenantID == "" || campaignID == "" || email == "" {
			res.Skipped++
			continue
		}

		rec := domain.MarketingEmailEvent{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			CampaignID: campaignID,
			Email:      email,
			Type:       typ,
			Payload:    ev.raw,
			CreatedAt:  i.eventTime(ev),
		}
		if contactID := ev.arg("contactId", ev.ContactID); contactID != "" {
			rec.ContactID = &contactID
		}
		if err := i.events.Append(ctx, rec); err != nil {
			i.log.Error("append webhook event failed", "tenant_id", tenantID, "email", email, "error", err)
			res.Failed++
			continue
		}
		res.Recorded++

		var serr error
		switch typ {
		case domain.EventBounce:
			serr = i.svc.Suppress(ctx, tenantID, email, domain.SuppressionHardBounce, reasonOr(ev.Reason, "provider bounce"))
		case domain.EventComplaint:
			serr = i.svc.Suppress(ctx, tenantID, email, domain.SuppressionSpamComplaint, reasonOr(ev.Reason, "provider spam report"))
		case domain.EventUnsubscribe:
			serr = i.svc.Unsubscribe(ctx, tenantID, email, "provider unsubscribe")
		default:
			continue
		}
		if serr != nil {
			i.log.Error("suppression upsert failed", "tenant_id", tenantID, "email", email, "error", serr)
			res.Failed++
			continue
		}
		res.Suppressed++
	}
	i.log.Info("webhook batch processed",
		"received", res.Received, "recorded", res.Recorded,
		"suppressed", res.Suppressed, "skipped", res.Skipped, "failed", res.Failed)
	return res
}

func (i *Ingestor) eventTime(ev *ProviderEvent) time.Time {
	if ev.Timestamp > 0 {
		return time.Unix(ev.Timestamp, 0).UTC()
	}
	return i.now().UTC()
}

func reasonOr(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}
