package tracking

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/httputil"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/service/suppression"
)

// Subscriptions changes a recipient's marketing opt-in.
type Subscriptions interface {
	Unsubscribe(ctx context.Context, tenantID, email, reason string) error
	Resubscribe(ctx context.Context, tenantID, email string) error
}

// PreferenceStore reads and replaces a contact's topic preferences.
type PreferenceStore interface {
	// GetByEmail returns nil, nil when the contact does not exist.
	GetByEmail(ctx context.Context, tenantID, email string) (*domain.Contact, error)
	SetPreferences(ctx context.Context, tenantID, email string, prefs []string) error
}

// WebhookIngestor processes a raw provider webhook body.
type WebhookIngestor interface {
	IngestRaw(ctx context.Context, token string, body []byte) (suppression.IngestResult, error)
}

type Handler struct {
	signer *Signer
	subs   Subscriptions
	prefs  PreferenceStore
	ingest WebhookIngestor
	log    *logger.Entry
}

func NewHandler(signer *Signer, subs Subscriptions, prefs PreferenceStore, ingest WebhookIngestor) *Handler {
	return &Handler{
		signer: signer,
		subs:   subs,
		prefs:  prefs,
		ingest: ingest,
		log:    logger.With("component", "tracking"),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/unsubscribe/{token}", h.HandleConfirmUnsubscribe)
	r.Post("/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/preferences/{token}", h.HandleGetPreferences)
	r.Put("/preferences/{token}", h.HandlePutPreferences)
	r.Post("/webhooks/provider", h.HandleWebhook)
	r.Get("/health", h.HandleHealth)
	return r
}

var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>Unsubscribe</h1>
<p>Stop sending marketing emails to {{.}}?</p>
<form method="post"><input type="hidden" name="confirm" value="yes"><button type="submit">Unsubscribe</button></form>
</body></html>`))

var unsubscribedPage = template.Must(template.New("unsub").Parse(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>You have been unsubscribed</h1>
<p>{{.}} will no longer receive marketing emails from us.</p>
</body></html>`))

// oneClickValue is the form body mail clients send for List-Unsubscribe-Post
// (RFC 8058).
const oneClickValue = "One-Click"

// HandleConfirmUnsubscribe answers the link click with a confirmation form.
// GET never changes state: link scanners and mail previews follow it.
func (h *Handler) HandleConfirmUnsubscribe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.verify(w, r)
	if !ok {
		return
	}
	httputil.HTML(w, http.StatusOK, confirmPage, p.Email)
}

// HandleUnsubscribe performs the unsubscribe for both the confirmation form
// and the one-click request. One-click callers get JSON back.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.verify(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes)
	oneClick := r.PostFormValue("List-Unsubscribe") == oneClickValue
	if err := h.subs.Unsubscribe(r.Context(), p.TenantID, p.Email, "unsubscribe link"); err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	h.log.Info("unsubscribed via link", "tenant_id", p.TenantID, "email", p.Email, "one_click", oneClick)

	if oneClick {
		httputil.OK(w, map[string]string{"status": "unsubscribed"})
		return
	}
	httputil.HTML(w, http.StatusOK, unsubscribedPage, p.Email)
}

type preferencesView struct {
	Email       string               `json:"email"`
	Consent     domain.ConsentStatus `json:"consent_status"`
	Preferences []string             `json:"preferences"`
}

func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, ok := h.verify(w, r)
	if !ok {
		return
	}
	c, err := h.prefs.GetByEmail(r.Context(), p.TenantID, p.Email)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if c == nil {
		httputil.Error(w, r, http.StatusNotFound, "not_found", "contact not found")
		return
	}
	prefs := c.Preferences
	if prefs == nil {
		prefs = []string{}
	}
	httputil.OK(w, preferencesView{Email: p.Email, Consent: c.ConsentStatus, Preferences: prefs})
}

type preferencesUpdate struct {
	Preferences []string `json:"preferences"`
	Subscribed  *bool    `json:"subscribed,omitempty"`
}

// HandlePutPreferences replaces the topic list and optionally flips the
// marketing opt-in.
func (h *Handler) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	p, ok := h.verify(w, r)
	if !ok {
		return
	}
	var body preferencesUpdate
	if !httputil.Decode(w, r, &body) {
		return
	}
	ctx := r.Context()

	c, err := h.prefs.GetByEmail(ctx, p.TenantID, p.Email)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if c == nil {
		httputil.Error(w, r, http.StatusNotFound, "not_found", "contact not found")
		return
	}

	prefs := normalizeTopics(body.Preferences)
	if err := h.prefs.SetPreferences(ctx, p.TenantID, p.Email, prefs); err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	consent := c.ConsentStatus
	if body.Subscribed != nil {
		if *body.Subscribed {
			err = h.subs.Resubscribe(ctx, p.TenantID, p.Email)
			consent = domain.ConsentSubscribed
		} else {
			err = h.subs.Unsubscribe(ctx, p.TenantID, p.Email, "preference centre")
			consent = domain.ConsentUnsubscribed
		}
		if errors.Is(err, suppression.ErrPermanent) {
			httputil.Error(w, r, http.StatusConflict, "suppressed", "this address cannot be resubscribed")
			return
		}
		if err != nil {
			httputil.InternalError(w, r, err)
			return
		}
	}
	httputil.OK(w, preferencesView{Email: p.Email, Consent: consent, Preferences: prefs})
}

// HandleWebhook feeds a provider event batch to the ingestor. The shared
// token arrives as ?token= or the X-Webhook-Token header.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}
	body, err := httputil.ReadBody(w, r)
	if err != nil {
		httputil.BadRequest(w, r, "unreadable body")
		return
	}
	res, err := h.ingest.IngestRaw(r.Context(), token, body)
	switch {
	case errors.Is(err, suppression.ErrUnauthorized):
		h.log.Warn("webhook rejected", "remote", realIP(r))
		httputil.Error(w, r, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	case err != nil:
		httputil.BadRequest(w, r, err.Error())
		return
	}
	httputil.OK(w, res)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// verify decodes the {token} path parameter, writing 400 or 410 on failure.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) (TokenPayload, bool) {
	p, err := h.signer.Verify(chi.URLParam(r, "token"))
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, ErrTokenExpired):
		httputil.Error(w, r, http.StatusGone, "token_expired", "this link has expired")
	case errors.Is(err, ErrNoSecret):
		httputil.InternalError(w, r, err)
	default:
		httputil.BadRequest(w, r, "invalid link")
	}
	return TokenPayload{}, false
}

func normalizeTopics(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
