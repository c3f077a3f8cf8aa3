// Package tracking serves the public links embedded in marketing email
// (unsubscribe and preferences) and the delivery-provider webhook.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("token secret not configured")
)

// DefaultTokenTTL is how long a link in a sent email keeps working.
const DefaultTokenTTL = 90 * 24 * time.Hour

var b64 = base64.RawURLEncoding

// TokenPayload is the signed body of an unsubscribe/preferences token.
// Exp is Unix seconds.
type TokenPayload struct {
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	Exp      int64  `json:"exp"`
}

// Signer creates and verifies stateless link tokens and builds the public
// URLs that carry them.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner returns a Signer. baseURL is the public origin of the tracking
// server, e.g. https://mail.example.com.
func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CreateToken signs p.
func (s *Signer) CreateToken(p TokenPayload) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	encoded := b64.EncodeToString(body)
	return encoded + "." + b64.EncodeToString(s.sign(encoded)), nil
}

// Verify checks the signature in constant time, then the expiry.
func (s *Signer) Verify(token string) (TokenPayload, error) {
	if len(s.secret) == 0 {
		return TokenPayload{}, ErrNoSecret
	}
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	got, err := b64.DecodeString(sig)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	if !hmac.Equal(got, s.sign(encoded)) {
		return TokenPayload{}, ErrInvalidToken
	}
	body, err := b64.DecodeString(encoded)
	if err != nil {
		return TokenPayload{}, ErrInvalidToken
	}
	var p TokenPayload
	if err := json.Unmarshal(body, &p); err != nil || p.TenantID == "" || p.Email == "" {
		return TokenPayload{}, ErrInvalidToken
	}
	if p.Exp <= s.now().Unix() {
		return TokenPayload{}, ErrTokenExpired
	}
	return p, nil
}

func (s *Signer) sign(encoded string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}

// UnsubscribeURL returns the one-click unsubscribe link for (tenant, email).
func (s *Signer) UnsubscribeURL(tenantID, email string) (string, error) {
	return s.link("/unsubscribe/", tenantID, email)
}

// PreferencesURL returns the preference-centre link for (tenant, email).
func (s *Signer) PreferencesURL(tenantID, email string) (string, error) {
	return s.link("/preferences/", tenantID, email)
}

func (s *Signer) link(path, tenantID, email string) (string, error) {
	tok, err := s.CreateToken(TokenPayload{
		TenantID: tenantID,
		Email:    domain.NormalizeEmail(email),
		Exp:      s.now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	return s.baseURL + path + url.PathEscape(tok), nil
}
