package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/sending"
)

// Settings selects and configures the active provider.
type Settings struct {
	Name           string
	SES            SESConfig
	SendGridAPIKey string
	SendGridURL    string
}

// New builds the provider named in s. Missing credentials are not an error
// here; the provider reports ErrProviderNotConfigured when used.
func New(ctx context.Context, s Settings) (sending.Provider, error) {
	switch domain.ProviderType(strings.ToLower(strings.TrimSpace(s.Name))) {
	case domain.ProviderSES, "":
		return NewSES(ctx, s.SES), nil
	case domain.ProviderSendGrid:
		return NewSendGrid(s.SendGridAPIKey, s.SendGridURL, nil), nil
	default:
		return nil, fmt.Errorf("unknown delivery provider %q", s.Name)
	}
}
