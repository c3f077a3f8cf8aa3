package sending

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// SenderDomain extracts the lowercased domain of an address.
func SenderDomain(fromEmail string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(fromEmail))
	if err != nil {
		return "", fmt.Errorf("parse from address: %w", err)
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 || at == len(addr.Address)-1 {
		return "", fmt.Errorf("from address %q has no domain", fromEmail)
	}
	return strings.ToLower(addr.Address[at+1:]), nil
}

// AssertSenderVerified is the once-per-send gate run before any recipient
// is dispatched. With requireVerified off it only validates the address.
// A lookup failure is returned unwrapped so the caller can retry on the
// next tick instead of failing the campaign.
func AssertSenderVerified(ctx context.Context, v SenderVerifier, fromEmail string, requireVerified bool) error {
	domainName, err := SenderDomain(fromEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSenderNotVerified, err)
	}
	if !requireVerified {
		return nil
	}
	if v == nil {
		return fmt.Errorf("%w: no verifier for %s", ErrSenderNotVerified, domainName)
	}
	ok, err := v.VerifySender(ctx, fromEmail)
	if err != nil {
		return fmt.Errorf("verify sender %s: %w", domainName, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotVerified, domainName)
	}
	return nil
}
