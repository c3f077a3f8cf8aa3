package sending

import (
	"errors"
	"fmt"
)

// Configuration errors. Each is fatal for the campaign being sent.
var (
	ErrProviderNotConfigured = errors.New("delivery provider not configured")
	ErrSenderNotVerified     = errors.New("sender domain not verified")

	// ErrLinksNotConfigured means the signed unsubscribe and preferences
	// links cannot be built. Marketing mail never goes out without them.
	ErrLinksNotConfigured = errors.New("unsubscribe links not configured")
)

// ErrDailyLimitReached defers the remaining recipients to a later tick.
var ErrDailyLimitReached = errors.New("daily send limit reached")

// TransportError is a per-recipient delivery failure. The recipient stays
// un-sent and is retried on a later tick.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s transport error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts the whole campaign rather than one
// recipient.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProviderNotConfigured) ||
		errors.Is(err, ErrSenderNotVerified) ||
		errors.Is(err, ErrLinksNotConfigured)
}
