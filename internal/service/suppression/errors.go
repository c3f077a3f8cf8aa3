package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound = errors.New("suppression entry not found")

	// ErrPermanent is returned when removing a hard bounce or spam complaint.
	ErrPermanent = errors.New("suppression is permanent")

	// ErrUnauthorized rejects a whole webhook batch whose token does not match.
	ErrUnauthorized = errors.New("webhook token mismatch")

	ErrEmailRequired = errors.New("email is required")
)
