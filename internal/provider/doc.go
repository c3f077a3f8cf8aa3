// Package provider holds the concrete delivery providers: AWS SES v2 and
// SendGrid v3. Both implement sending.Provider and classify failures into
// the sending error taxonomy: missing credentials and unverified senders
// are configuration errors, everything else is a per-recipient
// TransportError.
package provider
