package logger

import "strings"

// RedactEmail keeps the first two characters of the local part and the
// domain: "john.doe@example.com" becomes "jo***@example.com". Local parts
// of two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactSecret keeps a short prefix of tokens and keys. Signed unsubscribe
// tokens embed the recipient address, so they are never logged whole.
func RedactSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
