package domain

import (
	"strings"
	"time"
)

// ConsentStatus is the contact-level marketing opt-in flag.
type ConsentStatus string

const (
	ConsentSubscribed   ConsentStatus = "SUBSCRIBED"
	ConsentUnsubscribed ConsentStatus = "UNSUBSCRIBED"
	ConsentPending      ConsentStatus = "PENDING"
	ConsentUnknown      ConsentStatus = "UNKNOWN"
)

// Contact is a tenant-scoped identity. Email is unique per tenant, compared
// case-insensitively.
type Contact struct {
	ID            string        `json:"id" db:"id"`
	TenantID      string        `json:"tenant_id" db:"tenant_id"`
	Email         string        `json:"email" db:"email"`
	FirstName     string        `json:"first_name,omitempty" db:"first_name"`
	LastName      string        `json:"last_name,omitempty" db:"last_name"`
	Town          string        `json:"town,omitempty" db:"town"`
	County        string        `json:"county,omitempty" db:"county"`
	Postcode      string        `json:"postcode,omitempty" db:"postcode"`
	ConsentStatus ConsentStatus `json:"consent_status" db:"consent_status"`
	Tags          []string      `json:"tags" db:"tags"`
	Preferences   []string      `json:"preferences" db:"preferences"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an address for comparisons and keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasTag reports whether the contact carries the tag (case-insensitive).
func (c *Contact) HasTag(tag string) bool {
	return containsFold(c.Tags, tag)
}

// HasPreference reports whether the contact opted into the topic.
func (c *Contact) HasPreference(topic string) bool {
	return containsFold(c.Preferences, topic)
}

func containsFold(values []string, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
