package segmentation

import (
	"strings"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

// Overrides are per-tenant alias tables consulted by venue and category
// rules. Keys and values are compared case-insensitively; a rule value that
// appears as a key also matches any of its aliases.
type Overrides struct {
	VenueAliases    map[string][]string `json:"venue_aliases,omitempty"`
	CategoryAliases map[string][]string `json:"category_aliases,omitempty"`
}

// Matches reports whether contact satisfies every rule. An empty rule set
// matches everyone; an invalid or unknown rule never matches.
func Matches(contact *domain.Contact, rules []Rule, stats domain.OrderStats, ov Overrides) bool {
	if contact == nil {
		return false
	}
	now := stats.AsOf
	if now.IsZero() {
		now = time.Now()
	}
	for _, r := range rules {
		if !evaluate(contact, r, stats, ov, now) {
			return false
		}
	}
	return true
}

func evaluate(c *domain.Contact, r Rule, s domain.OrderStats, ov Overrides, now time.Time) bool {
	if !r.wellFormed() {
		return false
	}
	switch r.Kind {
	case RuleHasTag:
		return c.HasTag(r.Value)
	case RuleHasPreference:
		return c.HasPreference(r.Value)
	case RuleLastPurchaseOlderThan:
		if s.LastPurchaseAt == nil {
			return true
		}
		return now.Sub(*s.LastPurchaseAt) > time.Duration(r.Days)*24*time.Hour
	case RuleNeverPurchased:
		return !s.HasPurchased()
	case RuleTotalSpentAtLeast:
		return s.HasPurchased() && s.LifetimeSpendPence >= r.AmountPence
	case RuleSpentLast90DaysAtLeast:
		return s.HasPurchased() && s.Spend90dPence >= r.AmountPence
	case RulePurchaseCountAtLeast:
		return s.HasPurchased() && s.PurchaseCount >= r.Count
	case RulePurchasedCategoryContains:
		return anyContains(s.Categories, expand(r.Value, ov.CategoryAliases))
	case RuleAttendedVenue:
		return anyEqual(s.Venues, expand(r.Value, ov.VenueAliases))
	case RulePurchasedTown:
		return anyEqual(s.Towns, []string{norm(r.Value)})
	case RulePurchasedCounty:
		return anyEqual(s.Counties, []string{norm(r.Value)})
	case RulePurchasedEventType:
		return anyEqual(s.EventTypes, []string{norm(r.Value)})
	}
	return false
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// expand returns the normalized value plus its aliases.
func expand(value string, aliases map[string][]string) []string {
	v := norm(value)
	out := []string{v}
	for k, list := range aliases {
		if norm(k) != v {
			continue
		}
		for _, a := range list {
			if a = norm(a); a != "" {
				out = append(out, a)
			}
		}
	}
	return out
}

func anyEqual(set map[string]struct{}, wants []string) bool {
	for _, w := range wants {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func anyContains(set map[string]struct{}, wants []string) bool {
	for have := range set {
		for _, w := range wants {
			if strings.Contains(have, w) {
				return true
			}
		}
	}
	return false
}
