// Package segmentation evaluates segment rule sets against a contact and the
// order statistics derived for it. Evaluation is pure: no I/O, no clock reads
// beyond the as-of instant carried on the stats.
package segmentation

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RuleKind tags a segment rule. The set is closed; any other tag decodes to a
// rule that never matches.
type RuleKind string

const (
	RuleHasTag                    RuleKind = "HAS_TAG"
	RuleHasPreference             RuleKind = "HAS_PREFERENCE"
	RuleLastPurchaseOlderThan     RuleKind = "LAST_PURCHASE_OLDER_THAN"
	RuleNeverPurchased            RuleKind = "NEVER_PURCHASED"
	RuleTotalSpentAtLeast         RuleKind = "TOTAL_SPENT_AT_LEAST"
	RuleSpentLast90DaysAtLeast    RuleKind = "SPENT_LAST_90_DAYS_AT_LEAST"
	RulePurchaseCountAtLeast      RuleKind = "PURCHASE_COUNT_AT_LEAST"
	RulePurchasedCategoryContains RuleKind = "PURCHASED_CATEGORY_CONTAINS"
	RuleAttendedVenue             RuleKind = "ATTENDED_VENUE"
	RulePurchasedTown             RuleKind = "PURCHASED_TOWN"
	RulePurchasedCounty           RuleKind = "PURCHASED_COUNTY"
	RulePurchasedEventType        RuleKind = "PURCHASED_EVENT_TYPE"

	// ruleInvalid marks an entry that could not be decoded.
	ruleInvalid RuleKind = ""
)

// Rule is one predicate of a segment. Which field is meaningful depends on
// Kind: Value for tag/preference/set-membership kinds, Days for
// LAST_PURCHASE_OLDER_THAN, AmountPence for spend kinds, Count for
// PURCHASE_COUNT_AT_LEAST.
type Rule struct {
	Kind        RuleKind `json:"type"`
	Value       string   `json:"value,omitempty"`
	Days        int      `json:"days,omitempty"`
	AmountPence int64    `json:"amountPence,omitempty"`
	Count       int      `json:"count,omitempty"`
}

// HasTag builds a HAS_TAG rule.
func HasTag(tag string) Rule { return Rule{Kind: RuleHasTag, Value: tag} }

// LastPurchaseOlderThan builds a LAST_PURCHASE_OLDER_THAN rule.
func LastPurchaseOlderThan(days int) Rule { return Rule{Kind: RuleLastPurchaseOlderThan, Days: days} }

// TotalSpentAtLeast builds a TOTAL_SPENT_AT_LEAST rule from an amount in pence.
func TotalSpentAtLeast(pence int64) Rule { return Rule{Kind: RuleTotalSpentAtLeast, AmountPence: pence} }

// PurchasedCategoryContains builds a PURCHASED_CATEGORY_CONTAINS rule.
func PurchasedCategoryContains(category string) Rule {
	return Rule{Kind: RulePurchasedCategoryContains, Value: category}
}

// AttendedVenue builds an ATTENDED_VENUE rule.
func AttendedVenue(venueID string) Rule { return Rule{Kind: RuleAttendedVenue, Value: venueID} }

// wireRule is the stored JSON shape. "amount" is in major currency units and
// "amountPence" wins when both are present.
type wireRule struct {
	Type        string          `json:"type"`
	Kind        string          `json:"kind"`
	Value       json.RawMessage `json:"value"`
	Days        *float64        `json:"days"`
	Amount      *float64        `json:"amount"`
	AmountPence *int64          `json:"amountPence"`
	Count       *float64        `json:"count"`
}

// UnmarshalJSON decodes a stored rule. It never fails: an entry that cannot
// be understood becomes an invalid rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	*r = decodeRule(data)
	return nil
}

func decodeRule(data []byte) Rule {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return Rule{}
	}
	kind := w.Type
	if kind == "" {
		kind = w.Kind
	}
	r := Rule{Kind: RuleKind(strings.ToUpper(strings.TrimSpace(kind)))}

	if len(w.Value) > 0 {
		v, ok := scalarString(w.Value)
		if !ok {
			return Rule{}
		}
		r.Value = v
	}
	if w.Days != nil {
		if *w.Days != math.Trunc(*w.Days) {
			return Rule{}
		}
		r.Days = int(*w.Days)
	}
	switch {
	case w.AmountPence != nil:
		r.AmountPence = *w.AmountPence
	case w.Amount != nil:
		r.AmountPence = int64(math.Round(*w.Amount * 100))
	}
	if w.Count != nil {
		if *w.Count != math.Trunc(*w.Count) {
			return Rule{}
		}
		r.Count = int(*w.Count)
	}
	if !r.wellFormed() || !w.hasThreshold(r.Kind) {
		return Rule{}
	}
	return r
}

// hasThreshold reports whether the numeric field a kind compares against was
// present in the stored rule. A zero value left by omission would otherwise
// match almost every contact.
func (w *wireRule) hasThreshold(kind RuleKind) bool {
	switch kind {
	case RuleLastPurchaseOlderThan:
		return w.Days != nil
	case RuleTotalSpentAtLeast, RuleSpentLast90DaysAtLeast:
		return w.Amount != nil || w.AmountPence != nil
	case RulePurchaseCountAtLeast:
		return w.Count != nil
	}
	return true
}

// scalarString accepts a JSON string or number. Numeric ids are common for
// venues.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// wellFormed reports whether the fields required by Kind are present and sane.
func (r Rule) wellFormed() bool {
	switch r.Kind {
	case RuleHasTag, RuleHasPreference, RulePurchasedCategoryContains, RuleAttendedVenue,
		RulePurchasedTown, RulePurchasedCounty, RulePurchasedEventType:
		return strings.TrimSpace(r.Value) != ""
	case RuleLastPurchaseOlderThan:
		return r.Days >= 0
	case RuleTotalSpentAtLeast, RuleSpentLast90DaysAtLeast:
		return r.AmountPence >= 0
	case RulePurchaseCountAtLeast:
		return r.Count >= 0
	case RuleNeverPurchased:
		return true
	default:
		return false
	}
}

// ParseRules decodes a stored rule set. Empty or null input yields an empty
// set, which matches every contact. Input that is not a JSON array yields a
// single invalid rule so a corrupt segment matches nobody.
func ParseRules(raw []byte) []Rule {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []Rule{{}}
	}
	rules := make([]Rule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, decodeRule(e))
	}
	return rules
}
