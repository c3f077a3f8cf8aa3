package segmentation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func vipContact() *domain.Contact {
	return &domain.Contact{
		ID:            "c1",
		TenantID:      "tenant_1",
		Email:         "vip@example.com",
		ConsentStatus: domain.ConsentSubscribed,
		Tags:          []string{"vip", "newsletter"},
		Preferences:   []string{"comedy"},
	}
}

func vipStats() domain.OrderStats {
	return ComputeOrderStats([]domain.Order{
		{ContactID: "c1", Status: domain.OrderPaid, TotalPence: 30000, Category: "Comedy", VenueID: "venue_1",
			Town: "Leeds", County: "West Yorkshire", EventType: "live", PlacedAt: testNow.AddDate(0, 0, -20)},
		{ContactID: "c1", Status: domain.OrderPaid, TotalPence: 15000, Category: "Theatre", VenueID: "venue_2",
			PlacedAt: testNow.AddDate(0, 0, -200)},
	}, testNow)
}

func TestMatches_Conjunction(t *testing.T) {
	rules := []Rule{
		HasTag("vip"),
		LastPurchaseOlderThan(7),
		TotalSpentAtLeast(20000),
		PurchasedCategoryContains("comedy"),
		AttendedVenue("venue_1"),
	}
	assert.True(t, Matches(vipContact(), rules, vipStats(), Overrides{}))

	// Each rule flipped on its own breaks the conjunction.
	failing := []Rule{
		HasTag("gold"),
		LastPurchaseOlderThan(30),
		TotalSpentAtLeast(50000),
		PurchasedCategoryContains("opera"),
		AttendedVenue("venue_9"),
	}
	for i, bad := range failing {
		set := append([]Rule(nil), rules...)
		set[i] = bad
		assert.False(t, Matches(vipContact(), set, vipStats(), Overrides{}), "rule %d", i)
	}
}

func TestMatches_EmptyRulesMatchEveryone(t *testing.T) {
	assert.True(t, Matches(vipContact(), nil, domain.OrderStats{}, Overrides{}))
	assert.False(t, Matches(nil, nil, domain.OrderStats{}, Overrides{}))
}

func TestMatches_NeverPurchased(t *testing.T) {
	none := ComputeOrderStats(nil, testNow)
	c := vipContact()

	assert.True(t, Matches(c, []Rule{LastPurchaseOlderThan(90)}, none, Overrides{}))
	assert.True(t, Matches(c, []Rule{{Kind: RuleNeverPurchased}}, none, Overrides{}))
	assert.False(t, Matches(c, []Rule{TotalSpentAtLeast(0)}, none, Overrides{}))
	assert.False(t, Matches(c, []Rule{{Kind: RulePurchaseCountAtLeast, Count: 0}}, none, Overrides{}))
	assert.False(t, Matches(c, []Rule{{Kind: RuleNeverPurchased}}, vipStats(), Overrides{}))
}

func TestMatches_InvalidRulesFailClosed(t *testing.T) {
	c := vipContact()
	cases := []Rule{
		{},
		{Kind: "FAVOURITE_COLOUR", Value: "blue"},
		{Kind: RuleHasTag},
		{Kind: RuleLastPurchaseOlderThan, Days: -1},
	}
	for _, r := range cases {
		assert.False(t, Matches(c, []Rule{r}, vipStats(), Overrides{}), "%+v", r)
	}
}

func TestMatches_Aliases(t *testing.T) {
	ov := Overrides{
		VenueAliases:    map[string][]string{"Main Hall": {"venue_1"}},
		CategoryAliases: map[string][]string{"standup": {"comedy"}},
	}
	c := vipContact()
	assert.True(t, Matches(c, []Rule{AttendedVenue("main hall")}, vipStats(), ov))
	assert.True(t, Matches(c, []Rule{PurchasedCategoryContains("Standup")}, vipStats(), ov))
	assert.False(t, Matches(c, []Rule{AttendedVenue("main hall")}, vipStats(), Overrides{}))
}

func TestMatches_LocationAndPreference(t *testing.T) {
	c := vipContact()
	s := vipStats()
	assert.True(t, Matches(c, []Rule{
		{Kind: RulePurchasedTown, Value: "leeds"},
		{Kind: RulePurchasedCounty, Value: "West Yorkshire"},
		{Kind: RulePurchasedEventType, Value: "LIVE"},
		{Kind: RuleHasPreference, Value: "comedy"},
	}, s, Overrides{}))
	assert.False(t, Matches(c, []Rule{{Kind: RulePurchasedTown, Value: "york"}}, s, Overrides{}))
}

func TestParseRules(t *testing.T) {
	rules := ParseRules([]byte(`[
		{"type":"HAS_TAG","value":"vip"},
		{"type":"TOTAL_SPENT_AT_LEAST","amount":200},
		{"type":"ATTENDED_VENUE","value":42},
		{"type":"LAST_PURCHASE_OLDER_THAN","days":"seven"},
		{"type":"NOPE"},
		"garbage"
	]`))
	require.Len(t, rules, 6)
	assert.Equal(t, HasTag("vip"), rules[0])
	assert.Equal(t, TotalSpentAtLeast(20000), rules[1])
	assert.Equal(t, AttendedVenue("42"), rules[2])
	assert.Equal(t, Rule{}, rules[3])
	assert.Equal(t, Rule{}, rules[4])
	assert.Equal(t, Rule{}, rules[5])

	assert.Nil(t, ParseRules(nil))
	assert.Nil(t, ParseRules([]byte("null")))

	corrupt := ParseRules([]byte(`{"type":"HAS_TAG"}`))
	assert.False(t, Matches(vipContact(), corrupt, vipStats(), Overrides{}))
}

func TestParseRules_NumericThresholdRequired(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"spend with no amount", `[{"type":"TOTAL_SPENT_AT_LEAST"}]`},
		{"90 day spend with no amount", `[{"type":"SPENT_LAST_90_DAYS_AT_LEAST","value":100}]`},
		{"days under value", `[{"type":"LAST_PURCHASE_OLDER_THAN","value":365}]`},
		{"count under value", `[{"type":"PURCHASE_COUNT_AT_LEAST","value":"5"}]`},
		{"null days", `[{"type":"LAST_PURCHASE_OLDER_THAN","days":null}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := ParseRules([]byte(tt.raw))
			require.Len(t, rules, 1)
			assert.Equal(t, Rule{}, rules[0])
			assert.False(t, Matches(vipContact(), rules, vipStats(), Overrides{}))
		})
	}

	explicitZero := ParseRules([]byte(`[{"type":"PURCHASE_COUNT_AT_LEAST","count":0}]`))
	assert.Equal(t, RulePurchaseCountAtLeast, explicitZero[0].Kind)
}

func TestParseRules_CorruptSet(t *testing.T) {
	corrupt := ParseRules([]byte(`{"type":"HAS_TAG"}`))
	assert.False(t, Matches(vipContact(), corrupt, vipStats(), Overrides{}))
}

func TestComputeOrderStats_IgnoresRefunds(t *testing.T) {
	s := ComputeOrderStats([]domain.Order{
		{Status: domain.OrderPaid, TotalPence: 1000, PlacedAt: testNow.AddDate(0, 0, -10)},
		{Status: domain.OrderRefunded, TotalPence: 5000, Category: "Opera", PlacedAt: testNow.AddDate(0, 0, -1)},
		{Status: domain.OrderPaid, TotalPence: 2000, PlacedAt: testNow.AddDate(0, 0, -100)},
	}, testNow)

	assert.Equal(t, int64(3000), s.LifetimeSpendPence)
	assert.Equal(t, int64(1000), s.Spend90dPence)
	assert.Equal(t, 2, s.PurchaseCount)
	assert.Equal(t, 1, s.PurchaseCount90d)
	require.NotNil(t, s.LastPurchaseAt)
	assert.Equal(t, testNow.AddDate(0, 0, -10), *s.LastPurchaseAt)
	assert.NotContains(t, s.Categories, "opera")
}

func TestComputeStatsByContact(t *testing.T) {
	lookup := ComputeStatsByContact([]domain.Order{
		{ContactID: "a", Status: domain.OrderPaid, TotalPence: 500, PlacedAt: testNow},
		{ContactID: "a", Status: domain.OrderPaid, TotalPence: 700, PlacedAt: testNow},
	}, testNow)

	assert.Equal(t, int64(1200), lookup("a").LifetimeSpendPence)
	assert.False(t, lookup("b").HasPurchased())
	assert.Equal(t, testNow, lookup("b").AsOf)
}
