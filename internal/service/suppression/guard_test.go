package suppression

import (
	"regexp"
	"testing"

	"github.com/ignite/audience-engine/internal/domain"
)

func TestShouldSuppress(t *testing.T) {
	rec := func(typ domain.SuppressionType) *domain.Suppression {
		return &domain.Suppression{TenantID: testTenant, Email: "a@b.com", Type: typ}
	}
	tests := []struct {
		name       string
		consent    domain.ConsentStatus
		rec        *domain.Suppression
		suppressed bool
	}{
		{"subscribed clean", domain.ConsentSubscribed, nil, false},
		{"pending clean", domain.ConsentPending, nil, false},
		{"unknown clean", domain.ConsentUnknown, nil, false},
		{"unsubscribed consent", domain.ConsentUnsubscribed, nil, true},
		{"hard bounce overrides consent", domain.ConsentSubscribed, rec(domain.SuppressionHardBounce), true},
		{"spam complaint overrides consent", domain.ConsentSubscribed, rec(domain.SuppressionSpamComplaint), true},
		{"unsubscribe record", domain.ConsentSubscribed, rec(domain.SuppressionUnsubscribe), true},
		{"unrecognized record fails closed", domain.ConsentSubscribed, rec("LEGACY"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := ShouldSuppress(tc.consent, tc.rec)
			if d.Suppressed != tc.suppressed {
				t.Fatalf("Suppressed = %v, want %v", d.Suppressed, tc.suppressed)
			}
			if d.Suppressed && d.Reason == "" {
				t.Error("expected a reason when suppressed")
			}
		})
	}
}

func TestShouldSuppress_ConsentReason(t *testing.T) {
	d := ShouldSuppress(domain.ConsentUnsubscribed, nil)
	if !d.Suppressed || !regexp.MustCompile(`consent`).MatchString(d.Reason) {
		t.Errorf("expected consent reason, got %+v", d)
	}
}

func TestNewIndex_MergesMostRestrictive(t *testing.T) {
	idx := NewIndex([]domain.Suppression{
		{Email: "X@example.com", Type: domain.SuppressionSpamComplaint},
		{Email: "x@example.com", Type: domain.SuppressionUnsubscribe},
	})
	if got := idx.Lookup("x@EXAMPLE.com"); got == nil || got.Type != domain.SuppressionSpamComplaint {
		t.Errorf("expected SPAM_COMPLAINT to govern, got %+v", got)
	}
}
