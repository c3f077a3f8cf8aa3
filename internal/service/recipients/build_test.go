package recipients

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
)

func contact(id, email string) domain.Contact {
	return domain.Contact{
		ID:            id,
		TenantID:      "tenant_1",
		Email:         email,
		FirstName:     "Sam",
		ConsentStatus: domain.ConsentSubscribed,
	}
}

func TestBuildRecipientEntries_DedupAndSuppress(t *testing.T) {
	keep := contact("c1", "Keep@Example.com")
	in := Input{
		TenantID:   "tenant_1",
		CampaignID: "camp_1",
		Contacts:   []domain.Contact{keep, keep, contact("c2", "gone@example.com")},
		Suppressions: []domain.Suppression{
			{TenantID: "tenant_1", Email: "GONE@example.com", Type: domain.SuppressionHardBounce},
		},
	}

	out := BuildRecipientEntries(in)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ContactID)
	assert.Equal(t, "keep@example.com", out[0].Email)
	assert.Equal(t, domain.RecipientPending, out[0].Status)
	assert.Equal(t, "Sam", out[0].MergeContext["first_name"])
	assert.Equal(t, RecipientID("camp_1", "c1"), out[0].ID)

	first, err := json.Marshal(out)
	require.NoError(t, err)
	second, err := json.Marshal(BuildRecipientEntries(in))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildRecipientEntries_ConsentAndTenant(t *testing.T) {
	unsub := contact("c3", "unsub@example.com")
	unsub.ConsentStatus = domain.ConsentUnsubscribed
	foreign := contact("c4", "other@example.com")
	foreign.TenantID = "tenant_2"
	noEmail := contact("c5", " ")
	pending := contact("c6", "pending@example.com")
	pending.ConsentStatus = domain.ConsentPending

	out := BuildRecipientEntries(Input{
		TenantID:   "tenant_1",
		CampaignID: "camp_1",
		Contacts:   []domain.Contact{unsub, foreign, noEmail, pending},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "c6", out[0].ContactID)
}

func TestBuildRecipientEntries_FirstOccurrenceWins(t *testing.T) {
	a := contact("c1", "first@example.com")
	b := contact("c1", "second@example.com")

	out := BuildRecipientEntries(Input{TenantID: "tenant_1", CampaignID: "camp_1", Contacts: []domain.Contact{a, b}})
	require.Len(t, out, 1)
	assert.Equal(t, "first@example.com", out[0].Email)
}

func TestRecipientID_StablePerCampaign(t *testing.T) {
	assert.Equal(t, RecipientID("camp_1", "c1"), RecipientID("camp_1", "c1"))
	assert.NotEqual(t, RecipientID("camp_1", "c1"), RecipientID("camp_2", "c1"))
}
