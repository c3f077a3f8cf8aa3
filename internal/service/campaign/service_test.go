package campaign_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

// memRepo is an in-memory campaign repository for unit testing. Its
// CompareAndSetStatus is atomic under the mutex, like the SQL UPDATE ...
// WHERE status = $from it stands in for.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign // keyed by id
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memRepo) Get(_ context.Context, tenantID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return c.ID, nil
}

func (m *memRepo) ListDue(_ context.Context, now time.Time, _ int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) ListSending(_ context.Context, _ int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignSending {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) CompareAndSetStatus(_ context.Context, id string, from, to domain.CampaignStatus, u campaign.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = u.At
	at := u.At
	switch to {
	case domain.CampaignScheduled:
		sendAt := u.ScheduledAt
		c.ScheduledAt = &sendAt
	case domain.CampaignSending:
		c.StartedAt = &at
	default:
		c.CompletedAt = &at
	}
	c.FailureReason = u.FailureReason
	if u.Totals != nil {
		c.TotalRecipients, c.SentCount, c.FailedCount = u.Totals.Recipients, u.Totals.Sent, u.Totals.Failed
	}
	return true, nil
}

func (m *memRepo) MarkMaterialized(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.Materialized = true
		return nil
	}
	return campaign.ErrNotFound
}

const testTenant = "tenant-001"

func newScheduled(t *testing.T, svc *campaign.Service, at time.Time) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), testTenant, campaign.CreateInput{
		Name: "Spring", TemplateID: "tpl-1", FromName: "Box Office", FromEmail: "news@venue.test",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Schedule(context.Background(), testTenant, c.ID, at); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return c
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.CampaignStatus
		want     bool
	}{
		{domain.CampaignDraft, domain.CampaignScheduled, true},
		{domain.CampaignScheduled, domain.CampaignSending, true},
		{domain.CampaignSending, domain.CampaignSent, true},
		{domain.CampaignSending, domain.CampaignFailed, true},
		{domain.CampaignDraft, domain.CampaignSending, false},
		{domain.CampaignSending, domain.CampaignScheduled, false},
		{domain.CampaignSent, domain.CampaignSending, false},
		{domain.CampaignFailed, domain.CampaignScheduled, false},
		{domain.CampaignScheduled, domain.CampaignSent, false},
	}
	for _, tc := range tests {
		if got := campaign.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	_, err := svc.Create(context.Background(), testTenant, campaign.CreateInput{Name: "x", FromEmail: "a@b.c"})
	if err != campaign.ErrMissingTemplate {
		t.Fatalf("expected ErrMissingTemplate, got %v", err)
	}
	if _, err := svc.Create(context.Background(), testTenant, campaign.CreateInput{TemplateID: "t"}); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestGetNotFound(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	_, err := svc.Get(context.Background(), testTenant, "nope")
	if err != campaign.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDue(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	past := newScheduled(t, svc, time.Now().Add(-time.Minute))
	newScheduled(t, svc, time.Now().Add(time.Hour))

	due, err := svc.ListDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("expected only the past campaign, got %+v", due)
	}
}

func TestSchedule_KeepsSendTimeApartFromUpdatedAt(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	sendAt := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	c := newScheduled(t, svc, sendAt)

	got, err := svc.Get(context.Background(), testTenant, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CampaignScheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Status)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(sendAt) {
		t.Fatalf("scheduled_at = %v, want %v", got.ScheduledAt, sendAt)
	}
	if !got.UpdatedAt.Before(sendAt) || time.Since(got.UpdatedAt) > time.Minute {
		t.Fatalf("updated_at = %v should be the time of the call", got.UpdatedAt)
	}
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := newScheduled(t, svc, time.Now().Add(-time.Minute))

	const ticks = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Claim(context.Background(), c.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins)
	}
	got, _ := svc.Get(context.Background(), testTenant, c.ID)
	if got.Status != domain.CampaignSending || got.StartedAt == nil {
		t.Fatalf("expected SENDING with started_at, got %s", got.Status)
	}
	due, _ := svc.ListDue(context.Background(), 10)
	if len(due) != 0 {
		t.Fatal("claimed campaign must not be listed as due")
	}
}

func TestCompleteAndFail(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	ctx := context.Background()

	a := newScheduled(t, svc, time.Now())
	if _, err := svc.Claim(ctx, a.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Complete(ctx, a.ID, campaign.Totals{Recipients: 3, Sent: 2, Failed: 1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := svc.Get(ctx, testTenant, a.ID)
	if got.Status != domain.CampaignSent || got.SentCount != 2 || got.FailedCount != 1 {
		t.Fatalf("unexpected campaign after complete: %+v", got)
	}
	if err := svc.Fail(ctx, a.ID, "late"); err != campaign.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition from SENT, got %v", err)
	}

	b := newScheduled(t, svc, time.Now())
	_, _ = svc.Claim(ctx, b.ID)
	if err := svc.Fail(ctx, b.ID, "sender domain not verified"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ = svc.Get(ctx, testTenant, b.ID)
	if got.Status != domain.CampaignFailed || got.FailureReason != "sender domain not verified" {
		t.Fatalf("unexpected campaign after fail: %+v", got)
	}
}

func TestSchedule_OnlyFromDraft(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := newScheduled(t, svc, time.Now())
	if err := svc.Schedule(context.Background(), testTenant, c.ID, time.Now()); err != campaign.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
