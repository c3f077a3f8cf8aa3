package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Service implements campaign lifecycle logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	log  *logger.Entry
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, log: logger.With("component", "campaign"), now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, tenantID, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name            string `json:"name"`
	TemplateID      string `json:"template_id"`
	SegmentID       string `json:"segment_id,omitempty"`
	RulesOverride   []byte `json:"rules_override,omitempty"`
	ShowID          string `json:"show_id,omitempty"`
	FromName        string `json:"from_name"`
	FromEmail       string `json:"from_email"`
	ReplyTo         string `json:"reply_to,omitempty"`
	CreatedByUserID string `json:"created_by_user_id"`
}

// Create validates and persists a new campaign in DRAFT.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if in.TemplateID == "" {
		return nil, ErrMissingTemplate
	}
	if !strings.Contains(in.FromEmail, "@") {
		return nil, fmt.Errorf("from_email is invalid")
	}

	c := &domain.Campaign{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		Name:            in.Name,
		TemplateID:      in.TemplateID,
		RulesOverride:   in.RulesOverride,
		Status:          domain.CampaignDraft,
		CreatedByUserID: in.CreatedByUserID,
		FromName:        in.FromName,
		FromEmail:       in.FromEmail,
		ReplyTo:         in.ReplyTo,
	}
	if in.SegmentID != "" {
		c.SegmentID = &in.SegmentID
	}
	if in.ShowID != "" {
		c.ShowID = &in.ShowID
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Schedule moves a DRAFT campaign to SCHEDULED for the given time.
func (s *Service) Schedule(ctx context.Context, tenantID, id string, at time.Time) error {
	c, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft {
		return ErrInvalidTransition
	}
	ok, err := s.transition(ctx, id, domain.CampaignDraft, domain.CampaignScheduled, StatusUpdate{ScheduledAt: at})
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

// ListDue returns SCHEDULED campaigns whose time has come.
func (s *Service) ListDue(ctx context.Context, limit int) ([]domain.Campaign, error) {
	return s.repo.ListDue(ctx, s.now(), limit)
}

// ListSending returns campaigns a previous tick left in SENDING.
func (s *Service) ListSending(ctx context.Context, limit int) ([]domain.Campaign, error) {
	return s.repo.ListSending(ctx, limit)
}

// Claim attempts SCHEDULED → SENDING. Exactly one concurrent caller gets
// true; the others see the campaign already claimed and must skip it.
func (s *Service) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.transition(ctx, id, domain.CampaignScheduled, domain.CampaignSending, StatusUpdate{})
	if err != nil {
		return false, fmt.Errorf("claim campaign: %w", err)
	}
	return ok, nil
}

// Complete moves SENDING → SENT and records the totals.
func (s *Service) Complete(ctx context.Context, id string, totals Totals) error {
	ok, err := s.transition(ctx, id, domain.CampaignSending, domain.CampaignSent, StatusUpdate{Totals: &totals})
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	if !ok {
		return ErrInvalidTransition
	}
	s.log.Info("campaign sent", "campaign_id", id, "recipients", totals.Recipients,
		"sent", totals.Sent, "failed", totals.Failed)
	return nil
}

// Fail moves SENDING → FAILED with a human-readable reason.
func (s *Service) Fail(ctx context.Context, id, reason string) error {
	ok, err := s.transition(ctx, id, domain.CampaignSending, domain.CampaignFailed, StatusUpdate{FailureReason: reason})
	if err != nil {
		return fmt.Errorf("fail campaign: %w", err)
	}
	if !ok {
		return ErrInvalidTransition
	}
	s.log.Warn("campaign failed", "campaign_id", id, "reason", reason)
	return nil
}

// MarkMaterialized records that the recipient list exists.
func (s *Service) MarkMaterialized(ctx context.Context, id string) error {
	return s.repo.MarkMaterialized(ctx, id)
}

func (s *Service) transition(ctx context.Context, id string, from, to domain.CampaignStatus, u StatusUpdate) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrInvalidTransition
	}
	if u.At.IsZero() {
		u.At = s.now()
	}
	return s.repo.CompareAndSetStatus(ctx, id, from, to, u)
}
