package suppression

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo    Repository
	consent ConsentStore
}

// NewService creates a suppression service. consent may be nil, in which
// case contact consent flags are left untouched.
func NewService(repo Repository, consent ConsentStore) *Service {
	return &Service{repo: repo, consent: consent}
}

// Suppress records a suppression for (tenant, email). Idempotent: repeating
// it, or recording a less severe type later, never weakens the record.
func (s *Service) Suppress(ctx context.Context, tenantID, email string, typ domain.SuppressionType, reason string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	if typ.Severity() == 0 {
		return fmt.Errorf("unknown suppression type %q", typ)
	}
	rec := &domain.Suppression{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Email:    email,
		Type:     typ,
		Reason:   reason,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

// Unsubscribe opts the email out of marketing: consent moves to
// UNSUBSCRIBED and an UNSUBSCRIBE suppression is recorded.
func (s *Service) Unsubscribe(ctx context.Context, tenantID, email, reason string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	if s.consent != nil {
		if err := s.consent.SetConsent(ctx, tenantID, email, domain.ConsentUnsubscribed); err != nil {
			return fmt.Errorf("set consent: %w", err)
		}
	}
	return s.Suppress(ctx, tenantID, email, domain.SuppressionUnsubscribe, reason)
}

// Resubscribe clears an UNSUBSCRIBE record and restores consent. Hard
// bounces and spam complaints cannot be cleared.
func (s *Service) Resubscribe(ctx context.Context, tenantID, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	rec, err := s.repo.Get(ctx, tenantID, email)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("get suppression: %w", err)
	case rec.Type.IsPermanent():
		return ErrPermanent
	default:
		if err := s.repo.Remove(ctx, tenantID, email); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("remove suppression: %w", err)
		}
	}
	if s.consent != nil {
		if err := s.consent.SetConsent(ctx, tenantID, email, domain.ConsentSubscribed); err != nil {
			return fmt.Errorf("set consent: %w", err)
		}
	}
	return nil
}

// Fetch loads the current records for emails. It always reads through to
// the repository.
func (s *Service) Fetch(ctx context.Context, tenantID string, emails []string) (Index, error) {
	if len(emails) == 0 {
		return Index{}, nil
	}
	norm := make([]string, 0, len(emails))
	for _, e := range emails {
		if e = domain.NormalizeEmail(e); e != "" {
			norm = append(norm, e)
		}
	}
	records, err := s.repo.ListByEmails(ctx, tenantID, norm)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	return NewIndex(records), nil
}

// Check fetches the record for one contact and applies ShouldSuppress.
func (s *Service) Check(ctx context.Context, c *domain.Contact) (Decision, error) {
	rec, err := s.repo.Get(ctx, c.TenantID, domain.NormalizeEmail(c.Email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Decision{}, fmt.Errorf("get suppression: %w", err)
	}
	return ShouldSuppress(c.ConsentStatus, rec), nil
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Suppression, int, error) {
	return s.repo.List(ctx, tenantID, filter)
}
