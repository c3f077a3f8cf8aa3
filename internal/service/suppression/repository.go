package suppression

import (
	"context"

	"github.com/ignite/audience-engine/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// Get returns the governing record for (tenant, email) or ErrNotFound.
	Get(ctx context.Context, tenantID, email string) (*domain.Suppression, error)

	// Upsert stores s, keeping the existing type when it is more severe.
	// Safe under concurrent writers for the same key.
	Upsert(ctx context.Context, s *domain.Suppression) error

	// ListByEmails returns the records for the given normalized emails.
	ListByEmails(ctx context.Context, tenantID string, emails []string) ([]domain.Suppression, error)

	// Remove deletes an UNSUBSCRIBE record. Returns ErrNotFound if none exists.
	Remove(ctx context.Context, tenantID, email string) error

	// List returns suppression entries matching the filter.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Suppression, int, error)
}

// ConsentStore updates the contact-level consent flag.
type ConsentStore interface {
	SetConsent(ctx context.Context, tenantID, email string, status domain.ConsentStatus) error
}

// EventLog appends to the marketing email event log.
type EventLog interface {
	Append(ctx context.Context, events ...domain.MarketingEmailEvent) error
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Type   domain.SuppressionType
	Search string
	Limit  int
	Offset int
}
