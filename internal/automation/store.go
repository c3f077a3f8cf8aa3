package automation

import (
	"context"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// Store persists automations and their runs.
type Store interface {
	// ListActive returns active automations of every tenant.
	ListActive(ctx context.Context) ([]domain.Automation, error)

	// Enroll inserts run unless the contact already has an open run for the
	// automation, or a run for the same trigger key. It reports whether a
	// row was inserted. Uniqueness is enforced by the storage layer.
	Enroll(ctx context.Context, run domain.AutomationRun) (bool, error)

	// ListOpenRuns returns runs with no completion time.
	ListOpenRuns(ctx context.Context, automationID string, limit int) ([]domain.AutomationRun, error)

	// Advance moves the run from step `from` to from+1. It returns false if
	// the run was no longer at `from` or already completed.
	Advance(ctx context.Context, runID string, from int, at time.Time) (bool, error)

	// RecordAttempt counts a failed send of the run's step and returns the
	// attempts so far. Advance resets the count.
	RecordAttempt(ctx context.Context, runID string, step int) (int, error)

	// MarkStepSent records that step was accepted by the provider. Advance
	// clears the marker.
	MarkStepSent(ctx context.Context, runID string, step int) error

	// Complete closes the run with a reason.
	Complete(ctx context.Context, runID string, at time.Time, reason string) error
}

// Population is the contact and order data triggers are evaluated against.
type Population interface {
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Contact, error)
	ListForContacts(ctx context.Context, tenantID string, contactIDs []string) ([]domain.Order, error)
	GetOverrides(ctx context.Context, tenantID string) (segmentation.Overrides, error)
}

// ContactLookup fetches the current state of one contact.
type ContactLookup interface {
	GetContact(ctx context.Context, tenantID, id string) (*domain.Contact, error)
}

// TemplateSource loads step templates.
type TemplateSource interface {
	GetTemplate(ctx context.Context, tenantID, id string) (*domain.EmailTemplate, error)
}
