package campaign

import (
	"context"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// ListDue returns SCHEDULED campaigns of every tenant whose scheduled_at <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListSending returns campaigns currently in SENDING.
	ListSending(ctx context.Context, limit int) ([]domain.Campaign, error)

	// CompareAndSetStatus moves the campaign from `from` to `to` in a single
	// conditional write. It returns false, nil when the campaign was not in
	// `from`.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u StatusUpdate) (bool, error)

	// MarkMaterialized records that the recipient list has been built.
	MarkMaterialized(ctx context.Context, id string) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// StatusUpdate carries the columns written alongside a transition. At is
// when the transition happened; ScheduledAt is the requested send time and
// is only read when entering SCHEDULED.
type StatusUpdate struct {
	At            time.Time
	ScheduledAt   time.Time
	FailureReason string
	Totals        *Totals
}

// Totals are the recipient counts recorded when a campaign finishes.
type Totals struct {
	Recipients int `json:"total_recipients"`
	Sent       int `json:"sent_count"`
	Failed     int `json:"failed_count"`
}
