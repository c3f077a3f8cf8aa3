package domain

import "time"

// OrderStatus is the settlement state of a purchase.
type OrderStatus string

const (
	OrderPaid      OrderStatus = "PAID"
	OrderRefunded  OrderStatus = "REFUNDED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderPending   OrderStatus = "PENDING"
)

// Order is one purchase by a contact, flattened to the attributes the
// segmentation rules look at.
type Order struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	ContactID  string      `json:"contact_id" db:"contact_id"`
	Status     OrderStatus `json:"status" db:"status"`
	TotalPence int64       `json:"total_pence" db:"total_pence"`
	Category   string      `json:"category,omitempty" db:"category"`
	VenueID    string      `json:"venue_id,omitempty" db:"venue_id"`
	EventType  string      `json:"event_type,omitempty" db:"event_type"`
	Town       string      `json:"town,omitempty" db:"town"`
	County     string      `json:"county,omitempty" db:"county"`
	PlacedAt   time.Time   `json:"placed_at" db:"placed_at"`
}

// OrderStats is derived per contact at evaluation time and never persisted.
// Set-valued fields hold lowercased values.
type OrderStats struct {
	AsOf               time.Time           `json:"as_of"`
	LastPurchaseAt     *time.Time          `json:"last_purchase_at,omitempty"`
	LifetimeSpendPence int64               `json:"lifetime_spend_pence"`
	Spend90dPence      int64               `json:"spend_90d_pence"`
	PurchaseCount      int                 `json:"purchase_count"`
	PurchaseCount90d   int                 `json:"purchase_count_90d"`
	Categories         map[string]struct{} `json:"-"`
	Venues             map[string]struct{} `json:"-"`
	EventTypes         map[string]struct{} `json:"-"`
	Towns              map[string]struct{} `json:"-"`
	Counties           map[string]struct{} `json:"-"`
}

// HasPurchased reports whether the contact has at least one settled order.
func (s OrderStats) HasPurchased() bool {
	return s.LastPurchaseAt != nil
}
