package segmentation

import (
	"strings"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

const trailingWindow = 90 * 24 * time.Hour

// ComputeOrderStats aggregates one contact's orders as of asOf. Only PAID
// orders count; refunded, cancelled and unfinished checkouts are ignored.
func ComputeOrderStats(orders []domain.Order, asOf time.Time) domain.OrderStats {
	stats := domain.OrderStats{
		AsOf:       asOf,
		Categories: map[string]struct{}{},
		Venues:     map[string]struct{}{},
		EventTypes: map[string]struct{}{},
		Towns:      map[string]struct{}{},
		Counties:   map[string]struct{}{},
	}
	windowStart := asOf.Add(-trailingWindow)

	for i := range orders {
		o := orders[i]
		if o.Status != domain.OrderPaid {
			continue
		}
		stats.PurchaseCount++
		stats.LifetimeSpendPence += o.TotalPence
		if !o.PlacedAt.Before(windowStart) {
			stats.PurchaseCount90d++
			stats.Spend90dPence += o.TotalPence
		}
		if stats.LastPurchaseAt == nil || o.PlacedAt.After(*stats.LastPurchaseAt) {
			t := o.PlacedAt
			stats.LastPurchaseAt = &t
		}
		addNorm(stats.Categories, o.Category)
		addNorm(stats.Venues, o.VenueID)
		addNorm(stats.EventTypes, o.EventType)
		addNorm(stats.Towns, o.Town)
		addNorm(stats.Counties, o.County)
	}
	return stats
}

// ComputeStatsByContact groups orders by contact and aggregates each group.
// Contacts without orders get zero stats from the returned func.
func ComputeStatsByContact(orders []domain.Order, asOf time.Time) func(contactID string) domain.OrderStats {
	grouped := make(map[string][]domain.Order)
	for _, o := range orders {
		grouped[o.ContactID] = append(grouped[o.ContactID], o)
	}
	computed := make(map[string]domain.OrderStats, len(grouped))
	for id, list := range grouped {
		computed[id] = ComputeOrderStats(list, asOf)
	}
	return func(contactID string) domain.OrderStats {
		if s, ok := computed[contactID]; ok {
			return s
		}
		return ComputeOrderStats(nil, asOf)
	}
}

func addNorm(set map[string]struct{}, v string) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v != "" {
		set[v] = struct{}{}
	}
}
