package automation

import (
	"strconv"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// abandonedCheckoutHorizon bounds how old an unfinished checkout may be and
// still enroll the contact.
const abandonedCheckoutHorizon = 7 * 24 * time.Hour

// Candidate is a contact that satisfies an automation's trigger.
type Candidate struct {
	Contact    domain.Contact
	TriggerKey string
}

// Qualify returns the trigger key if the contact currently satisfies a's
// trigger. orders are the contact's orders of any status.
func Qualify(a *domain.Automation, c *domain.Contact, orders []domain.Order, now time.Time) (string, bool) {
	switch a.TriggerType {
	case domain.TriggerNoPurchaseInDays:
		if a.TriggerDays <= 0 {
			return "", false
		}
		stats := segmentation.ComputeOrderStats(orders, now)
		if stats.LastPurchaseAt == nil {
			return "", false
		}
		if now.Sub(*stats.LastPurchaseAt) <= time.Duration(a.TriggerDays)*24*time.Hour {
			return "", false
		}
		return "lapsed:" + strconv.FormatInt(stats.LastPurchaseAt.Unix(), 10), true

	case domain.TriggerAbandonedCheckout:
		if a.TriggerMinutes <= 0 {
			return "", false
		}
		return abandonedCheckout(orders, time.Duration(a.TriggerMinutes)*time.Minute, now)

	case domain.TriggerSignedUp:
		// Contacts that existed before the automation was created are not
		// treated as new sign-ups.
		if c.CreatedAt.Before(a.CreatedAt) {
			return "", false
		}
		return "signup", true

	default:
		return "", false
	}
}

// abandonedCheckout finds the newest PENDING order older than wait, within
// the horizon, with no PAID order placed after it.
func abandonedCheckout(orders []domain.Order, wait time.Duration, now time.Time) (string, bool) {
	var pending *domain.Order
	var lastPaid time.Time
	for i := range orders {
		o := &orders[i]
		switch o.Status {
		case domain.OrderPaid:
			if o.PlacedAt.After(lastPaid) {
				lastPaid = o.PlacedAt
			}
		case domain.OrderPending:
			age := now.Sub(o.PlacedAt)
			if age < wait || age > abandonedCheckoutHorizon {
				continue
			}
			if pending == nil || o.PlacedAt.After(pending.PlacedAt) {
				pending = o
			}
		}
	}
	if pending == nil || !lastPaid.Before(pending.PlacedAt) {
		return "", false
	}
	return "checkout:" + pending.ID, true
}
