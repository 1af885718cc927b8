package models

import "time"

// SubscriptionStatus is the lifecycle state of a single bundle subscription.
type SubscriptionStatus string

const (
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionPaused        SubscriptionStatus = "paused"
	SubscriptionCanceled      SubscriptionStatus = "canceled"
	SubscriptionPaymentFailed SubscriptionStatus = "payment_failed"
	SubscriptionSuspended     SubscriptionStatus = "suspended"
)

// DefaultCreditRate is the platform credit rate applied to new subscriptions.
const DefaultCreditRate = 0.01

// ActiveSubscription is a user's subscription to one bundle. A user holds at
// most one non-canceled entry per bundle id.
type ActiveSubscription struct {
	BundleID                string             `json:"bundle_id"`
	Cycle                   BillingCycle       `json:"cycle"`
	SubscribedDate          time.Time          `json:"subscribed_date"`
	PricePaid               float64            `json:"price_paid"`
	Status                  SubscriptionStatus `json:"status"`
	NextBillingDate         time.Time          `json:"next_billing_date"`
	PauseEndDate            *time.Time         `json:"pause_end_date,omitempty"`
	PausedAt                *time.Time         `json:"paused_at,omitempty"`
	LinkedDate              time.Time          `json:"linked_date"`
	CreditRate              float64            `json:"credit_rate"`
	MonthlyAmountForCredits float64            `json:"monthly_amount_for_credits"`
}

// IsActive reports whether the subscription counts towards credits and perks.
func (s ActiveSubscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// NextCycleDate returns from advanced by one billing period of the given cycle.
func NextCycleDate(from time.Time, cycle BillingCycle) time.Time {
	if cycle == CycleAnnually {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
