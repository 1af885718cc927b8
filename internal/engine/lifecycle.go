package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// SubscribeRequest describes a new subscription. PricePaid is the amount
// charged for the chosen cycle (the annual total for annual billing).
type SubscribeRequest struct {
	BundleID  string              `json:"bundle_id"`
	Cycle     models.BillingCycle `json:"cycle"`
	PricePaid float64             `json:"price_paid"`
}

// MonthlyAmountForCredits converts the price paid for one cycle into the
// monthly-equivalent credit base, rounded to cents.
func MonthlyAmountForCredits(cycle models.BillingCycle, pricePaid float64) float64 {
	amount := decimal.NewFromFloat(pricePaid)
	if cycle == models.CycleAnnually {
		amount = amount.Div(decimal.NewFromInt(12))
	}
	return amount.Round(2).InexactFloat64()
}

// Subscribe moves (user, bundle) from none to active. Subscribing to a bundle
// that is already active is a no-op.
func (e *Engine) Subscribe(ctx context.Context, u models.User, req SubscribeRequest) (models.User, error) {
	if u.ID == "" || u.Role == models.RoleGuest {
		return u, ErrNotAuthenticated
	}
	if !u.IsVerified {
		return u, ErrNotVerified
	}
	if !req.Cycle.Valid() {
		return u, fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidAmount, req.Cycle)
	}
	if req.PricePaid < 0 {
		return u, fmt.Errorf("%w: price paid must not be negative", ErrInvalidAmount)
	}

	bundle, err := e.bundles.GetBundle(ctx, req.BundleID)
	if err != nil {
		return u, err
	}

	u = u.Clone()
	if i := u.Subscription(req.BundleID); i >= 0 && u.ActiveSubscriptions[i].IsActive() {
		log.Printf("[engine] user %s already actively subscribed to bundle %s", u.ID, req.BundleID)
		return u, nil
	}

	now := e.clock()
	subscribed := startOfDay(now)
	sub := models.ActiveSubscription{
		BundleID:                req.BundleID,
		Cycle:                   req.Cycle,
		SubscribedDate:          subscribed,
		PricePaid:               round2(req.PricePaid),
		Status:                  models.SubscriptionActive,
		NextBillingDate:         models.NextCycleDate(subscribed, req.Cycle),
		LinkedDate:              subscribed,
		CreditRate:              e.creditRate,
		MonthlyAmountForCredits: MonthlyAmountForCredits(req.Cycle, req.PricePaid),
	}

	kept := u.ActiveSubscriptions[:0]
	for _, s := range u.ActiveSubscriptions {
		if s.BundleID != req.BundleID {
			kept = append(kept, s)
		}
	}
	u.ActiveSubscriptions = append(kept, sub)
	u.SubscriptionStatus = models.UserSubscriptionActive

	e.notify(ctx, models.NotifySubscriptionConfirmed, models.AudienceUser, u.Email, u.ID, models.JSONB{
		"bundle_id": bundle.ID, "bundle_name": bundle.Name, "cycle": string(req.Cycle), "amount": sub.PricePaid,
	})
	e.notify(ctx, models.NotifyAdminSubscription, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
		"user_email": u.Email, "bundle_name": bundle.Name, "action": "subscribed",
	})
	e.notify(ctx, models.NotifyProviderSubscription, models.AudienceProvider, bundle.ProviderEmail, u.ID, models.JSONB{
		"user_email": u.Email, "bundle_name": bundle.Name,
	})

	return u, nil
}

// Cancel removes the subscription entry for bundleID. A bundle without any
// entry is in the canceled state.
func (e *Engine) Cancel(ctx context.Context, u models.User, bundleID string) (models.User, error) {
	i := u.Subscription(bundleID)
	if i < 0 || u.ActiveSubscriptions[i].Status == models.SubscriptionCanceled {
		return u, fmt.Errorf("%w: %s", ErrNotSubscribed, bundleID)
	}

	u = u.Clone()
	u.ActiveSubscriptions = append(u.ActiveSubscriptions[:i], u.ActiveSubscriptions[i+1:]...)
	if len(u.ActiveSubscriptions) == 0 {
		u.ActiveSubscriptions = nil
		u.SubscriptionStatus = models.UserSubscriptionCanceled
	}

	name := e.bundleName(ctx, bundleID)
	e.notify(ctx, models.NotifySubscriptionCanceled, models.AudienceUser, u.Email, u.ID, models.JSONB{
		"bundle_id": bundleID, "bundle_name": name,
	})
	e.notify(ctx, models.NotifyAdminSubscription, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
		"user_email": u.Email, "bundle_name": name, "action": "canceled",
	})

	return u, nil
}

// Pause suspends an active subscription for days days. Paused subscriptions
// stay in the list but are ignored by credit and perk rules.
func (e *Engine) Pause(ctx context.Context, u models.User, bundleID string, days int) (models.User, error) {
	if days <= 0 {
		return u, fmt.Errorf("%w: pause duration must be positive, got %d days", ErrInvalidAmount, days)
	}
	i := u.Subscription(bundleID)
	if i < 0 || !u.ActiveSubscriptions[i].IsActive() {
		return u, fmt.Errorf("%w: no active subscription for %s", ErrNotSubscribed, bundleID)
	}

	u = u.Clone()
	now := e.clock()
	end := now.AddDate(0, 0, days)
	sub := &u.ActiveSubscriptions[i]
	sub.Status = models.SubscriptionPaused
	sub.PausedAt = &now
	sub.PauseEndDate = &end

	name := e.bundleName(ctx, bundleID)
	e.notify(ctx, models.NotifySubscriptionPaused, models.AudienceUser, u.Email, u.ID, models.JSONB{
		"bundle_id": bundleID, "bundle_name": name, "pause_end_date": end.Format(time.DateOnly),
	})
	e.notify(ctx, models.NotifyAdminSubscription, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
		"user_email": u.Email, "bundle_name": name, "action": "paused",
	})

	return u, nil
}

// Resume reactivates a paused subscription. The next billing date moves
// forward by the wall-clock time the subscription spent paused.
func (e *Engine) Resume(ctx context.Context, u models.User, bundleID string) (models.User, error) {
	i := u.Subscription(bundleID)
	if i < 0 || u.ActiveSubscriptions[i].Status != models.SubscriptionPaused {
		return u, fmt.Errorf("%w: %s", ErrNotPaused, bundleID)
	}

	u = u.Clone()
	resumeAt(&u.ActiveSubscriptions[i], e.clock())

	name := e.bundleName(ctx, bundleID)
	e.notify(ctx, models.NotifySubscriptionResumed, models.AudienceUser, u.Email, u.ID, models.JSONB{
		"bundle_id": bundleID, "bundle_name": name,
	})
	e.notify(ctx, models.NotifyAdminSubscription, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
		"user_email": u.Email, "bundle_name": name, "action": "resumed",
	})

	return u, nil
}

// ResumeExpiredPauses resumes every paused subscription whose pause end date
// has passed. It returns the number of subscriptions resumed.
func (e *Engine) ResumeExpiredPauses(ctx context.Context, u models.User) (models.User, int, error) {
	now := e.clock()
	var due []string
	for _, s := range u.ActiveSubscriptions {
		if s.Status == models.SubscriptionPaused && s.PauseEndDate != nil && !s.PauseEndDate.After(now) {
			due = append(due, s.BundleID)
		}
	}

	for _, id := range due {
		var err error
		if u, err = e.Resume(ctx, u, id); err != nil {
			return u, 0, err
		}
	}
	return u, len(due), nil
}

// Renew applies the outcome of a billing-cycle charge. A successful payment
// advances the next billing date by one cycle and (re)activates the
// subscription; a failed payment marks it payment_failed.
func (e *Engine) Renew(ctx context.Context, u models.User, bundleID string, paymentSucceeded bool) (models.User, error) {
	i := u.Subscription(bundleID)
	if i < 0 {
		return u, fmt.Errorf("%w: %s", ErrNotSubscribed, bundleID)
	}
	if st := u.ActiveSubscriptions[i].Status; st != models.SubscriptionActive && st != models.SubscriptionPaymentFailed {
		return u, fmt.Errorf("%w: subscription %s is %s", ErrNotSubscribed, bundleID, st)
	}

	u = u.Clone()
	sub := &u.ActiveSubscriptions[i]
	name := e.bundleName(ctx, bundleID)

	if !paymentSucceeded {
		sub.Status = models.SubscriptionPaymentFailed
		e.notify(ctx, models.NotifyPaymentReminder, models.AudienceUser, u.Email, u.ID, models.JSONB{
			"bundle_name": name, "amount": sub.PricePaid, "due_date": sub.NextBillingDate.Format(time.DateOnly),
		})
		return u, nil
	}

	sub.Status = models.SubscriptionActive
	sub.NextBillingDate = models.NextCycleDate(sub.NextBillingDate, sub.Cycle)
	e.notify(ctx, models.NotifyPaymentReceipt, models.AudienceUser, u.Email, u.ID, models.JSONB{
		"bundle_name": name, "amount": sub.PricePaid, "payment_date": e.clock().Format(time.DateOnly),
	})
	return u, nil
}

// DeriveSubscriptionStatus summarises the subscription list: active when any
// entry is not canceled, canceled when the user has had subscriptions before,
// none otherwise.
func DeriveSubscriptionStatus(u models.User) string {
	for _, s := range u.ActiveSubscriptions {
		if s.Status != models.SubscriptionCanceled {
			return models.UserSubscriptionActive
		}
	}
	if u.SubscriptionStatus == models.UserSubscriptionActive || u.SubscriptionStatus == models.UserSubscriptionCanceled {
		return models.UserSubscriptionCanceled
	}
	return models.UserSubscriptionNone
}

func resumeAt(sub *models.ActiveSubscription, now time.Time) {
	if sub.PausedAt != nil {
		if paused := now.Sub(*sub.PausedAt); paused > 0 {
			sub.NextBillingDate = sub.NextBillingDate.Add(paused)
		}
	}
	sub.Status = models.SubscriptionActive
	sub.PauseEndDate = nil
	sub.PausedAt = nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
