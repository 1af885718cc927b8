package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// BillingPeriod returns the accrual key for t: the calendar month "YYYY-MM".
func BillingPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodCredits is the amount one accrual adds: round2(monthly × rate) for
// each active subscription, summed.
func PeriodCredits(u models.User) float64 {
	total := decimal.Zero
	for _, s := range u.ActiveSubscriptions {
		if !s.IsActive() {
			continue
		}
		earned := decimal.NewFromFloat(s.MonthlyAmountForCredits).
			Mul(decimal.NewFromFloat(s.CreditRate)).
			Round(2)
		total = total.Add(earned)
	}
	return total.InexactFloat64()
}

// Accrue credits every active subscription once. Calling it twice accrues
// twice; use AccrueForPeriod where repeated calls are possible.
func Accrue(u models.User, now time.Time) models.User {
	u = u.Clone()
	earned := decimal.NewFromFloat(PeriodCredits(u))
	u.TotalCreditsEarned = addMoney(u.TotalCreditsEarned, earned)
	u.CreditsAvailable = addMoney(u.CreditsAvailable, earned)
	stamp := now
	u.LastCreditUpdateTimestamp = &stamp
	return u
}

// AccrueForPeriod accrues at most once per billing period. Periods only move
// forward: a user already accrued for period or a later one is returned as is.
// It reports whether credits were applied.
func AccrueForPeriod(u models.User, period string, now time.Time) (models.User, bool) {
	if period <= u.LastAccrualPeriod {
		return u, false
	}
	u = Accrue(u, now)
	u.LastAccrualPeriod = period
	return u, true
}

// Redeem moves amount from available to redeemed credits. The amount is
// rounded to cents before it is checked against the balance.
func Redeem(u models.User, amount float64, now time.Time) (models.User, error) {
	amt := decimal.NewFromFloat(amount).Round(2)
	if !amt.IsPositive() {
		return u, fmt.Errorf("%w: redemption amount must be positive, got %v", ErrInvalidAmount, amount)
	}
	if amt.GreaterThan(decimal.NewFromFloat(u.CreditsAvailable)) {
		return u, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientCredits, FormatCredits(amount), FormatCredits(u.CreditsAvailable))
	}

	u = u.Clone()
	u.CreditsAvailable = addMoney(u.CreditsAvailable, amt.Neg())
	u.CreditsRedeemed = addMoney(u.CreditsRedeemed, amt)
	stamp := now
	u.LastCreditUpdateTimestamp = &stamp
	return u, nil
}

// AdminAdjust sets the target's available balance. An increase is also added
// to TotalCreditsEarned; a decrease only lowers the available balance.
func AdminAdjust(actor, target models.User, newBalance float64, now time.Time) (models.User, error) {
	if actor.Role != models.RoleAdmin {
		return target, fmt.Errorf("%w: credit adjustment requires the admin role", ErrUnauthorized)
	}
	balance := decimal.NewFromFloat(newBalance).Round(2)
	if balance.IsNegative() {
		return target, fmt.Errorf("%w: balance must not be negative, got %v", ErrInvalidAmount, newBalance)
	}

	u := target.Clone()
	if delta := balance.Sub(decimal.NewFromFloat(u.CreditsAvailable)); delta.IsPositive() {
		u.TotalCreditsEarned = addMoney(u.TotalCreditsEarned, delta)
	}
	u.CreditsAvailable = balance.InexactFloat64()
	stamp := now
	u.LastCreditUpdateTimestamp = &stamp
	return u, nil
}

// FormatCredits renders an amount for display, e.g. "C12.50".
func FormatCredits(amount float64) string {
	return "C" + decimal.NewFromFloat(amount).StringFixed(2)
}

// Redeem applies Redeem with the engine clock.
func (e *Engine) Redeem(_ context.Context, u models.User, amount float64) (models.User, error) {
	return Redeem(u, amount, e.clock())
}

// AdminAdjust applies AdminAdjust with the engine clock and alerts the admin
// mailbox.
func (e *Engine) AdminAdjust(ctx context.Context, actor, target models.User, newBalance float64) (models.User, error) {
	before := target.CreditsAvailable
	u, err := AdminAdjust(actor, target, newBalance, e.clock())
	if err != nil {
		return target, err
	}
	log.Printf("[engine] admin %s set credits for user %s from %s to %s",
		actor.ID, u.ID, FormatCredits(before), FormatCredits(u.CreditsAvailable))
	e.notify(ctx, models.NotifyAdminCreditAdjustment, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
		"actor_id": actor.ID, "user_email": u.Email, "previous": before, "available": u.CreditsAvailable,
	})
	return u, nil
}

func addMoney(a float64, b decimal.Decimal) float64 {
	return decimal.NewFromFloat(a).Add(b).Round(2).InexactFloat64()
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
