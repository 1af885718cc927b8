package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// CriterionStanding is a user's position against one unlock criterion.
type CriterionStanding struct {
	Criterion models.UnlockCriterion `json:"criterion"`
	Current   float64                `json:"current"`
	Target    float64                `json:"target"`
	Unit      string                 `json:"unit"`
	Met       bool                   `json:"met"`
}

// ActiveSubscriptionCount counts subscriptions with status active. Paused,
// failed and suspended entries do not count.
func ActiveSubscriptionCount(u models.User) int {
	n := 0
	for _, s := range u.ActiveSubscriptions {
		if s.IsActive() {
			n++
		}
	}
	return n
}

// MonthlySpend sums MonthlyAmountForCredits over active subscriptions.
func MonthlySpend(u models.User) float64 {
	total := decimal.Zero
	for _, s := range u.ActiveSubscriptions {
		if s.IsActive() {
			total = total.Add(decimal.NewFromFloat(s.MonthlyAmountForCredits))
		}
	}
	return total.Round(2).InexactFloat64()
}

// HasActiveBundle reports whether the user holds an active subscription to bundleID.
func HasActiveBundle(u models.User, bundleID string) bool {
	for _, s := range u.ActiveSubscriptions {
		if s.BundleID == bundleID && s.IsActive() {
			return true
		}
	}
	return false
}

// AccountAgeDays returns whole days since registration, rounded up. A user
// without a registration date is zero days old.
func AccountAgeDays(u models.User, now time.Time) int {
	if u.RegistrationDate.IsZero() {
		return 0
	}
	diff := now.Sub(u.RegistrationDate)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// EvaluateCriterion reports whether u satisfies c at now. Unknown criterion
// types never match.
func EvaluateCriterion(u models.User, c models.UnlockCriterion, now time.Time) bool {
	return Standing(u, c, now, "").Met
}

// Standing computes the current value, target and result for one criterion.
// bundleName labels SPECIFIC_BUNDLE_SUBSCRIBED progress and may be empty.
func Standing(u models.User, c models.UnlockCriterion, now time.Time, bundleName string) CriterionStanding {
	st := CriterionStanding{Criterion: c, Target: c.Threshold}

	switch c.Type {
	case models.CriterionMinSubscriptionsLinked:
		st.Current = float64(ActiveSubscriptionCount(u))
		st.Unit = "subscriptions"
		st.Met = st.Current >= st.Target
	case models.CriterionMinMonthlySpend:
		st.Current = MonthlySpend(u)
		st.Unit = "EUR spent/month"
		st.Met = st.Current >= st.Target
	case models.CriterionSpecificBundleSubscribed:
		st.Target = 1
		if HasActiveBundle(u, c.BundleID) {
			st.Current = 1
		}
		if bundleName == "" {
			bundleName = "specific bundle"
		}
		st.Unit = "subscribed to " + bundleName
		st.Met = st.Current >= 1
	case models.CriterionAccountAgeDays:
		st.Current = float64(AccountAgeDays(u, now))
		st.Unit = "days as member"
		st.Met = st.Current >= st.Target
	}

	return st
}
