package models

import "time"

// Role is the platform role of a principal.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	RoleGuest    Role = "guest"
)

// AccountStatus is managed by admins and is independent of subscriptions.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Derived values of User.SubscriptionStatus.
const (
	UserSubscriptionActive   = "active"
	UserSubscriptionCanceled = "canceled"
	UserSubscriptionNone     = "none"
)

// User is the record the rules engine operates on. Persistence and
// serialization belong to the caller.
type User struct {
	ID                  string               `json:"id"`
	Email               string               `json:"email"`
	FullName            string               `json:"full_name,omitempty"`
	Role                Role                 `json:"role"`
	IsVerified          bool                 `json:"is_verified"`
	Status              AccountStatus        `json:"status"`
	RegistrationDate    time.Time            `json:"registration_date"`
	ActiveSubscriptions []ActiveSubscription `json:"active_subscriptions"`
	SubscriptionStatus  string               `json:"subscription_status"`

	TotalCreditsEarned        float64    `json:"total_credits_earned"`
	CreditsAvailable          float64    `json:"credits_available"`
	CreditsRedeemed           float64    `json:"credits_redeemed"`
	LastCreditUpdateTimestamp *time.Time `json:"last_credit_update_timestamp,omitempty"`
	LastAccrualPeriod         string     `json:"last_accrual_period,omitempty"`

	UnlockedPerks []UserPerkStatus `json:"unlocked_perks"`

	// Version is the persisted row version, bumped on every save.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers can mutate the result without
// touching the original record.
func (u User) Clone() User {
	out := u
	if u.ActiveSubscriptions != nil {
		out.ActiveSubscriptions = make([]ActiveSubscription, len(u.ActiveSubscriptions))
		for i, s := range u.ActiveSubscriptions {
			s.PauseEndDate = cloneTime(s.PauseEndDate)
			s.PausedAt = cloneTime(s.PausedAt)
			out.ActiveSubscriptions[i] = s
		}
	}
	if u.UnlockedPerks != nil {
		out.UnlockedPerks = make([]UserPerkStatus, len(u.UnlockedPerks))
		for i, p := range u.UnlockedPerks {
			p.DateUnlocked = cloneTime(p.DateUnlocked)
			p.DateRedeemed = cloneTime(p.DateRedeemed)
			if p.RedemptionInfo != nil {
				info := *p.RedemptionInfo
				p.RedemptionInfo = &info
			}
			out.UnlockedPerks[i] = p
		}
	}
	out.LastCreditUpdateTimestamp = cloneTime(u.LastCreditUpdateTimestamp)
	return out
}

// Subscription returns the index of the entry for bundleID, or -1.
func (u User) Subscription(bundleID string) int {
	for i, s := range u.ActiveSubscriptions {
		if s.BundleID == bundleID {
			return i
		}
	}
	return -1
}

// PerkStatus returns the index of the status entry for perkID, or -1.
func (u User) PerkStatus(perkID string) int {
	for i, p := range u.UnlockedPerks {
		if p.PerkID == perkID {
			return i
		}
	}
	return -1
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
