package models

import "time"

// CriterionType identifies which derived quantity an unlock criterion checks.
type CriterionType string

const (
	CriterionMinSubscriptionsLinked   CriterionType = "MIN_SUBSCRIPTIONS_LINKED"
	CriterionMinMonthlySpend          CriterionType = "MIN_MONTHLY_SPEND"
	CriterionSpecificBundleSubscribed CriterionType = "SPECIFIC_BUNDLE_SUBSCRIBED"
	CriterionAccountAgeDays           CriterionType = "ACCOUNT_AGE_DAYS"
)

// UnlockCriterion is a single eligibility rule. Threshold carries counts,
// amounts and days; BundleID is only used by SPECIFIC_BUNDLE_SUBSCRIBED.
type UnlockCriterion struct {
	Type        CriterionType `json:"type" yaml:"type"`
	Threshold   float64       `json:"threshold,omitempty" yaml:"threshold"`
	BundleID    string        `json:"bundle_id,omitempty" yaml:"bundle_id"`
	Description string        `json:"description" yaml:"description"`
}

// DeliveryMethod is how a partner perk reaches the user.
type DeliveryMethod string

const (
	DeliveryLink        DeliveryMethod = "LINK"
	DeliveryCode        DeliveryMethod = "CODE"
	DeliveryManualEmail DeliveryMethod = "MANUAL_EMAIL"
)

// PerkDelivery is the payload handed to the user once a perk is unlocked.
type PerkDelivery struct {
	Method       DeliveryMethod `json:"method" yaml:"method"`
	Value        string         `json:"value,omitempty" yaml:"value"`
	Instructions string         `json:"instructions,omitempty" yaml:"instructions"`
}

// Perk is an immutable catalog entry offered by a partner.
type Perk struct {
	ID             string            `json:"id" yaml:"id"`
	Title          string            `json:"title" yaml:"title"`
	PartnerID      string            `json:"partner_id" yaml:"partner_id"`
	Description    string            `json:"description,omitempty" yaml:"description"`
	Category       string            `json:"category,omitempty" yaml:"category"`
	UnlockCriteria []UnlockCriterion `json:"unlock_criteria" yaml:"unlock_criteria"`
	Delivery       PerkDelivery      `json:"delivery" yaml:"delivery"`
	ExpiryDate     *time.Time        `json:"expiry_date,omitempty" yaml:"expiry_date"`
	ActiveStatus   bool              `json:"active_status" yaml:"active_status"`
}

// ExpiredAt reports whether the perk offer has passed its expiry date at now.
func (p Perk) ExpiredAt(now time.Time) bool {
	return p.ExpiryDate != nil && p.ExpiryDate.Before(now)
}

// PerkState is the per-user status of a perk. Transitions only move forward:
// locked, then unlocked, then redeemed.
type PerkState string

const (
	PerkLocked   PerkState = "locked"
	PerkUnlocked PerkState = "unlocked"
	PerkRedeemed PerkState = "redeemed"
)

// UserPerkStatus records how far a user has progressed with one perk.
type UserPerkStatus struct {
	PerkID         string        `json:"perk_id"`
	Status         PerkState     `json:"status"`
	DateUnlocked   *time.Time    `json:"date_unlocked,omitempty"`
	DateRedeemed   *time.Time    `json:"date_redeemed,omitempty"`
	RedemptionInfo *PerkDelivery `json:"redemption_info,omitempty"`
}
