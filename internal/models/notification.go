package models

import "time"

// NotificationKind names the message template a notification sink renders.
type NotificationKind string

const (
	NotifySubscriptionConfirmed NotificationKind = "subscription.confirmed"
	NotifySubscriptionCanceled  NotificationKind = "subscription.canceled"
	NotifySubscriptionPaused    NotificationKind = "subscription.paused"
	NotifySubscriptionResumed   NotificationKind = "subscription.resumed"
	NotifyPaymentReceipt        NotificationKind = "payment.receipt"
	NotifyPaymentReminder       NotificationKind = "payment.reminder"
	NotifyAdminSubscription     NotificationKind = "admin.subscription"
	NotifyAdminCreditAdjustment NotificationKind = "admin.credit_adjustment"
	NotifyProviderSubscription  NotificationKind = "provider.subscription"
	NotifyPerkManualDelivery    NotificationKind = "perk.manual_delivery"
)

// Audience of a notification.
const (
	AudienceUser     = "user"
	AudienceAdmin    = "admin"
	AudienceProvider = "provider"
)

// Notification is a fire-and-forget message emitted by the engine.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Audience  string           `json:"audience"`
	Recipient string           `json:"recipient,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Data      JSONB            `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
