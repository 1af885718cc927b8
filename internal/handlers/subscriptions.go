package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// SubscriptionService runs the subscription lifecycle operations.
type SubscriptionService interface {
	Subscribe(ctx context.Context, userID string, req engine.SubscribeRequest) (models.User, error)
	Cancel(ctx context.Context, userID, bundleID string) (models.User, error)
	Pause(ctx context.Context, userID, bundleID string, days int) (models.User, error)
	Resume(ctx context.Context, userID, bundleID string) (models.User, error)
	Renew(ctx context.Context, userID, bundleID string, paymentSucceeded bool) (models.User, error)
}

type subscribePayload struct {
	BundleID  string              `json:"bundle_id"`
	Cycle     models.BillingCycle `json:"cycle"`
	PricePaid *float64            `json:"price_paid"`
}

// Subscribe subscribes the caller to a bundle. price_paid defaults to the
// bundle's catalog price for the cycle.
func Subscribe(svc SubscriptionService, bundles engine.BundleCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "Subscribe")
		if !ok {
			return
		}

		var payload subscribePayload
		if !decodeBody(w, r, "Subscribe", &payload) {
			return
		}
		if !requiredParam(w, "Subscribe", "bundle_id", payload.BundleID) {
			return
		}
		if payload.Cycle == "" {
			payload.Cycle = models.CycleMonthly
		}

		req := engine.SubscribeRequest{BundleID: payload.BundleID, Cycle: payload.Cycle}
		if payload.PricePaid != nil {
			req.PricePaid = *payload.PricePaid
		} else {
			b, err := bundles.GetBundle(r.Context(), payload.BundleID)
			if err != nil {
				writeError(w, "Subscribe", err)
				return
			}
			req.PricePaid = b.PriceFor(payload.Cycle)
		}

		u, err := svc.Subscribe(r.Context(), p.UserID, req)
		if err != nil {
			writeError(w, "Subscribe", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// CancelSubscription removes the caller's subscription to {bundleID}.
func CancelSubscription(svc SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodDelete) {
			return
		}
		p, ok := principal(w, r, "CancelSubscription")
		if !ok {
			return
		}
		u, err := svc.Cancel(r.Context(), p.UserID, chi.URLParam(r, "bundleID"))
		if err != nil {
			writeError(w, "CancelSubscription", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// PauseSubscription pauses {bundleID} for the requested number of days.
func PauseSubscription(svc SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "PauseSubscription")
		if !ok {
			return
		}

		var payload struct {
			Days int `json:"days"`
		}
		if !decodeBody(w, r, "PauseSubscription", &payload) {
			return
		}

		u, err := svc.Pause(r.Context(), p.UserID, chi.URLParam(r, "bundleID"), payload.Days)
		if err != nil {
			writeError(w, "PauseSubscription", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// ResumeSubscription resumes a paused {bundleID}.
func ResumeSubscription(svc SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "ResumeSubscription")
		if !ok {
			return
		}
		u, err := svc.Resume(r.Context(), p.UserID, chi.URLParam(r, "bundleID"))
		if err != nil {
			writeError(w, "ResumeSubscription", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// RenewSubscription applies a billing-cycle payment outcome to {bundleID}.
func RenewSubscription(svc SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "RenewSubscription")
		if !ok {
			return
		}

		var payload struct {
			PaymentSucceeded *bool `json:"payment_succeeded"`
		}
		if !decodeBody(w, r, "RenewSubscription", &payload) {
			return
		}
		if payload.PaymentSucceeded == nil {
			http.Error(w, "payment_succeeded is required", http.StatusBadRequest)
			return
		}

		u, err := svc.Renew(r.Context(), p.UserID, chi.URLParam(r, "bundleID"), *payload.PaymentSucceeded)
		if err != nil {
			writeError(w, "RenewSubscription", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}
