package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// CreditService moves credits between balances.
type CreditService interface {
	Redeem(ctx context.Context, userID string, amount float64) (models.User, error)
	AdminAdjust(ctx context.Context, actor models.User, targetID string, newBalance float64) (models.User, error)
}

// RedeemCredits redeems part of the caller's available credits.
func RedeemCredits(svc CreditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "RedeemCredits")
		if !ok {
			return
		}

		var payload struct {
			Amount float64 `json:"amount"`
		}
		if !decodeBody(w, r, "RedeemCredits", &payload) {
			return
		}

		u, err := svc.Redeem(r.Context(), p.UserID, payload.Amount)
		if err != nil {
			writeError(w, "RedeemCredits", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// AdjustCredits sets {userID}'s available balance. Admin only.
func AdjustCredits(svc CreditService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "AdjustCredits")
		if !ok {
			return
		}

		var payload struct {
			Available *float64 `json:"available"`
		}
		if !decodeBody(w, r, "AdjustCredits", &payload) {
			return
		}
		if payload.Available == nil {
			http.Error(w, "available is required", http.StatusBadRequest)
			return
		}

		u, err := svc.AdminAdjust(r.Context(), actor(p), chi.URLParam(r, "userID"), *payload.Available)
		if err != nil {
			writeError(w, "AdjustCredits", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}
