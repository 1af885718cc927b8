package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// PerkService runs the per-user perk operations.
type PerkService interface {
	Me(ctx context.Context, userID string) (models.User, error)
	Claim(ctx context.Context, userID, perkID string) (models.User, error)
	Progress(ctx context.Context, userID, perkID string) (engine.PerkProgress, error)
}

// PerkAdminService edits the perk catalog and reports on it. Admin only.
type PerkAdminService interface {
	AddPerk(ctx context.Context, actor models.User, p models.Perk) (models.Perk, error)
	UpdatePerk(ctx context.Context, actor models.User, p models.Perk) (models.Perk, error)
	DeletePerk(ctx context.Context, actor models.User, perkID string) (int64, error)
	PerkStats(ctx context.Context, actor models.User, perkID string) (engine.PerkStats, error)
}

// MyPerks returns the caller's perk statuses.
func MyPerks(svc PerkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "MyPerks")
		if !ok {
			return
		}
		u, err := svc.Me(r.Context(), p.UserID)
		if err != nil {
			writeError(w, "MyPerks", err)
			return
		}
		perks := u.UnlockedPerks
		if perks == nil {
			perks = []models.UserPerkStatus{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"perks": perks})
	}
}

// ClaimPerk redeems an unlocked {perkID} and returns its delivery details.
func ClaimPerk(svc PerkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "ClaimPerk")
		if !ok {
			return
		}

		perkID := chi.URLParam(r, "perkID")
		u, err := svc.Claim(r.Context(), p.UserID, perkID)
		if err != nil {
			writeError(w, "ClaimPerk", err)
			return
		}

		resp := map[string]any{"perk_id": perkID}
		if i := u.PerkStatus(perkID); i >= 0 {
			resp["status"] = u.UnlockedPerks[i]
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PerkProgress reports the caller's standing against each criterion of {perkID}.
func PerkProgress(svc PerkService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "PerkProgress")
		if !ok {
			return
		}
		progress, err := svc.Progress(r.Context(), p.UserID, chi.URLParam(r, "perkID"))
		if err != nil {
			writeError(w, "PerkProgress", err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

// PerkStats reports unlock and redemption counts for {perkID}.
func PerkStats(svc PerkAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "PerkStats")
		if !ok {
			return
		}
		stats, err := svc.PerkStats(r.Context(), actor(p), chi.URLParam(r, "perkID"))
		if err != nil {
			writeError(w, "PerkStats", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// CreatePerk adds a perk to the catalog.
func CreatePerk(svc PerkAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "CreatePerk")
		if !ok {
			return
		}

		var perk models.Perk
		if !decodeBody(w, r, "CreatePerk", &perk) {
			return
		}

		created, err := svc.AddPerk(r.Context(), actor(p), perk)
		if err != nil {
			writeError(w, "CreatePerk", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdatePerk replaces {perkID} in the catalog.
func UpdatePerk(svc PerkAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPut) {
			return
		}
		p, ok := principal(w, r, "UpdatePerk")
		if !ok {
			return
		}

		var perk models.Perk
		if !decodeBody(w, r, "UpdatePerk", &perk) {
			return
		}
		perk.ID = chi.URLParam(r, "perkID")

		updated, err := svc.UpdatePerk(r.Context(), actor(p), perk)
		if err != nil {
			writeError(w, "UpdatePerk", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeletePerk removes {perkID} from the catalog and from every user record.
func DeletePerk(svc PerkAdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodDelete) {
			return
		}
		p, ok := principal(w, r, "DeletePerk")
		if !ok {
			return
		}

		perkID := chi.URLParam(r, "perkID")
		n, err := svc.DeletePerk(r.Context(), actor(p), perkID)
		if err != nil {
			writeError(w, "DeletePerk", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"perk_id": perkID, "users_updated": n})
	}
}
