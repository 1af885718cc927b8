package handlers

import (
	"net/http"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/middleware"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// Bundles lists the bundle catalog.
func Bundles(bundles engine.BundleCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		list, err := bundles.ListBundles(r.Context())
		if err != nil {
			writeError(w, "Bundles", err)
			return
		}
		if list == nil {
			list = []models.Bundle{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"bundles": list})
	}
}

// Perks lists active perks. Admins may pass ?all=true to include inactive ones.
func Perks(perks engine.PerkCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		list, err := perks.ListPerks(r.Context())
		if err != nil {
			writeError(w, "Perks", err)
			return
		}

		includeInactive := r.URL.Query().Get("all") == "true" && middleware.PrincipalFrom(r.Context()).IsAdmin()
		visible := make([]models.Perk, 0, len(list))
		for _, p := range list {
			if p.ActiveStatus || includeInactive {
				visible = append(visible, p)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"perks": visible})
	}
}
