package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const defaultUserPageSize = 50

// UserLister defines the behaviour required from the storage client backing the users handler.
type UserLister interface {
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
}

// ProfileService loads and registers the caller's own record.
type ProfileService interface {
	Me(ctx context.Context, userID string) (models.User, error)
	Register(ctx context.Context, id, email string) (models.User, bool, error)
}

// Verifier marks a user's email as verified.
type Verifier interface {
	Verify(ctx context.Context, actor models.User, userID string) (models.User, error)
}

// Users creates an HTTP handler that lists user records. Admin only.
func Users(client UserLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "Users")
		if !ok {
			return
		}
		if !p.IsAdmin() {
			writeError(w, "Users", engine.ErrUnauthorized)
			return
		}

		limit := defaultUserPageSize
		if override := r.URL.Query().Get("limit"); override != "" {
			if parsed, err := strconv.Atoi(override); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		users, err := client.ListUsers(r.Context(), limit)
		if err != nil {
			writeError(w, "Users", err)
			return
		}
		if users == nil {
			users = []models.User{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	}
}

// Me returns the caller's record.
func Me(svc ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "Me")
		if !ok {
			return
		}
		u, err := svc.Me(r.Context(), p.UserID)
		if err != nil {
			writeError(w, "Me", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}

// Register creates an unverified record for the token subject. Calling it
// again returns the existing record with 200.
func Register(svc ProfileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "Register")
		if !ok {
			return
		}
		if !requiredParam(w, "Register", "email claim", p.Email) {
			return
		}

		u, created, err := svc.Register(r.Context(), p.UserID, p.Email)
		if err != nil {
			writeError(w, "Register", err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, userResponse(u))
	}
}

// VerifyUser marks {userID} as verified. Admin only.
func VerifyUser(svc Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "VerifyUser")
		if !ok {
			return
		}
		u, err := svc.Verify(r.Context(), actor(p), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, "VerifyUser", err)
			return
		}
		writeJSON(w, http.StatusOK, userResponse(u))
	}
}
