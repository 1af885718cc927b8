package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/PortNumber53/onesub-engine/backend/internal/accounts"
	"github.com/PortNumber53/onesub-engine/backend/internal/catalog"
	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/middleware"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
	"github.com/PortNumber53/onesub-engine/backend/internal/store"
)

const maxBodyBytes = 1 << 20

// statusFor maps engine and service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotVerified):
		return http.StatusForbidden
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotSubscribed),
		errors.Is(err, engine.ErrNotPaused),
		errors.Is(err, engine.ErrPerkLocked),
		errors.Is(err, engine.ErrPerkExpired),
		errors.Is(err, engine.ErrPerkInactive),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInsufficientCredits),
		errors.Is(err, accounts.ErrInvalidPerk):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrReadOnly):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err under name and writes a JSON error body. Internal
// errors are not echoed to the client.
func writeError(w http.ResponseWriter, name string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", name, err)
		message = "internal error"
	} else {
		log.Printf("%s: rejected (%d): %v", name, status, err)
	}
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// decodeBody decodes a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, name string, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("%s: invalid JSON payload: %v", name, err)
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return false
	}
	return true
}

// principal returns the caller, writing 401 for guests.
func principal(w http.ResponseWriter, r *http.Request, name string) (middleware.Principal, bool) {
	p := middleware.PrincipalFrom(r.Context())
	if p.IsGuest() {
		writeError(w, name, engine.ErrNotAuthenticated)
		return p, false
	}
	return p, true
}

// actor is the acting principal as the engine sees it.
func actor(p middleware.Principal) models.User {
	return models.User{ID: p.UserID, Email: p.Email, Role: p.Role}
}

// userResponse is the public view of a user record.
func userResponse(u models.User) map[string]any {
	return map[string]any{
		"user": u,
		"credits": map[string]string{
			"available": engine.FormatCredits(u.CreditsAvailable),
			"earned":    engine.FormatCredits(u.TotalCreditsEarned),
			"redeemed":  engine.FormatCredits(u.CreditsRedeemed),
		},
	}
}

func requiredParam(w http.ResponseWriter, name, key, value string) bool {
	if value == "" {
		http.Error(w, fmt.Sprintf("%s is required", key), http.StatusBadRequest)
		log.Printf("%s: missing %s", name, key)
		return false
	}
	return true
}
