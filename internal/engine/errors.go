package engine

import "errors"

// Errors surfaced by the rules engine. Callers match them with errors.Is and
// translate them into user-facing messages.
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotVerified         = errors.New("email not verified")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotSubscribed       = errors.New("not subscribed to bundle")
	ErrNotPaused           = errors.New("subscription is not paused")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientCredits = errors.New("insufficient available credits")
	ErrPerkLocked          = errors.New("perk is locked")
	ErrPerkExpired         = errors.New("perk offer has expired")
	ErrPerkInactive        = errors.New("perk is not active")
	ErrPerkNotFound        = errors.New("perk not found")
	ErrBundleNotFound      = errors.New("bundle not found")
	ErrUserNotFound        = errors.New("user not found")
)

// IsNotFound reports whether err means a catalog entry or user does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBundleNotFound) || errors.Is(err, ErrPerkNotFound) || errors.Is(err, ErrUserNotFound)
}
