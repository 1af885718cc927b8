package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller extracted from a bearer token.
type Principal struct {
	UserID string
	Email  string
	Role   models.Role
}

// Guest is the principal for requests without a bearer token.
var Guest = Principal{Role: models.RoleGuest}

// IsGuest reports whether p carries no identity.
func (p Principal) IsGuest() bool {
	return p.UserID == "" || p.Role == models.RoleGuest
}

// IsAdmin reports whether p has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin && p.UserID != ""
}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored on ctx, or Guest.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey).(Principal); ok {
		return p
	}
	return Guest
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an Authenticator for the shared secret. issuer is
// enforced when non-empty.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}, nil
}

// Parse validates token and returns its principal. The role claim defaults
// to user.
func (a *Authenticator) Parse(token string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Principal{}, errors.New("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errors.New("token has no subject")
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	switch models.Role(role) {
	case models.RoleUser, models.RoleProvider, models.RoleAdmin:
	case "":
		role = string(models.RoleUser)
	default:
		return Principal{}, fmt.Errorf("unknown role %q", role)
	}
	return Principal{UserID: sub, Email: email, Role: models.Role(role)}, nil
}

// Issue signs a token for p. Used by dbtool and tests.
func (a *Authenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  p.UserID,
		"role": string(p.Role),
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware attaches the bearer token's principal to the request context.
// Requests without an Authorization header continue as Guest; a malformed or
// invalid token is rejected with 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Guest)))
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token == "" {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			p, err := a.Parse(token)
			if err != nil {
				log.Printf("[auth] rejected token: %v", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
