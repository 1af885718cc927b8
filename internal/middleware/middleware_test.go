package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator("test-secret", "onesub")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return a
}

func principalEcho(got *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticatorRoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.Issue(Principal{UserID: "u-1", Email: "u1@example.com", Role: models.RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var got Principal
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware()(principalEcho(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got.UserID != "u-1" || got.Email != "u1@example.com" || !got.IsAdmin() {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestAuthenticatorWithoutHeaderIsGuest(t *testing.T) {
	a := newTestAuthenticator(t)

	var got Principal
	rec := httptest.NewRecorder()
	a.Middleware()(principalEcho(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !got.IsGuest() {
		t.Fatalf("expected guest, got %+v", got)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	a := newTestAuthenticator(t)
	other, _ := NewAuthenticator("other-secret", "onesub")
	wrongKey, _ := other.Issue(Principal{UserID: "u-1", Role: models.RoleUser}, time.Minute)
	expired, _ := a.Issue(Principal{UserID: "u-1", Role: models.RoleUser}, -time.Minute)
	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1", "role": "root", "iss": "onesub", "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1", "iss": "onesub",
	}).SignedString([]byte("test-secret"))

	cases := map[string]string{
		"no bearer prefix": "Token abc",
		"garbage":          "Bearer not-a-jwt",
		"wrong key":        "Bearer " + wrongKey,
		"expired":          "Bearer " + expired,
		"unknown role":     "Bearer " + badRole,
		"missing exp":      "Bearer " + noExp,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			var got Principal
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()
			a.Middleware()(principalEcho(&got)).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRoleDefaultsToUser(t *testing.T) {
	a := newTestAuthenticator(t)
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-2", "iss": "onesub", "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))

	p, err := a.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Role != models.RoleUser {
		t.Fatalf("expected user role, got %s", p.Role)
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator("", ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, observation{method, route, status})
}

func TestRequestTrackerUsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(NewRequestTracker(obs).Middleware())
	r.Get("/api/users/{userID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	if len(obs.seen) != 1 {
		t.Fatalf("expected one observation, got %d", len(obs.seen))
	}
	want := observation{http.MethodGet, "/api/users/{userID}", http.StatusTeapot}
	if obs.seen[0] != want {
		t.Fatalf("expected %+v, got %+v", want, obs.seen[0])
	}
}

func TestRequestTrackerDefaultsTo200(t *testing.T) {
	obs := &recordingObserver{}
	h := NewRequestTracker(obs).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

	if len(obs.seen) != 1 || obs.seen[0].status != http.StatusOK || obs.seen[0].route != "unmatched" {
		t.Fatalf("unexpected observation: %+v", obs.seen)
	}
}
