package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestOwnerJWTMissingSecret(t *testing.T) {
	mw := OwnerJWT("")
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTMissingHeader(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTInvalidToken(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signedOwnerToken(t, "wrong", "owner-1", []string{"p1"}))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTValidToken(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signedOwnerToken(t, "secret", "owner-1", []string{"p1"}))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := OwnerClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected owner claims in context")
		}
		if claims.Subject != "owner-1" {
			t.Fatalf("expected subject owner-1, got %q", claims.Subject)
		}
		if !CanManagePersona(r.Context(), "p1") || CanManagePersona(r.Context(), "p2") {
			t.Fatalf("expected access to p1 only")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestCanManagePersonaAdmin(t *testing.T) {
	ctx := WithOwnerClaims(context.Background(), OwnerClaims{Admin: true})
	if !CanManagePersona(ctx, "anything") {
		t.Fatalf("expected admin to manage every persona")
	}
	if CanManagePersona(context.Background(), "p1") {
		t.Fatalf("expected anonymous context to be rejected")
	}
}

func signedOwnerToken(t *testing.T, secret, subject string, personas []string) string {
	t.Helper()
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Personas: personas,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
