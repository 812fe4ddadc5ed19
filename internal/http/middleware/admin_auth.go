package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ownerClaimsKey contextKey = "ownerClaims"

// OwnerClaims identifies a persona owner. Admin tokens may manage every persona.
type OwnerClaims struct {
	jwt.RegisteredClaims
	Personas []string `json:"personas,omitempty"`
	Admin    bool     `json:"admin,omitempty"`
}

// OwnerJWT enforces an HMAC-signed JWT for the owner-facing admin surface.
func OwnerJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, `{"error": "admin auth disabled"}`, http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := OwnerClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ownerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerClaimsFromContext returns owner JWT claims if present.
func OwnerClaimsFromContext(ctx context.Context) (OwnerClaims, bool) {
	claims, ok := ctx.Value(ownerClaimsKey).(OwnerClaims)
	return claims, ok
}

// WithOwnerClaims stores claims on ctx. Handlers mounted without OwnerJWT
// (tests, internal tooling) use it to act as an owner.
func WithOwnerClaims(ctx context.Context, claims OwnerClaims) context.Context {
	return context.WithValue(ctx, ownerClaimsKey, claims)
}

// CanManagePersona reports whether the authenticated owner may read or change
// the given persona's policy and escalations.
func CanManagePersona(ctx context.Context, personaID string) bool {
	claims, ok := OwnerClaimsFromContext(ctx)
	if !ok {
		return false
	}
	return claims.Admin || slices.Contains(claims.Personas, personaID)
}
