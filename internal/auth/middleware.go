package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey int

const claimsKey ctxKey = 1

func WithClaims(ctx context.Context, c *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}
func FromContext(ctx context.Context) (*AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*AccessClaims)
	return c, ok
}

// RequestGate verifies the bearer access token on every protected request.
// The user reload is a deliberate exception to stateless verification: it
// makes deactivation effective immediately, at the cost of a store read per
// request.
type RequestGate struct {
	Tokens *TokenIssuer
	Users  UserStore
}

func (g *RequestGate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := g.Tokens.VerifyAccess(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			// "token expired" is the client's cue to refresh rather than
			// force a logout.
			if errors.Is(err, ErrTokenExpired) {
				http.Error(w, "token expired", http.StatusUnauthorized)
				return
			}
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}

		u, err := g.Users.FindByID(r.Context(), claims.UserID)
		if err != nil || !u.Active {
			http.Error(w, "user no longer active", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole ensures the gated claims carry the given role.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "no auth context", http.StatusUnauthorized)
				return
			}
			if claims.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Helper to extract claims or fail early in handlers
func MustClaims(r *http.Request) (*AccessClaims, error) {
	if c, ok := FromContext(r.Context()); ok {
		return c, nil
	}
	return nil, errors.New("no claims")
}
