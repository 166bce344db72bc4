package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type principalKey struct{}

// ContextWithPrincipal returns a context carrying the authenticated principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// BearerFromRequest extracts the bearer token from the Authorization header.
func BearerFromRequest(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireBearer returns middleware enforcing bearer authentication via v.
// On success the principal is attached to the request context; otherwise a
// 401 (or 403 for insufficient scope) with a Bearer challenge is written.
func RequireBearer(v TokenVerifier, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerFromRequest(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, realm))
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			p, err := v.VerifyToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInsufficientScope) {
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, realm))
					http.Error(w, "insufficient scope", http.StatusForbidden)
					return
				}
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, realm))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}
