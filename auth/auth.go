package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// Principal represents an authenticated bearer of an access token.
// Values are immutable once returned and safe for concurrent use.
type Principal struct {
	// Token is the raw bearer token the principal presented.
	Token string

	// UserID identifies the end user, resolved from the first configured
	// identity claim that was present ("email" then "sub" by default).
	// "unknown" when no identity claim was found.
	UserID string

	// Scopes are the scopes granted to the token, including any short-name
	// aliases the verifier resolved.
	Scopes []string

	// ExpiresAt is the absolute expiry as a Unix timestamp, or nil when the
	// token carried no expiry information.
	ExpiresAt *int64
}

// HasScope reports whether the principal was granted the given scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenVerifier validates a bearer token string. Implementations return an
// error wrapping ErrUnauthorized for any token they cannot vouch for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Principal, error)
}

// Provider is a signed-token verifier that also owns the HTTP surface of an
// authorization flow. The built-in OAuth proxy serves authorize/callback/
// token/jwks routes; an external-issuer provider serves none and points
// clients at the real authorization server via BaseURL.
type Provider interface {
	TokenVerifier

	// Routes mounts the provider's HTTP endpoints, if any, onto r.
	Routes(r chi.Router)

	// Middleware returns HTTP middleware the transport should apply to
	// protected routes. May be empty.
	Middleware() []func(http.Handler) http.Handler

	// BaseURL is the issuer URL clients should be directed to for
	// authorization server metadata discovery.
	BaseURL() string

	// RequiredScopes lists the scopes the provider demands of every token.
	RequiredScopes() []string
}
