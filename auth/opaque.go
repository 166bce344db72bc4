package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentskills/skillhost/internal/tokeninfo"
)

// OpaqueVerifierOption configures optional aspects of an opaque token
// verifier (claim names, scopes, aliases, timeout).
type OpaqueVerifierOption func(*tokeninfo.Config)

// WithRequiredScopes requires all of the provided scopes to be granted,
// verbatim or through a configured alias.
func WithRequiredScopes(scopes ...string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
	}
}

// WithScopeAliases maps short scope names to the full scope URIs that
// satisfy them. Granted scopes are enriched with matching short names.
func WithScopeAliases(aliases map[string][]string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) {
		dup := make(map[string][]string, len(aliases))
		for k, v := range aliases {
			dup[k] = append([]string(nil), v...)
		}
		c.ScopeAliases = dup
	}
}

// WithClientIDClaim overrides the claim consulted for the token's client.
// The default checks "aud" then "azp".
func WithClientIDClaim(claim string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.ClientIDClaim = claim }
}

// WithUserIDClaims overrides the ordered claims consulted for user identity.
// Defaults to ["email", "sub"].
func WithUserIDClaims(claims ...string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) {
		c.UserIDClaims = append([]string(nil), claims...)
	}
}

// WithScopeClaim overrides the claim holding the space-delimited scopes.
func WithScopeClaim(claim string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.ScopeClaim = claim }
}

// WithExpiryClaim overrides the claim holding the remaining token lifetime.
func WithExpiryClaim(claim string) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.ExpiryClaim = claim }
}

// WithTimeout bounds the introspection request. Defaults to 30s.
func WithTimeout(d time.Duration) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.Timeout = d }
}

// WithHTTPClient overrides the HTTP client used for introspection calls.
func WithHTTPClient(hc *http.Client) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.HTTPClient = hc }
}

// WithLogger directs debug-level rejection records to log.
func WithLogger(log *slog.Logger) OpaqueVerifierOption {
	return func(c *tokeninfo.Config) { c.Logger = log }
}

// NewOpaqueVerifier returns a TokenVerifier that introspects opaque access
// tokens against the given tokeninfo endpoint. The token must have been
// issued to clientID.
func NewOpaqueVerifier(endpoint, clientID string, opts ...OpaqueVerifierOption) (TokenVerifier, error) {
	cfg := tokeninfo.Config{URL: endpoint, ClientID: clientID}
	for _, opt := range opts {
		opt(&cfg)
	}
	v, err := tokeninfo.New(cfg)
	if err != nil {
		return nil, err
	}
	return &opaqueAdapter{v: v}, nil
}

type opaqueAdapter struct {
	v *tokeninfo.Verifier
}

func (a *opaqueAdapter) VerifyToken(ctx context.Context, token string) (*Principal, error) {
	tok, err := a.v.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, tokeninfo.ErrUnauthorized) {
			return nil, errors.Join(ErrUnauthorized, err)
		}
		return nil, err
	}
	return &Principal{
		Token:     tok.Raw,
		UserID:    tok.UserID,
		Scopes:    tok.Scopes,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}
