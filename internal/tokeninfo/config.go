// Package tokeninfo verifies opaque OAuth access tokens against a provider's
// token introspection endpoint. It implements the query-parameter GET
// convention used by Google's tokeninfo service and resolves the response
// claims into a verified token carrying user identity, scopes and expiry.
package tokeninfo

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultScopeClaim  = "scope"
	defaultExpiryClaim = "expires_in"
)

func defaultUserIDClaims() []string { return []string{"email", "sub"} }

// Config describes how to reach the introspection endpoint and how to
// interpret its response. URL and ClientID are required; everything else
// defaults to the Google tokeninfo conventions.
type Config struct {
	// URL is the introspection endpoint. The token is passed as the
	// access_token query parameter of a GET request.
	URL string

	// ClientID is the OAuth client the token must have been issued to.
	ClientID string

	// ClientIDClaim names the response claim carrying the token's client.
	// When empty, "aud" is consulted with "azp" as fallback.
	ClientIDClaim string

	// UserIDClaims are consulted in order to resolve the user identity.
	// Defaults to ["email", "sub"].
	UserIDClaims []string

	// ScopeClaim names the claim holding the space-delimited scope list.
	// Defaults to "scope".
	ScopeClaim string

	// ExpiryClaim names the claim holding the remaining token lifetime in
	// seconds. Defaults to "expires_in".
	ExpiryClaim string

	// RequiredScopes must all be present on the token, either verbatim or
	// through a ScopeAliases entry. Empty means no scope check.
	RequiredScopes []string

	// ScopeAliases maps a short scope name to the full scope URIs that
	// satisfy it. After validation, granted scopes are enriched with the
	// short names of any alias group they match.
	ScopeAliases map[string][]string

	// Timeout bounds the introspection HTTP request. Defaults to 30s.
	Timeout time.Duration

	// HTTPClient overrides the HTTP client used for introspection calls.
	HTTPClient *http.Client

	// Logger receives debug-level records explaining verification failures.
	// Failure causes are never carried on returned errors.
	Logger *slog.Logger
}

func (c *Config) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ScopeClaim == "" {
		c.ScopeClaim = defaultScopeClaim
	}
	if c.ExpiryClaim == "" {
		c.ExpiryClaim = defaultExpiryClaim
	}
	if len(c.UserIDClaims) == 0 {
		c.UserIDClaims = defaultUserIDClaims()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("tokeninfo: endpoint URL required")
	}
	if c.ClientID == "" {
		return errors.New("tokeninfo: client id required")
	}
	return nil
}
