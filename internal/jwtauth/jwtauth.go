// Package jwtauth validates RFC 9068 JWT access tokens issued by an external
// authorization server, discovered via OIDC metadata. It acts as the signed
// token provider for deployments that delegate the whole OAuth flow to a real
// issuer instead of running the built-in proxy.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentskills/skillhost/auth"
)

// Config controls validation behavior for access tokens.
type Config struct {
	// Issuer is the authorization server issuer URL used for discovery and
	// iss claim enforcement.
	Issuer string

	// ExpectedAudiences contains the primary audience (index 0) followed by
	// any additional accepted audiences. The first entry should be the
	// public endpoint URL registered with the authorization server.
	ExpectedAudiences []string

	// RequiredScopes must all be present in the space-delimited scope claim.
	RequiredScopes []string

	// UserIDClaims are consulted in order to resolve the user identity from
	// the token claims. Defaults to ["email", "sub"].
	UserIDClaims []string

	// AllowedAlgs restricts accepted JWS algorithms. Defaults to ["RS256"].
	AllowedAlgs []string

	// Leeway is the clock skew tolerance for time-based claims. Defaults to 60s.
	Leeway time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig() *Config {
	return &Config{
		UserIDClaims: []string{"email", "sub"},
		AllowedAlgs:  []string{"RS256"},
		Leeway:       60 * time.Second,
	}
}

// Authenticator validates externally issued access tokens. It satisfies the
// signed-token provider contract: it serves no routes of its own and points
// clients at the external issuer for metadata discovery.
type Authenticator struct {
	cfg     *Config
	iss     string
	keyfunc jwt.Keyfunc

	authorizationEndpoint string
	tokenEndpoint         string
}

var _ auth.Provider = (*Authenticator)(nil)

// NewFromDiscovery performs OIDC discovery to obtain the issuer's jwks_uri
// and endpoints, and constructs an Authenticator enforcing the policies in
// cfg. JWKS keys are auto-refreshed in the background.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one audience is required")
	}
	if len(cfg.UserIDClaims) == 0 {
		cfg.UserIDClaims = []string{"email", "sub"}
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string `json:"issuer"`
		JwksURI       string `json:"jwks_uri"`
		Authorization string `json:"authorization_endpoint"`
		Token         string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Authenticator{
		cfg: cfg,
		iss: meta.Issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					return kf.Keyfunc(t)
				}
			}
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		},
		authorizationEndpoint: meta.Authorization,
		tokenEndpoint:         meta.Token,
	}, nil
}

// VerifyToken validates the token's signature, issuer, audience, time claims
// and required scopes, and resolves the bearer into a principal.
func (a *Authenticator) VerifyToken(ctx context.Context, tok string) (*auth.Principal, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", auth.ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if len(a.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(a.cfg.ExpectedAudiences[0]))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", auth.ErrUnauthorized, err)
	}

	// RFC 9068 typ header check.
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", auth.ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", auth.ErrUnauthorized)
	}

	if len(a.cfg.ExpectedAudiences) > 1 && !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", auth.ErrUnauthorized)
	}

	scopes := strings.Fields(stringClaim(claims["scope"]))
	if len(a.cfg.RequiredScopes) > 0 {
		have := make(map[string]bool, len(scopes))
		for _, s := range scopes {
			have[s] = true
		}
		for _, want := range a.cfg.RequiredScopes {
			if !have[want] {
				return nil, auth.ErrInsufficientScope
			}
		}
	}

	userID := "unknown"
	for _, claim := range a.cfg.UserIDClaims {
		if v := stringClaim(claims[claim]); v != "" {
			userID = v
			break
		}
	}

	var expiresAt *int64
	if exp, ok := claims["exp"].(float64); ok {
		at := int64(exp)
		expiresAt = &at
	}

	return &auth.Principal{
		Token:     tok,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, nil
}

// Routes is a no-op: the external issuer owns the whole OAuth flow surface.
func (a *Authenticator) Routes(r chi.Router) {}

// Middleware returns no provider-specific middleware.
func (a *Authenticator) Middleware() []func(http.Handler) http.Handler { return nil }

// BaseURL returns the external issuer URL.
func (a *Authenticator) BaseURL() string { return a.cfg.Issuer }

// RequiredScopes returns the scopes demanded of every token.
func (a *Authenticator) RequiredScopes() []string {
	return append([]string(nil), a.cfg.RequiredScopes...)
}

// AuthorizationEndpoint returns the issuer's authorization endpoint, when
// discovery advertised one.
func (a *Authenticator) AuthorizationEndpoint() string { return a.authorizationEndpoint }

// TokenEndpoint returns the issuer's token endpoint, when discovery
// advertised one.
func (a *Authenticator) TokenEndpoint() string { return a.tokenEndpoint }

func stringClaim(v any) string {
	s, _ := v.(string)
	return s
}

func audIntersects(aud any, want []string) bool {
	for _, w := range want {
		if audContains(aud, w) {
			return true
		}
	}
	return false
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
