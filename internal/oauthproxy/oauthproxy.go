// Package oauthproxy terminates an OAuth authorization-code flow against an
// upstream OIDC identity provider and mints short-lived local JWT access
// tokens for callers that complete it. It is the built-in signed-token
// provider: the dual-path authenticator falls back to it for tokens that the
// opaque introspection path rejected.
//
// The proxy serves four routes under /oauth plus the authorization server
// metadata document. It never stores upstream tokens; the upstream identity
// is folded into the locally minted token's claims.
package oauthproxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/agentskills/skillhost/auth"
)

const (
	authorizePath = "/oauth/authorize"
	callbackPath  = "/oauth/callback"
	tokenPath     = "/oauth/token"
	jwksPath      = "/oauth/jwks.json"
	metadataPath  = "/.well-known/oauth-authorization-server"

	defaultAccessTTL = time.Hour
	flowTTL          = 10 * time.Minute
)

// Config describes the upstream identity provider and local token policy.
type Config struct {
	// PublicURL is the externally reachable URL of this server. Only its
	// scheme and host are used: the issuer of minted tokens must be
	// path-less so the authorization server metadata document resolves at
	// the root well-known location and the flow routes line up with the
	// redirect URL.
	PublicURL string

	// UpstreamIssuer is the OIDC issuer the proxy delegates login to.
	UpstreamIssuer string

	// ClientID and ClientSecret identify this deployment at the upstream.
	ClientID     string
	ClientSecret string

	// Scopes are requested from the upstream. Defaults to
	// ["openid", "profile", "email"].
	Scopes []string

	// RequiredScopes are demanded of every minted token and advertised in
	// resource metadata.
	RequiredScopes []string

	// ExtraAuthParams are appended verbatim to the upstream authorization
	// request (e.g. access_type=offline for Google).
	ExtraAuthParams map[string]string

	// AccessTTL bounds minted token lifetime. Defaults to 1h.
	AccessTTL time.Duration

	// SigningKey signs minted tokens. Generated at startup when nil.
	SigningKey *rsa.PrivateKey

	Logger *slog.Logger
}

// Provider proxies the authorization-code flow and verifies its own tokens.
type Provider struct {
	cfg      Config
	issuer   string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	key      *rsa.PrivateKey
	kid      string
	flows    *flowStore
	log      *slog.Logger
	now      func() time.Time
}

var _ auth.Provider = (*Provider)(nil)

// New discovers the upstream issuer and prepares the proxy. The signing key
// is generated fresh when none is supplied, which invalidates outstanding
// tokens across restarts; supply a stable key to avoid that.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.PublicURL == "" {
		return nil, errors.New("oauthproxy: public URL required")
	}
	if cfg.UpstreamIssuer == "" {
		return nil, errors.New("oauthproxy: upstream issuer required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oauthproxy: client id required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	upstream, err := oidc.NewProvider(ctx, cfg.UpstreamIssuer)
	if err != nil {
		return nil, fmt.Errorf("oauthproxy: upstream discovery failed: %w", err)
	}

	issuer, err := issuerFromURL(cfg.PublicURL)
	if err != nil {
		return nil, err
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  issuer + callbackPath,
		Endpoint:     upstream.Endpoint(),
		Scopes:       append([]string(nil), cfg.Scopes...),
	}

	key := cfg.SigningKey
	if key == nil {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("oauthproxy: key generation failed: %w", err)
		}
	}

	return &Provider{
		cfg:      cfg,
		issuer:   issuer,
		oauth:    oauthCfg,
		verifier: upstream.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		key:      key,
		kid:      uuid.NewString(),
		flows:    newFlowStore(),
		log:      cfg.Logger,
		now:      time.Now,
	}, nil
}

// issuerFromURL reduces a public URL to the scheme://host issuer.
func issuerFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("oauthproxy: invalid public URL %q: %w", raw, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("oauthproxy: public URL %q must be absolute HTTP or HTTPS", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Routes mounts the OAuth flow endpoints and metadata document onto r.
func (p *Provider) Routes(r chi.Router) {
	r.Get(authorizePath, p.handleAuthorize)
	r.Get(callbackPath, p.handleCallback)
	r.Post(tokenPath, p.handleToken)
	r.Get(jwksPath, p.handleJWKS)
	r.Get(metadataPath, p.handleMetadata)
}

// Middleware returns no provider-specific middleware.
func (p *Provider) Middleware() []func(http.Handler) http.Handler { return nil }

// BaseURL returns the local issuer URL.
func (p *Provider) BaseURL() string { return p.issuer }

// RequiredScopes returns the scopes demanded of every minted token.
func (p *Provider) RequiredScopes() []string {
	return append([]string(nil), p.cfg.RequiredScopes...)
}
