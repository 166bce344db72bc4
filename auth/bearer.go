package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// BearerAuthenticator layers opaque token verification on top of a signed
// token Provider. Tokens are offered to the opaque verifier first; any
// rejection there falls through to the provider silently, so callers cannot
// tell which path handled a token. The authenticator delegates routes,
// middleware and discovery metadata to the provider unchanged.
type BearerAuthenticator struct {
	opaque   TokenVerifier
	provider Provider
	log      *slog.Logger
}

// BearerOption configures a BearerAuthenticator.
type BearerOption func(*BearerAuthenticator)

// WithBearerLogger directs the authenticator's debug records to log.
func WithBearerLogger(log *slog.Logger) BearerOption {
	return func(b *BearerAuthenticator) { b.log = log }
}

// NewBearerAuthenticator composes an optional opaque verifier with a signed
// token provider. A nil opaque verifier disables the opaque path entirely.
func NewBearerAuthenticator(opaque TokenVerifier, provider Provider, opts ...BearerOption) *BearerAuthenticator {
	b := &BearerAuthenticator{
		opaque:   opaque,
		provider: provider,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Provider = (*BearerAuthenticator)(nil)

// VerifyToken tries the opaque path first and falls back to the provider on
// any failure. Errors from either path collapse into ErrUnauthorized except
// for ErrInsufficientScope, which passes through so transports can map it
// to a 403.
func (b *BearerAuthenticator) VerifyToken(ctx context.Context, token string) (*Principal, error) {
	if b.opaque != nil {
		p, err := b.opaque.VerifyToken(ctx, token)
		if err == nil && p != nil {
			b.log.Debug("token verified via opaque path", slog.String("user_id", p.UserID))
			return p, nil
		}
		if err != nil {
			b.log.Debug("opaque verification failed, trying signed path")
		}
	}

	p, err := b.provider.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInsufficientScope) {
			return nil, err
		}
		if errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return p, nil
}

// Routes mounts the provider's HTTP endpoints onto r.
func (b *BearerAuthenticator) Routes(r chi.Router) { b.provider.Routes(r) }

// Middleware returns bearer authentication middleware backed by the
// authenticator itself, followed by any provider middleware.
func (b *BearerAuthenticator) Middleware() []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{RequireBearer(b, b.provider.BaseURL())}
	return append(mws, b.provider.Middleware()...)
}

// BaseURL returns the provider's issuer URL.
func (b *BearerAuthenticator) BaseURL() string { return b.provider.BaseURL() }

// RequiredScopes returns the provider's required scopes.
func (b *BearerAuthenticator) RequiredScopes() []string { return b.provider.RequiredScopes() }
