// Package authtest provides TokenVerifier and Provider implementations for
// tests and local development. None of these verify anything; do not use
// them in production.
package authtest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentskills/skillhost/auth"
	"github.com/go-chi/chi/v5"
)

// StaticVerifier accepts only the tokens it was seeded with.
type StaticVerifier struct {
	tokens map[string]*auth.Principal
}

// NewStaticVerifier builds a verifier from a token to principal mapping.
func NewStaticVerifier(tokens map[string]*auth.Principal) *StaticVerifier {
	dup := make(map[string]*auth.Principal, len(tokens))
	for k, v := range tokens {
		dup[k] = v
	}
	return &StaticVerifier{tokens: dup}
}

func (s *StaticVerifier) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	p, ok := s.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return p, nil
}

// ErrVerifier fails every verification with the given error.
type ErrVerifier struct {
	Err error
}

func (e *ErrVerifier) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	return nil, e.Err
}

// UnsecuredProvider accepts every non-empty token and reports a fixed user.
// It serves no routes and requires no scopes.
type UnsecuredProvider struct {
	UserID string
	Issuer string
}

var _ auth.Provider = (*UnsecuredProvider)(nil)

func (u *UnsecuredProvider) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	if token == "" {
		return nil, auth.ErrUnauthorized
	}
	uid := u.UserID
	if uid == "" {
		uid = "anonymous"
	}
	return &auth.Principal{Token: token, UserID: uid}, nil
}

func (u *UnsecuredProvider) Routes(r chi.Router) {}

func (u *UnsecuredProvider) Middleware() []func(http.Handler) http.Handler { return nil }

func (u *UnsecuredProvider) BaseURL() string {
	if u.Issuer != "" {
		return u.Issuer
	}
	return "http://localhost"
}

func (u *UnsecuredProvider) RequiredScopes() []string { return nil }
