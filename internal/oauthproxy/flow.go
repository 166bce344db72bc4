package oauthproxy

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// handleAuthorize starts the flow: the caller's redirect target, state and
// PKCE challenge are parked locally, and the caller is bounced to the
// upstream provider with our own state and nonce.
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientRedirect := q.Get("redirect_uri")
	if clientRedirect == "" {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}
	if _, err := url.ParseRequestURI(clientRedirect); err != nil {
		http.Error(w, "redirect_uri is not a valid URI", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	nonce := uuid.NewString()
	p.flows.putPending(id, pendingAuth{
		ClientRedirect:  clientRedirect,
		ClientState:     q.Get("state"),
		CodeChallenge:   q.Get("code_challenge"),
		ChallengeMethod: q.Get("code_challenge_method"),
		Nonce:           nonce,
		ExpiresAt:       p.now().Add(flowTTL),
	})

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	for k, v := range p.cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	http.Redirect(w, r, p.oauth.AuthCodeURL(id, opts...), http.StatusFound)
}

// handleCallback completes the upstream exchange, verifies the id_token and
// nonce, and sends the caller back to its own redirect target with a local
// single-use code.
func (p *Provider) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		p.log.Warn("upstream authorization failed", slog.String("error", errCode))
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	pending, ok := p.flows.takePending(q.Get("state"), p.now())
	if !ok {
		http.Error(w, "unknown or expired authorization request", http.StatusBadRequest)
		return
	}

	tok, err := p.oauth.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		p.log.Warn("upstream code exchange failed", slog.String("err", err.Error()))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		http.Error(w, "id_token missing in upstream response", http.StatusBadGateway)
		return
	}
	idToken, err := p.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		p.log.Warn("id_token verification failed", slog.String("err", err.Error()))
		http.Error(w, "id_token verification failed", http.StatusBadGateway)
		return
	}

	var claims struct {
		Email string `json:"email"`
		Nonce string `json:"nonce"`
	}
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, "id_token claims unreadable", http.StatusBadGateway)
		return
	}
	if claims.Nonce != pending.Nonce {
		http.Error(w, "nonce mismatch", http.StatusBadRequest)
		return
	}

	scope := strings.Join(p.cfg.RequiredScopes, " ")
	if scope == "" {
		scope = strings.Join(p.cfg.Scopes, " ")
	}

	code := uuid.NewString()
	p.flows.putCode(code, authCode{
		UserID:          idToken.Subject,
		Email:           claims.Email,
		Scope:           scope,
		ClientRedirect:  pending.ClientRedirect,
		CodeChallenge:   pending.CodeChallenge,
		ChallengeMethod: pending.ChallengeMethod,
		ExpiresAt:       p.now().Add(flowTTL),
	})

	target, err := url.Parse(pending.ClientRedirect)
	if err != nil {
		http.Error(w, "stored redirect_uri invalid", http.StatusInternalServerError)
		return
	}
	tq := target.Query()
	tq.Set("code", code)
	if pending.ClientState != "" {
		tq.Set("state", pending.ClientState)
	}
	target.RawQuery = tq.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
