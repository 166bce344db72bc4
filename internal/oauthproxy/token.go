package oauthproxy

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agentskills/skillhost/auth"
)

// tokenResponse matches the OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func tokenError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

// handleToken exchanges a local single-use code for a minted access token,
// enforcing PKCE and redirect binding when the authorize request carried them.
func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", "unreadable form body")
		return
	}
	if gt := r.PostFormValue("grant_type"); gt != "authorization_code" {
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	code, ok := p.flows.takeCode(r.PostFormValue("code"), p.now())
	if !ok {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired code")
		return
	}

	if ru := r.PostFormValue("redirect_uri"); ru != "" && ru != code.ClientRedirect {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}

	if code.CodeChallenge != "" {
		verifier := r.PostFormValue("code_verifier")
		if verifier == "" || !pkceMatches(code.CodeChallenge, code.ChallengeMethod, verifier) {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	signed, err := p.mint(code)
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error", "token minting failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.cfg.AccessTTL.Seconds()),
		Scope:       code.Scope,
	})
}

func pkceMatches(challenge, method, verifier string) bool {
	switch method {
	case "", "plain":
		return challenge == verifier
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		return challenge == base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return false
	}
}

func (p *Provider) mint(code authCode) (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"iss":       p.issuer,
		"sub":       code.UserID,
		"aud":       p.issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(p.cfg.AccessTTL).Unix(),
		"jti":       uuid.NewString(),
		"scope":     code.Scope,
		"client_id": p.cfg.ClientID,
	}
	if code.Email != "" {
		claims["email"] = code.Email
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	tok.Header["typ"] = "at+jwt"
	return tok.SignedString(p.key)
}

// VerifyToken validates a token this proxy minted: signature, issuer,
// audience, expiry, then required scopes. The claims resolve into a
// principal the same way the opaque path resolves introspection responses.
func (p *Provider) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.issuer),
		jwt.WithLeeway(60*time.Second),
	)
	parsed, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		return &p.key.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", auth.ErrUnauthorized, err)
	}
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", auth.ErrUnauthorized)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", auth.ErrUnauthorized)
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	if len(p.cfg.RequiredScopes) > 0 {
		have := make(map[string]bool, len(scopes))
		for _, s := range scopes {
			have[s] = true
		}
		for _, want := range p.cfg.RequiredScopes {
			if !have[want] {
				return nil, auth.ErrInsufficientScope
			}
		}
	}

	userID := "unknown"
	if email, _ := claims["email"].(string); email != "" {
		userID = email
	} else if sub, _ := claims["sub"].(string); sub != "" {
		userID = sub
	}

	var expiresAt *int64
	if exp, ok := claims["exp"].(float64); ok {
		at := int64(exp)
		expiresAt = &at
	}

	return &auth.Principal{
		Token:     token,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}, nil
}
