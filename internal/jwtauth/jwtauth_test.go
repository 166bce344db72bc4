package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentskills/skillhost/auth"
)

type mockIssuer struct {
	srv    *httptest.Server
	issuer string
}

func newMockIssuer(t *testing.T, keysJSON []byte) *mockIssuer {
	t.Helper()
	m := &mockIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + "/keys",
			"authorization_endpoint":   m.issuer + "/oauth2/auth",
			"token_endpoint":           m.issuer + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"},
	}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, headerTyp string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if headerTyp != "" {
		tok.Header["typ"] = headerTyp
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseConfig(issuer, aud string) *Config {
	cfg := DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{aud}
	cfg.Leeway = 0
	return cfg
}

func TestVerifyTokenHappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, baseConfig(iss.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss":   iss.issuer,
		"sub":   "user-123",
		"email": "u@x.com",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "openid email",
	})

	p, err := a.VerifyToken(ctx, tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "u@x.com" {
		t.Errorf("UserID = %q, want email claim", p.UserID)
	}
	if len(p.Scopes) != 2 {
		t.Errorf("Scopes = %v", p.Scopes)
	}
	if p.ExpiresAt == nil || *p.ExpiresAt != now.Add(time.Hour).Unix() {
		t.Errorf("ExpiresAt = %v", p.ExpiresAt)
	}
}

func TestVerifyTokenSubFallback(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, baseConfig(iss.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss": iss.issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})

	p, err := a.VerifyToken(ctx, tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID != "user-123" {
		t.Errorf("UserID = %q, want sub fallback", p.UserID)
	}
}

func TestVerifyTokenAdditionalAudiences(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	primary := "https://api.example.com/mcp"
	extra := "http://localhost:8080/mcp"
	cfg := baseConfig(iss.issuer, primary)
	cfg.ExpectedAudiences = []string{primary, extra}
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": iss.issuer,
		"sub": "user-123",
		"aud": extra,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	if _, err := a.VerifyToken(ctx, signToken(t, pk, kid, "at+jwt", claims)); err != nil {
		t.Fatalf("verify (extra audience): %v", err)
	}

	claims["aud"] = "https://unknown"
	if _, err := a.VerifyToken(ctx, signToken(t, pk, kid, "at+jwt", claims)); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown audience, got %v", err)
	}
}

func TestVerifyTokenInsufficientScope(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	cfg := baseConfig(iss.issuer, aud)
	cfg.RequiredScopes = []string{"openid", "email"}
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss":   iss.issuer,
		"sub":   "user-123",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "openid",
	})

	if _, err := a.VerifyToken(ctx, tok); !errors.Is(err, auth.ErrInsufficientScope) {
		t.Fatalf("want ErrInsufficientScope, got %v", err)
	}
}

func TestVerifyTokenInvalidTyp(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, baseConfig(iss.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "JWT", jwt.MapClaims{
		"iss": iss.issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})

	if _, err := a.VerifyToken(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifyTokenIssuerMismatch(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, baseConfig(iss.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss": "https://evil.example.com",
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})

	if _, err := a.VerifyToken(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	iss := newMockIssuer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx := context.Background()
	a, err := NewFromDiscovery(ctx, baseConfig(iss.issuer, aud))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	tok := signToken(t, pk, kid, "at+jwt", jwt.MapClaims{
		"iss": iss.issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(-time.Hour).Unix(),
		"iat": now.Add(-2 * time.Hour).Unix(),
	})

	if _, err := a.VerifyToken(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}
