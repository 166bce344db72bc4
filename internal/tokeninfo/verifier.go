package tokeninfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrUnauthorized is returned for every token the verifier rejects,
// regardless of cause. Callers must not be able to distinguish a network
// failure from a claim mismatch.
var ErrUnauthorized = errors.New("tokeninfo: token verification failed")

// Token is the verified result of a successful introspection.
type Token struct {
	Raw       string
	UserID    string
	Scopes    []string
	ExpiresAt *int64
}

// Verifier checks opaque access tokens against an introspection endpoint.
// It is stateless apart from its configuration and safe for concurrent use.
type Verifier struct {
	cfg Config
	hc  *http.Client
	log *slog.Logger
	now func() time.Time
}

// New builds a Verifier from cfg. It fails only on configuration errors;
// the endpoint is not contacted until Verify is called.
func New(cfg Config) (*Verifier, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Verifier{cfg: cfg, hc: hc, log: cfg.Logger, now: time.Now}, nil
}

// Verify introspects the token and resolves its claims. Every failure mode
// returns ErrUnauthorized; the underlying cause is logged at debug level
// only, so the error carries no signal about which check rejected the token.
func (v *Verifier) Verify(ctx context.Context, token string) (*Token, error) {
	data, err := v.introspect(ctx, token)
	if err != nil {
		return nil, v.reject("introspection request failed", err)
	}

	aud, ok := v.cfg.audienceClaim(data)
	if !ok || aud == nil {
		return nil, v.reject("audience claim absent", nil)
	}
	if claimString(aud) != v.cfg.ClientID {
		return nil, v.reject("audience mismatch", nil)
	}

	expiresAt, err := v.cfg.expiresAt(data, v.now().Unix())
	if err != nil {
		return nil, v.reject("expiry claim malformed", err)
	}
	if expiresAt != nil && *expiresAt == 0 {
		return nil, v.reject("token expired", nil)
	}

	scopes, err := v.cfg.grantedScopes(data)
	if err != nil {
		return nil, v.reject("scope claim malformed", err)
	}
	if missing := missingScopes(v.cfg.RequiredScopes, scopes, v.cfg.ScopeAliases); len(missing) > 0 {
		return nil, v.reject("required scopes missing", nil, slog.Any("missing", missing))
	}

	return &Token{
		Raw:       token,
		UserID:    v.cfg.userID(data),
		Scopes:    enrichScopes(scopes, v.cfg.ScopeAliases),
		ExpiresAt: expiresAt,
	}, nil
}

func (v *Verifier) introspect(ctx context.Context, token string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	u, err := url.Parse(v.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := v.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection returned status %d", res.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *Verifier) reject(reason string, cause error, attrs ...slog.Attr) error {
	args := make([]any, 0, len(attrs)+1)
	for _, a := range attrs {
		args = append(args, a)
	}
	if cause != nil {
		args = append(args, slog.String("cause", cause.Error()))
	}
	v.log.Debug("token rejected: "+reason, args...)
	return ErrUnauthorized
}
