package tokeninfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// claimString renders a claim value the way introspection endpoints are
// observed to encode them: strings pass through, JSON numbers lose any
// trailing ".0", everything else falls back to its default formatting.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// claimInt coerces a claim value to an integer. Google's tokeninfo returns
// expires_in as a JSON string; other providers use numbers.
func claimInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case int64:
		return t, true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// truthy reports whether a claim value carries content. Empty strings,
// zero numbers, false, and empty collections count as absent, matching how
// introspection responses pad out unset claims.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "" && t.String() != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// audienceClaim resolves the claim identifying which client the token was
// issued to. An explicitly configured claim wins; otherwise "aud" is
// consulted with "azp" as fallback. Claims with empty values are treated as
// absent, so an empty "aud" still falls through to "azp".
func (c *Config) audienceClaim(data map[string]any) (any, bool) {
	if c.ClientIDClaim != "" {
		v := data[c.ClientIDClaim]
		return v, truthy(v)
	}
	if v := data["aud"]; truthy(v) {
		return v, true
	}
	v := data["azp"]
	return v, truthy(v)
}

// userID resolves the user identity from the first configured claim with a
// non-empty value. Falls back to "unknown" when none match.
func (c *Config) userID(data map[string]any) string {
	for _, claim := range c.UserIDClaims {
		if v := data[claim]; truthy(v) {
			return claimString(v)
		}
	}
	return "unknown"
}

// grantedScopes splits the scope claim on whitespace. A missing claim yields
// no scopes; a claim that is present but not a string is reported as an
// error so the caller rejects the token.
func (c *Config) grantedScopes(data map[string]any) ([]string, error) {
	v, ok := data[c.ScopeClaim]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("claim %q is not a string", c.ScopeClaim)
	}
	return strings.Fields(raw), nil
}

// expiresAt converts the relative expiry claim to an absolute Unix timestamp.
// A non-positive lifetime collapses to zero, marking the token as already
// expired. A missing claim yields nil. A malformed value is reported as an
// error so the caller rejects the token.
func (c *Config) expiresAt(data map[string]any, now int64) (*int64, error) {
	v, ok := data[c.ExpiryClaim]
	if !ok || v == nil {
		return nil, nil
	}
	secs, ok := claimInt(v)
	if !ok {
		return nil, fmt.Errorf("claim %q is not an integer", c.ExpiryClaim)
	}
	var at int64
	if secs > 0 {
		at = now + secs
	}
	return &at, nil
}
