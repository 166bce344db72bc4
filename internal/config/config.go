// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the full server configuration, populated from environment
// variables via envdecode struct tags.
type Config struct {
	// HTTP surface
	ListenAddr     string `env:"LISTEN_ADDR,default=:8080"`
	PublicEndpoint string `env:"PUBLIC_ENDPOINT,default=http://localhost:8080/mcp"`

	// Skills
	SkillsDirectory     string `env:"SKILLS_DIRECTORY,default=./skills"`
	AdditionalSkillsDir string `env:"ADDITIONAL_SKILLS_DIRS"`
	ManagedSkillsUser   string `env:"MANAGED_SKILLS_USER,default=default"`

	// Semantic search
	SemanticSearchEnabled   bool    `env:"SEMANTIC_SEARCH_ENABLED,default=true"`
	SemanticSearchLimit     int     `env:"SEMANTIC_SEARCH_LIMIT,default=10"`
	SemanticSearchThreshold float64 `env:"SEMANTIC_SEARCH_THRESHOLD,default=0.3"`
	EmbeddingEndpoint       string  `env:"EMBEDDING_ENDPOINT"`
	EmbeddingModel          string  `env:"EMBEDDING_MODEL,default=text-embedding-3-small"`
	EmbeddingAPIKey         string  `env:"EMBEDDING_API_KEY"`

	// LLM execution
	DefaultModel       string `env:"DEFAULT_MODEL,default=anthropic/claude-3-5-sonnet-20241022"`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION_NAME,default=us-east-1"`
	VertexAIProject    string `env:"VERTEXAI_PROJECT"`
	VertexAILocation   string `env:"VERTEXAI_LOCATION"`

	// Authentication. When OAuthIssuer is set the server verifies tokens
	// against it; with OAuthClientSecret present the built-in OAuth proxy
	// is enabled as well.
	OAuthIssuer       string `env:"OAUTH_ISSUER"`
	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	RequiredScopes    string `env:"REQUIRED_SCOPES"`

	// ExtraAuthParams are appended to the upstream authorization request
	// when the built-in OAuth proxy is enabled, as comma-separated
	// key=value pairs (e.g. "access_type=offline,prompt=consent").
	ExtraAuthParams string `env:"OAUTH_EXTRA_AUTH_PARAMS"`

	// Opaque-token introspection. TokeninfoURL may be set explicitly; when
	// empty it is derived from the issuer for known providers.
	TokeninfoURL string `env:"TOKENINFO_URL"`

	// Redis, optional. When set, sessions and embedding vectors are stored
	// in Redis instead of process memory.
	RedisAddr string `env:"REDIS_ADDR"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load populates a Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		// envdecode fails when no tagged field is set at all; defaults
		// still apply in that case.
		if err != envdecode.ErrNoTargetFieldsAreSet {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
	}
	if cfg.SemanticSearchLimit < 1 || cfg.SemanticSearchLimit > 100 {
		return nil, fmt.Errorf("SEMANTIC_SEARCH_LIMIT must be between 1 and 100, got %d", cfg.SemanticSearchLimit)
	}
	if cfg.SemanticSearchThreshold < 0 || cfg.SemanticSearchThreshold > 1 {
		return nil, fmt.Errorf("SEMANTIC_SEARCH_THRESHOLD must be between 0 and 1, got %g", cfg.SemanticSearchThreshold)
	}
	return &cfg, nil
}

// googleIssuerRe matches Google issuer and provider URLs.
var googleIssuerRe = regexp.MustCompile(`(^|\.)(accounts\.google\.com|googleapis\.com|google\.com)($|/)`)

// ResolveTokeninfoURL returns the introspection endpoint to use: the
// explicit TOKENINFO_URL when set, the Google tokeninfo endpoint when the
// issuer looks like Google, and "" otherwise.
func (c *Config) ResolveTokeninfoURL() string {
	if c.TokeninfoURL != "" {
		return c.TokeninfoURL
	}
	if c.OAuthIssuer == "" {
		return ""
	}
	host := c.OAuthIssuer
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	if googleIssuerRe.MatchString(host) {
		return "https://oauth2.googleapis.com/tokeninfo"
	}
	return ""
}

// SplitRequiredScopes returns the configured scopes as a slice.
func (c *Config) SplitRequiredScopes() []string {
	if c.RequiredScopes == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(c.RequiredScopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitAdditionalSkillsDirs returns the extra skills directories as a slice.
func (c *Config) SplitAdditionalSkillsDirs() []string {
	if c.AdditionalSkillsDir == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(c.AdditionalSkillsDir, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitExtraAuthParams parses the configured key=value pairs. Malformed
// entries without an "=" are skipped.
func (c *Config) SplitExtraAuthParams() map[string]string {
	if c.ExtraAuthParams == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(c.ExtraAuthParams, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SlogLevel maps the configured log level string onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
