// Package llm executes skills by injecting their content as a system prompt
// into a chat model. Model strings carry a provider prefix, for example
// "anthropic/claude-sonnet-4-20250514". The Anthropic Messages API is wired;
// Bedrock and Vertex AI model strings are recognized and credential-checked
// but have no transport in this build.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultModel is used when neither the caller nor the config names a model.
const DefaultModel = "anthropic/claude-3-5-sonnet-20241022"

// ErrProviderNotWired marks providers that are recognized but have no
// transport implementation.
var ErrProviderNotWired = errors.New("llm: provider not wired to a transport")

// Result is the outcome of one skill execution.
type Result struct {
	SkillName    string
	Response     string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Config carries provider credentials and the default model.
type Config struct {
	DefaultModel string

	AnthropicAPIKey string

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string

	VertexAIProject  string
	VertexAILocation string

	// HTTPClient defaults to a client with a 5 minute timeout.
	HTTPClient *http.Client

	// AnthropicBaseURL overrides the Anthropic API endpoint. Used in tests.
	AnthropicBaseURL string

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Client executes skills against configured LLM providers.
type Client struct {
	cfg Config
	hc  *http.Client
	log *slog.Logger
}

// NewClient builds a client. Credentials are validated lazily, per call,
// so a server may start with no provider configured.
func NewClient(cfg Config) *Client {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-east-1"
	}
	if cfg.AnthropicBaseURL == "" {
		cfg.AnthropicBaseURL = "https://api.anthropic.com"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{cfg: cfg, hc: hc, log: log}
}

// DefaultModel returns the model used when a call names none.
func (c *Client) DefaultModel() string { return c.cfg.DefaultModel }

// splitModel splits "<provider>/<model-name>".
func splitModel(model string) (provider, name string, err error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok || provider == "" || name == "" {
		return "", "", fmt.Errorf("invalid model format: %s (expected <provider>/<model-name>)", model)
	}
	return provider, name, nil
}

// ValidateModel checks that the model string is well formed and that the
// credentials its provider needs are configured. Error messages name the
// environment variables to set.
func (c *Client) ValidateModel(model string) error {
	provider, _, err := splitModel(model)
	if err != nil {
		return err
	}
	switch provider {
	case "anthropic":
		if c.cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for Anthropic models")
		}
	case "bedrock":
		if c.cfg.AWSAccessKeyID == "" || c.cfg.AWSSecretAccessKey == "" {
			return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for Bedrock models")
		}
	case "vertex_ai":
		if c.cfg.VertexAIProject == "" || c.cfg.VertexAILocation == "" {
			return fmt.Errorf("VERTEXAI_PROJECT and VERTEXAI_LOCATION are required for Vertex AI models")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", provider)
	}
	return nil
}

// ExecuteSkill sends the skill content as the system prompt and the user
// prompt as the sole user message, and returns the model's reply. An empty
// model uses the configured default.
func (c *Client) ExecuteSkill(ctx context.Context, skillName, skillContent, userPrompt, model string) (*Result, error) {
	if model == "" {
		model = c.cfg.DefaultModel
	}
	if err := c.ValidateModel(model); err != nil {
		return nil, err
	}
	provider, name, err := splitModel(model)
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "executing skill",
		slog.String("skill", skillName),
		slog.String("model", model),
	)

	start := time.Now()
	var res *Result
	switch provider {
	case "anthropic":
		res, err = c.anthropicMessages(ctx, name, skillContent, userPrompt)
	default:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotWired, provider)
	}
	if err != nil {
		c.log.ErrorContext(ctx, "skill execution failed",
			slog.String("skill", skillName),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	res.SkillName = skillName
	res.Model = model
	res.Duration = time.Since(start)

	c.log.InfoContext(ctx, "skill execution completed",
		slog.String("skill", skillName),
		slog.Duration("dur", res.Duration),
		slog.Int("input_tokens", res.InputTokens),
		slog.Int("output_tokens", res.OutputTokens),
	)
	return res, nil
}
