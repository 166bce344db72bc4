// Package semantic implements embedding-based skill search: an Embedder
// abstraction over an OpenAI-compatible embeddings endpoint, an in-memory
// cosine similarity index, and an optional Redis embedding cache.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embedder turns texts into vectors. Implementations must return one vector
// per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPEmbedderOption configures an HTTPEmbedder.
type HTTPEmbedderOption func(*HTTPEmbedder)

// WithAPIKey sets the bearer token sent to the embeddings endpoint.
func WithAPIKey(key string) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) { e.apiKey = key }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) { e.hc = c }
}

// HTTPEmbedder calls an OpenAI-compatible POST /embeddings endpoint.
type HTTPEmbedder struct {
	endpoint string
	model    string
	apiKey   string
	hc       *http.Client
}

// NewHTTPEmbedder builds an embedder for the given endpoint and model.
func NewHTTPEmbedder(endpoint, model string, opts ...HTTPEmbedderOption) (*HTTPEmbedder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("embeddings endpoint is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	e := &HTTPEmbedder{
		endpoint: endpoint,
		model:    model,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingsRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	res, err := e.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("embeddings endpoint returned status %d", res.StatusCode)
	}

	var out embeddingsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(out.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings endpoint returned out-of-range index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
