package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// VectorCache stores computed embeddings keyed by content hash.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

// RedisVectorCache caches embeddings in Redis with a fixed TTL.
type RedisVectorCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisVectorCache builds a cache over the given Redis address.
func NewRedisVectorCache(addr string, ttl time.Duration) (*RedisVectorCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisVectorCache{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: "skillhost:emb:",
		ttl:       ttl,
	}, nil
}

func (c *RedisVectorCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vec, true, nil
}

func (c *RedisVectorCache) Put(ctx context.Context, key string, vec []float32) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisVectorCache) Close() error { return c.client.Close() }

// CachingEmbedder wraps an Embedder with a VectorCache. Cache errors are
// logged and treated as misses.
type CachingEmbedder struct {
	inner Embedder
	cache VectorCache
	model string
	log   *slog.Logger
}

// NewCachingEmbedder wraps inner with cache. The model name participates in
// the cache key so switching models never reuses stale vectors.
func NewCachingEmbedder(inner Embedder, cache VectorCache, model string, log *slog.Logger) *CachingEmbedder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CachingEmbedder{inner: inner, cache: cache, model: model, log: log}
}

func (e *CachingEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (e *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	var missing []string
	var missingAt []int

	for i, text := range texts {
		vec, ok, err := e.cache.Get(ctx, e.cacheKey(text))
		if err != nil {
			e.log.Debug("embedding cache read failed", slog.String("err", err.Error()))
		}
		if ok {
			vecs[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}

	if len(missing) == 0 {
		return vecs, nil
	}

	fresh, err := e.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		i := missingAt[j]
		vecs[i] = vec
		if err := e.cache.Put(ctx, e.cacheKey(texts[i]), vec); err != nil {
			e.log.Debug("embedding cache write failed", slog.String("err", err.Error()))
		}
	}
	return vecs, nil
}
