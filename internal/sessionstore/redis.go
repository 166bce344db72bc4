package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in Redis with TTL-based expiry, letting
// multiple server instances share session state.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis client to use. Required.
	Client *redis.Client

	// KeyPrefix namespaces session keys. Default: "skillhost:sess:".
	KeyPrefix string

	// TTL is the session lifetime, refreshed on Get. Default: 30m.
	TTL time.Duration
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("sessionstore: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "skillhost:sess:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &RedisStore{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

func (r *RedisStore) key(id string) string { return r.keyPrefix + id }

func (r *RedisStore) Put(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore: set session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("sessionstore: get session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("sessionstore: unmarshal session %s: %w", id, err)
	}
	// Sliding expiry.
	_ = r.client.Expire(ctx, r.key(id), r.ttl).Err()
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("sessionstore: delete session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
