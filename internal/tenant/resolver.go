package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coldtrack/coldtrack-server/internal/database"
)

// ErrNotFound is returned when no tenant matches the presented API key.
var ErrNotFound = errors.New("no tenant matches this API key")

// Store is the tenant lookup the resolver runs against
type Store interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*database.Tenant, error)
}

// Cache is a short-lived credential cache. It is advisory: a miss or a
// cache failure falls through to the store, never to an auth failure.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Resolver maps an API key to a tenant id
type Resolver struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(store Store, cache Cache, ttl time.Duration) *Resolver {
	return &Resolver{store: store, cache: cache, ttl: ttl}
}

// Resolve returns the tenant id owning the API key, or ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrNotFound
	}

	cacheKey := "tenant:apikey:" + apiKey
	if r.cache != nil {
		if id, ok := r.cache.Get(ctx, cacheKey); ok {
			return id, nil
		}
	}

	t, err := r.store.GetTenantByAPIKey(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("tenant lookup failed: %w", err)
	}
	if t == nil {
		return "", ErrNotFound
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, t.ID, r.ttl)
	}

	return t.ID, nil
}

// redisCache backs Cache with Redis. Entries expire server-side via TTL so
// the cache is never authoritative for longer than one TTL window.
type redisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client as a credential cache
func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil (miss) and transport errors are treated alike
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	// Best effort: ingest latency matters more than a warm cache
	_ = c.client.Set(ctx, key, value, ttl).Err()
}
