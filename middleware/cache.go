package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/redis/go-redis/v9"
)

// Cache stores completed responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// CacheMiddleware returns a middleware that replays finished completions for
// identical requests as a single final delta. Only streams that reach their
// final delta are stored.
func CacheMiddleware(cache Cache, ttl time.Duration) Middleware {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return func(a provider.Adapter) provider.Adapter {
		return &cacheAdapter{Adapter: a, cache: cache, ttl: ttl}
	}
}

type cacheAdapter struct {
	provider.Adapter
	cache Cache
	ttl   time.Duration
}

func cacheKey(req core.CompletionRequest) string {
	return req.ProviderID + "\x00" + req.Model + "\x00" + req.Prompt
}

func (c *cacheAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	if c.cache == nil {
		return c.Adapter.Stream(ctx, req)
	}
	key := cacheKey(req)
	if raw, ok := c.cache.Get(ctx, key); ok {
		return provider.StaticStream(core.Delta{Text: string(raw), Final: true}), nil
	}
	s, err := c.Adapter.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var last string
	return provider.Tap(s, func(d core.Delta) { last = d.Text }, func(final bool, _ error) {
		if final {
			_ = c.cache.Set(context.WithoutCancel(ctx), key, []byte(last), c.ttl)
		}
	}), nil
}

func (c *cacheAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(c.Stream(ctx, req))
}

// InMemoryCache is a process-local cache.
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	val     []byte
	expires time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{store: make(map[string]cacheEntry), now: time.Now}
}

func (m *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expires) {
		return nil, false
	}
	return e.val, true
}

func (m *InMemoryCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.store[key] = cacheEntry{val: val, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// RedisCache stores responses as Redis strings with expiry.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache whose keys are prefixed with prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "relay:cache:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, val, ttl).Err()
}
