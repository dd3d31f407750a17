// Package cache keeps looked up provider objects for a short while.
//
// The local backend is an in-process github.com/patrickmn/go-cache, the
// redis backend shares objects between router instances. With both
// configured the local copy is consulted first.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"task-router/internal/redis"
)

// Object is a decoded provider object
type Object = map[string]interface{}

// Cache stores objects by key
type Cache interface {
	Get(ctx context.Context, key string) (Object, bool, error)
	Set(ctx context.Context, key string, obj Object, ttl time.Duration) error
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

func (l *LocalCache) Get(ctx context.Context, key string) (Object, bool, error) {
	val, found := l.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	obj, ok := val.(Object)
	return obj, ok, nil
}

func (l *LocalCache) Set(ctx context.Context, key string, obj Object, ttl time.Duration) error {
	l.cache.Set(key, obj, ttl)
	return nil
}

// Len reports the number of unexpired entries
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

// RedisCache stores objects as JSON in Redis
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (Object, bool, error) {
	var obj Object
	err := r.client.GetJSON(ctx, r.keyPrefix+key, &obj)
	if err == redis.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, obj Object, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyPrefix+key, obj, ttl)
}

// TwoTierCache combines local and Redis cache
type TwoTierCache struct {
	l1    *LocalCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewTwoTierCache creates a cache with local L1 and Redis L2. Local copies
// live at most l1TTL.
func NewTwoTierCache(l1TTL time.Duration, client *redis.Client, keyPrefix string) *TwoTierCache {
	return &TwoTierCache{
		l1:    NewLocalCache(l1TTL, 2*l1TTL),
		l2:    NewRedisCache(client, keyPrefix),
		l1TTL: l1TTL,
	}
}

func (t *TwoTierCache) Get(ctx context.Context, key string) (Object, bool, error) {
	if obj, found, _ := t.l1.Get(ctx, key); found {
		return obj, true, nil
	}

	obj, found, err := t.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	t.l1.Set(ctx, key, obj, t.l1TTL)
	return obj, true, nil
}

// Set writes Redis first, it is the shared copy
func (t *TwoTierCache) Set(ctx context.Context, key string, obj Object, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, obj, ttl); err != nil {
		return err
	}
	return t.l1.Set(ctx, key, obj, minDuration(ttl, t.l1TTL))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// New picks the backend: two tier when a Redis client is available, local otherwise
func New(client *redis.Client, ttl time.Duration, keyPrefix string) Cache {
	local := ttl
	if local <= 0 || local > 5*time.Minute {
		local = 5 * time.Minute
	}
	if client == nil {
		return NewLocalCache(local, 2*local)
	}
	return NewTwoTierCache(minDuration(local, 30*time.Second), client, keyPrefix)
}
