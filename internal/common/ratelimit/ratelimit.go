// Package ratelimit bounds how fast clients may push trigger events.
//
// The local limiter keeps a golang.org/x/time/rate token bucket per key. The
// distributed limiter counts requests per second in Redis so that every
// router instance shares the same budget.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"task-router/internal/common/errors"
	"task-router/internal/redis"
)

// Config configures a limiter. A zero RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond int
	Burst             int
	KeyPrefix         string
}

// Enabled reports whether limiting is configured
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Limiter decides whether one more request for key may pass
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns the distributed limiter when a Redis client is given, the local one otherwise
func New(config Config, client *redis.Client) (Limiter, error) {
	if !config.Enabled() {
		return nil, errors.ConfigError("rate limit requires a positive requests per second")
	}
	if config.Burst < config.RequestsPerSecond {
		config.Burst = config.RequestsPerSecond
	}
	if client != nil {
		return NewDistributed(config, client), nil
	}
	return NewLocal(config), nil
}

// LocalLimiter keeps one token bucket per key
type LocalLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*entry
	idle     time.Duration
	swept    time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocal creates an in-process limiter
func NewLocal(config Config) *LocalLimiter {
	return &LocalLimiter{
		config:   config,
		limiters: make(map[string]*entry),
		idle:     10 * time.Minute,
		swept:    time.Now(),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)}
		l.limiters[key] = e
	}
	e.lastUsed = now
	if now.Sub(l.swept) > l.idle {
		l.sweep(now)
	}
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1), nil
}

// sweep drops buckets that have not been used for a while. Caller holds mu.
func (l *LocalLimiter) sweep(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastUsed) > l.idle {
			delete(l.limiters, key)
		}
	}
	l.swept = now
}

// Len reports the number of tracked keys
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// DistributedLimiter counts requests in one second windows stored in Redis
type DistributedLimiter struct {
	config Config
	client *redis.Client
	now    func() time.Time
}

// NewDistributed creates a Redis backed limiter
func NewDistributed(config Config, client *redis.Client) *DistributedLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:"
	}
	return &DistributedLimiter{config: config, client: client, now: time.Now}
}

// Allow admits up to Burst requests per key and second
func (d *DistributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := strconv.FormatInt(d.now().Unix(), 10)
	count, err := d.client.IncrWindow(ctx, d.config.KeyPrefix+key+":"+window, 2*time.Second)
	if err != nil {
		return false, errors.ConnectionError("rate limit check failed", err)
	}
	return count <= int64(d.config.Burst), nil
}
