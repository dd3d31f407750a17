package locks

import (
	"fmt"

	"task-router/internal/redis"
)

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// NewManager creates the lock manager for backend. The redis backend needs a connected client.
func NewManager(backend string, redisClient *redis.Client) (Manager, error) {
	switch backend {
	case "", BackendLocal:
		return NewLocalManager(), nil
	case BackendRedis:
		return NewRedsyncManager(redisClient)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}
