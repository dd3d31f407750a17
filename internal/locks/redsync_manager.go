package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/redis"
)

// RedsyncManager implements Manager with the Redlock algorithm so every
// engine instance sharing the Redis server sees the same task locks.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[*RedsyncLock]struct{}
	mutex      sync.Mutex
	logger     logging.Logger
}

// RedsyncLock wraps a redsync.Mutex and keeps it alive until released
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
	once       sync.Once
}

// NewRedsyncManager creates a lock manager on top of a connected Redis client
func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		localLocks: make(map[*RedsyncLock]struct{}),
		logger:     logging.GetGlobalLogger().WithFields(logging.String("component", "redsync_locks")),
	}, nil
}

// AcquireLock locks key, retrying until ctx is done. The lock is extended
// in the background at a third of its expiration until released.
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(expiration),
		redsync.WithTries(64),
		redsync.WithRetryDelay(50*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[lock] = struct{}{}
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// AcquireTaskLock locks one task
func (rm *RedsyncManager) AcquireTaskLock(ctx context.Context, taskID string) (Lock, error) {
	return rm.AcquireLock(ctx, taskKey(taskID), TaskLockExpiration)
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Lost distributed lock",
					logging.String("key", lock.key),
					logging.Err(err),
				)
				lock.cancel()
				rm.forget(lock)
				return
			}
		}
	}
}

func (rm *RedsyncManager) forget(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock)
	rm.mutex.Unlock()
}

// Close releases every lock still held by this manager
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, lock := range held {
		_ = lock.Release(ctx)
	}
	return nil
}

// Key returns the unique identifier for this lock.
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and unlocks the mutex in Redis
func (rl *RedsyncLock) Release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		rl.cancel()
		rl.manager.forget(rl)

		var ok bool
		ok, err = rl.mutex.UnlockContext(ctx)
		if err == nil && !ok {
			err = errors.InternalError("distributed lock already expired", nil).WithContext("key", rl.key)
		}
	})
	return err
}

// IsHeld returns true until the lock is released or lost
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var _ Manager = (*RedsyncManager)(nil)
