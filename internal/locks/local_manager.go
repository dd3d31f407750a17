package locks

import (
	"context"
	"sync"
	"time"

	"task-router/internal/common/errors"
)

// LocalManager provides in-process locks. Expiration is ignored because a
// holder cannot outlive the process that owns the lock.
type LocalManager struct {
	mu     sync.Mutex
	locks  map[string]*localEntry
	closed bool
}

type localEntry struct {
	ch      chan struct{}
	waiters int
}

// LocalLock is a lock held on a LocalManager
type LocalLock struct {
	key     string
	manager *LocalManager
	once    sync.Once
	held    bool
	mu      sync.Mutex
}

// NewLocalManager creates an in-process lock manager
func NewLocalManager() *LocalManager {
	return &LocalManager{locks: make(map[string]*localEntry)}
}

// AcquireLock waits for key to become free
func (m *LocalManager) AcquireLock(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.UnavailableError("lock manager is closed", nil)
	}
	entry, ok := m.locks[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.waiters++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return &LocalLock{key: key, manager: m, held: true}, nil
	case <-ctx.Done():
		m.mu.Lock()
		m.forget(key, entry)
		m.mu.Unlock()
		return nil, errors.TimeoutError("lock acquisition", ctx.Err()).WithContext("key", key)
	}
}

// AcquireTaskLock locks one task
func (m *LocalManager) AcquireTaskLock(ctx context.Context, taskID string) (Lock, error) {
	return m.AcquireLock(ctx, taskKey(taskID), TaskLockExpiration)
}

// Close refuses further acquisitions
func (m *LocalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// forget drops one waiter and removes idle entries. Callers hold m.mu.
func (m *LocalManager) forget(key string, entry *localEntry) {
	entry.waiters--
	if entry.waiters == 0 {
		delete(m.locks, key)
	}
}

func (m *LocalManager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[key]
	if !ok {
		return
	}
	<-entry.ch
	m.forget(key, entry)
}

// Key returns the unique identifier for this lock.
func (l *LocalLock) Key() string {
	return l.key
}

// Release frees the lock. Releasing twice is a no-op.
func (l *LocalLock) Release(context.Context) error {
	l.once.Do(func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		l.manager.release(l.key)
	})
	return nil
}

// IsHeld reports whether Release has not been called yet
func (l *LocalLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

var _ Manager = (*LocalManager)(nil)
