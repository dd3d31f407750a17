// Package locks serializes work on a single key, either within one process
// or across processes through Redis (Redlock via go-redsync/redsync/v4).
//
// The engine takes a task lock around the auto-disable check so two
// concurrent failures of the same task cannot both disable it:
//
//	lock, err := manager.AcquireTaskLock(ctx, task.ID)
//	if err != nil {
//		return err
//	}
//	defer lock.Release(ctx)
package locks

import (
	"context"
	"fmt"
	"time"
)

const (
	// TaskLockExpiration bounds how long a task lock survives a crashed holder
	TaskLockExpiration = 30 * time.Second
)

// Lock is a held lock
type Lock interface {
	// Key returns the unique identifier for this lock.
	Key() string

	// Release gives the lock up. The lock must not be used afterwards.
	Release(ctx context.Context) error

	// IsHeld reports whether this holder still owns the lock
	IsHeld() bool
}

// Manager hands out locks
type Manager interface {
	// AcquireLock blocks until key is locked or ctx is done
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)

	// AcquireTaskLock locks one task
	AcquireTaskLock(ctx context.Context, taskID string) (Lock, error)

	Close() error
}

func taskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}
