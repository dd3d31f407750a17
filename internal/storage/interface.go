package storage

import (
	"context"

	"task-router/internal/tasks"
)

// EventKind tells trigger definitions apart from action definitions
type EventKind string

const (
	KindTrigger EventKind = "trigger"
	KindAction  EventKind = "action"
)

// Valid reports whether k is a known event kind
func (k EventKind) Valid() bool {
	return k == KindTrigger || k == KindAction
}

// Storage persists tasks, their event definitions and their activity log.
// It is both the task source and the activity sink of the engine.
type Storage interface {
	tasks.TaskSource
	tasks.ActivitySink

	// Connection management
	Close() error
	Health(ctx context.Context) error

	// Event definitions
	SaveTaskEvent(ctx context.Context, kind EventKind, event *tasks.TaskEvent) error
	GetTaskEvent(ctx context.Context, kind EventKind, subject string) (*tasks.TaskEvent, error)
	ListTaskEvents(ctx context.Context, kind EventKind) ([]*tasks.TaskEvent, error)

	// SetEnabled flips a task's enabled flag, the only way back after auto-disable
	SetEnabled(ctx context.Context, taskID string, enabled bool) error

	// Activity log administration
	GetActivity(ctx context.Context, id string) (*tasks.Activity, error)
	ListActivities(ctx context.Context, taskID string, limit int) ([]tasks.Activity, error)
	DeleteActivities(ctx context.Context, taskID string) (int64, error)
}

// StorageConfig is implemented by each backend's configuration
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a backend from its configuration
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// DefaultActivityLimit bounds ListActivities when no limit is given
const DefaultActivityLimit = 100
