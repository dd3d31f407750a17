package tasks

import "context"

// TaskSource provides task and event definitions
type TaskSource interface {
	// GetAllTasks returns every task, enabled or not
	GetAllTasks(ctx context.Context) ([]*Task, error)

	// GetTask returns the persisted state of one task
	GetTask(ctx context.Context, id string) (*Task, error)

	// FindTrigger returns the trigger definition for subject, failing with a TriggerNotFound TaskError
	FindTrigger(ctx context.Context, subject string) (*TaskEvent, error)

	// FindTasksForTrigger returns the tasks bound to trigger
	FindTasksForTrigger(ctx context.Context, trigger *TaskEvent) ([]*Task, error)

	// GetActionEventFor returns the action definition of task, failing with an ActionNotFound TaskError
	GetActionEventFor(ctx context.Context, task *Task) (*TaskEvent, error)

	// Save persists task
	Save(ctx context.Context, task *Task) error
}

// ActivitySink records task outcomes
type ActivitySink interface {
	AddSuccess(ctx context.Context, task *Task) error
	AddError(ctx context.Context, task *Task, err *TaskError) error
	AddWarning(ctx context.Context, task *Task) error

	// ErrorsFromLastRun returns the ERROR activities recorded since the task's last
	// SUCCESS or auto-disable WARNING, newest first
	ErrorsFromLastRun(ctx context.Context, task *Task) ([]Activity, error)
}

// Relay hands outgoing events to the event bus. Send returns once the event
// is handed off, it does not wait for delivery.
type Relay interface {
	Send(ctx context.Context, event Event) error
}
