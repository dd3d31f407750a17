package tasks

import (
	"context"
	"strings"
)

// Matcher finds the tasks bound to an inbound event
type Matcher struct {
	source TaskSource
}

// NewMatcher creates a matcher over source
func NewMatcher(source TaskSource) *Matcher {
	return &Matcher{source: source}
}

// FindTasksFor returns the trigger definition for subject and its enabled tasks
func (m *Matcher) FindTasksFor(ctx context.Context, subject string) (*TaskEvent, []*Task, error) {
	trigger, err := m.source.FindTrigger(ctx, subject)
	if err != nil {
		return nil, nil, AsTaskError(err, KeyTriggerNotFound).With("subject", subject)
	}
	if trigger == nil {
		return nil, nil, NewTaskError(KeyTriggerNotFound, "subject", subject)
	}

	all, err := m.source.FindTasksForTrigger(ctx, trigger)
	if err != nil {
		return trigger, nil, err
	}

	enabled := make([]*Task, 0, len(all))
	for _, task := range all {
		if task.Enabled {
			enabled = append(enabled, task)
		}
	}
	return trigger, enabled, nil
}

// ActionFor resolves the action definition of task. A missing definition
// fails ActionNotFound, one without a subject fails ActionWithoutSubject.
func (m *Matcher) ActionFor(ctx context.Context, task *Task) (*TaskEvent, error) {
	action, err := m.source.GetActionEventFor(ctx, task)
	if err != nil {
		return nil, AsTaskError(err, KeyActionNotFound).With("action", task.Action)
	}
	if action == nil {
		return nil, NewTaskError(KeyActionNotFound, "action", task.Action)
	}
	if strings.TrimSpace(action.Subject) == "" {
		return nil, NewTaskError(KeyActionWithoutSubject, "action", task.Action)
	}
	return action, nil
}
