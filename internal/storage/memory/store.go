// Package memory is a process-local storage backend. Nothing survives a
// restart, it exists for tests and throwaway setups.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"task-router/internal/common/errors"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

type eventKey struct {
	kind    storage.EventKind
	subject string
}

// Store keeps everything in maps guarded by one RWMutex. Reads return clones
// so callers never share state with the store.
type Store struct {
	mu         sync.RWMutex
	events     map[eventKey]*tasks.TaskEvent
	tasks      map[string]*tasks.Task
	order      []string
	activities []tasks.Activity
}

// New creates an empty store
func New() *Store {
	return &Store{
		events: make(map[eventKey]*tasks.TaskEvent),
		tasks:  make(map[string]*tasks.Task),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) SaveTaskEvent(ctx context.Context, kind storage.EventKind, event *tasks.TaskEvent) error {
	if !kind.Valid() {
		return errors.ValidationError(fmt.Sprintf("unknown event kind %q", kind))
	}
	if strings.TrimSpace(event.Subject) == "" {
		return errors.ValidationError("event subject is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventKey{kind, event.Subject}] = cloneEvent(event)
	return nil
}

func (s *Store) GetTaskEvent(ctx context.Context, kind storage.EventKind, subject string) (*tasks.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventKey{kind, subject}]
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("%s %s", kind, subject))
	}
	return cloneEvent(event), nil
}

func (s *Store) ListTaskEvents(ctx context.Context, kind storage.EventKind) ([]*tasks.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*tasks.TaskEvent
	for key, event := range s.events {
		if key.kind == kind {
			events = append(events, cloneEvent(event))
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Subject < events[j].Subject })
	return events, nil
}

func (s *Store) FindTrigger(ctx context.Context, subject string) (*tasks.TaskEvent, error) {
	event, err := s.GetTaskEvent(ctx, storage.KindTrigger, subject)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		return nil, tasks.NewTaskError(tasks.KeyTriggerNotFound, "subject", subject)
	}
	return event, err
}

func (s *Store) GetActionEventFor(ctx context.Context, task *tasks.Task) (*tasks.TaskEvent, error) {
	event, err := s.GetTaskEvent(ctx, storage.KindAction, task.Action)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		return nil, tasks.NewTaskError(tasks.KeyActionNotFound, "action", task.Action)
	}
	return event, err
}

func (s *Store) GetAllTasks(ctx context.Context) ([]*tasks.Task, error) {
	return s.filterTasks(func(*tasks.Task) bool { return true }), nil
}

func (s *Store) FindTasksForTrigger(ctx context.Context, trigger *tasks.TaskEvent) ([]*tasks.Task, error) {
	return s.filterTasks(func(t *tasks.Task) bool { return t.Trigger == trigger.Subject }), nil
}

func (s *Store) filterTasks(keep func(*tasks.Task) bool) []*tasks.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*tasks.Task
	for _, id := range s.order {
		if task := s.tasks[id]; keep(task) {
			list = append(list, task.Clone())
		}
	}
	return list
}

func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, errors.NotFoundError("task " + id)
	}
	return task.Clone(), nil
}

func (s *Store) Save(ctx context.Context, task *tasks.Task) error {
	if task.ID == "" {
		task.ID = cuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return errors.NotFoundError("task " + taskID)
	}
	task.Enabled = enabled
	return nil
}

func (s *Store) AddSuccess(ctx context.Context, task *tasks.Task) error {
	s.add(task, tasks.ActivitySuccess, tasks.MessageKeySuccess, nil, nil)
	return nil
}

func (s *Store) AddWarning(ctx context.Context, task *tasks.Task) error {
	s.add(task, tasks.ActivityWarning, tasks.MessageKeyDisabled, nil, nil)
	return nil
}

func (s *Store) AddError(ctx context.Context, task *tasks.Task, taskErr *tasks.TaskError) error {
	s.add(task, tasks.ActivityError, taskErr.Key, taskErr.Fields, taskErr.Parameters)
	return nil
}

func (s *Store) add(task *tasks.Task, kind tasks.ActivityType, key string, fields map[string]string, params map[string]tasks.Value) {
	a := tasks.Activity{
		ID:         cuid.New(),
		TaskID:     task.ID,
		Type:       kind,
		MessageKey: key,
		Timestamp:  time.Now().UTC(),
	}
	if len(fields) > 0 {
		a.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			a.Fields[k] = v
		}
	}
	if len(params) > 0 {
		a.Parameters = make(map[string]tasks.Value, len(params))
		for k, v := range params {
			a.Parameters[k] = v
		}
	}

	s.mu.Lock()
	s.activities = append(s.activities, a)
	s.mu.Unlock()
}

func (s *Store) ErrorsFromLastRun(ctx context.Context, task *tasks.Task) ([]tasks.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []tasks.Activity
	for i := len(s.activities) - 1; i >= 0; i-- {
		a := s.activities[i]
		if a.TaskID != task.ID {
			continue
		}
		if a.Type != tasks.ActivityError {
			break
		}
		errs = append(errs, a)
	}
	return errs, nil
}

func (s *Store) ListActivities(ctx context.Context, taskID string, limit int) ([]tasks.Activity, error) {
	if limit <= 0 {
		limit = storage.DefaultActivityLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []tasks.Activity
	for i := len(s.activities) - 1; i >= 0 && len(list) < limit; i-- {
		if s.activities[i].TaskID == taskID {
			list = append(list, s.activities[i])
		}
	}
	return list, nil
}

func (s *Store) GetActivity(ctx context.Context, id string) (*tasks.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.activities {
		if s.activities[i].ID == id {
			a := s.activities[i]
			return &a, nil
		}
	}
	return nil, errors.NotFoundError("activity " + id)
}

func (s *Store) DeleteActivities(ctx context.Context, taskID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.activities[:0]
	var deleted int64
	for _, a := range s.activities {
		if a.TaskID == taskID {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.activities = kept
	return deleted, nil
}

func cloneEvent(e *tasks.TaskEvent) *tasks.TaskEvent {
	c := *e
	c.Parameters = append([]tasks.EventParameter(nil), e.Parameters...)
	return &c
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	return New(), nil
}

func (f *Factory) GetType() string {
	return "memory"
}

func init() {
	storage.Register("memory", &Factory{})
}

var _ storage.Storage = (*Store)(nil)
