// Package testutil provides in-memory fakes of the engine's collaborators
// and fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"task-router/internal/tasks"
)

// MockTaskSource implements tasks.TaskSource in memory
type MockTaskSource struct {
	mu       sync.RWMutex
	triggers map[string]*tasks.TaskEvent
	actions  map[string]*tasks.TaskEvent
	tasks    []*tasks.Task

	// persisted holds the last saved state of each task
	persisted map[string]*tasks.Task

	// ErrorOnMethod injects an error into the named method
	ErrorOnMethod map[string]error

	Calls map[string]int
	Saved []*tasks.Task
}

// NewMockTaskSource creates an empty task source
func NewMockTaskSource() *MockTaskSource {
	return &MockTaskSource{
		triggers:      make(map[string]*tasks.TaskEvent),
		actions:       make(map[string]*tasks.TaskEvent),
		persisted:     make(map[string]*tasks.Task),
		ErrorOnMethod: make(map[string]error),
		Calls:         make(map[string]int),
	}
}

func (m *MockTaskSource) record(method string) error {
	m.Calls[method]++
	return m.ErrorOnMethod[method]
}

// AddTrigger registers a trigger definition
func (m *MockTaskSource) AddTrigger(event *tasks.TaskEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[event.Subject] = event
}

// AddAction registers an action definition under key, the value tasks use in Task.Action
func (m *MockTaskSource) AddAction(key string, event *tasks.TaskEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[key] = event
}

// AddTask registers a task. The stored pointer is handed out by FindTasksForTrigger.
func (m *MockTaskSource) AddTask(task *tasks.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// Persisted returns the last saved state of task id
func (m *MockTaskSource) Persisted(id string) (*tasks.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.persisted[id]
	return t, ok
}

// SaveCount returns how many times Save succeeded
func (m *MockTaskSource) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Saved)
}

// CallCount returns how often method was called
func (m *MockTaskSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[method]
}

func (m *MockTaskSource) GetAllTasks(ctx context.Context) ([]*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetAllTasks"); err != nil {
		return nil, err
	}
	return append([]*tasks.Task(nil), m.tasks...), nil
}

func (m *MockTaskSource) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetTask"); err != nil {
		return nil, err
	}
	if saved, ok := m.persisted[id]; ok {
		return saved.Clone(), nil
	}
	for _, t := range m.tasks {
		if t.ID == id {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("task %s not found", id)
}

func (m *MockTaskSource) FindTrigger(ctx context.Context, subject string) (*tasks.TaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FindTrigger"); err != nil {
		return nil, err
	}
	trigger, ok := m.triggers[subject]
	if !ok {
		return nil, tasks.NewTaskError(tasks.KeyTriggerNotFound, "subject", subject)
	}
	return trigger, nil
}

func (m *MockTaskSource) FindTasksForTrigger(ctx context.Context, trigger *tasks.TaskEvent) ([]*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FindTasksForTrigger"); err != nil {
		return nil, err
	}
	var found []*tasks.Task
	for _, t := range m.tasks {
		if t.Trigger == trigger.Subject {
			found = append(found, t)
		}
	}
	return found, nil
}

func (m *MockTaskSource) GetActionEventFor(ctx context.Context, task *tasks.Task) (*tasks.TaskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetActionEventFor"); err != nil {
		return nil, err
	}
	action, ok := m.actions[task.Action]
	if !ok {
		return nil, tasks.NewTaskError(tasks.KeyActionNotFound, "action", task.Action)
	}
	return action, nil
}

func (m *MockTaskSource) Save(ctx context.Context, task *tasks.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Save"); err != nil {
		return err
	}
	saved := task.Clone()
	m.Saved = append(m.Saved, saved)
	m.persisted[task.ID] = saved
	return nil
}

// MockActivitySink implements tasks.ActivitySink in memory
type MockActivitySink struct {
	mu         sync.Mutex
	activities []tasks.Activity
	nextID     int

	// ErrorsOverride, when set, is returned by ErrorsFromLastRun instead of the computed list
	ErrorsOverride []tasks.Activity

	ErrorOnMethod map[string]error
	Calls         map[string]int
}

// NewMockActivitySink creates an empty activity sink
func NewMockActivitySink() *MockActivitySink {
	return &MockActivitySink{
		ErrorOnMethod: make(map[string]error),
		Calls:         make(map[string]int),
	}
}

func (m *MockActivitySink) add(task *tasks.Task, kind tasks.ActivityType, key string, fields map[string]string, params map[string]tasks.Value) {
	m.nextID++
	m.activities = append(m.activities, tasks.Activity{
		ID:         fmt.Sprintf("activity-%d", m.nextID),
		TaskID:     task.ID,
		Type:       kind,
		MessageKey: key,
		Fields:     fields,
		Parameters: params,
		Timestamp:  time.Unix(int64(m.nextID), 0),
	})
}

func (m *MockActivitySink) AddSuccess(ctx context.Context, task *tasks.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["AddSuccess"]++
	if err := m.ErrorOnMethod["AddSuccess"]; err != nil {
		return err
	}
	m.add(task, tasks.ActivitySuccess, tasks.MessageKeySuccess, nil, nil)
	return nil
}

func (m *MockActivitySink) AddError(ctx context.Context, task *tasks.Task, failure *tasks.TaskError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["AddError"]++
	if err := m.ErrorOnMethod["AddError"]; err != nil {
		return err
	}
	m.add(task, tasks.ActivityError, failure.Key, failure.Fields, failure.Parameters)
	return nil
}

func (m *MockActivitySink) AddWarning(ctx context.Context, task *tasks.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["AddWarning"]++
	if err := m.ErrorOnMethod["AddWarning"]; err != nil {
		return err
	}
	m.add(task, tasks.ActivityWarning, tasks.MessageKeyDisabled, nil, nil)
	return nil
}

func (m *MockActivitySink) ErrorsFromLastRun(ctx context.Context, task *tasks.Task) ([]tasks.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ErrorsFromLastRun"]++
	if err := m.ErrorOnMethod["ErrorsFromLastRun"]; err != nil {
		return nil, err
	}
	if m.ErrorsOverride != nil {
		return m.ErrorsOverride, nil
	}

	var errs []tasks.Activity
	for i := len(m.activities) - 1; i >= 0; i-- {
		a := m.activities[i]
		if a.TaskID != task.ID {
			continue
		}
		// a success or the auto-disable warning ends the run
		if a.Type != tasks.ActivityError {
			break
		}
		errs = append(errs, a)
	}
	return errs, nil
}

// Activities returns the recorded activities of taskID, oldest first
func (m *MockActivitySink) Activities(taskID string) []tasks.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tasks.Activity
	for _, a := range m.activities {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out
}

// OfType returns the recorded activities of the given type
func (m *MockActivitySink) OfType(kind tasks.ActivityType) []tasks.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tasks.Activity
	for _, a := range m.activities {
		if a.Type == kind {
			out = append(out, a)
		}
	}
	return out
}

// CallCount returns how often method was called
func (m *MockActivitySink) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// MockRelay implements tasks.Relay and records sent events
type MockRelay struct {
	mu   sync.Mutex
	sent []tasks.Event
	Err  error
}

// NewMockRelay creates a relay recording every event
func NewMockRelay() *MockRelay {
	return &MockRelay{}
}

func (r *MockRelay) Send(ctx context.Context, event tasks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, event)
	return nil
}

// Sent returns the events sent so far
func (r *MockRelay) Sent() []tasks.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tasks.Event(nil), r.sent...)
}

// LookupCall records one Lookup invocation
type LookupCall struct {
	Type   string
	Fields map[string]string
}

// MockProvider implements tasks.DataProvider over fixed objects
type MockProvider struct {
	mu            sync.Mutex
	name          string
	types         map[string]bool
	objects       map[string]tasks.FieldAccessor
	Err           error
	Delay         time.Duration
	SupportsCalls []string
	Lookups       []LookupCall
}

// NewMockProvider creates a provider named name serving objectTypes
func NewMockProvider(name string, objectTypes ...string) *MockProvider {
	p := &MockProvider{
		name:    name,
		types:   make(map[string]bool),
		objects: make(map[string]tasks.FieldAccessor),
	}
	for _, t := range objectTypes {
		p.types[t] = true
	}
	return p
}

// Put registers the object returned for objectType when looked up with fields
func (p *MockProvider) Put(objectType string, fields map[string]string, obj tasks.FieldAccessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[lookupKey(objectType, fields)] = obj
}

func lookupKey(objectType string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := objectType
	for _, k := range keys {
		key += "|" + k + "=" + fields[k]
	}
	return key
}

func (p *MockProvider) Name() string {
	return p.name
}

func (p *MockProvider) Supports(objectType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SupportsCalls = append(p.SupportsCalls, objectType)
	return p.types[objectType]
}

func (p *MockProvider) Lookup(ctx context.Context, objectType string, fields map[string]string) (tasks.FieldAccessor, error) {
	p.mu.Lock()
	p.Lookups = append(p.Lookups, LookupCall{Type: objectType, Fields: fields})
	delay, err := p.Delay, p.Err
	obj := p.objects[lookupKey(objectType, fields)]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// LookupCount returns how many lookups were made
func (p *MockProvider) LookupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Lookups)
}

// SupportsCount returns how many Supports calls were made
func (p *MockProvider) SupportsCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SupportsCalls)
}

var (
	_ tasks.TaskSource   = (*MockTaskSource)(nil)
	_ tasks.ActivitySink = (*MockActivitySink)(nil)
	_ tasks.Relay        = (*MockRelay)(nil)
	_ tasks.DataProvider = (*MockProvider)(nil)
)
