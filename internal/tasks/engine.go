package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/lucsky/cuid"

	"task-router/internal/common/logging"
	"task-router/internal/locks"
)

// Config holds the engine settings read from the environment
type Config struct {
	// ErrorThreshold is the number of consecutive errors that disables a task
	ErrorThreshold int

	// ProviderTimeout bounds a single data provider lookup, 0 for no bound
	ProviderTimeout time.Duration

	// RelayTimeout bounds a single relay hand-off, 0 for no bound
	RelayTimeout time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:  5,
		ProviderTimeout: 10 * time.Second,
		RelayTimeout:    5 * time.Second,
	}
}

// Outcome is the result of one task run
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// TaskResult describes one task run
type TaskResult struct {
	TaskID     string  `json:"taskId"`
	Outcome    Outcome `json:"outcome"`
	MessageKey string  `json:"messageKey,omitempty"`
	Disabled   bool    `json:"disabled,omitempty"`
	ActionID   string  `json:"actionEventId,omitempty"`
}

// Summary describes the handling of one inbound event
type Summary struct {
	EventID      string       `json:"eventId"`
	Subject      string       `json:"subject"`
	TriggerFound bool         `json:"triggerFound"`
	Results      []TaskResult `json:"results"`
}

// Count returns how many task runs ended with outcome
func (s *Summary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Engine dispatches action events for inbound trigger events
type Engine struct {
	matcher   *Matcher
	filters   *FilterEvaluator
	providers *ProviderRegistry
	templates *TemplateEngine
	recorder  *Recorder
	relay     Relay
	config    Config
	logger    logging.Logger
}

// NewEngine wires the engine components together
func NewEngine(source TaskSource, sink ActivitySink, relay Relay, lockManager locks.Manager, config Config, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.String("component", "task_engine"))

	providers := NewProviderRegistry(config.ProviderTimeout)
	return &Engine{
		matcher:   NewMatcher(source),
		filters:   NewFilterEvaluator(),
		providers: providers,
		templates: NewTemplateEngine(providers, logger),
		recorder:  NewRecorder(sink, source, lockManager, config.ErrorThreshold, logger),
		relay:     relay,
		config:    config,
		logger:    logger,
	}
}

// SetDataProviders replaces the data provider list
func (e *Engine) SetDataProviders(providers []DataProvider) {
	e.providers.SetProviders(providers)
}

// Providers returns the provider registry
func (e *Engine) Providers() *ProviderRegistry {
	return e.providers
}

// Handle runs every enabled task bound to the event's subject. Task
// failures are recorded on the activity log and never returned; an unknown
// trigger subject leaves the summary with TriggerFound unset.
func (e *Engine) Handle(ctx context.Context, event Event) *Summary {
	if event.ID == "" {
		event.ID = cuid.New()
	}
	ctx = logging.ContextWith(ctx, logging.EventIDKey, event.ID)
	logger := e.logger.WithContext(ctx).WithFields(logging.String("subject", event.Subject))

	summary := &Summary{EventID: event.ID, Subject: event.Subject}

	_, tasks, err := e.matcher.FindTasksFor(ctx, event.Subject)
	if err != nil {
		if MessageKey(err) == KeyTriggerNotFound {
			logger.Warn("No trigger registered for event", logging.Err(err))
		} else {
			logger.Error("Failed to find tasks for event", err)
		}
		return summary
	}
	summary.TriggerFound = true

	for _, task := range tasks {
		result, _ := e.run(ctx, task, event.Parameters)
		summary.Results = append(summary.Results, result)
	}

	logger.Debug("Handled event",
		logging.Int("tasks", len(tasks)),
		logging.Int("dispatched", summary.Count(OutcomeDispatched)),
		logging.Int("failed", summary.Count(OutcomeFailed)),
	)
	return summary
}

// HandleTask runs the pipeline of a single task with the given trigger
// parameters, as done when an operator retries a failed activity. The
// returned error is the recorded TaskError, nil when the task dispatched
// or its filters did not match.
func (e *Engine) HandleTask(ctx context.Context, task *Task, params map[string]Value) (TaskResult, error) {
	result, failure := e.run(ctx, task, params)
	if failure != nil {
		return result, failure
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, task *Task, params map[string]Value) (TaskResult, *TaskError) {
	ctx = logging.ContextWith(ctx, logging.TaskIDKey, task.ID)
	result := TaskResult{TaskID: task.ID}

	var failure *TaskError
	action, err := e.safeProcess(ctx, task, params)
	switch {
	case err != nil:
		failure = AsTaskError(err, KeyTemplateNull)
		failure.Parameters = params

		e.logger.WithContext(ctx).Error("Task failed", err, logging.String("message_key", failure.Key))

		result.Outcome = OutcomeFailed
		result.MessageKey = failure.Key
		result.Disabled = e.recorder.Failure(ctx, task, failure)
	case action == nil:
		result.Outcome = OutcomeSkipped
	default:
		result.Outcome = OutcomeDispatched
		result.ActionID = action.ID
		e.recorder.Success(ctx, task)
	}
	return result, failure
}

// safeProcess turns a panic anywhere in the task pipeline into a TaskError
// so it is recorded like any other failure and sibling tasks still run.
func (e *Engine) safeProcess(ctx context.Context, task *Task, params map[string]Value) (action *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			action = nil
			err = NewTaskError(KeyUnexpected).Wrap(fmt.Errorf("panic: %v", r))
		}
	}()
	return e.process(ctx, task, params)
}

// process evaluates filters, renders the action and sends it. A nil event
// with a nil error means the filters rejected the trigger.
func (e *Engine) process(ctx context.Context, task *Task, params map[string]Value) (*Event, error) {
	passed, err := e.filters.Evaluate(task, params)
	if err != nil {
		return nil, err
	}
	if !passed {
		e.logger.WithContext(ctx).Debug("Filters rejected trigger")
		return nil, nil
	}

	action, err := e.matcher.ActionFor(ctx, task)
	if err != nil {
		return nil, err
	}

	out, err := e.buildParameters(ctx, task, action, params)
	if err != nil {
		return nil, err
	}

	event := &Event{ID: cuid.New(), Subject: action.Subject, Parameters: out}
	if err := e.send(ctx, *event); err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).Info("Dispatched action event",
		logging.String("action", action.Subject),
		logging.String("action_event_id", event.ID),
	)
	return event, nil
}

// buildParameters renders every declared action parameter and converts it to its declared type
func (e *Engine) buildParameters(ctx context.Context, task *Task, action *TaskEvent, params map[string]Value) (map[string]Value, error) {
	scope := NewScope(task, params)
	out := make(map[string]Value, len(action.Parameters))

	for _, p := range action.Parameters {
		tmpl, ok := task.ActionInputFields[p.Key]
		if !ok {
			return nil, NewTaskError(KeyTemplateNull, "field", p.Key)
		}

		rendered, err := e.templates.Render(ctx, tmpl, scope)
		if err != nil {
			return nil, AsTaskError(err, KeyTemplateNull).With("field", p.Key)
		}

		converted, err := Convert(rendered, p.ParameterType())
		if err != nil {
			return nil, AsTaskError(err, KeyTemplateNull).With("field", p.Key)
		}
		out[p.Key] = converted
	}
	return out, nil
}

func (e *Engine) send(ctx context.Context, event Event) error {
	if e.config.RelayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RelayTimeout)
		defer cancel()
	}

	if err := e.relay.Send(ctx, event); err != nil {
		return NewTaskError(KeySendFailure, "subject", event.Subject).Wrap(err)
	}
	return nil
}
