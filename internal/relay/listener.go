package relay

import (
	"context"
	"sort"
	"sync"

	"task-router/internal/brokers"
	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/tasks"
)

// EventHandler runs the engine for one inbound event
type EventHandler interface {
	Handle(ctx context.Context, event tasks.Event) *tasks.Summary
}

// Listener subscribes to every trigger subject used by a task and hands
// each consumed event to the engine.
type Listener struct {
	broker  brokers.Broker
	source  tasks.TaskSource
	handler EventHandler
	logger  logging.Logger

	mu         sync.Mutex
	ctx        context.Context
	subscribed map[string]bool
}

func NewListener(broker brokers.Broker, source tasks.TaskSource, handler EventHandler, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Listener{
		broker:     broker,
		source:     source,
		handler:    handler,
		logger:     logger.WithFields(logging.String("component", "relay_listener")),
		subscribed: make(map[string]bool),
	}
}

// Start subscribes to the currently known trigger subjects. Subscriptions
// live until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	return l.Refresh(ctx)
}

// Refresh subscribes to trigger subjects that appeared since the last call.
// Subjects are never unsubscribed; events for a subject without enabled
// tasks simply dispatch nothing.
func (l *Listener) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil {
		return errors.ConflictError("listener not started")
	}

	all, err := l.source.GetAllTasks(ctx)
	if err != nil {
		return errors.InternalError("failed to load tasks", err)
	}

	for _, subject := range triggerSubjects(all) {
		if l.subscribed[subject] {
			continue
		}
		if err := l.broker.Subscribe(l.ctx, subject, l.consume); err != nil {
			return errors.ConnectionError("failed to subscribe to "+subject, err)
		}
		l.subscribed[subject] = true
		l.logger.Info("Subscribed to trigger subject", logging.String("subject", subject))
	}
	return nil
}

// Subjects returns the subscribed subjects, sorted
func (l *Listener) Subjects() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	subjects := make([]string, 0, len(l.subscribed))
	for s := range l.subscribed {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	return subjects
}

// consume decodes one delivery and runs the engine. Undecodable bodies are
// logged and acknowledged since redelivering them cannot succeed.
func (l *Listener) consume(msg *brokers.IncomingMessage) error {
	event, err := Decode(msg.Body, msg.Topic)
	if err != nil {
		l.logger.Error("Dropping undecodable event", err,
			logging.String("topic", msg.Topic),
			logging.String("message_id", msg.ID),
		)
		return nil
	}
	if event.ID == "" {
		event.ID = msg.ID
	}

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	summary := l.handler.Handle(ctx, event)
	l.logger.Debug("Consumed event",
		logging.String("subject", event.Subject),
		logging.String("event_id", summary.EventID),
		logging.Int("dispatched", summary.Count(tasks.OutcomeDispatched)),
		logging.Int("failed", summary.Count(tasks.OutcomeFailed)),
	)
	return nil
}

func triggerSubjects(all []*tasks.Task) []string {
	seen := make(map[string]bool)
	var subjects []string
	for _, t := range all {
		if t.Trigger == "" || seen[t.Trigger] {
			continue
		}
		seen[t.Trigger] = true
		subjects = append(subjects, t.Trigger)
	}
	sort.Strings(subjects)
	return subjects
}
