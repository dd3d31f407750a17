// Package schedule emits timed trigger events on cron schedules.
//
// Each entry pairs a cron expression with a trigger subject. When the
// expression fires, an event carrying the firing time is handed to the relay
// and reaches the engine like any other inbound event.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/common/validation"
	"task-router/internal/tasks"
)

// Event parameters set on every timed event
const (
	ParamScheduledAt = "scheduledAt"
	ParamSchedule    = "schedule"
	ParamRunCount    = "runCount"
)

// Entry is one timed event
type Entry struct {
	Spec    string
	Subject string
}

// ParseEntries parses "cron=SUBJECT;cron=SUBJECT". Blank entries are skipped.
func ParseEntries(s string) ([]Entry, error) {
	v := validation.NewValidatorWithPrefix("schedule")
	var entries []Entry
	for _, raw := range strings.Split(s, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		spec, subject, ok := strings.Cut(raw, "=")
		spec, subject = strings.TrimSpace(spec), strings.TrimSpace(subject)
		if !ok || subject == "" {
			return nil, errors.ValidationError(fmt.Sprintf("schedule entry %q must be cron=SUBJECT", raw))
		}
		v.RequireCron(spec, subject)
		entries = append(entries, Entry{Spec: spec, Subject: subject})
	}
	if v.HasErrors() {
		return nil, v.Error()
	}
	return entries, nil
}

// Job is the state of one scheduled entry
type Job struct {
	Entry
	Runs int       `json:"runs"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

type job struct {
	entry Entry
	id    cron.EntryID
	runs  int
}

// Scheduler owns a cron runner firing the configured entries
type Scheduler struct {
	cron    *cron.Cron
	relay   tasks.Relay
	timeout time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool
}

// Option configures a Scheduler
type Option func(*Scheduler, *[]cron.Option)

// WithLocation evaluates the schedules in loc instead of the local zone
func WithLocation(loc *time.Location) Option {
	return func(_ *Scheduler, opts *[]cron.Option) {
		*opts = append(*opts, cron.WithLocation(loc))
	}
}

// WithSendTimeout bounds every relay send
func WithSendTimeout(d time.Duration) Option {
	return func(s *Scheduler, _ *[]cron.Option) {
		s.timeout = d
	}
}

// New creates a scheduler for entries. Nothing fires before Start.
func New(entries []Entry, relay tasks.Relay, logger logging.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Scheduler{
		relay:   relay,
		timeout: 10 * time.Second,
		logger:  logger.WithFields(logging.String("component", "scheduler")),
	}

	cronLog := cronLogger{s.logger}
	cronOpts := []cron.Option{
		cron.WithParser(validation.CronParser),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		cron.WithLogger(cronLog),
	}
	for _, opt := range opts {
		opt(s, &cronOpts)
	}
	s.cron = cron.New(cronOpts...)

	for _, entry := range entries {
		j := &job{entry: entry}
		id, err := s.cron.AddFunc(entry.Spec, func() { s.fire(j) })
		if err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("invalid schedule %q for %s: %v", entry.Spec, entry.Subject, err))
		}
		j.id = id
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Start runs the schedules until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.ConflictError("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", logging.Int("entries", len(s.jobs)))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedules and waits for a firing in progress
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs describes the entries and their next firing
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.cron.Entry(j.id)
		list = append(list, Job{Entry: j.entry, Runs: j.runs, Next: e.Next, Prev: e.Prev})
	}
	return list
}

func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	j.runs++
	runs := j.runs
	s.mu.Unlock()

	s.emit(j.entry, runs, time.Now())
}

// emit sends the timed event for entry
func (s *Scheduler) emit(entry Entry, runs int, at time.Time) {
	event := tasks.Event{
		ID:      uuid.NewString(),
		Subject: entry.Subject,
		Parameters: map[string]tasks.Value{
			ParamScheduledAt: tasks.DateValue(at),
			ParamSchedule:    tasks.TextValue(entry.Spec),
			ParamRunCount:    tasks.IntValue(int64(runs)),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = logging.ContextWith(ctx, logging.EventIDKey, event.ID)

	if err := s.relay.Send(ctx, event); err != nil {
		s.logger.WithContext(ctx).Error("Failed to emit timed event", err,
			logging.String("subject", entry.Subject),
			logging.Int("run", runs),
		)
		return
	}
	s.logger.WithContext(ctx).Debug("Timed event emitted",
		logging.String("subject", entry.Subject),
		logging.Int("run", runs),
	)
}

// cronLogger adapts logging.Logger to cron.Logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, pairs(keysAndValues)...)
}

func pairs(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
