// Package sqlstore implements storage.Storage on database/sql. The SQLite
// and PostgreSQL backends share it and differ only in their Dialect.
//
// Tasks and event definitions are kept as JSON documents next to the
// columns that are queried (subjects, enabled flag). Activities are
// append-only rows ordered by an auto-incremented sequence.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lucsky/cuid"

	"task-router/internal/common/errors"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

// Dialect captures what differs between the SQL backends
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2) instead of ?
	Numbered bool

	// Schema is run in order on startup, every statement must be idempotent
	Schema []string
}

// Store is a storage.Storage over a *sql.DB
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db and applies the dialect's schema
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to migrate %s database", dialect.Name), err)
	}
	return s, nil
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects using numbered ones
func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.ConnectionError(fmt.Sprintf("%s database unreachable", s.dialect.Name), err)
	}
	return nil
}

// Event definitions

func (s *Store) SaveTaskEvent(ctx context.Context, kind storage.EventKind, event *tasks.TaskEvent) error {
	if !kind.Valid() {
		return errors.ValidationError(fmt.Sprintf("unknown event kind %q", kind))
	}
	if strings.TrimSpace(event.Subject) == "" {
		return errors.ValidationError("event subject is required")
	}

	definition, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("failed to encode event definition", err)
	}

	_, err = s.exec(ctx, `INSERT INTO task_events (kind, subject, display_name, definition, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, subject) DO UPDATE SET
			display_name = excluded.display_name,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		string(kind), event.Subject, event.DisplayName, string(definition), time.Now().UTC())
	if err != nil {
		return errors.InternalError("failed to save event definition", err)
	}
	return nil
}

func (s *Store) GetTaskEvent(ctx context.Context, kind storage.EventKind, subject string) (*tasks.TaskEvent, error) {
	var definition string
	err := s.queryRow(ctx, `SELECT definition FROM task_events WHERE kind = ? AND subject = ?`,
		string(kind), subject).Scan(&definition)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError(fmt.Sprintf("%s %s", kind, subject))
	}
	if err != nil {
		return nil, errors.InternalError("failed to load event definition", err)
	}
	return decodeEvent(definition)
}

func (s *Store) ListTaskEvents(ctx context.Context, kind storage.EventKind) ([]*tasks.TaskEvent, error) {
	rows, err := s.query(ctx, `SELECT definition FROM task_events WHERE kind = ? ORDER BY subject`, string(kind))
	if err != nil {
		return nil, errors.InternalError("failed to list event definitions", err)
	}
	defer rows.Close()

	var events []*tasks.TaskEvent
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, errors.InternalError("failed to read event definition", err)
		}
		event, err := decodeEvent(definition)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
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

// Tasks

const taskColumns = `definition, enabled`

func (s *Store) GetAllTasks(ctx context.Context) ([]*tasks.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
}

func (s *Store) FindTasksForTrigger(ctx context.Context, trigger *tasks.TaskEvent) ([]*tasks.Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE trigger_subject = ? ORDER BY created_at, id`, trigger.Subject)
}

func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	var (
		definition string
		enabled    bool
	)
	err := s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).Scan(&definition, &enabled)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("task " + id)
	}
	if err != nil {
		return nil, errors.InternalError("failed to load task", err)
	}
	return decodeTask(definition, enabled)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...interface{}) ([]*tasks.Task, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to list tasks", err)
	}
	defer rows.Close()

	var list []*tasks.Task
	for rows.Next() {
		var (
			definition string
			enabled    bool
		)
		if err := rows.Scan(&definition, &enabled); err != nil {
			return nil, errors.InternalError("failed to read task", err)
		}
		task, err := decodeTask(definition, enabled)
		if err != nil {
			return nil, err
		}
		list = append(list, task)
	}
	return list, rows.Err()
}

// Save upserts task, assigning an id to new tasks
func (s *Store) Save(ctx context.Context, task *tasks.Task) error {
	if task.ID == "" {
		task.ID = cuid.New()
	}

	definition, err := json.Marshal(task)
	if err != nil {
		return errors.InternalError("failed to encode task", err)
	}

	now := time.Now().UTC()
	_, err = s.exec(ctx, `INSERT INTO tasks (id, name, trigger_subject, action_subject, enabled, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			trigger_subject = excluded.trigger_subject,
			action_subject = excluded.action_subject,
			enabled = excluded.enabled,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		task.ID, task.Name, task.Trigger, task.Action, task.Enabled, string(definition), now, now)
	if err != nil {
		return errors.InternalError("failed to save task", err)
	}
	return nil
}

func (s *Store) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	res, err := s.exec(ctx, `UPDATE tasks SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), taskID)
	if err != nil {
		return errors.InternalError("failed to update task", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFoundError("task " + taskID)
	}
	return nil
}

// Activities

func (s *Store) AddSuccess(ctx context.Context, task *tasks.Task) error {
	return s.addActivity(ctx, task, tasks.ActivitySuccess, tasks.MessageKeySuccess, nil, nil)
}

func (s *Store) AddWarning(ctx context.Context, task *tasks.Task) error {
	return s.addActivity(ctx, task, tasks.ActivityWarning, tasks.MessageKeyDisabled, nil, nil)
}

func (s *Store) AddError(ctx context.Context, task *tasks.Task, taskErr *tasks.TaskError) error {
	return s.addActivity(ctx, task, tasks.ActivityError, taskErr.Key, taskErr.Fields, taskErr.Parameters)
}

func (s *Store) addActivity(ctx context.Context, task *tasks.Task, kind tasks.ActivityType, key string, fields map[string]string, params map[string]tasks.Value) error {
	encodedFields, err := encodeOptional(fields)
	if err != nil {
		return errors.InternalError("failed to encode activity fields", err)
	}
	encodedParams, err := encodeOptional(params)
	if err != nil {
		return errors.InternalError("failed to encode activity parameters", err)
	}

	_, err = s.exec(ctx, `INSERT INTO task_activities (id, task_id, activity_type, message_key, fields, parameters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cuid.New(), task.ID, string(kind), key, encodedFields, encodedParams, time.Now().UTC())
	if err != nil {
		return errors.InternalError("failed to record activity", err)
	}
	return nil
}

const activityColumns = `id, task_id, activity_type, message_key, fields, parameters, created_at`

func (s *Store) ErrorsFromLastRun(ctx context.Context, task *tasks.Task) ([]tasks.Activity, error) {
	return s.listActivities(ctx, `SELECT `+activityColumns+` FROM task_activities
		WHERE task_id = ? AND activity_type = 'ERROR' AND seq > (
			SELECT COALESCE(MAX(seq), 0) FROM task_activities WHERE task_id = ? AND activity_type <> 'ERROR'
		)
		ORDER BY seq DESC`, task.ID, task.ID)
}

func (s *Store) ListActivities(ctx context.Context, taskID string, limit int) ([]tasks.Activity, error) {
	if limit <= 0 {
		limit = storage.DefaultActivityLimit
	}
	return s.listActivities(ctx, `SELECT `+activityColumns+` FROM task_activities
		WHERE task_id = ? ORDER BY seq DESC LIMIT ?`, taskID, limit)
}

func (s *Store) GetActivity(ctx context.Context, id string) (*tasks.Activity, error) {
	list, err := s.listActivities(ctx, `SELECT `+activityColumns+` FROM task_activities WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.NotFoundError("activity " + id)
	}
	return &list[0], nil
}

func (s *Store) DeleteActivities(ctx context.Context, taskID string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM task_activities WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, errors.InternalError("failed to delete activities", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) listActivities(ctx context.Context, query string, args ...interface{}) ([]tasks.Activity, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to list activities", err)
	}
	defer rows.Close()

	var list []tasks.Activity
	for rows.Next() {
		var (
			a              tasks.Activity
			kind           string
			fields, params sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &kind, &a.MessageKey, &fields, &params, &a.Timestamp); err != nil {
			return nil, errors.InternalError("failed to read activity", err)
		}
		a.Type = tasks.ActivityType(kind)
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &a.Fields); err != nil {
				return nil, errors.InternalError("failed to decode activity fields", err)
			}
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &a.Parameters); err != nil {
				return nil, errors.InternalError("failed to decode activity parameters", err)
			}
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func decodeTask(definition string, enabled bool) (*tasks.Task, error) {
	var task tasks.Task
	if err := json.Unmarshal([]byte(definition), &task); err != nil {
		return nil, errors.InternalError("failed to decode task", err)
	}
	task.Enabled = enabled
	return &task, nil
}

func decodeEvent(definition string) (*tasks.TaskEvent, error) {
	var event tasks.TaskEvent
	if err := json.Unmarshal([]byte(definition), &event); err != nil {
		return nil, errors.InternalError("failed to decode event definition", err)
	}
	return &event, nil
}

// encodeOptional returns nil for empty maps so the column stays NULL
func encodeOptional[M ~map[string]V, V any](m M) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ storage.Storage = (*Store)(nil)
