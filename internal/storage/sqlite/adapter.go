// Package sqlite is the embedded storage backend (mattn/go-sqlite3).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"task-router/internal/common/errors"
	"task-router/internal/storage"
	"task-router/internal/storage/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS task_events (
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (kind, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			trigger_subject TEXT NOT NULL,
			action_subject TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			definition TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_trigger ON tasks (trigger_subject)`,
		`CREATE TABLE IF NOT EXISTS task_activities (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			message_key TEXT NOT NULL,
			fields TEXT,
			parameters TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_activities_task ON task_activities (task_id, seq)`,
	},
}

// Adapter is the SQLite storage backend
type Adapter struct {
	*sqlstore.Store
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid SQLite config: %v", err))
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	store, err := sqlstore.New(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Adapter{Store: store, config: config}, nil
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	sqliteConfig, err := configFrom(config)
	if err != nil {
		return nil, err
	}
	return NewAdapter(sqliteConfig)
}

func (f *Factory) GetType() string {
	return "sqlite"
}

func init() {
	storage.Register("sqlite", &Factory{})
}
