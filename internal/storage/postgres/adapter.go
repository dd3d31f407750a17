// Package postgres is the PostgreSQL storage backend, using pgx through database/sql.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"task-router/internal/common/errors"
	"task-router/internal/storage/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS task_events (
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			definition JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (kind, subject)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			trigger_subject TEXT NOT NULL,
			action_subject TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			definition JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_trigger ON tasks (trigger_subject)`,
		`CREATE TABLE IF NOT EXISTS task_activities (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			message_key TEXT NOT NULL,
			fields JSONB,
			parameters JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_activities_task ON task_activities (task_id, seq)`,
	},
}

// Adapter is the PostgreSQL storage backend
type Adapter struct {
	*sqlstore.Store
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL config: %v", err))
	}

	connConfig, err := pgx.ParseConfig(config.GetConnectionString())
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid PostgreSQL connection string: %v", err))
	}

	db := stdlib.OpenDB(*connConfig)
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to connect to PostgreSQL database", err)
	}

	store, err := sqlstore.New(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Adapter{Store: store, config: config}, nil
}
