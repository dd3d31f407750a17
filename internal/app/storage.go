package app

import (
	"fmt"

	"task-router/internal/common/logging"
	"task-router/internal/storage"

	// storage backends register themselves with the factory registry
	_ "task-router/internal/storage/memory"
	_ "task-router/internal/storage/postgres"
	_ "task-router/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	db := app.Config.Database
	switch db.Type {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", db.PostgresHost),
			logging.Int("port", db.PostgresPort),
			logging.String("database", db.PostgresDB),
		)
	case "memory":
		app.Logger.Warn("Database: in-memory, nothing survives a restart")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", db.Path))
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Storage = store
	return nil
}
