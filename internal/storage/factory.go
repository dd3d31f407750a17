package storage

import (
	"fmt"

	"task-router/internal/common/errors"
	"task-router/internal/config"
)

// NewStorage creates the storage backend selected by DATABASE_TYPE. The
// backend package must be linked in (blank import) so its factory is registered.
func NewStorage(cfg *config.Config) (Storage, error) {
	var storageConfig GenericConfig

	switch cfg.Database.Type {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.Database.Path,
		}

	case "postgres", "postgresql":
		storageConfig = GenericConfig{
			"type":              "postgres",
			"connection_string": cfg.Database.PostgresDSN(),
		}

	case "memory":
		storageConfig = GenericConfig{"type": "memory"}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.Database.Type))
	}

	return Create(storageConfig.GetType(), storageConfig)
}

// GenericConfig is a simple map-based implementation of StorageConfig
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	switch gc.GetType() {
	case "sqlite":
		if gc.String("path") == "" {
			return fmt.Errorf("database path is required")
		}
	case "postgres":
		if gc.GetConnectionString() == "" {
			return fmt.Errorf("connection string is required")
		}
	}
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	return gc.String("connection_string")
}

// String returns a string setting or ""
func (gc GenericConfig) String(key string) string {
	if s, ok := gc[key].(string); ok {
		return s
	}
	return ""
}
