package sqlite

import (
	"fmt"

	"task-router/internal/storage"
)

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString enables foreign keys and WAL so readers do not block the engine's writes
func (c *Config) GetConnectionString() string {
	if c.DatabasePath == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", c.DatabasePath)
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./tasks.db",
	}
}

// configFrom accepts a *Config or the generic map built by storage.NewStorage
func configFrom(config storage.StorageConfig) (*Config, error) {
	switch c := config.(type) {
	case *Config:
		return c, nil
	case storage.GenericConfig:
		return &Config{DatabasePath: c.String("path")}, nil
	}
	return nil, fmt.Errorf("invalid config type for SQLite storage")
}
