package memory

import (
	"fmt"

	"task-router/internal/common/errors"
)

const defaultBufferSize = 256

// Config sizes the per-subscription delivery queues
type Config struct {
	BufferSize int
}

func DefaultConfig() *Config {
	return &Config{BufferSize: defaultBufferSize}
}

func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return errors.ConfigError("buffer size cannot be negative")
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return nil
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("memory://local?buffer=%d", c.BufferSize)
}

func (c *Config) GetType() string {
	return "memory"
}
