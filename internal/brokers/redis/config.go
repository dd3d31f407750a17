package redis

import (
	"fmt"
	"time"

	"task-router/internal/common/errors"
)

type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration

	// StreamPrefix is prepended to the event subject to name its stream
	StreamPrefix  string
	StreamMaxLen  int64 // 0 = no limit
	ConsumerGroup string
	ConsumerName  string
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.ConfigError("Redis address is required")
	}
	if c.StreamMaxLen < 0 {
		return errors.ConfigError("stream max length cannot be negative")
	}

	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "task-router"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "task-router-consumer"
	}

	return nil
}

func (c *Config) GetType() string {
	return "redis"
}

func (c *Config) GetConnectionString() string {
	if c.Password != "" {
		return fmt.Sprintf("redis://:***@%s/%d", c.Address, c.DB)
	}
	return fmt.Sprintf("redis://%s/%d", c.Address, c.DB)
}

func (c *Config) streamName(topic string) string {
	return c.StreamPrefix + topic
}

func DefaultConfig() *Config {
	return &Config{
		Address:       "localhost:6379",
		PoolSize:      10,
		Timeout:       5 * time.Second,
		StreamPrefix:  "events:",
		ConsumerGroup: "task-router",
		ConsumerName:  "task-router-consumer",
	}
}
