package rabbitmq

import (
	"fmt"
	"net/url"

	"task-router/internal/common/validation"
)

type Config struct {
	URL      string `json:"url" validate:"required,url"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`
	// QueuePrefix is prepended to the event subject to name its queue
	QueuePrefix string `json:"queue_prefix"`
	Prefetch    int    `json:"prefetch" validate:"min=0"`
}

func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	return validation.ValidateStruct(c)
}

func (c *Config) GetConnectionString() string {
	if parsedURL, err := url.Parse(c.URL); err == nil && parsedURL.Host != "" {
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}

func (c *Config) GetType() string {
	return "rabbitmq"
}

func (c *Config) queueName(topic string) string {
	return c.QueuePrefix + topic
}
