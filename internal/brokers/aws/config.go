package aws

import (
	"fmt"

	"task-router/internal/common/validation"
)

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// QueueURL is the SQS queue every subject is consumed from
	QueueURL string
	// TopicArn, when set, makes Publish go through SNS instead of straight to the queue
	TopicArn          string
	VisibilityTimeout int32
	WaitTimeSeconds   int32
	MaxMessages       int32
}

func (c *Config) Validate() error {
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 30
	}
	if c.WaitTimeSeconds == 0 {
		c.WaitTimeSeconds = 10
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 10
	}

	v := validation.NewValidatorWithPrefix("AWS config")
	v.RequireString(c.Region, "region")
	if c.AccessKeyID != "" || c.SecretAccessKey != "" {
		v.RequireString(c.AccessKeyID, "access_key_id")
		v.RequireString(c.SecretAccessKey, "secret_access_key")
	}
	if c.QueueURL == "" && c.TopicArn == "" {
		v.Validate(func() error {
			return fmt.Errorf("either QueueURL (for SQS) or TopicArn (for SNS) is required")
		})
	}
	if c.QueueURL != "" {
		v.RequireURL(c.QueueURL, "queue_url")
	}
	v.RequireNonNegative(int(c.VisibilityTimeout), "visibility_timeout")
	v.ValidateIf(c.WaitTimeSeconds > 20, func() error {
		return fmt.Errorf("wait_time_seconds cannot exceed 20")
	})
	v.ValidateIf(c.MaxMessages < 1 || c.MaxMessages > 10, func() error {
		return fmt.Errorf("max_messages must be between 1 and 10")
	})

	return v.Error()
}

func (c *Config) GetType() string {
	return "aws"
}

func (c *Config) GetConnectionString() string {
	if c.TopicArn != "" {
		return fmt.Sprintf("sns://%s/%s", c.Region, c.TopicArn)
	}
	return fmt.Sprintf("sqs://%s/%s", c.Region, c.QueueURL)
}
