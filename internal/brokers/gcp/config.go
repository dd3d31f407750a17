package gcp

import (
	"fmt"
	"strings"

	"task-router/internal/common/validation"
)

type Config struct {
	ProjectID       string
	CredentialsPath string // service account key file, empty for application default credentials
	// TopicPrefix is prepended to the event subject to name its topic
	TopicPrefix string
	// SubscriptionPrefix names subscriptions as <prefix>-<topic>
	SubscriptionPrefix     string
	CreateMissing          bool
	AckDeadline            int // seconds
	MaxOutstandingMessages int
}

func (c *Config) Validate() error {
	if c.SubscriptionPrefix == "" {
		c.SubscriptionPrefix = "task-router"
	}
	if c.AckDeadline == 0 {
		c.AckDeadline = 60
	}
	if c.MaxOutstandingMessages == 0 {
		c.MaxOutstandingMessages = 100
	}

	v := validation.NewValidatorWithPrefix("GCP Pub/Sub config")
	v.RequireString(c.ProjectID, "project_id")
	v.RequirePositive(c.MaxOutstandingMessages, "max_outstanding_messages")
	v.ValidateIf(c.AckDeadline < 10 || c.AckDeadline > 600, func() error {
		return fmt.Errorf("ack_deadline must be between 10 and 600 seconds")
	})
	return v.Error()
}

func (c *Config) GetType() string {
	return "gcp"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("pubsub://projects/%s", c.ProjectID)
}

// topicID maps a subject to a valid topic name. Pub/Sub names cannot start
// with "goog" and only allow letters, digits and - _ . ~ + %.
func (c *Config) topicID(subject string) string {
	var b strings.Builder
	for _, r := range c.TopicPrefix + subject {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', strings.ContainsRune("-_.~+%", r):
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	id := b.String()
	if len(id) < 3 || !isLetter(rune(id[0])) || strings.HasPrefix(strings.ToLower(id), "goog") {
		id = "t-" + id
	}
	return id
}

func (c *Config) subscriptionID(topicID string) string {
	return c.SubscriptionPrefix + "-" + topicID
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func DefaultConfig() *Config {
	return &Config{
		SubscriptionPrefix:     "task-router",
		CreateMissing:          true,
		AckDeadline:            60,
		MaxOutstandingMessages: 100,
	}
}
