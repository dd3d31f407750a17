package kafka

import (
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"task-router/internal/common/validation"
)

var (
	securityProtocols = []string{"PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL"}
	saslMechanisms    = []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}
)

type Config struct {
	Brokers          []string
	ClientID         string
	GroupID          string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Timeout          time.Duration
}

func (c *Config) Validate() error {
	if c.ClientID == "" {
		c.ClientID = "task-router"
	}
	if c.GroupID == "" {
		c.GroupID = "task-router"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = "PLAINTEXT"
	}
	sasl := strings.HasPrefix(c.SecurityProtocol, "SASL_")
	if sasl && c.SASLMechanism == "" {
		c.SASLMechanism = "PLAIN"
	}

	v := validation.NewValidator()
	v.RequirePositive(len(c.Brokers), "brokers")
	for _, broker := range c.Brokers {
		v.RequireString(broker, "broker address")
	}
	v.RequireOneOf(c.SecurityProtocol, securityProtocols, "security protocol")
	if sasl {
		v.RequireOneOf(c.SASLMechanism, saslMechanisms, "sasl mechanism")
		v.RequireString(c.SASLUsername, "sasl username")
		v.RequireString(c.SASLPassword, "sasl password")
	}
	return v.Error()
}

func (c *Config) GetType() string {
	return "kafka"
}

func (c *Config) GetConnectionString() string {
	return strings.Join(c.Brokers, ",")
}

// configMap builds the librdkafka settings shared by producer and consumers
func (c *Config) configMap(clientSuffix string) *kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers":  c.GetConnectionString(),
		"client.id":          c.ClientID + clientSuffix,
		"session.timeout.ms": 6000,
	}

	if c.SecurityProtocol != "PLAINTEXT" {
		m["security.protocol"] = c.SecurityProtocol
	}
	if strings.HasPrefix(c.SecurityProtocol, "SASL_") {
		m["sasl.mechanism"] = c.SASLMechanism
		m["sasl.username"] = c.SASLUsername
		m["sasl.password"] = c.SASLPassword
	}
	return &m
}

// consumerConfigMap adds the group settings. Offsets are committed by the
// broker after a successful handler run only.
func (c *Config) consumerConfigMap() *kafka.ConfigMap {
	m := c.configMap("-consumer")
	(*m)["group.id"] = c.GroupID
	(*m)["auto.offset.reset"] = "earliest"
	(*m)["enable.auto.commit"] = false
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Brokers:          []string{"localhost:9092"},
		ClientID:         "task-router",
		GroupID:          "task-router",
		SecurityProtocol: "PLAINTEXT",
		Timeout:          30 * time.Second,
	}
}
