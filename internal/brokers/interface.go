// Package brokers defines the event bus the task router relays through.
// Every backend publishes events under their subject as topic and feeds
// subscriptions from a background consumer until its context is cancelled.
package brokers

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Broker interface {
	Name() string
	Connect(config BrokerConfig) error

	// Publish hands message off to the bus. It does not wait for consumers.
	Publish(ctx context.Context, message *Message) error

	// Subscribe starts consuming topic in the background and returns once the
	// consumer is set up. Consumption stops when ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	Health() error
	Close() error
}

type BrokerConfig interface {
	Validate() error
	GetConnectionString() string
	GetType() string
}

type Message struct {
	// Topic is the event subject
	Topic     string
	Key       string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	MessageID string
}

// NewMessage creates a message with a fresh id and the current time
func NewMessage(topic string, body []byte) *Message {
	return &Message{
		Topic:     topic,
		Headers:   make(map[string]string),
		Body:      body,
		Timestamp: time.Now().UTC(),
		MessageID: uuid.NewString(),
	}
}

// MessageHandler processes one delivery. A returned error leaves the
// message unacknowledged where the backend supports redelivery.
type MessageHandler func(message *IncomingMessage) error

type IncomingMessage struct {
	ID        string
	Topic     string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	Source    BrokerInfo
	Metadata  map[string]interface{}
}

type BrokerInfo struct {
	Name string
	Type string
	URL  string
}

type BrokerFactory interface {
	Create(config BrokerConfig) (Broker, error)
	GetType() string
}

// Header names shared by every backend
const (
	HeaderMessageID = "message_id"
	HeaderSubject   = "subject"
	HeaderTimestamp = "timestamp"
)
