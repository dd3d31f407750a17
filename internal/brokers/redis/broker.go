// Package redis implements the broker on Redis Streams. Every subject gets
// its own stream, read through a consumer group so several router instances
// share the work and unacknowledged entries are redelivered.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
	"task-router/internal/common/logging"
)

const (
	fieldBody      = "body"
	fieldMessageID = "message_id"
	fieldTimestamp = "timestamp"
	headerPrefix   = "header_"
)

type Broker struct {
	*base.BaseBroker

	mu      sync.RWMutex
	client  *redis.Client
	shared  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewBroker dials Redis with the broker's own client
func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("redis", config)
	if err != nil {
		return nil, err
	}

	broker := &Broker{BaseBroker: baseBroker}
	if err := broker.dial(config); err != nil {
		return nil, err
	}
	return broker, nil
}

// NewBrokerWithClient reuses an existing client, for instance the one the lock
// manager already holds. Close leaves the client open.
func NewBrokerWithClient(client *redis.Client, config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("redis", config)
	if err != nil {
		return nil, err
	}
	return &Broker{BaseBroker: baseBroker, client: client, shared: true}, nil
}

func (b *Broker) dial(config *Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.ConnectionError("failed to connect to Redis", err)
	}

	b.mu.Lock()
	old, shared := b.client, b.shared
	b.client, b.shared = client, false
	b.mu.Unlock()

	if old != nil && !shared {
		_ = old.Close()
	}
	return nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, b.dial)
}

func (b *Broker) getClient() (*redis.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, errors.ConnectionError("Redis broker not connected", nil)
	}
	return b.client, nil
}

// Publish appends message to the subject's stream
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	stream := config.streamName(message.Topic)

	fields := map[string]interface{}{
		fieldBody:      string(message.Body),
		fieldMessageID: message.MessageID,
		fieldTimestamp: message.Timestamp.UnixNano(),
	}
	for key, value := range base.EnvelopeHeaders(message) {
		fields[headerPrefix+key] = value
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: fields,
	}
	if config.StreamMaxLen > 0 {
		args.MaxLen = config.StreamMaxLen
		args.Approx = true
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.InternalError("failed to publish message to Redis stream", err)
	}

	b.GetLogger().Debug("Message published to Redis stream",
		logging.String("stream", stream),
		logging.String("id", id),
	)
	return nil
}

// Subscribe creates the consumer group if needed and reads the stream until
// ctx is cancelled or the broker is closed. Entries are acknowledged only
// when the handler succeeds.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	client, err := b.getClient()
	if err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	stream := config.streamName(topic)

	err = client.XGroupCreateMkStream(ctx, stream, config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.InternalError("failed to create consumer group", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	mh := base.NewMessageHandler(handler, b.GetLogger(), "redis", topic)
	logger := b.GetLogger().WithFields(
		logging.String("stream", stream),
		logging.String("consumer_group", config.ConsumerGroup),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for {
			if subCtx.Err() != nil {
				logger.Debug("Redis subscription stopped")
				return
			}

			streams, err := client.XReadGroup(subCtx, &redis.XReadGroupArgs{
				Group:    config.ConsumerGroup,
				Consumer: config.ConsumerName,
				Streams:  []string{stream, ">"},
				Count:    10,
				Block:    100 * time.Millisecond,
			}).Result()
			if err != nil {
				if err == redis.Nil || subCtx.Err() != nil {
					continue
				}
				logger.Error("Redis consumer error", err)
				select {
				case <-subCtx.Done():
				case <-time.After(time.Second):
				}
				continue
			}

			for _, s := range streams {
				for _, entry := range s.Messages {
					msg := b.toIncoming(topic, stream, config, entry)
					if !mh.Handle(msg, logging.String("entry_id", entry.ID)) {
						continue
					}
					if err := client.XAck(subCtx, stream, config.ConsumerGroup, entry.ID).Err(); err != nil {
						logger.Error("Failed to acknowledge Redis message", err, logging.String("entry_id", entry.ID))
					}
				}
			}
		}
	}()

	return nil
}

func (b *Broker) toIncoming(topic, stream string, config *Config, entry redis.XMessage) *brokers.IncomingMessage {
	headers := make(map[string]string)
	var body []byte
	messageID := entry.ID

	for field, value := range entry.Values {
		text := fmt.Sprintf("%v", value)
		switch {
		case field == fieldBody:
			body = []byte(text)
		case field == fieldMessageID && text != "":
			messageID = text
		case strings.HasPrefix(field, headerPrefix):
			headers[strings.TrimPrefix(field, headerPrefix)] = text
		}
	}

	return base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
		ID:        messageID,
		Topic:     topic,
		Headers:   headers,
		Body:      body,
		Timestamp: base.ParseTimestamp(headers),
		Metadata: map[string]interface{}{
			"stream":         stream,
			"entry_id":       entry.ID,
			"consumer_group": config.ConsumerGroup,
		},
	})
}

func (b *Broker) Health() error {
	client, err := b.getClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.GetConfig().(*Config).Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.ConnectionError("Redis ping failed", err)
	}
	return nil
}

// Close stops every subscription and closes the client unless it is shared.
func (b *Broker) Close() error {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	var err error
	if !b.shared {
		err = b.client.Close()
	}
	b.client = nil
	return err
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("redis", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
