// Package kafka implements the broker on Kafka. The subject is the topic
// name, and each subscription runs its own consumer in the configured group.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
	"task-router/internal/common/logging"
)

const pollTimeout = 100 * time.Millisecond

type Broker struct {
	*base.BaseBroker

	mu       sync.RWMutex
	producer *kafka.Producer
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("kafka", config)
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(config.configMap(""))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}

	return &Broker{BaseBroker: baseBroker, producer: producer, stop: make(chan struct{})}, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, func(c *Config) error {
		producer, err := kafka.NewProducer(c.configMap(""))
		if err != nil {
			return errors.ConnectionError("failed to create Kafka producer", err)
		}

		b.mu.Lock()
		old := b.producer
		b.producer = producer
		b.mu.Unlock()

		if old != nil {
			old.Close()
		}
		return nil
	})
}

func (b *Broker) getProducer() (*kafka.Producer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.producer == nil {
		return nil, errors.ConnectionError("Kafka broker not connected", nil)
	}
	return b.producer, nil
}

// Publish produces message and waits for the delivery report
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	producer, err := b.getProducer()
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	if err := producer.Produce(toKafkaMessage(message), delivery); err != nil {
		return errors.InternalError("failed to produce message", err)
	}

	select {
	case <-ctx.Done():
		return errors.TimeoutError("kafka delivery", ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return errors.InternalError(fmt.Sprintf("unexpected delivery event %v", e), nil)
		}
		if m.TopicPartition.Error != nil {
			return errors.InternalError("delivery failed", m.TopicPartition.Error)
		}
		b.GetLogger().Debug("Message delivered to Kafka",
			logging.String("topic", message.Topic),
			logging.Int("partition", int(m.TopicPartition.Partition)),
			logging.String("offset", m.TopicPartition.Offset.String()),
		)
		return nil
	}
}

func toKafkaMessage(message *brokers.Message) *kafka.Message {
	topic := message.Topic
	headers := base.EnvelopeHeaders(message)

	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message.Body,
		Timestamp:      message.Timestamp,
		Headers:        make([]kafka.Header, 0, len(headers)),
	}
	if message.Key != "" {
		km.Key = []byte(message.Key)
	}
	for key, value := range headers {
		km.Headers = append(km.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return km
}

// Subscribe starts a consumer for topic. Offsets are committed after the
// handler succeeds; failures are left for the next rebalance to redeliver.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	if _, err := b.getProducer(); err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	consumer, err := kafka.NewConsumer(config.consumerConfigMap())
	if err != nil {
		return errors.ConnectionError("failed to create Kafka consumer", err)
	}
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return errors.InternalError("failed to subscribe to topic "+topic, err)
	}

	mh := base.NewMessageHandler(handler, b.GetLogger(), "kafka", topic)
	logger := b.GetLogger().WithFields(logging.String("topic", topic))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer consumer.Close()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("Kafka subscription cancelled")
				return
			case <-b.stop:
				return
			default:
			}

			msg, err := consumer.ReadMessage(pollTimeout)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				logger.Error("Kafka consumer error", err)
				continue
			}

			if mh.Handle(b.toIncoming(topic, msg)) {
				if _, err := consumer.CommitMessage(msg); err != nil {
					logger.Error("Failed to commit Kafka offset", err)
				}
			}
		}
	}()

	return nil
}

func (b *Broker) toIncoming(topic string, msg *kafka.Message) *brokers.IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	id := headers[brokers.HeaderMessageID]
	if id == "" {
		id = fmt.Sprintf("%s-%d-%d", topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset)
	}

	return base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
		ID:        id,
		Topic:     topic,
		Headers:   headers,
		Body:      msg.Value,
		Timestamp: msg.Timestamp,
		Metadata: map[string]interface{}{
			"partition": msg.TopicPartition.Partition,
			"offset":    int64(msg.TopicPartition.Offset),
		},
	})
}

func (b *Broker) Health() error {
	producer, err := b.getProducer()
	if err != nil {
		return err
	}

	timeout := int(b.GetConfig().(*Config).Timeout.Milliseconds())
	metadata, err := producer.GetMetadata(nil, false, timeout)
	if err != nil {
		return errors.ConnectionError("failed to get Kafka metadata", err)
	}
	if len(metadata.Brokers) == 0 {
		return errors.UnavailableError("no Kafka brokers available", nil)
	}
	return nil
}

// Close stops consumers and flushes outstanding deliveries
func (b *Broker) Close() error {
	b.mu.Lock()
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	producer := b.producer
	b.producer = nil
	b.mu.Unlock()

	b.wg.Wait()
	if producer != nil {
		timeout := int(b.GetConfig().(*Config).Timeout.Milliseconds())
		if remaining := producer.Flush(timeout); remaining > 0 {
			b.GetLogger().Warn("Kafka producer closed with undelivered messages", logging.Int("remaining", remaining))
		}
		producer.Close()
	}
	return nil
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("kafka", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
