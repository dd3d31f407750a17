// Package rabbitmq implements the broker over AMQP. Each subject maps to a
// durable queue published through the default exchange, so competing router
// instances share deliveries.
package rabbitmq

import (
	"context"
	"sync"

	"github.com/streadway/amqp"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
	"task-router/internal/common/logging"
)

type Broker struct {
	*base.BaseBroker

	mu   sync.RWMutex
	pool ConnectionPoolInterface
	wg   sync.WaitGroup
	stop chan struct{}
}

func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("rabbitmq", config)
	if err != nil {
		return nil, err
	}

	pool, err := NewConnectionPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}

	return &Broker{BaseBroker: baseBroker, pool: pool, stop: make(chan struct{})}, nil
}

// NewBrokerWithPool creates a broker with an injected connection pool
func NewBrokerWithPool(config *Config, pool ConnectionPoolInterface) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("rabbitmq", config)
	if err != nil {
		return nil, err
	}
	return &Broker{BaseBroker: baseBroker, pool: pool, stop: make(chan struct{})}, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, func(c *Config) error {
		pool, err := NewConnectionPool(c.URL, c.PoolSize)
		if err != nil {
			return errors.ConnectionError("failed to create RabbitMQ connection pool", err)
		}

		b.mu.Lock()
		old := b.pool
		b.pool = pool
		b.mu.Unlock()

		if old != nil {
			old.Close()
		}
		return nil
	})
}

func (b *Broker) newClient() (ClientInterface, error) {
	b.mu.RLock()
	pool := b.pool
	b.mu.RUnlock()

	if err := base.StandardHealthCheck(pool != nil, "RabbitMQ"); err != nil {
		return nil, err
	}

	client, err := pool.NewClient()
	if err != nil {
		return nil, errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	return client, nil
}

// Publish declares the subject's queue and sends a persistent message to it
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	client, err := b.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	queue := b.GetConfig().(*Config).queueName(message.Topic)
	if _, err := client.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.InternalError("failed to declare queue "+queue, err)
	}

	headers := amqp.Table{}
	for k, v := range base.EnvelopeHeaders(message) {
		headers[k] = v
	}

	err = client.Publish("", queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    message.MessageID,
		Timestamp:    message.Timestamp,
		Headers:      headers,
		Body:         message.Body,
	})
	if err != nil {
		return errors.InternalError("failed to publish to queue "+queue, err)
	}
	return nil
}

// Subscribe consumes the subject's queue. Handled deliveries are acked,
// failed ones are nacked with requeue.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	client, err := b.newClient()
	if err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	queue := config.queueName(topic)

	if _, err := client.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to declare queue "+queue, err)
	}
	if config.Prefetch > 0 {
		if err := client.Qos(config.Prefetch); err != nil {
			client.Close()
			return errors.InternalError("failed to set prefetch", err)
		}
	}

	deliveries, err := client.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.InternalError("failed to start consuming from queue "+queue, err)
	}

	mh := base.NewMessageHandler(handler, b.GetLogger(), "rabbitmq", topic)
	logger := b.GetLogger().WithFields(logging.String("queue", queue))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer client.Close()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("RabbitMQ subscription cancelled")
				return
			case <-b.stop:
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				b.deliver(mh, topic, d)
			}
		}
	}()

	return nil
}

// acknowledger is the part of amqp.Delivery that settle uses
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (b *Broker) deliver(mh *base.MessageHandler, topic string, d amqp.Delivery) {
	b.settle(mh, b.toIncoming(topic, d), &d)
}

func (b *Broker) settle(mh *base.MessageHandler, msg *brokers.IncomingMessage, ack acknowledger) {
	var err error
	if mh.Handle(msg) {
		err = ack.Ack(false)
	} else {
		err = ack.Nack(false, true)
	}
	if err != nil {
		b.GetLogger().Error("Failed to settle RabbitMQ delivery", err, logging.String("message_id", msg.ID))
	}
}

func (b *Broker) toIncoming(topic string, d amqp.Delivery) *brokers.IncomingMessage {
	headers := base.ToStringMap(map[string]interface{}(d.Headers))
	timestamp := d.Timestamp
	if timestamp.IsZero() {
		timestamp = base.ParseTimestamp(headers)
	}

	id := d.MessageId
	if id == "" {
		id = headers[brokers.HeaderMessageID]
	}

	return base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
		ID:        id,
		Topic:     topic,
		Headers:   headers,
		Body:      d.Body,
		Timestamp: timestamp,
		Metadata: map[string]interface{}{
			"delivery_tag": d.DeliveryTag,
			"redelivered":  d.Redelivered,
		},
	})
}

func (b *Broker) Health() error {
	client, err := b.newClient()
	if err != nil {
		return err
	}
	client.Close()
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	pool := b.pool
	b.pool = nil
	b.mu.Unlock()

	b.wg.Wait()
	if pool != nil {
		pool.Close()
	}
	return nil
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("rabbitmq", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
