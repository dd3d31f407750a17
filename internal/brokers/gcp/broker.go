// Package gcp implements the broker on Google Cloud Pub/Sub with one topic
// per subject and one shared subscription per topic for the router group.
package gcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
	"task-router/internal/common/logging"
)

type Broker struct {
	*base.BaseBroker

	mu     sync.Mutex
	client *pubsub.Client
	topics map[string]*pubsub.Topic
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("gcp", config)
	if err != nil {
		return nil, err
	}

	client, err := newClient(config)
	if err != nil {
		return nil, err
	}
	return &Broker{BaseBroker: baseBroker, client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// NewBrokerWithClient wraps an existing client, e.g. one pointed at the emulator
func NewBrokerWithClient(client *pubsub.Client, config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("gcp", config)
	if err != nil {
		return nil, err
	}
	return &Broker{BaseBroker: baseBroker, client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func newClient(config *Config) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := pubsub.NewClient(context.Background(), config.ProjectID, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Pub/Sub client", err)
	}
	return client, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, func(c *Config) error {
		client, err := newClient(c)
		if err != nil {
			return err
		}

		b.mu.Lock()
		old, topics := b.client, b.topics
		b.client = client
		b.topics = make(map[string]*pubsub.Topic)
		b.mu.Unlock()

		for _, t := range topics {
			t.Stop()
		}
		if old != nil {
			_ = old.Close()
		}
		return nil
	})
}

// topic returns the cached handle for subject, creating the topic if allowed
func (b *Broker) topic(ctx context.Context, subject string) (*pubsub.Topic, error) {
	config := b.GetConfig().(*Config)
	id := config.topicID(subject)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, errors.ConnectionError("not connected to Pub/Sub", nil)
	}
	if t, ok := b.topics[id]; ok {
		return t, nil
	}

	t := b.client.Topic(id)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to check topic existence", err)
	}
	if !exists {
		if !config.CreateMissing {
			return nil, errors.NotFoundError("topic " + id)
		}
		if t, err = b.client.CreateTopic(ctx, id); err != nil {
			return nil, errors.ConnectionError("failed to create topic "+id, err)
		}
		b.GetLogger().Info("Created Pub/Sub topic", logging.String("topic_id", id))
	}

	b.topics[id] = t
	return t, nil
}

// Publish sends message to the subject's topic and waits for the server id
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	t, err := b.topic(ctx, message.Topic)
	if err != nil {
		return err
	}

	result := t.Publish(ctx, &pubsub.Message{
		Data:       message.Body,
		Attributes: base.EnvelopeHeaders(message),
	})
	id, err := result.Get(ctx)
	if err != nil {
		return errors.InternalError("failed to publish message", err)
	}

	b.GetLogger().Debug("Message published to Pub/Sub",
		logging.String("pubsub_id", id),
		logging.String("topic_id", t.ID()),
	)
	return nil
}

func (b *Broker) subscription(ctx context.Context, t *pubsub.Topic) (*pubsub.Subscription, error) {
	config := b.GetConfig().(*Config)
	id := config.subscriptionID(t.ID())

	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	sub := client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to check subscription existence", err)
	}
	if !exists {
		if !config.CreateMissing {
			return nil, errors.NotFoundError("subscription " + id)
		}
		sub, err = client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
			Topic:       t,
			AckDeadline: time.Duration(config.AckDeadline) * time.Second,
		})
		if err != nil {
			return nil, errors.ConnectionError("failed to create subscription "+id, err)
		}
		b.GetLogger().Info("Created Pub/Sub subscription",
			logging.String("subscription_id", id),
			logging.String("topic_id", t.ID()),
		)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = config.MaxOutstandingMessages
	return sub, nil
}

// Subscribe receives from the subject's subscription until ctx is cancelled.
// Handled messages are acked, failures are nacked for redelivery.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	t, err := b.topic(ctx, topic)
	if err != nil {
		return err
	}
	sub, err := b.subscription(ctx, t)
	if err != nil {
		return err
	}

	recvCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	mh := base.NewMessageHandler(handler, b.GetLogger(), "gcp", topic)
	info := b.GetBrokerInfo()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		err := sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			in := toIncoming(info, topic, msg)
			if mh.Handle(in) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			b.GetLogger().Error("Pub/Sub receive stopped", err, logging.String("subscription_id", sub.ID()))
		}
	}()

	return nil
}

func toIncoming(info brokers.BrokerInfo, topic string, msg *pubsub.Message) *brokers.IncomingMessage {
	headers := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers[k] = v
	}

	id := headers[brokers.HeaderMessageID]
	if id == "" {
		id = msg.ID
	}
	timestamp := base.ParseTimestamp(headers)
	if timestamp.IsZero() {
		timestamp = msg.PublishTime
	}

	return base.ConvertToIncomingMessage(info, base.MessageData{
		ID:        id,
		Topic:     topic,
		Headers:   headers,
		Body:      msg.Data,
		Timestamp: timestamp,
		Metadata: map[string]interface{}{
			"pubsub_id":    msg.ID,
			"publish_time": msg.PublishTime,
		},
	})
}

func (b *Broker) Health() error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if err := base.StandardHealthCheck(client != nil, "Pub/Sub"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := client.Topics(ctx).Next()
	if err != nil && err != iterator.Done {
		return errors.ConnectionError(fmt.Sprintf("Pub/Sub health check failed for project %s", b.GetConfig().(*Config).ProjectID), err)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	cancels := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = make(map[string]*pubsub.Topic)

	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("gcp", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
