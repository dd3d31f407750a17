// Package memory is an in-process broker. Each subscription owns a buffered
// queue drained by its own goroutine, so Publish never runs handlers inline.
package memory

import (
	"context"
	"sync"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
)

type subscription struct {
	queue chan *brokers.Message
	done  <-chan struct{}
}

type Broker struct {
	*base.BaseBroker

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	wg     sync.WaitGroup
}

func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("memory", config)
	if err != nil {
		return nil, err
	}

	return &Broker{
		BaseBroker: baseBroker,
		subs:       make(map[string][]*subscription),
	}, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, func(*Config) error {
		return nil
	})
}

// Publish copies message into the queue of every live subscriber of its topic.
// It blocks while a queue is full until ctx is done.
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.UnavailableError("memory broker is closed", nil)
	}

	for _, sub := range b.subs[message.Topic] {
		copied := *message
		copied.Headers = base.EnvelopeHeaders(message)
		copied.Body = append([]byte(nil), message.Body...)

		select {
		case sub.queue <- &copied:
		case <-sub.done:
		case <-ctx.Done():
			return errors.TimeoutError("publish to "+message.Topic, ctx.Err())
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.UnavailableError("memory broker is closed", nil)
	}

	config := b.GetConfig().(*Config)
	sub := &subscription{
		queue: make(chan *brokers.Message, config.BufferSize),
		done:  ctx.Done(),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	mh := base.NewMessageHandler(handler, b.GetLogger(), "memory", topic)
	info := b.GetBrokerInfo()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.unsubscribe(topic, sub)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.queue:
				if !ok {
					return
				}
				mh.Handle(base.ConvertToIncomingMessage(info, base.MessageData{
					ID:        msg.MessageID,
					Topic:     msg.Topic,
					Headers:   msg.Headers,
					Body:      msg.Body,
					Timestamp: msg.Timestamp,
				}))
			}
		}
	}()

	return nil
}

func (b *Broker) unsubscribe(topic string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Broker) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return base.StandardHealthCheck(!b.closed, "memory")
}

// Close stops accepting messages and waits for subscribers to drain their queues.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("memory", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
