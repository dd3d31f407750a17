package relay

import (
	"context"

	"task-router/internal/brokers"
	"task-router/internal/circuitbreaker"
	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/tasks"
)

// Emitter publishes action events on the broker. It implements tasks.Relay.
type Emitter struct {
	broker  brokers.Broker
	breaker *circuitbreaker.GoBreakerAdapter
	logger  logging.Logger
}

// NewEmitter creates an emitter. A nil breaker gets one configured with
// circuitbreaker.BrokerConfig.
func NewEmitter(broker brokers.Broker, breaker *circuitbreaker.GoBreakerAdapter, logger logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if breaker == nil {
		breaker = circuitbreaker.NewGoBreaker("relay:"+broker.Name(), circuitbreaker.BrokerConfig, logger)
	}
	return &Emitter{
		broker:  broker,
		breaker: breaker,
		logger:  logger.WithFields(logging.String("component", "relay_emitter")),
	}
}

// Send hands event to the broker. It returns once the broker accepted the
// message, which for most backends is before any consumer sees it.
func (e *Emitter) Send(ctx context.Context, event tasks.Event) error {
	body, err := Encode(event)
	if err != nil {
		return errors.InternalError("failed to encode event", err)
	}

	msg := brokers.NewMessage(event.Subject, body)
	if event.ID != "" {
		msg.MessageID = event.ID
	}
	msg.Key = event.Subject

	err = e.breaker.Execute(ctx, func() error {
		return e.broker.Publish(ctx, msg)
	})
	if err != nil {
		e.logger.WithContext(ctx).Error("Failed to relay event", err,
			logging.String("subject", event.Subject),
			logging.String("breaker_state", e.breaker.State().String()),
		)
		return err
	}
	return nil
}

var _ tasks.Relay = (*Emitter)(nil)
