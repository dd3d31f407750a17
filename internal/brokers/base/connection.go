package base

import (
	"task-router/internal/brokers"
	"task-router/internal/common/errors"
)

// ValidateAndConnect checks that config has the backend's concrete type C,
// validates it, records it on the base broker and runs connectFn.
func ValidateAndConnect[C brokers.BrokerConfig](b *BaseBroker, config brokers.BrokerConfig, connectFn func(C) error) error {
	typed, ok := config.(C)
	if !ok {
		return errors.ConfigError("invalid config type for " + b.Name() + " broker")
	}

	if err := b.UpdateConfig(typed); err != nil {
		return err
	}

	return connectFn(typed)
}

// StandardHealthCheck reports a connection error when the backend client is missing.
func StandardHealthCheck(connected bool, brokerType string) error {
	if !connected {
		return errors.ConnectionError(brokerType+" client not initialized", nil)
	}
	return nil
}
