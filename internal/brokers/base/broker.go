// Package base holds what every broker backend shares: naming, logging,
// config bookkeeping and the conversion of deliveries into IncomingMessages.
package base

import (
	"fmt"
	"sync"

	"task-router/internal/brokers"
	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
)

// BaseBroker provides common functionality for all broker implementations.
type BaseBroker struct {
	name   string
	mu     sync.RWMutex
	logger logging.Logger
	config brokers.BrokerConfig
}

// NewBaseBroker validates config and sets up a logger tagged with the broker name.
func NewBaseBroker(name string, config brokers.BrokerConfig) (*BaseBroker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid %s config: %v", name, err))
	}

	return &BaseBroker{
		name:   name,
		config: config,
		logger: newLogger(name, config),
	}, nil
}

func newLogger(name string, config brokers.BrokerConfig) logging.Logger {
	return logging.GetGlobalLogger().WithFields(
		logging.String("broker", name),
		logging.String("connection", config.GetConnectionString()),
	)
}

// Name returns the broker type name.
func (b *BaseBroker) Name() string {
	return b.name
}

// GetLogger returns the configured logger instance.
func (b *BaseBroker) GetLogger() logging.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logger
}

// GetConfig returns the broker configuration.
func (b *BaseBroker) GetConfig() brokers.BrokerConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// UpdateConfig swaps the configuration after a reconnect.
func (b *BaseBroker) UpdateConfig(config brokers.BrokerConfig) error {
	if err := config.Validate(); err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid %s config: %v", b.name, err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = config
	b.logger = newLogger(b.name, config)
	return nil
}

// GetBrokerInfo returns standardized broker information for message sources.
func (b *BaseBroker) GetBrokerInfo() brokers.BrokerInfo {
	config := b.GetConfig()
	return brokers.BrokerInfo{
		Name: b.name,
		Type: config.GetType(),
		URL:  config.GetConnectionString(),
	}
}
