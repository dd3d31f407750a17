package brokers

import (
	"fmt"

	"task-router/internal/common/errors"
	"task-router/internal/common/registry"
)

type Registry struct {
	factories *registry.Registry[BrokerFactory]
}

func NewRegistry() *Registry {
	return &Registry{
		factories: registry.New[BrokerFactory](),
	}
}

func (r *Registry) Register(brokerType string, factory BrokerFactory) {
	r.factories.Register(brokerType, factory)
}

func (r *Registry) Create(brokerType string, config BrokerConfig) (Broker, error) {
	factory, err := r.factories.Get(brokerType)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("broker type %s not registered", brokerType))
	}

	return factory.Create(config)
}

func (r *Registry) GetAvailableTypes() []string {
	return r.factories.GetAvailableTypes()
}

func (r *Registry) IsRegistered(brokerType string) bool {
	return r.factories.IsRegistered(brokerType)
}

var DefaultRegistry = NewRegistry()

func Register(brokerType string, factory BrokerFactory) {
	DefaultRegistry.Register(brokerType, factory)
}

func Create(brokerType string, config BrokerConfig) (Broker, error) {
	return DefaultRegistry.Create(brokerType, config)
}

func GetAvailableTypes() []string {
	return DefaultRegistry.GetAvailableTypes()
}
