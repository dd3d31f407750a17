package factory

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/brokers"
	"task-router/internal/common/errors"
)

type testConfig struct {
	Name string
	Port int
}

type testService struct {
	Name string
	Port int
}

func createTestService(config testConfig) (testService, error) {
	if config.Name == "" {
		return testService{}, stderrors.New("name is required")
	}
	return testService(config), nil
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory[testConfig, testService]("test-service", createTestService)
	assert.Equal(t, "test-service", factory.GetType())

	t.Run("successful creation", func(t *testing.T) {
		service, err := factory.Create(testConfig{Name: "svc", Port: 8080})
		require.NoError(t, err)
		assert.Equal(t, "svc", service.Name)
		assert.Equal(t, 8080, service.Port)
	})

	t.Run("creator error", func(t *testing.T) {
		service, err := factory.Create(testConfig{Port: 8080})
		require.Error(t, err)
		assert.Equal(t, testService{}, service)
		assert.Contains(t, err.Error(), "name is required")
	})

	t.Run("invalid config type", func(t *testing.T) {
		_, err := factory.Create("not a config")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
		assert.Contains(t, err.Error(), "test-service")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := factory.Create(nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})
}

type mockBrokerConfig struct {
	Type string
}

func (m *mockBrokerConfig) Validate() error {
	if m.Type == "" {
		return errors.ConfigError("type is required")
	}
	return nil
}

func (m *mockBrokerConfig) GetConnectionString() string { return "mock://" + m.Type }
func (m *mockBrokerConfig) GetType() string { return m.Type }

type otherBrokerConfig struct{ mockBrokerConfig }

type mockBroker struct{ name string }

func (m *mockBroker) Name() string { return m.name }
func (m *mockBroker) Connect(config brokers.BrokerConfig) error { return nil }
func (m *mockBroker) Publish(ctx context.Context, message *brokers.Message) error {
	return nil
}
func (m *mockBroker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	return nil
}
func (m *mockBroker) Health() error { return nil }
func (m *mockBroker) Close() error { return nil }

func TestNewBrokerFactory(t *testing.T) {
	factory := NewBrokerFactory[*mockBrokerConfig]("mock", func(c *mockBrokerConfig) (brokers.Broker, error) {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &mockBroker{name: c.Type}, nil
	})
	assert.Equal(t, "mock", factory.GetType())

	broker, err := factory.Create(&mockBrokerConfig{Type: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", broker.Name())

	_, err = factory.Create(&mockBrokerConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = factory.Create(&otherBrokerConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Contains(t, err.Error(), "invalid config type")
}
