package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/brokers"
	"task-router/internal/common/errors"
)

type collector struct {
	mu   sync.Mutex
	msgs []*brokers.IncomingMessage
}

func (c *collector) handle(msg *brokers.IncomingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) received() []*brokers.IncomingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*brokers.IncomingMessage(nil), c.msgs...)
}

func newBroker(t *testing.T) *Broker {
	b, err := NewBroker(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestConfig(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.Validate())
	assert.Equal(t, defaultBufferSize, config.BufferSize)
	assert.Equal(t, "memory", config.GetType())
	assert.Contains(t, config.GetConnectionString(), "memory://")

	assert.True(t, errors.IsType((&Config{BufferSize: -1}).Validate(), errors.ErrTypeConfig))
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first, second, other collector
	require.NoError(t, b.Subscribe(ctx, "APPOINTMENT_CREATED", first.handle))
	require.NoError(t, b.Subscribe(ctx, "APPOINTMENT_CREATED", second.handle))
	require.NoError(t, b.Subscribe(ctx, "OTHER", other.handle))

	msg := brokers.NewMessage("APPOINTMENT_CREATED", []byte(`{"id":"1"}`))
	msg.Headers["trace"] = "abc"
	require.NoError(t, b.Publish(ctx, msg))

	require.Eventually(t, func() bool {
		return len(first.received()) == 1 && len(second.received()) == 1
	}, time.Second, 10*time.Millisecond)

	got := first.received()[0]
	assert.Equal(t, msg.MessageID, got.ID)
	assert.Equal(t, "APPOINTMENT_CREATED", got.Topic)
	assert.Equal(t, `{"id":"1"}`, string(got.Body))
	assert.Equal(t, "abc", got.Headers["trace"])
	assert.Equal(t, "APPOINTMENT_CREATED", got.Headers[brokers.HeaderSubject])
	assert.Equal(t, "memory", got.Source.Name)
	assert.Empty(t, other.received())
}

func TestBroker_HandlerErrorDoesNotStopSubscription(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, b.Subscribe(ctx, "T", func(*brokers.IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("boom")
		}
		return assert.AnError
	}))

	require.NoError(t, b.Publish(ctx, brokers.NewMessage("T", nil)))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("T", nil)))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("T", nil)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 3
	}, time.Second, 10*time.Millisecond)
}

func TestBroker_CancelUnsubscribes(t *testing.T) {
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	var c collector
	require.NoError(t, b.Subscribe(ctx, "T", c.handle))
	cancel()

	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs["T"]) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Publish(context.Background(), brokers.NewMessage("T", nil)))
	assert.Empty(t, c.received())
}

func TestBroker_CloseDrainsQueues(t *testing.T) {
	b, err := NewBroker(DefaultConfig())
	require.NoError(t, err)

	var c collector
	require.NoError(t, b.Subscribe(context.Background(), "T", c.handle))
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), brokers.NewMessage("T", nil)))
	}

	require.NoError(t, b.Close())
	assert.Len(t, c.received(), 5)

	assert.Error(t, b.Health())
	err = b.Publish(context.Background(), brokers.NewMessage("T", nil))
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))
	assert.NoError(t, b.Close())
}

func TestBroker_Connect(t *testing.T) {
	b := newBroker(t)
	require.NoError(t, b.Connect(&Config{BufferSize: 4}))
	assert.Equal(t, 4, b.GetConfig().(*Config).BufferSize)

	err := b.Connect(&otherConfig{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

type otherConfig struct{ Config }

func (o *otherConfig) GetType() string { return "other" }

func TestGetFactory(t *testing.T) {
	f := GetFactory()
	assert.Equal(t, "memory", f.GetType())

	b, err := f.Create(DefaultConfig())
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "memory", b.Name())
	assert.NoError(t, b.Health())
}
