package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/brokers"
	"task-router/internal/common/errors"
)

func setupBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Address = mr.Addr()
	b, err := NewBroker(config)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"valid", &Config{Address: "localhost:6379"}, false},
		{"missing address", &Config{}, true},
		{"negative max len", &Config{Address: "localhost:6379", StreamMaxLen: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "task-router", tt.config.ConsumerGroup)
			assert.Equal(t, 10, tt.config.PoolSize)
		})
	}
}

func TestConfig_ConnectionStringHidesPassword(t *testing.T) {
	config := &Config{Address: "cache:6379", Password: "secret", DB: 2}
	assert.Equal(t, "redis://:***@cache:6379/2", config.GetConnectionString())
	assert.Equal(t, "redis", config.GetType())
}

func TestNewBroker_ConnectionFailure(t *testing.T) {
	config := DefaultConfig()
	config.Address = "127.0.0.1:1"
	config.Timeout = 200 * time.Millisecond
	_, err := NewBroker(config)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestBroker_Publish(t *testing.T) {
	b, mr := setupBroker(t)

	msg := brokers.NewMessage("APPOINTMENT_CREATED", []byte(`{"id":"1"}`))
	msg.Headers["trace"] = "abc"
	require.NoError(t, b.Publish(context.Background(), msg))

	entries, err := mr.Stream("events:APPOINTMENT_CREATED")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, `{"id":"1"}`, values[fieldBody])
	assert.Equal(t, msg.MessageID, values[fieldMessageID])
	assert.Equal(t, "abc", values[headerPrefix+"trace"])
	assert.Equal(t, "APPOINTMENT_CREATED", values[headerPrefix+brokers.HeaderSubject])
}

func TestBroker_SubscribeAcknowledgesHandled(t *testing.T) {
	b, _ := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []*brokers.IncomingMessage
	require.NoError(t, b.Subscribe(ctx, "APPOINTMENT_CREATED", func(m *brokers.IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		return nil
	}))

	msg := brokers.NewMessage("APPOINTMENT_CREATED", []byte(`{"id":"1"}`))
	require.NoError(t, b.Publish(ctx, msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	first := got[0]
	mu.Unlock()
	assert.Equal(t, msg.MessageID, first.ID)
	assert.Equal(t, "APPOINTMENT_CREATED", first.Topic)
	assert.Equal(t, `{"id":"1"}`, string(first.Body))
	assert.WithinDuration(t, msg.Timestamp, first.Timestamp, time.Millisecond)
	assert.Equal(t, "events:APPOINTMENT_CREATED", first.Metadata["stream"])

	require.Eventually(t, func() bool {
		pending, err := b.client.XPending(context.Background(), "events:APPOINTMENT_CREATED", "task-router").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBroker_FailedHandlerLeavesEntryPending(t *testing.T) {
	b, _ := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(ctx, "T", func(*brokers.IncomingMessage) error {
		select {
		case called <- struct{}{}:
		default:
		}
		return assert.AnError
	}))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("T", nil)))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	pending, err := b.client.XPending(context.Background(), "events:T", "task-router").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count)
}

func TestBroker_SharedClientSurvivesClose(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	config := DefaultConfig()
	config.Address = mr.Addr()
	b, err := NewBrokerWithClient(client, config)
	require.NoError(t, err)
	require.NoError(t, b.Health())
	require.NoError(t, b.Close())

	assert.NoError(t, client.Ping(context.Background()).Err())
	assert.True(t, errors.IsType(b.Health(), errors.ErrTypeConnection))
	assert.Error(t, b.Publish(context.Background(), brokers.NewMessage("T", nil)))
}

func TestGetFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	f := GetFactory()
	assert.Equal(t, "redis", f.GetType())

	b, err := f.Create(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "redis", b.Name())
}
