package aws

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
)

const queueURL = "https://sqs.eu-west-1.amazonaws.com/123456789012/tasks"

// fakeSQS is an in-memory queue: sent messages come back from ReceiveMessage
// until they are deleted.
type fakeSQS struct {
	mu       sync.Mutex
	pending  []types.Message
	sent     []*sqs.SendMessageInput
	deleted  []string
	received int
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	id := aws.String(fmt.Sprintf("sqs-%d", len(f.sent)))
	f.pending = append(f.pending, types.Message{
		MessageId:         id,
		ReceiptHandle:     id,
		Body:              in.MessageBody,
		MessageAttributes: in.MessageAttributes,
	})
	return &sqs.SendMessageOutput{MessageId: id}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.pending
	f.pending = nil
	f.received += len(msgs)
	f.mu.Unlock()

	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeSNS struct {
	published []*sns.PublishInput
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.published = append(f.published, in)
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func (f *fakeSNS) GetTopicAttributes(ctx context.Context, in *sns.GetTopicAttributesInput, _ ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error) {
	return nil, assert.AnError
}

func newTestBroker(t *testing.T, config *Config) (*Broker, *fakeSQS, *fakeSNS) {
	bb, err := base.NewBaseBroker("aws", config)
	require.NoError(t, err)
	q, n := &fakeSQS{}, &fakeSNS{}
	b := NewBrokerWithClients(bb, q, n)
	t.Cleanup(func() { b.Close() })
	return b, q, n
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"queue", &Config{Region: "eu-west-1", QueueURL: queueURL}, false},
		{"topic only", &Config{Region: "eu-west-1", TopicArn: "arn:aws:sns:eu-west-1:1:tasks"}, false},
		{"static credentials", &Config{Region: "eu-west-1", QueueURL: queueURL, AccessKeyID: "id", SecretAccessKey: "secret"}, false},
		{"half credentials", &Config{Region: "eu-west-1", QueueURL: queueURL, AccessKeyID: "id"}, true},
		{"no region", &Config{QueueURL: queueURL}, true},
		{"no destination", &Config{Region: "eu-west-1"}, true},
		{"too many messages", &Config{Region: "eu-west-1", QueueURL: queueURL, MaxMessages: 11}, true},
		{"wait too long", &Config{Region: "eu-west-1", QueueURL: queueURL, WaitTimeSeconds: 21}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ConnectionString(t *testing.T) {
	assert.Equal(t, "sqs://eu-west-1/"+queueURL, (&Config{Region: "eu-west-1", QueueURL: queueURL}).GetConnectionString())
	assert.Equal(t, "sns://eu-west-1/arn", (&Config{Region: "eu-west-1", QueueURL: queueURL, TopicArn: "arn"}).GetConnectionString())
}

func TestBroker_RoundTripThroughQueue(t *testing.T) {
	b, q, _ := newTestBroker(t, &Config{Region: "eu-west-1", QueueURL: queueURL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []*brokers.IncomingMessage
	handler := func(m *brokers.IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
		return nil
	}
	require.NoError(t, b.Subscribe(ctx, "APPOINTMENT_CREATED", handler))
	require.NoError(t, b.Subscribe(ctx, "INVOICE_PAID", handler))

	msg := brokers.NewMessage("APPOINTMENT_CREATED", []byte(`{"id":"1"}`))
	require.NoError(t, b.Publish(ctx, msg))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("UNSUBSCRIBED", nil)))

	require.Len(t, q.sent, 2)
	assert.Equal(t, "APPOINTMENT_CREATED", aws.ToString(q.sent[0].MessageAttributes[brokers.HeaderSubject].StringValue))
	assert.Equal(t, msg.MessageID, aws.ToString(q.sent[0].MessageAttributes["Header_"+brokers.HeaderMessageID].StringValue))

	require.Eventually(t, func() bool { return q.deletedCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageID, got[0].ID)
	assert.Equal(t, "APPOINTMENT_CREATED", got[0].Topic)
	assert.Equal(t, `{"id":"1"}`, string(got[0].Body))
	assert.WithinDuration(t, msg.Timestamp, got[0].Timestamp, time.Millisecond)
}

func TestBroker_FailedHandlerKeepsMessage(t *testing.T) {
	b, q, _ := newTestBroker(t, &Config{Region: "eu-west-1", QueueURL: queueURL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(ctx, "T", func(*brokers.IncomingMessage) error {
		handled <- struct{}{}
		return assert.AnError
	}))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("T", nil)))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	require.NoError(t, b.Close())
	assert.Equal(t, 0, q.deletedCount())
}

func TestBroker_PublishThroughSNS(t *testing.T) {
	b, q, n := newTestBroker(t, &Config{Region: "eu-west-1", QueueURL: queueURL, TopicArn: "arn:aws:sns:eu-west-1:1:tasks"})

	require.NoError(t, b.Publish(context.Background(), brokers.NewMessage("APPOINTMENT_CREATED", []byte("{}"))))
	assert.Empty(t, q.sent)
	require.Len(t, n.published, 1)
	assert.Equal(t, "arn:aws:sns:eu-west-1:1:tasks", aws.ToString(n.published[0].TopicArn))
	assert.Equal(t, "APPOINTMENT_CREATED", aws.ToString(n.published[0].MessageAttributes[brokers.HeaderSubject].StringValue))

	err := b.Health()
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestBroker_SubscribeNeedsQueue(t *testing.T) {
	b, _, _ := newTestBroker(t, &Config{Region: "eu-west-1", TopicArn: "arn"})
	err := b.Subscribe(context.Background(), "T", func(*brokers.IncomingMessage) error { return nil })
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestBroker_ClosedBroker(t *testing.T) {
	b, _, _ := newTestBroker(t, &Config{Region: "eu-west-1", QueueURL: queueURL})
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), brokers.NewMessage("T", nil))
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Error(t, b.Health())
}
