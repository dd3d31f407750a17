// Package aws implements the broker on SQS, optionally fronted by SNS. All
// subjects share one queue; the subject travels as a message attribute and a
// single poller dispatches each message to the handler registered for it.
package aws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"task-router/internal/brokers"
	"task-router/internal/brokers/base"
	"task-router/internal/common/errors"
	"task-router/internal/common/factory"
	"task-router/internal/common/logging"
)

const attrHeaderPrefix = "Header_"

// SQSAPI is the part of the SQS client the broker calls
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SNSAPI is the part of the SNS client the broker calls
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

type Broker struct {
	*base.BaseBroker

	mu       sync.RWMutex
	sqs      SQSAPI
	sns      SNSAPI
	handlers map[string]*base.MessageHandler
	polling  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("aws", config)
	if err != nil {
		return nil, err
	}

	sqsClient, snsClient, err := newClients(config)
	if err != nil {
		return nil, err
	}
	return NewBrokerWithClients(baseBroker, sqsClient, snsClient), nil
}

// NewBrokerWithClients wires prebuilt clients, for tests and custom endpoints
func NewBrokerWithClients(baseBroker *base.BaseBroker, sqsClient SQSAPI, snsClient SNSAPI) *Broker {
	return &Broker{
		BaseBroker: baseBroker,
		sqs:        sqsClient,
		sns:        snsClient,
		handlers:   make(map[string]*base.MessageHandler),
	}
}

func newClients(config *Config) (*sqs.Client, *sns.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, config.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, nil, errors.ConnectionError("failed to load AWS config", err)
	}
	return sqs.NewFromConfig(cfg), sns.NewFromConfig(cfg), nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.ValidateAndConnect(b.BaseBroker, config, func(c *Config) error {
		sqsClient, snsClient, err := newClients(c)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.sqs, b.sns = sqsClient, snsClient
		b.mu.Unlock()
		return nil
	})
}

func (b *Broker) clients() (SQSAPI, SNSAPI, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sqs == nil {
		return nil, nil, errors.ConnectionError("AWS broker not connected", nil)
	}
	return b.sqs, b.sns, nil
}

func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	sqsClient, snsClient, err := b.clients()
	if err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	headers := base.EnvelopeHeaders(message)

	if config.TopicArn != "" {
		attrs := make(map[string]snstypes.MessageAttributeValue, len(headers))
		for key, value := range headers {
			attrs[attrName(key)] = snstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(value),
			}
		}
		out, err := snsClient.Publish(ctx, &sns.PublishInput{
			TopicArn:          aws.String(config.TopicArn),
			Message:           aws.String(string(message.Body)),
			MessageAttributes: attrs,
		})
		if err != nil {
			return errors.InternalError("failed to publish message to SNS", err)
		}
		b.GetLogger().Debug("Message published to SNS", logging.String("sns_message_id", aws.ToString(out.MessageId)))
		return nil
	}

	attrs := make(map[string]types.MessageAttributeValue, len(headers))
	for key, value := range headers {
		attrs[attrName(key)] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	out, err := sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(config.QueueURL),
		MessageBody:       aws.String(string(message.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return errors.InternalError("failed to send message to SQS", err)
	}
	b.GetLogger().Debug("Message sent to SQS", logging.String("sqs_message_id", aws.ToString(out.MessageId)))
	return nil
}

// attrName maps a header to an SQS attribute name. The subject is kept
// unprefixed so SNS subscription filter policies can match on it.
func attrName(header string) string {
	if header == brokers.HeaderSubject {
		return header
	}
	return attrHeaderPrefix + header
}

// Subscribe registers handler for topic and starts the queue poller on first use.
// The poller stops when ctx of the first subscription is cancelled or on Close.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	if _, _, err := b.clients(); err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	if config.QueueURL == "" {
		return errors.ConfigError("queue URL not configured for subscription")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = base.NewMessageHandler(handler, b.GetLogger(), "aws", topic)
	if b.polling {
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	b.polling = true
	b.cancel = cancel

	b.wg.Add(1)
	go b.poll(pollCtx, config)
	return nil
}

func (b *Broker) poll(ctx context.Context, config *Config) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		b.polling = false
		b.mu.Unlock()
	}()

	logger := b.GetLogger().WithFields(logging.String("queue_url", config.QueueURL))

	for ctx.Err() == nil {
		sqsClient, _, err := b.clients()
		if err != nil {
			return
		}

		out, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(config.QueueURL),
			MaxNumberOfMessages:   config.MaxMessages,
			VisibilityTimeout:     config.VisibilityTimeout,
			WaitTimeSeconds:       config.WaitTimeSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("AWS SQS consumer error", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			if b.dispatch(m) {
				_, err := sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(config.QueueURL),
					ReceiptHandle: m.ReceiptHandle,
				})
				if err != nil {
					logger.Error("Failed to delete SQS message", err, logging.String("sqs_message_id", aws.ToString(m.MessageId)))
				}
			}
		}
	}
}

// dispatch hands m to the handler for its subject and reports whether it can
// be deleted. Messages for subjects nobody subscribed to are dropped.
func (b *Broker) dispatch(m types.Message) bool {
	msg := b.toIncoming(m)

	b.mu.RLock()
	mh, ok := b.handlers[msg.Topic]
	b.mu.RUnlock()

	if !ok {
		b.GetLogger().Debug("Dropping SQS message without subscriber", logging.String("subject", msg.Topic))
		return true
	}
	return mh.Handle(msg)
}

func (b *Broker) toIncoming(m types.Message) *brokers.IncomingMessage {
	headers := make(map[string]string, len(m.MessageAttributes))
	for key, attr := range m.MessageAttributes {
		if attr.StringValue == nil {
			continue
		}
		if key == brokers.HeaderSubject {
			headers[key] = *attr.StringValue
		} else if strings.HasPrefix(key, attrHeaderPrefix) {
			headers[strings.TrimPrefix(key, attrHeaderPrefix)] = *attr.StringValue
		}
	}

	id := headers[brokers.HeaderMessageID]
	if id == "" {
		id = aws.ToString(m.MessageId)
	}

	return base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
		ID:        id,
		Topic:     headers[brokers.HeaderSubject],
		Headers:   headers,
		Body:      []byte(aws.ToString(m.Body)),
		Timestamp: base.ParseTimestamp(headers),
		Metadata: map[string]interface{}{
			"sqs_message_id": aws.ToString(m.MessageId),
			"receipt_handle": aws.ToString(m.ReceiptHandle),
		},
	})
}

func (b *Broker) Health() error {
	sqsClient, snsClient, err := b.clients()
	if err != nil {
		return err
	}

	config := b.GetConfig().(*Config)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if config.QueueURL != "" {
		_, err := sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(config.QueueURL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
		})
		if err != nil {
			return errors.ConnectionError("SQS health check failed", err)
		}
	}
	if config.TopicArn != "" && snsClient != nil {
		_, err := snsClient.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(config.TopicArn)})
		if err != nil {
			return errors.ConnectionError("SNS health check failed", err)
		}
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	b.mu.Lock()
	b.sqs, b.sns = nil, nil
	b.handlers = make(map[string]*base.MessageHandler)
	b.mu.Unlock()
	return nil
}

func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config]("aws", func(config *Config) (brokers.Broker, error) {
		return NewBroker(config)
	})
}

var _ brokers.Broker = (*Broker)(nil)
