package base

import (
	"fmt"
	"strconv"
	"time"

	"task-router/internal/brokers"
	"task-router/internal/common/logging"
)

// MessageData represents the common data extracted from broker-specific messages.
type MessageData struct {
	ID        string
	Topic     string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// ConvertToIncomingMessage creates a standardized IncomingMessage from broker-specific data.
func ConvertToIncomingMessage(brokerInfo brokers.BrokerInfo, data MessageData) *brokers.IncomingMessage {
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now().UTC()
	}
	return &brokers.IncomingMessage{
		ID:        data.ID,
		Topic:     data.Topic,
		Headers:   data.Headers,
		Body:      data.Body,
		Timestamp: data.Timestamp,
		Source:    brokerInfo,
		Metadata:  data.Metadata,
	}
}

// MessageHandler wraps a handler with consistent error logging.
type MessageHandler struct {
	handler    brokers.MessageHandler
	logger     logging.Logger
	brokerType string
	topic      string
}

func NewMessageHandler(handler brokers.MessageHandler, logger logging.Logger, brokerType, topic string) *MessageHandler {
	return &MessageHandler{
		handler:    handler,
		logger:     logger,
		brokerType: brokerType,
		topic:      topic,
	}
}

// Handle runs the handler and reports whether the message should be acknowledged.
// A panicking handler counts as a failure.
func (mh *MessageHandler) Handle(msg *brokers.IncomingMessage, extraFields ...logging.Field) (ok bool) {
	fields := append([]logging.Field{
		logging.String("broker_type", mh.brokerType),
		logging.String("topic", mh.topic),
		logging.String("message_id", msg.ID),
	}, extraFields...)

	defer func() {
		if r := recover(); r != nil {
			mh.logger.Error(fmt.Sprintf("Panic handling %s message", mh.brokerType), fmt.Errorf("%v", r), fields...)
			ok = false
		}
	}()

	if err := mh.handler(msg); err != nil {
		mh.logger.Error(fmt.Sprintf("Error handling %s message", mh.brokerType), err, fields...)
		return false
	}
	return true
}

// EnvelopeHeaders returns the message headers plus the shared id, subject and timestamp headers.
func EnvelopeHeaders(message *brokers.Message) map[string]string {
	headers := make(map[string]string, len(message.Headers)+3)
	for k, v := range message.Headers {
		headers[k] = v
	}
	if message.MessageID != "" {
		headers[brokers.HeaderMessageID] = message.MessageID
	}
	headers[brokers.HeaderSubject] = message.Topic
	if !message.Timestamp.IsZero() {
		headers[brokers.HeaderTimestamp] = strconv.FormatInt(message.Timestamp.UnixNano(), 10)
	}
	return headers
}

// ParseTimestamp reads the timestamp header written by EnvelopeHeaders
func ParseTimestamp(headers map[string]string) time.Time {
	if ts, err := strconv.ParseInt(headers[brokers.HeaderTimestamp], 10, 64); err == nil && ts > 0 {
		return time.Unix(0, ts).UTC()
	}
	return time.Time{}
}

// ToStringMap converts the header representations used by the client libraries.
func ToStringMap(headers interface{}) map[string]string {
	result := make(map[string]string)

	switch h := headers.(type) {
	case map[string]string:
		for k, v := range h {
			result[k] = v
		}
	case map[string]interface{}:
		for k, v := range h {
			result[k] = fmt.Sprintf("%v", v)
		}
	case map[interface{}]interface{}:
		for k, v := range h {
			result[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", v)
		}
	}

	return result
}
