package kafka

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DLQPayload captures enough context to replay or inspect a failed Kafka message.
type DLQPayload struct {
	Topic       string            `json:"topic"`
	Partition   int32             `json:"partition"`
	Offset      int64             `json:"offset"`
	Timestamp   time.Time         `json:"timestamp"`
	KeyBase64   string            `json:"key_base64,omitempty"`
	ValueBase64 string            `json:"value_base64"`
	Headers     map[string]string `json:"headers,omitempty"`
	Error       string            `json:"error"`
	Consumer    string            `json:"consumer"`
}

// PermanentError marks a message failure that no amount of retrying will
// fix, such as an undecodable payload. The consumer routes these to the
// DLQ instead of blocking the partition.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// DLQProducer publishes dead-lettered messages. Satisfied by Producer.
type DLQProducer interface {
	ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error
}

// WithDLQ wraps a handler so permanent failures are published to the DLQ
// topic and acknowledged, while transient failures still propagate and
// block the partition for redelivery.
func WithDLQ(handler Handler, producer DLQProducer, topic, consumer string, logger *logrus.Logger) Handler {
	return func(ctx context.Context, msg Message) error {
		err := handler(ctx, msg)
		if err == nil || !IsPermanent(err) {
			return err
		}

		payload, encodeErr := EncodeDLQMessage(msg, err, consumer)
		if encodeErr != nil {
			logger.WithError(encodeErr).Error("Failed to encode DLQ payload")
			return nil
		}
		if produceErr := producer.ProduceMessage(topic, msg.Key, payload, nil); produceErr != nil {
			// The DLQ itself is unavailable; keep the message blocked
			// rather than dropping it.
			logger.WithError(produceErr).Error("Failed to publish to DLQ")
			return produceErr
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"dlq_topic": topic,
		}).Warn("Dead-lettered permanently failing message")
		return nil
	}
}

// EncodeDLQMessage serializes a Kafka message into a DLQ-safe payload.
func EncodeDLQMessage(msg Message, err error, consumer string) ([]byte, error) {
	payload := DLQPayload{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Timestamp,
		ValueBase64: base64.StdEncoding.EncodeToString(msg.Value),
		Headers:     msg.Headers,
		Consumer:    consumer,
	}

	if len(msg.Key) > 0 {
		payload.KeyBase64 = base64.StdEncoding.EncodeToString(msg.Key)
	}

	if err != nil {
		payload.Error = err.Error()
	}

	b, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return nil, fmt.Errorf("marshal dlq payload: %w", marshalErr)
	}

	return b, nil
}
