package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeDLQProducer struct {
	topic string
	value []byte
	err   error
	calls int
}

func (f *fakeDLQProducer) ProduceMessage(topic string, key []byte, value []byte, headers map[string]string) error {
	f.calls++
	f.topic = topic
	f.value = value
	return f.err
}

func TestPermanentErrorChain(t *testing.T) {
	base := errors.New("bad payload")
	wrapped := Permanent(base)

	if !IsPermanent(wrapped) {
		t.Fatalf("expected wrapped error to be permanent")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected permanent error to unwrap to the original")
	}
	if IsPermanent(base) {
		t.Fatalf("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must be nil")
	}
}

func TestWithDLQRoutesPermanentFailures(t *testing.T) {
	producer := &fakeDLQProducer{}
	handler := WithDLQ(func(context.Context, Message) error {
		return Permanent(errors.New("undecodable"))
	}, producer, "content_events_dlq", "observatory-ingest", logrus.New())

	msg := Message{Topic: "content_events", Partition: 1, Offset: 9, Value: []byte("junk")}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("dead-lettered message must be acknowledged, got %v", err)
	}
	if producer.calls != 1 || producer.topic != "content_events_dlq" {
		t.Fatalf("expected one DLQ publish, got %d to %q", producer.calls, producer.topic)
	}

	var payload DLQPayload
	if err := json.Unmarshal(producer.value, &payload); err != nil {
		t.Fatalf("invalid dlq payload: %v", err)
	}
	if payload.Error != "undecodable" || payload.Offset != 9 {
		t.Fatalf("payload not preserved: %+v", payload)
	}
}

func TestWithDLQPassesThroughTransientFailures(t *testing.T) {
	producer := &fakeDLQProducer{}
	transient := errors.New("clickhouse unavailable")
	handler := WithDLQ(func(context.Context, Message) error {
		return transient
	}, producer, "content_events_dlq", "observatory-ingest", logrus.New())

	if err := handler(context.Background(), Message{}); !errors.Is(err, transient) {
		t.Fatalf("transient failures must propagate, got %v", err)
	}
	if producer.calls != 0 {
		t.Fatalf("transient failure must not reach the DLQ")
	}
}

func TestWithDLQKeepsMessageWhenDLQDown(t *testing.T) {
	producer := &fakeDLQProducer{err: errors.New("broker down")}
	handler := WithDLQ(func(context.Context, Message) error {
		return Permanent(errors.New("bad message"))
	}, producer, "content_events_dlq", "observatory-ingest", logrus.New())

	if err := handler(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error when the DLQ publish fails")
	}
}

func TestWithDLQSuccessPassthrough(t *testing.T) {
	producer := &fakeDLQProducer{}
	handler := WithDLQ(func(context.Context, Message) error { return nil }, producer, "dlq", "c", logrus.New())

	if err := handler(context.Background(), Message{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if producer.calls != 0 {
		t.Fatalf("successful messages must not reach the DLQ")
	}
}
