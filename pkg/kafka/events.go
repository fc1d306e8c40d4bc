package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Event kinds published by the collector.
const (
	EventKindPost    = "post"
	EventKindComment = "comment"
)

// ThreadRef identifies the post or comment a content event responds to,
// together with the trigger's creation time. The trigger time is what the
// timing extractor measures latency against.
type ThreadRef struct {
	ThreadID  string    `json:"thread_id"`
	TriggerAt time.Time `json:"trigger_at"`
}

// ContentEvent is one observed content action by an account, as published
// by the collector to the content events topic.
type ContentEvent struct {
	EventID       string     `json:"event_id"`
	AccountID     string     `json:"account_id"`
	Kind          string     `json:"kind"`
	Timestamp     time.Time  `json:"timestamp"`
	Content       string     `json:"content"`
	ThreadContext *ThreadRef `json:"thread_context,omitempty"`
	Source        string     `json:"source"`
	SchemaVersion string     `json:"schema_version"`
}

// ContentEventHandler adapts a typed content-event callback to a raw
// consumer message handler.
type ContentEventHandler struct {
	handler func(ctx context.Context, event ContentEvent) error
	logger  *logrus.Logger
}

// NewContentEventHandler creates a handler for collector content events
func NewContentEventHandler(handler func(ctx context.Context, event ContentEvent) error, logger *logrus.Logger) *ContentEventHandler {
	return &ContentEventHandler{
		handler: handler,
		logger:  logger,
	}
}

// HandleMessage decodes the message payload and dispatches the typed event
func (h *ContentEventHandler) HandleMessage(ctx context.Context, msg Message) error {
	var event ContentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Failed to decode content event")
		return Permanent(fmt.Errorf("decode content event: %w", err))
	}

	return h.handler(ctx, event)
}
