package handlers

import (
	"context"
	"fmt"

	"github.com/rafalwronapl/moltbook-observatory/pkg/kafka"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// EventWriter persists collector events. Satisfied by store.EventStore.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []kafka.ContentEvent) error
}

// IngestHandler consumes collector content events and writes them to the
// ClickHouse history table.
type IngestHandler struct {
	events  EventWriter
	logger  logging.Logger
	metrics *ObservatoryMetrics
}

func NewIngestHandler(events EventWriter, logger logging.Logger, metrics *ObservatoryMetrics) *IngestHandler {
	return &IngestHandler{
		events:  events,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleContentEvent validates and persists one collector event. A
// malformed event is rejected so the consumer can route it to the DLQ.
func (h *IngestHandler) HandleContentEvent(ctx context.Context, event kafka.ContentEvent) error {
	if h.metrics != nil {
		h.metrics.ContentEvents.WithLabelValues(event.Kind, "received").Inc()
	}

	if err := validateContentEvent(event); err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"event_id":   event.EventID,
			"account_id": event.AccountID,
		}).Error("Rejecting malformed content event")
		if h.metrics != nil {
			h.metrics.ContentEvents.WithLabelValues(event.Kind, "invalid").Inc()
		}
		return kafka.Permanent(err)
	}

	if h.metrics != nil {
		h.metrics.ClickHouseInserts.WithLabelValues("content_events", "attempt").Inc()
	}
	if err := h.events.InsertEvents(ctx, []kafka.ContentEvent{event}); err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"event_id": event.EventID,
		}).Error("Failed to insert content event")
		if h.metrics != nil {
			h.metrics.ClickHouseInserts.WithLabelValues("content_events", "error").Inc()
		}
		return err
	}

	if h.metrics != nil {
		h.metrics.ClickHouseInserts.WithLabelValues("content_events", "success").Inc()
		h.metrics.ContentEvents.WithLabelValues(event.Kind, "stored").Inc()
	}
	return nil
}

func validateContentEvent(event kafka.ContentEvent) error {
	if event.AccountID == "" {
		return fmt.Errorf("content event %q has no account_id", event.EventID)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("content event %q has no timestamp", event.EventID)
	}
	if event.Kind != kafka.EventKindPost && event.Kind != kafka.EventKindComment {
		return fmt.Errorf("content event %q has unknown kind %q", event.EventID, event.Kind)
	}
	return nil
}
