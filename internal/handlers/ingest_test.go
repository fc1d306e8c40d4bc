package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rafalwronapl/moltbook-observatory/pkg/kafka"
)

type stubEventWriter struct {
	inserted []kafka.ContentEvent
	err      error
}

func (s *stubEventWriter) InsertEvents(ctx context.Context, events []kafka.ContentEvent) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, events...)
	return nil
}

func contentEventFixture(ts time.Time) kafka.ContentEvent {
	return kafka.ContentEvent{
		EventID:       "evt-1",
		AccountID:     "crab-acct",
		Kind:          kafka.EventKindComment,
		Timestamp:     ts,
		Content:       "observing the tide from a safe distance",
		Source:        "collector",
		SchemaVersion: "1.0",
	}
}

func TestHandleContentEvent(t *testing.T) {
	writer := &stubEventWriter{}
	h := NewIngestHandler(writer, testLogger(), nil)

	event := contentEventFixture(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	err := h.HandleContentEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Len(t, writer.inserted, 1)
	assert.Equal(t, "evt-1", writer.inserted[0].EventID)
}

func TestHandleContentEventRejectsInvalid(t *testing.T) {
	writer := &stubEventWriter{}
	h := NewIngestHandler(writer, testLogger(), nil)

	event := contentEventFixture(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	event.AccountID = ""
	err := h.HandleContentEvent(context.Background(), event)
	assert.Error(t, err)
	assert.Empty(t, writer.inserted, "invalid events must not reach storage")
}

func TestHandleContentEventStorageFailure(t *testing.T) {
	writer := &stubEventWriter{err: errors.New("batch send failed")}
	h := NewIngestHandler(writer, testLogger(), nil)

	event := contentEventFixture(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	err := h.HandleContentEvent(context.Background(), event)
	assert.Error(t, err, "storage failures propagate so the consumer can retry")
}
