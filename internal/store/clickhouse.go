// Package store persists raw content events and classification output.
// ClickHouse holds the append-only event and result history; Postgres holds
// the per-account rollup the API serves.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
	"github.com/rafalwronapl/moltbook-observatory/pkg/database"
	"github.com/rafalwronapl/moltbook-observatory/pkg/kafka"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

const insertEventsSQL = `
	INSERT INTO content_events (
		event_id, account_id, kind, timestamp, content,
		thread_id, trigger_at, source, schema_version
	)`

const insertResultsSQL = `
	INSERT INTO classification_results (
		run_id, account_id, category, confidence_level,
		timing_score, repetition_score, variance_score, activity_score,
		sample_count, evidence, classified_at
	)`

const insertRunSummarySQL = `
	INSERT INTO run_summaries (
		run_id, started_at, completed_at, duration_ms,
		classified, failed, automated_share, with_timing_data,
		categories, confidences
	)`

// EventStore writes and reads the ClickHouse event and result history.
type EventStore struct {
	conn     database.ClickHouseNativeConn
	logger   logging.Logger
	executor failsafe.Executor[any]
}

func NewEventStore(conn database.ClickHouseNativeConn, logger logging.Logger) *EventStore {
	// Batch sends ride through transient ClickHouse hiccups; anything
	// that survives the retries is a real failure.
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(3).
		WithJitterFactor(0.1).
		Build()

	return &EventStore{
		conn:     conn,
		logger:   logger,
		executor: failsafe.With(retry),
	}
}

// InsertEvents appends collector events to the history table in one batch.
func (s *EventStore) InsertEvents(ctx context.Context, events []kafka.ContentEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.executor.WithContext(ctx).Run(func() error {
		batch, err := s.conn.PrepareBatch(ctx, insertEventsSQL)
		if err != nil {
			return err
		}
		for _, evt := range events {
			threadID, triggerAt := threadColumns(evt.ThreadContext)
			if err := batch.Append(
				evt.EventID,
				evt.AccountID,
				evt.Kind,
				evt.Timestamp,
				evt.Content,
				threadID,
				triggerAt,
				evt.Source,
				evt.SchemaVersion,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

// InsertResults appends one run's classification output.
func (s *EventStore) InsertResults(ctx context.Context, runID string, classifiedAt time.Time, results []classifier.Result) error {
	if len(results) == 0 {
		return nil
	}
	return s.executor.WithContext(ctx).Run(func() error {
		batch, err := s.conn.PrepareBatch(ctx, insertResultsSQL)
		if err != nil {
			return err
		}
		for _, res := range results {
			if err := batch.Append(
				runID,
				res.AccountID,
				string(res.Category),
				string(res.ConfidenceLevel),
				res.ComponentScores.Timing,
				res.ComponentScores.Repetition,
				res.ComponentScores.Variance,
				res.ComponentScores.Activity,
				uint32(res.SampleCount),
				strings.Join(res.Evidence, "; "),
				classifiedAt,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

// RunSummaryRow is the flattened per-run rollup persisted to ClickHouse.
type RunSummaryRow struct {
	RunID          string
	StartedAt      time.Time
	CompletedAt    time.Time
	DurationMS     int64
	Classified     uint32
	Failed         uint32
	AutomatedShare float64
	WithTimingData uint32
	Categories     map[string]uint32
	Confidences    map[string]uint32
}

// InsertRunSummary appends one run's rollup record.
func (s *EventStore) InsertRunSummary(ctx context.Context, row RunSummaryRow) error {
	return s.executor.WithContext(ctx).Run(func() error {
		batch, err := s.conn.PrepareBatch(ctx, insertRunSummarySQL)
		if err != nil {
			return err
		}
		if err := batch.Append(
			row.RunID,
			row.StartedAt,
			row.CompletedAt,
			row.DurationMS,
			row.Classified,
			row.Failed,
			row.AutomatedShare,
			row.WithTimingData,
			row.Categories,
			row.Confidences,
		); err != nil {
			return err
		}
		return batch.Send()
	})
}

// LoadEvents reads every event observed at or after since, in the shape
// the pipeline ingests.
func (s *EventStore) LoadEvents(ctx context.Context, since time.Time) ([]timeline.Event, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT account_id, kind, timestamp, content, thread_id, trigger_at
		FROM content_events
		WHERE timestamp >= ?
		ORDER BY account_id, timestamp`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []timeline.Event
	for rows.Next() {
		var (
			evt       timeline.Event
			threadID  string
			triggerAt *time.Time
		)
		if err := rows.Scan(&evt.AccountID, &evt.Kind, &evt.Timestamp, &evt.Content, &threadID, &triggerAt); err != nil {
			return nil, err
		}
		evt.Thread = threadRef(threadID, triggerAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logging.Fields{
		"events": len(events),
		"since":  since,
	}).Debug("Loaded event batch")

	return events, nil
}

// threadColumns flattens an optional thread reference into its nullable
// column values.
func threadColumns(ref *kafka.ThreadRef) (string, *time.Time) {
	if ref == nil {
		return "", nil
	}
	if ref.TriggerAt.IsZero() {
		return ref.ThreadID, nil
	}
	t := ref.TriggerAt
	return ref.ThreadID, &t
}

// threadRef rebuilds the optional thread reference from its columns.
func threadRef(threadID string, triggerAt *time.Time) *timeline.ThreadRef {
	if threadID == "" && triggerAt == nil {
		return nil
	}
	ref := &timeline.ThreadRef{ThreadID: threadID}
	if triggerAt != nil {
		ref.TriggerAt = *triggerAt
	}
	return ref
}
