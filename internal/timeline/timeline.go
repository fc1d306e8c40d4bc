// Package timeline normalizes raw collector events into per-account
// timelines. A timeline is the only input the signal extractors see, so all
// input validation happens here: an account whose events fail validation is
// rejected as a whole rather than classified from a partial record.
package timeline

import (
	"fmt"
	"sort"
	"time"
)

// Event kinds as recorded by the collector.
const (
	KindPost    = "post"
	KindComment = "comment"
)

// Latency samples outside this window are discarded: zero or negative means
// the "response" predates its trigger, and anything beyond 24h is a revisit
// rather than a response.
const MaxLatency = 24 * time.Hour

// ThreadRef identifies the post or comment an event responds to. TriggerAt
// is the trigger's creation time; latency is measured against it.
type ThreadRef struct {
	ThreadID  string
	TriggerAt time.Time
}

// Event is one observed content action by an account. Events are immutable
// once ingested.
type Event struct {
	AccountID string
	Kind      string
	Timestamp time.Time
	Content   string
	Thread    *ThreadRef
}

// InvalidEventError reports a malformed input event. The whole account fails
// closed on the first invalid event.
type InvalidEventError struct {
	Index  int
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event at index %d: field %q %s", e.Index, e.Field, e.Reason)
}

// Timeline is an ordered sequence of events for one account, ascending by
// timestamp. Equal timestamps preserve their original relative order.
type Timeline struct {
	AccountID string
	Events    []Event
}

// Build validates and orders raw events for a single account. The input
// slice is not modified.
func Build(accountID string, events []Event) (*Timeline, error) {
	if accountID == "" {
		return nil, &InvalidEventError{Index: -1, Field: "account_id", Reason: "is empty"}
	}

	for i, evt := range events {
		if evt.AccountID == "" {
			return nil, &InvalidEventError{Index: i, Field: "account_id", Reason: "is empty"}
		}
		if evt.AccountID != accountID {
			return nil, &InvalidEventError{Index: i, Field: "account_id", Reason: fmt.Sprintf("is %q, want %q", evt.AccountID, accountID)}
		}
		if evt.Timestamp.IsZero() {
			return nil, &InvalidEventError{Index: i, Field: "timestamp", Reason: "is missing"}
		}
		if evt.Kind != KindPost && evt.Kind != KindComment {
			return nil, &InvalidEventError{Index: i, Field: "kind", Reason: fmt.Sprintf("is %q, want post or comment", evt.Kind)}
		}
	}

	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	return &Timeline{AccountID: accountID, Events: ordered}, nil
}

// Latencies returns response latency samples in seconds. A sample exists
// only for events that reference a thread with a known trigger time, and
// only when the response follows the trigger within MaxLatency.
func (t *Timeline) Latencies() []float64 {
	var samples []float64
	for _, evt := range t.Events {
		if evt.Thread == nil || evt.Thread.TriggerAt.IsZero() {
			continue
		}
		d := evt.Timestamp.Sub(evt.Thread.TriggerAt)
		if d <= 0 || d >= MaxLatency {
			continue
		}
		samples = append(samples, d.Seconds())
	}
	return samples
}

// CommentCount returns the number of comment events.
func (t *Timeline) CommentCount() int {
	n := 0
	for _, evt := range t.Events {
		if evt.Kind == KindComment {
			n++
		}
	}
	return n
}

// Contents returns all non-empty content strings in timeline order.
func (t *Timeline) Contents() []string {
	var contents []string
	for _, evt := range t.Events {
		if evt.Content != "" {
			contents = append(contents, evt.Content)
		}
	}
	return contents
}

// Span returns the first and last event timestamps. ok is false for an
// empty timeline.
func (t *Timeline) Span() (first, last time.Time, ok bool) {
	if len(t.Events) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return t.Events[0].Timestamp, t.Events[len(t.Events)-1].Timestamp, true
}
