package handlers

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/pipeline"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubEventSource struct {
	events        []timeline.Event
	loadErr       error
	storedRun     string
	storedRows    int
	storedSummary *store.RunSummaryRow
}

func (s *stubEventSource) LoadEvents(ctx context.Context, since time.Time) ([]timeline.Event, error) {
	return s.events, s.loadErr
}

func (s *stubEventSource) InsertResults(ctx context.Context, runID string, classifiedAt time.Time, results []classifier.Result) error {
	s.storedRun = runID
	s.storedRows = len(results)
	return nil
}

func (s *stubEventSource) InsertRunSummary(ctx context.Context, row store.RunSummaryRow) error {
	s.storedSummary = &row
	return nil
}

type stubResultSink struct {
	upserts []string
	err     error
}

func (s *stubResultSink) UpsertResult(ctx context.Context, runID string, classifiedAt time.Time, res classifier.Result) error {
	if s.err != nil {
		return s.err
	}
	s.upserts = append(s.upserts, res.AccountID)
	return nil
}

func scriptedBatch(account string) []timeline.Event {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events := make([]timeline.Event, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, timeline.Event{
			AccountID: account,
			Kind:      timeline.KindComment,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Content:   "Ah, molting—such a fascinating process!",
		})
	}
	return events
}

func newTestCoordinator(events EventSource, rollup ResultSink) *RunCoordinator {
	logger := testLogger()
	return NewRunCoordinator(RunCoordinatorConfig{
		Events: events,
		Rollup: rollup,
		Runner: pipeline.NewRunner(logger, 2),
		Logger: logger,
	})
}

func TestExecutePersistsRun(t *testing.T) {
	source := &stubEventSource{events: scriptedBatch("scripted")}
	sink := &stubResultSink{}
	c := newTestCoordinator(source, sink)

	summary, err := c.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Classified)
	assert.Equal(t, 1, summary.Categories["SCRIPTED_BOT"])
	assert.Equal(t, summary.RunID, source.storedRun)
	assert.Equal(t, 1, source.storedRows)
	assert.Equal(t, []string{"scripted"}, sink.upserts)

	require.NotNil(t, source.storedSummary)
	assert.Equal(t, summary.RunID, source.storedSummary.RunID)
	assert.Equal(t, uint32(1), source.storedSummary.Classified)
	assert.Equal(t, uint32(1), source.storedSummary.Categories["SCRIPTED_BOT"])

	latest := c.LatestSummary()
	require.NotNil(t, latest)
	assert.Equal(t, summary.RunID, latest.RunID)
}

func TestExecuteLoadFailure(t *testing.T) {
	source := &stubEventSource{loadErr: errors.New("clickhouse down")}
	c := newTestCoordinator(source, &stubResultSink{})

	_, err := c.Execute(context.Background())
	assert.Error(t, err)
	assert.Nil(t, c.LatestSummary())
}

func TestExecuteEmptyWindow(t *testing.T) {
	c := newTestCoordinator(&stubEventSource{}, &stubResultSink{})

	_, err := c.Execute(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrEmptyBatch)
}

func TestExecuteSurvivesUpsertFailure(t *testing.T) {
	source := &stubEventSource{events: scriptedBatch("scripted")}
	sink := &stubResultSink{err: errors.New("postgres down")}
	c := newTestCoordinator(source, sink)

	summary, err := c.Execute(context.Background())
	require.NoError(t, err, "rollup failures must not fail the run")
	assert.Equal(t, 1, summary.Classified)
}

func TestValidateContentEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	valid := contentEventFixture(now)
	assert.NoError(t, validateContentEvent(valid))

	noAccount := valid
	noAccount.AccountID = ""
	assert.Error(t, validateContentEvent(noAccount))

	noTime := valid
	noTime.Timestamp = time.Time{}
	assert.Error(t, validateContentEvent(noTime))

	badKind := valid
	badKind.Kind = "reaction"
	assert.Error(t, validateContentEvent(badKind))
}
