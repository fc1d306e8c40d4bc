package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testRunner() *Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRunner(logger, 4)
}

func comment(account string, ts time.Time, content string, latency time.Duration) timeline.Event {
	evt := timeline.Event{
		AccountID: account,
		Kind:      timeline.KindComment,
		Timestamp: ts,
		Content:   content,
	}
	if latency > 0 {
		evt.Thread = &timeline.ThreadRef{ThreadID: "t", TriggerAt: ts.Add(-latency)}
	}
	return evt
}

// scriptedEvents posts the same sentence as all 10 comments.
func scriptedEvents(account string) []timeline.Event {
	events := make([]timeline.Event, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, comment(account, base.Add(time.Duration(i)*time.Hour),
			"Ah, molting—such a fascinating process!", 0))
	}
	return events
}

// humanEvents spreads 10 events over 6 UTC hours across several days with
// 20 minute response latencies and varied content.
func humanEvents(account string) []timeline.Event {
	events := make([]timeline.Event, 0, 10)
	for i := 0; i < 10; i++ {
		day := i / 6
		hour := 9 + i%6
		ts := time.Date(2026, 3, 1+day, hour, 30, 0, 0, time.UTC)
		events = append(events, comment(account, ts,
			fmt.Sprintf("honestly thinking about tidepools again, take %d", i), 20*time.Minute))
	}
	return events
}

// fastEvents gives the population a clearly faster account.
func fastEvents(account string) []timeline.Event {
	events := make([]timeline.Event, 0, 6)
	for i := 0; i < 6; i++ {
		events = append(events, comment(account, base.AddDate(0, 0, i).Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("instant take number %d on this thread", i), time.Duration(3+i)*time.Second))
	}
	return events
}

func findResult(t *testing.T, report *RunReport, account string) classifier.Result {
	t.Helper()
	for _, res := range report.Results {
		if res.AccountID == account {
			return res
		}
	}
	t.Fatalf("no result for account %q", account)
	return classifier.Result{}
}

func TestRunEmptyBatch(t *testing.T) {
	_, err := testRunner().Run(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRunScriptedBotScenario(t *testing.T) {
	report, err := testRunner().Run(context.Background(), scriptedEvents("scripted"), Options{})
	require.NoError(t, err)

	res := findResult(t, report, "scripted")
	assert.Equal(t, classifier.CategoryScriptedBot, res.Category)
	assert.Equal(t, classifier.ConfidenceHigh, res.ConfidenceLevel)
	require.NotNil(t, res.ComponentScores.Repetition)
	assert.GreaterOrEqual(t, *res.ComponentScores.Repetition, 0.90)
}

func TestRunEmojiBotScenario(t *testing.T) {
	events := make([]timeline.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, comment("emoji", base.Add(time.Duration(i)*time.Minute), "🦞", 2*time.Second))
	}

	report, err := testRunner().Run(context.Background(), events, Options{})
	require.NoError(t, err)

	res := findResult(t, report, "emoji")
	assert.Equal(t, classifier.CategoryEmojiBot, res.Category)
	assert.Equal(t, classifier.ConfidenceVeryHigh, res.ConfidenceLevel)
}

func TestRunInsufficientDataScenario(t *testing.T) {
	events := []timeline.Event{
		comment("sparse", base, "first thoughts on the reef report", 0),
		comment("sparse", base.Add(time.Hour), "second observation from the shallows", 0),
		comment("sparse", base.Add(2*time.Hour), "third note before going quiet", 0),
	}

	report, err := testRunner().Run(context.Background(), events, Options{})
	require.NoError(t, err)

	res := findResult(t, report, "sparse")
	assert.Equal(t, classifier.CategoryInsufficientData, res.Category)
	assert.Equal(t, classifier.ConfidenceInsufficient, res.ConfidenceLevel)
	assert.Nil(t, res.ComponentScores.Timing)
}

func TestRunHumanPacedScenario(t *testing.T) {
	events := append(humanEvents("human"), fastEvents("speedy")...)

	report, err := testRunner().Run(context.Background(), events, Options{})
	require.NoError(t, err)

	res := findResult(t, report, "human")
	assert.Equal(t, classifier.CategoryHumanPaced, res.Category)
	assert.Equal(t, classifier.ConfidenceLow, res.ConfidenceLevel)
	require.NotNil(t, res.ComponentScores.Timing)
	assert.Less(t, *res.ComponentScores.Timing, 0.30)
	assert.Less(t, res.ComponentScores.Activity, 0.50)
}

func TestRunIsolatesAccountFailures(t *testing.T) {
	bad := timeline.Event{AccountID: "broken", Kind: timeline.KindComment, Content: "no timestamp"}
	events := append(scriptedEvents("fine"), bad)

	report, err := testRunner().Run(context.Background(), events, Options{})
	require.NoError(t, err)

	assert.Len(t, report.Results, 1)
	assert.Equal(t, "fine", report.Results[0].AccountID)
	require.Contains(t, report.Failures, "broken")
	assert.Contains(t, report.Failures["broken"], "timestamp")
}

func TestRunDeterministicAndSorted(t *testing.T) {
	events := append(humanEvents("zeta"), fastEvents("alpha")...)
	events = append(events, scriptedEvents("mid")...)

	runner := testRunner()
	first, err := runner.Run(context.Background(), events, Options{})
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), events, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Results, second.Results)
	assert.NotEqual(t, first.RunID, second.RunID)

	ids := make([]string, 0, len(first.Results))
	for _, res := range first.Results {
		ids = append(ids, res.AccountID)
	}
	assert.True(t, sort.StringsAreSorted(ids), "results must be ordered by account id: %v", ids)
}

func TestRunCoordinatedAccountsOption(t *testing.T) {
	// Emoji-only account active across three days is not coordinated by
	// lifespan; the explicit flag still classifies it.
	events := make([]timeline.Event, 0, 6)
	for i := 0; i < 6; i++ {
		events = append(events, comment("flagged", base.AddDate(0, 0, i/2).Add(time.Duration(i)*time.Minute), "🔥", 2*time.Second))
	}

	runner := testRunner()
	report, err := runner.Run(context.Background(), events, Options{})
	require.NoError(t, err)
	res := findResult(t, report, "flagged")
	assert.NotEqual(t, classifier.CategoryEmojiBot, res.Category)

	report, err = runner.Run(context.Background(), events, Options{
		CoordinatedAccounts: map[string]bool{"flagged": true},
	})
	require.NoError(t, err)
	res = findResult(t, report, "flagged")
	assert.Equal(t, classifier.CategoryEmojiBot, res.Category)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testRunner().Run(ctx, scriptedEvents("any"), Options{})
	assert.Error(t, err)
}
