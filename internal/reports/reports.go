// Package reports assembles run summaries and the dashboard payload served
// to the front end.
package reports

import (
	"sort"
	"time"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/pipeline"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
)

// RunSummary condenses one classification run for operators and the API.
type RunSummary struct {
	RunID          string                `json:"run_id"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    time.Time             `json:"completed_at"`
	DurationMS     int64                 `json:"duration_ms"`
	Classified     int                   `json:"classified"`
	Failed         int                   `json:"failed"`
	Categories     map[string]int        `json:"categories"`
	Confidences    map[string]int        `json:"confidences"`
	AutomatedShare float64               `json:"automated_share"`
	WithTimingData int                   `json:"with_timing_data"`
	TopRepetition  []RepetitionHighlight `json:"top_repetition,omitempty"`
}

// RepetitionHighlight is one of the run's most repetitive accounts.
type RepetitionHighlight struct {
	AccountID       string  `json:"account_id"`
	RepetitionScore float64 `json:"repetition_score"`
	SampleCount     int     `json:"sample_count"`
}

const topRepetitionSize = 5

// Categories treated as automated behavior for the dashboard rollups.
var automatedCategories = map[classifier.Category]bool{
	classifier.CategoryEmojiBot:      true,
	classifier.CategoryMintingBot:    true,
	classifier.CategoryScriptedBot:   true,
	classifier.CategoryFastResponder: true,
}

// Summarize folds a run report into its summary record.
func Summarize(report *pipeline.RunReport) RunSummary {
	summary := RunSummary{
		RunID:       report.RunID,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		DurationMS:  report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
		Classified:  len(report.Results),
		Failed:      len(report.Failures),
		Categories:  make(map[string]int),
		Confidences: make(map[string]int),
	}

	automated := 0
	for _, res := range report.Results {
		summary.Categories[string(res.Category)]++
		summary.Confidences[string(res.ConfidenceLevel)]++
		if automatedCategories[res.Category] {
			automated++
		}
		if res.ComponentScores.Timing != nil {
			summary.WithTimingData++
		}
		if res.ComponentScores.Repetition != nil {
			summary.TopRepetition = append(summary.TopRepetition, RepetitionHighlight{
				AccountID:       res.AccountID,
				RepetitionScore: *res.ComponentScores.Repetition,
				SampleCount:     res.SampleCount,
			})
		}
	}
	if summary.Classified > 0 {
		summary.AutomatedShare = float64(automated) / float64(summary.Classified)
	}

	sort.SliceStable(summary.TopRepetition, func(i, j int) bool {
		if summary.TopRepetition[i].RepetitionScore != summary.TopRepetition[j].RepetitionScore {
			return summary.TopRepetition[i].RepetitionScore > summary.TopRepetition[j].RepetitionScore
		}
		return summary.TopRepetition[i].AccountID < summary.TopRepetition[j].AccountID
	})
	if len(summary.TopRepetition) > topRepetitionSize {
		summary.TopRepetition = summary.TopRepetition[:topRepetitionSize]
	}

	return summary
}

// Meta is the dashboard header block.
type Meta struct {
	LastUpdate       time.Time `json:"last_update"`
	AccountsAnalyzed int       `json:"accounts_analyzed"`
	EventsAnalyzed   int       `json:"events_analyzed"`
	Platform         string    `json:"platform"`
}

// AccountHighlight is one entry in the watchlist section.
type AccountHighlight struct {
	AccountID       string   `json:"account_id"`
	Category        string   `json:"category"`
	ConfidenceLevel string   `json:"confidence_level"`
	RepetitionScore *float64 `json:"repetition_score"`
	TimingScore     *float64 `json:"timing_score"`
	SampleCount     int      `json:"sample_count"`
}

// Dashboard is the full payload the front end renders.
type Dashboard struct {
	Meta        Meta                  `json:"meta"`
	Categories  []store.CategoryCount `json:"categories"`
	Watchlist   []AccountHighlight    `json:"watchlist"`
	LatestRun   *RunSummary           `json:"latest_run,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
}

const watchlistSize = 10

// Category ordering for the watchlist: structural detections first, then
// statistical ones.
var categorySeverity = map[string]int{
	string(classifier.CategoryEmojiBot):      0,
	string(classifier.CategoryMintingBot):    1,
	string(classifier.CategoryScriptedBot):   2,
	string(classifier.CategoryFastResponder): 3,
}

// BuildDashboard assembles the payload from the rollup store's view and the
// latest run, if one completed since startup.
func BuildDashboard(accounts []store.AccountAnalytics, counts []store.CategoryCount, latest *RunSummary, now time.Time) Dashboard {
	var watchlist []AccountHighlight
	for _, a := range accounts {
		if _, flagged := categorySeverity[a.Category]; !flagged {
			continue
		}
		watchlist = append(watchlist, AccountHighlight{
			AccountID:       a.AccountID,
			Category:        a.Category,
			ConfidenceLevel: a.ConfidenceLevel,
			RepetitionScore: a.RepetitionScore,
			TimingScore:     a.TimingScore,
			SampleCount:     a.SampleCount,
		})
	}
	sort.SliceStable(watchlist, func(i, j int) bool {
		si, sj := categorySeverity[watchlist[i].Category], categorySeverity[watchlist[j].Category]
		if si != sj {
			return si < sj
		}
		if watchlist[i].SampleCount != watchlist[j].SampleCount {
			return watchlist[i].SampleCount > watchlist[j].SampleCount
		}
		return watchlist[i].AccountID < watchlist[j].AccountID
	})
	if len(watchlist) > watchlistSize {
		watchlist = watchlist[:watchlistSize]
	}

	var lastUpdate time.Time
	events := 0
	for _, a := range accounts {
		if a.LastClassified.After(lastUpdate) {
			lastUpdate = a.LastClassified
		}
		events += a.SampleCount
	}

	return Dashboard{
		Meta: Meta{
			LastUpdate:       lastUpdate,
			AccountsAnalyzed: len(accounts),
			EventsAnalyzed:   events,
			Platform:         "Moltbook",
		},
		Categories:  counts,
		Watchlist:   watchlist,
		LatestRun:   latest,
		GeneratedAt: now,
	}
}
