// Package signals extracts per-account behavioral statistics and the four
// component scores. Raw statistics are computed per account with no shared
// state; the Timing and Variance scores are population-relative and require
// a frozen Population built from every account's raw stats.
package signals

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
)

// Minimum qualifying samples per extractor. Below these an extractor
// reports no score rather than a misleading zero.
const (
	MinLatencySamples     = 2
	MinRepetitionComments = 5
)

// Content shorter than this, or consisting only of emoji and whitespace,
// counts as emoji-only for the structural check.
const minSubstantiveContentLen = 5

var emojiOnlyPattern = regexp.MustCompile(`^[\s\x{1F300}-\x{1F9FF}\x{2600}-\x{27BF}]+$`)

// Minting commands embed a fixed token-protocol envelope; either marker
// identifies the content as a structured mint action.
var mintingMarkers = []string{`"p":"mbc-20"`, `"op":"mint"`}

// AccountStats holds the raw per-account measurements produced in the
// parallel phase. Population-relative scores are derived later from these.
type AccountStats struct {
	AccountID      string
	SampleCount    int
	CommentCount   int
	LatencySamples int

	// AvgLatency and LatencyCV are set whenever at least one latency
	// sample exists. Population ranking still requires MinLatencySamples;
	// the structural checks only need a speed estimate.
	AvgLatency float64
	LatencyCV  float64

	// Repetition is nil when the account has too few comments or its
	// content forms no 3-grams at all.
	Repetition *float64

	ActivityScore float64
	ActiveHours   int

	EmojiOnly   bool
	MintingOnly bool

	FirstEvent time.Time
	LastEvent  time.Time
}

// HasLatency reports whether the timing and variance signals have enough
// qualifying samples to be meaningful.
func (s AccountStats) HasLatency() bool {
	return s.LatencySamples >= MinLatencySamples
}

// Compute derives raw statistics from one account's timeline.
func Compute(t *timeline.Timeline) AccountStats {
	stats := AccountStats{
		AccountID:    t.AccountID,
		SampleCount:  len(t.Events),
		CommentCount: t.CommentCount(),
	}
	if first, last, ok := t.Span(); ok {
		stats.FirstEvent = first
		stats.LastEvent = last
	}

	latencies := t.Latencies()
	stats.LatencySamples = len(latencies)
	if len(latencies) > 0 {
		stats.AvgLatency = mean(latencies)
		stats.LatencyCV = coefficientOfVariation(latencies)
	}

	contents := t.Contents()
	if stats.CommentCount >= MinRepetitionComments {
		if score, ok := repetitionScore(contents); ok {
			stats.Repetition = &score
		}
	}

	stats.ActivityScore, stats.ActiveHours = activityCoverage(t.Events)

	if len(contents) > 0 {
		stats.EmojiOnly = allMatch(contents, isEmojiOnly)
		stats.MintingOnly = allMatch(contents, isMintingCommand)
	}

	return stats
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	varSum := 0.0
	for _, v := range values {
		d := v - m
		varSum += d * d
	}
	return math.Sqrt(varSum/float64(len(values))) / m
}

// repetitionScore computes 1 - distinct/total over word-level 3-grams.
// ok is false when the content yields no 3-grams, since a zero denominator
// carries no signal.
func repetitionScore(contents []string) (float64, bool) {
	total := 0
	distinct := make(map[string]struct{})
	for _, content := range contents {
		for _, gram := range trigrams(content) {
			total++
			distinct[gram] = struct{}{}
		}
	}
	if total == 0 {
		return 0, false
	}
	return 1 - float64(len(distinct))/float64(total), true
}

// trigrams splits content on whitespace, lowercases and strips leading and
// trailing punctuation from each token, and emits every window of three
// consecutive tokens.
func trigrams(content string) []string {
	tokens := strings.Fields(strings.ToLower(content))
	cleaned := tokens[:0]
	for _, tok := range tokens {
		tok = strings.TrimFunc(tok, isPunct)
		if tok != "" {
			cleaned = append(cleaned, tok)
		}
	}
	if len(cleaned) < 3 {
		return nil
	}
	grams := make([]string, 0, len(cleaned)-2)
	for i := 0; i+3 <= len(cleaned); i++ {
		grams = append(grams, strings.Join(cleaned[i:i+3], " "))
	}
	return grams
}

func isPunct(r rune) bool {
	return strings.ContainsRune(`.,;:!?"'()[]{}`, r)
}

// activityCoverage buckets events by UTC hour of day and returns the
// fraction of the 24 buckets touched, plus the raw bucket count.
func activityCoverage(events []timeline.Event) (float64, int) {
	if len(events) == 0 {
		return 0, 0
	}
	var hours [24]bool
	for _, evt := range events {
		hours[evt.Timestamp.UTC().Hour()] = true
	}
	n := 0
	for _, seen := range hours {
		if seen {
			n++
		}
	}
	return float64(n) / 24, n
}

func allMatch(contents []string, pred func(string) bool) bool {
	for _, c := range contents {
		if !pred(c) {
			return false
		}
	}
	return true
}

func isEmojiOnly(content string) bool {
	return emojiOnlyPattern.MatchString(content) || len(strings.TrimSpace(content)) < minSubstantiveContentLen
}

func isMintingCommand(content string) bool {
	for _, marker := range mintingMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
