// Package classifier maps component scores to a behavioral category and a
// confidence level. Rules are evaluated in a fixed order and the first
// match wins; categories deliberately overlap in score space, so the order
// is part of the contract.
package classifier

import (
	"fmt"

	"github.com/rafalwronapl/moltbook-observatory/internal/signals"
)

// Category is the behavioral classification of an account. It describes
// current observed behavior, never permanent identity; results are
// recomputed from scratch on every run.
type Category string

const (
	CategoryEmojiBot         Category = "EMOJI_BOT"
	CategoryMintingBot       Category = "MINTING_BOT"
	CategoryScriptedBot      Category = "SCRIPTED_BOT"
	CategoryFastResponder    Category = "FAST_RESPONDER"
	CategoryModerateSignals  Category = "MODERATE_SIGNALS"
	CategoryHumanPaced       Category = "HUMAN_PACED"
	CategoryInsufficientData Category = "INSUFFICIENT_DATA"
	CategoryUnclassified     Category = "UNCLASSIFIED"
)

// Confidence expresses how much weight a classification carries.
type Confidence string

const (
	ConfidenceVeryHigh     Confidence = "Very High"
	ConfidenceHigh         Confidence = "High"
	ConfidenceLowMedium    Confidence = "Low-Medium"
	ConfidenceLow          Confidence = "Low"
	ConfidenceInsufficient Confidence = "Insufficient"
	ConfidencePreliminary  Confidence = "Preliminary"
	ConfidenceModerate     Confidence = "Moderate"
	ConfidenceGood         Confidence = "Good"
	ConfidenceStrong       Confidence = "Strong"
)

// Classification thresholds. Applied only here so the extractors stay free
// of policy.
const (
	scriptedRepetitionMin = 0.90
	fastTimingMin         = 0.80
	fastVarianceMin       = 0.60
	moderateTimingMin     = 0.50
	moderateTimingMax     = 0.80
	humanTimingMax        = 0.30
	humanActivityMax      = 0.50
	emojiBotLatencyMax    = 5.0
	minScoredSamples      = 5
	minModerateSamples    = 3
)

// Input is everything the rule table sees for one account.
type Input struct {
	Stats  signals.AccountStats
	Scores signals.ComponentScores

	// Coordinated marks the account as part of a batch of accounts
	// appearing and disappearing together.
	Coordinated bool
}

// Result is the final per-account classification record.
type Result struct {
	AccountID       string                  `json:"account_id"`
	ComponentScores signals.ComponentScores `json:"component_scores"`
	SampleCount     int                     `json:"sample_count"`
	Category        Category                `json:"category"`
	ConfidenceLevel Confidence              `json:"confidence_level"`
	Evidence        []string                `json:"evidence,omitempty"`
}

// Rule is one ordered classification rule. A zero Confidence defers to the
// sample-count gradation table.
type Rule struct {
	Category   Category
	Confidence Confidence
	Matches    func(Input) bool
	Evidence   func(Input) string
}

// Rules returns the ordered rule table. The returned slice is freshly
// allocated; callers may inspect it but the evaluation order is fixed.
func Rules() []Rule {
	return []Rule{
		{
			Category:   CategoryEmojiBot,
			Confidence: ConfidenceVeryHigh,
			Matches: func(in Input) bool {
				return in.Stats.EmojiOnly &&
					in.Stats.LatencySamples >= 1 &&
					in.Stats.AvgLatency < emojiBotLatencyMax &&
					in.Coordinated
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("emoji-only content with %.1fs average response", in.Stats.AvgLatency)
			},
		},
		{
			Category:   CategoryMintingBot,
			Confidence: ConfidenceVeryHigh,
			Matches: func(in Input) bool {
				return in.Stats.MintingOnly
			},
			Evidence: func(in Input) string {
				return "all content matches the mint command format"
			},
		},
		{
			Category:   CategoryScriptedBot,
			Confidence: ConfidenceHigh,
			Matches: func(in Input) bool {
				return in.Scores.Repetition != nil &&
					*in.Scores.Repetition >= scriptedRepetitionMin &&
					in.Stats.SampleCount >= minScoredSamples
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("phrase repetition %.2f across %d comments", *in.Scores.Repetition, in.Stats.CommentCount)
			},
		},
		{
			Category:   CategoryFastResponder,
			Confidence: ConfidenceLowMedium,
			Matches: func(in Input) bool {
				return in.Scores.Timing != nil && *in.Scores.Timing > fastTimingMin &&
					in.Scores.Variance != nil && *in.Scores.Variance > fastVarianceMin &&
					in.Stats.SampleCount >= minScoredSamples
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("timing percentile %.2f with steady cadence %.2f", *in.Scores.Timing, *in.Scores.Variance)
			},
		},
		{
			Category:   CategoryModerateSignals,
			Confidence: ConfidenceLow,
			Matches: func(in Input) bool {
				return in.Scores.Timing != nil &&
					*in.Scores.Timing >= moderateTimingMin && *in.Scores.Timing <= moderateTimingMax &&
					in.Stats.SampleCount >= minModerateSamples
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("mid-range timing percentile %.2f", *in.Scores.Timing)
			},
		},
		{
			Category:   CategoryHumanPaced,
			Confidence: ConfidenceLow,
			Matches: func(in Input) bool {
				return in.Scores.Timing != nil && *in.Scores.Timing < humanTimingMax &&
					in.Scores.Activity < humanActivityMax
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("slow responses and %d of 24 active hours", in.Stats.ActiveHours)
			},
		},
		{
			Category: CategoryInsufficientData,
			Matches: func(in Input) bool {
				return in.Stats.SampleCount < minScoredSamples
			},
			Evidence: func(in Input) string {
				return fmt.Sprintf("only %d events observed", in.Stats.SampleCount)
			},
		},
		{
			Category: CategoryUnclassified,
			Matches:  func(Input) bool { return true },
			Evidence: func(Input) string {
				return "no rule matched despite adequate samples"
			},
		},
	}
}

// ConfidenceForSamples maps a sample count to the gradation table used when
// a rule does not carry its own confidence.
func ConfidenceForSamples(n int) Confidence {
	switch {
	case n <= 4:
		return ConfidenceInsufficient
	case n <= 10:
		return ConfidencePreliminary
	case n <= 20:
		return ConfidenceModerate
	case n <= 50:
		return ConfidenceGood
	default:
		return ConfidenceStrong
	}
}

// Classify evaluates the rule table in order and returns the first match.
// The table ends in a catch-all, so every input classifies; ambiguity is a
// valid low-confidence outcome, never an error.
func Classify(in Input) Result {
	for _, rule := range Rules() {
		if !rule.Matches(in) {
			continue
		}
		confidence := rule.Confidence
		if confidence == "" {
			confidence = ConfidenceForSamples(in.Stats.SampleCount)
		}
		return Result{
			AccountID:       in.Stats.AccountID,
			ComponentScores: in.Scores,
			SampleCount:     in.Stats.SampleCount,
			Category:        rule.Category,
			ConfidenceLevel: confidence,
			Evidence:        []string{rule.Evidence(in)},
		}
	}
	// Unreachable; the last rule always matches.
	return Result{
		AccountID:       in.Stats.AccountID,
		ComponentScores: in.Scores,
		SampleCount:     in.Stats.SampleCount,
		Category:        CategoryUnclassified,
		ConfidenceLevel: ConfidenceForSamples(in.Stats.SampleCount),
	}
}
