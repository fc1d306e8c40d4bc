package signals

import (
	"errors"
	"sort"
)

// ErrEmptyPopulation is returned when a percentile table is requested for a
// batch with no accounts carrying qualifying latency samples.
var ErrEmptyPopulation = errors.New("population has no accounts with latency samples")

// Population is the frozen percentile table built once per batch run after
// all per-account statistics are available. It is immutable after
// BuildPopulation returns and safe for concurrent lookups.
type Population struct {
	// Sorted ascending. Negated so that a higher value means faster
	// response or steadier cadence, matching the score direction.
	negAvgLatencies []float64
	negCVs          []float64
}

// BuildPopulation collects the avg-latency and CV values of every account
// with enough latency samples and freezes them into a lookup table.
func BuildPopulation(stats []AccountStats) (*Population, error) {
	pop := &Population{}
	for _, s := range stats {
		if !s.HasLatency() {
			continue
		}
		pop.negAvgLatencies = append(pop.negAvgLatencies, -s.AvgLatency)
		pop.negCVs = append(pop.negCVs, -s.LatencyCV)
	}
	if len(pop.negAvgLatencies) == 0 {
		return nil, ErrEmptyPopulation
	}
	sort.Float64s(pop.negAvgLatencies)
	sort.Float64s(pop.negCVs)
	return pop, nil
}

// Size returns the number of accounts in the percentile table.
func (p *Population) Size() int {
	return len(p.negAvgLatencies)
}

// TimingScore ranks the account's average latency against the population.
// 1.0 is the fastest observed account, 0.0 the slowest. Accounts without
// qualifying latency samples get no score.
func (p *Population) TimingScore(s AccountStats) *float64 {
	if !s.HasLatency() {
		return nil
	}
	score := percentileRank(p.negAvgLatencies, -s.AvgLatency)
	return &score
}

// VarianceScore ranks the account's latency coefficient of variation
// against the population. 1.0 is the steadiest cadence.
func (p *Population) VarianceScore(s AccountStats) *float64 {
	if !s.HasLatency() {
		return nil
	}
	score := percentileRank(p.negCVs, -s.LatencyCV)
	return &score
}

// percentileRank maps v to [0,1] by its average rank within sorted. Ties
// share the mean of their rank range, so equal inputs always score equally
// regardless of insertion order. A single-member population ranks 1.0.
func percentileRank(sorted []float64, v float64) float64 {
	n := len(sorted)
	if n <= 1 {
		return 1.0
	}
	lo := sort.SearchFloat64s(sorted, v)
	hi := lo
	for hi < n && sorted[hi] == v {
		hi++
	}
	// 1-based average rank across the tied range [lo, hi). An absent
	// value ranks halfway between its neighbors.
	avgRank := float64(lo) + float64(hi-lo+1)/2
	return (avgRank - 1) / float64(n-1)
}

// ComponentScores is the per-account score record handed to the
// classifier. Nil pointers mean the signal had insufficient data, which is
// distinct from a valid 0.0.
type ComponentScores struct {
	Timing     *float64 `json:"timing"`
	Repetition *float64 `json:"repetition"`
	Variance   *float64 `json:"variance"`
	Activity   float64  `json:"activity"`
}

// Score assembles the full component score set for one account against the
// frozen population.
func (p *Population) Score(s AccountStats) ComponentScores {
	return ComponentScores{
		Timing:     p.TimingScore(s),
		Repetition: s.Repetition,
		Variance:   p.VarianceScore(s),
		Activity:   s.ActivityScore,
	}
}
