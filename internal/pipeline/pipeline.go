// Package pipeline drives a full classification run: per-account statistics
// in parallel, one synchronization point to freeze the population percentile
// table, then parallel classification. Accounts are independent everywhere
// except the population build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/signals"
	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// ErrEmptyBatch is returned when a run is requested with no events at all.
var ErrEmptyBatch = errors.New("batch contains no events")

const defaultWorkers = 8

// Accounts whose entire observed lifespan fits in one day and vanish are
// treated as part of a coordinated batch for the structural emoji check.
const coordinationWindow = 24 * time.Hour

// Options tunes a single run.
type Options struct {
	// Workers caps the number of accounts processed concurrently in the
	// parallel phases. Zero means the default.
	Workers int

	// CoordinatedAccounts marks accounts the collector observed
	// appearing and disappearing together.
	CoordinatedAccounts map[string]bool
}

// RunReport is the outcome of one batch run. Results are sorted by account
// ID so identical inputs produce byte-identical reports.
type RunReport struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Results     []classifier.Result `json:"results"`
	Failures    map[string]string   `json:"failures,omitempty"`
}

// Runner executes classification runs.
type Runner struct {
	logger  logging.Logger
	workers int
}

func NewRunner(logger logging.Logger, workers int) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Runner{logger: logger, workers: workers}
}

// Run classifies every account present in the event batch. A malformed
// account fails alone and is reported in Failures; the rest of the batch
// completes normally.
func (r *Runner) Run(ctx context.Context, events []timeline.Event, opts Options) (*RunReport, error) {
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Failures:  make(map[string]string),
	}

	byAccount := groupByAccount(events)
	accountIDs := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	r.logger.WithFields(logging.Fields{
		"run_id":   report.RunID,
		"accounts": len(accountIDs),
		"events":   len(events),
	}).Info("Starting classification run")

	// Phase A: per-account raw statistics, no shared state. Each slot in
	// stats and failures is owned exclusively by its account's goroutine.
	stats := make([]*signals.AccountStats, len(accountIDs))
	failures := make([]error, len(accountIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, id := range accountIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tl, err := timeline.Build(id, byAccount[id])
			if err != nil {
				failures[i] = err
				return nil
			}
			s := signals.Compute(tl)
			stats[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("statistics phase: %w", err)
	}

	// Phase B: freeze the population percentile table. A batch where no
	// account has latency samples still classifies; the table is simply
	// never consulted, since every lookup requires qualifying samples.
	var valid []signals.AccountStats
	for _, s := range stats {
		if s != nil {
			valid = append(valid, *s)
		}
	}
	pop, err := signals.BuildPopulation(valid)
	if errors.Is(err, signals.ErrEmptyPopulation) {
		pop = &signals.Population{}
	} else if err != nil {
		return nil, fmt.Errorf("population phase: %w", err)
	}

	// Phase C: score against the frozen table and classify.
	results := make([]*classifier.Result, len(accountIDs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range accountIDs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := stats[i]
			if s == nil {
				return nil
			}
			res := classifier.Classify(classifier.Input{
				Stats:       *s,
				Scores:      pop.Score(*s),
				Coordinated: r.coordinated(*s, opts),
			})
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classification phase: %w", err)
	}

	for i, id := range accountIDs {
		if failures[i] != nil {
			report.Failures[id] = failures[i].Error()
			continue
		}
		if results[i] != nil {
			report.Results = append(report.Results, *results[i])
		}
	}
	report.CompletedAt = time.Now().UTC()

	r.logger.WithFields(logging.Fields{
		"run_id":     report.RunID,
		"classified": len(report.Results),
		"failed":     len(report.Failures),
		"population": pop.Size(),
	}).Info("Classification run complete")

	return report, nil
}

// coordinated decides the batch-coordination input for the emoji rule:
// either the collector flagged the account explicitly, or its whole
// observed lifespan fits inside one coordination window.
func (r *Runner) coordinated(s signals.AccountStats, opts Options) bool {
	if opts.CoordinatedAccounts[s.AccountID] {
		return true
	}
	if s.FirstEvent.IsZero() {
		return false
	}
	return s.LastEvent.Sub(s.FirstEvent) <= coordinationWindow
}

func groupByAccount(events []timeline.Event) map[string][]timeline.Event {
	byAccount := make(map[string][]timeline.Event)
	for _, evt := range events {
		byAccount[evt.AccountID] = append(byAccount[evt.AccountID], evt)
	}
	return byAccount
}
