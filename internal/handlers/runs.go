package handlers

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/internal/pipeline"
	"github.com/rafalwronapl/moltbook-observatory/internal/reports"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
	"github.com/rafalwronapl/moltbook-observatory/internal/timeline"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// DashboardCacheKey caches the assembled dashboard payload between runs.
const DashboardCacheKey = "observatory:dashboard"

const defaultLookback = 30 * 24 * time.Hour

// EventSource supplies the event window for a run and stores its output
// history. Satisfied by store.EventStore.
type EventSource interface {
	LoadEvents(ctx context.Context, since time.Time) ([]timeline.Event, error)
	InsertResults(ctx context.Context, runID string, classifiedAt time.Time, results []classifier.Result) error
	InsertRunSummary(ctx context.Context, row store.RunSummaryRow) error
}

// ResultSink receives per-account results for the query rollup. Satisfied
// by store.AnalyticsStore.
type ResultSink interface {
	UpsertResult(ctx context.Context, runID string, classifiedAt time.Time, res classifier.Result) error
}

// RunCoordinator executes full classification runs: load the event window,
// run the pipeline, persist the output, refresh caches.
type RunCoordinator struct {
	events      EventSource
	rollup      ResultSink
	runner      *pipeline.Runner
	logger      logging.Logger
	metrics     *ObservatoryMetrics
	cache       goredis.UniversalClient
	lookback    time.Duration
	coordinated map[string]bool

	mu     sync.RWMutex
	latest *reports.RunSummary
}

// RunCoordinatorConfig wires a coordinator. Cache and Metrics are optional;
// Lookback defaults to 30 days and CoordinatedAccounts to none.
type RunCoordinatorConfig struct {
	Events              EventSource
	Rollup              ResultSink
	Runner              *pipeline.Runner
	Logger              logging.Logger
	Metrics             *ObservatoryMetrics
	Cache               goredis.UniversalClient
	Lookback            time.Duration
	CoordinatedAccounts map[string]bool
}

func NewRunCoordinator(cfg RunCoordinatorConfig) *RunCoordinator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	return &RunCoordinator{
		events:      cfg.Events,
		rollup:      cfg.Rollup,
		runner:      cfg.Runner,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		cache:       cfg.Cache,
		lookback:    cfg.Lookback,
		coordinated: cfg.CoordinatedAccounts,
	}
}

// Execute performs one classification run over the lookback window.
func (c *RunCoordinator) Execute(ctx context.Context) (*reports.RunSummary, error) {
	start := time.Now()
	since := start.Add(-c.lookback).UTC()

	events, err := c.events.LoadEvents(ctx, since)
	if err != nil {
		c.recordRun("load_failed", start)
		return nil, err
	}

	report, err := c.runner.Run(ctx, events, pipeline.Options{
		CoordinatedAccounts: c.coordinated,
	})
	if err != nil {
		c.recordRun("pipeline_failed", start)
		return nil, err
	}

	if err := c.events.InsertResults(ctx, report.RunID, report.CompletedAt, report.Results); err != nil {
		// History write failure does not stop the rollup; the run itself
		// succeeded and results are recomputable.
		c.logger.WithError(err).WithFields(logging.Fields{
			"run_id": report.RunID,
		}).Error("Failed to store result history")
	}

	upsertFailures := 0
	for _, res := range report.Results {
		if err := c.rollup.UpsertResult(ctx, report.RunID, report.CompletedAt, res); err != nil {
			upsertFailures++
			c.logger.WithError(err).WithFields(logging.Fields{
				"run_id":     report.RunID,
				"account_id": res.AccountID,
			}).Error("Failed to upsert account rollup")
		}
	}

	summary := reports.Summarize(report)
	if err := c.events.InsertRunSummary(ctx, runSummaryRow(summary)); err != nil {
		c.logger.WithError(err).WithFields(logging.Fields{
			"run_id": report.RunID,
		}).Error("Failed to store run summary")
	}
	c.setLatest(&summary)
	c.invalidateDashboard(ctx)
	c.recordRun("success", start)

	if c.metrics != nil {
		for category, count := range summary.Categories {
			c.metrics.AccountsByCategory.WithLabelValues(category).Set(float64(count))
		}
	}

	c.logger.WithFields(logging.Fields{
		"run_id":          summary.RunID,
		"classified":      summary.Classified,
		"failed":          summary.Failed,
		"upsert_failures": upsertFailures,
		"duration_ms":     summary.DurationMS,
	}).Info("Classification run persisted")

	return &summary, nil
}

// LatestSummary returns the most recent run summary, or nil before the
// first run completes.
func (c *RunCoordinator) LatestSummary() *reports.RunSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *RunCoordinator) setLatest(summary *reports.RunSummary) {
	c.mu.Lock()
	c.latest = summary
	c.mu.Unlock()
}

func (c *RunCoordinator) invalidateDashboard(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, DashboardCacheKey).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate dashboard cache")
	}
}

func runSummaryRow(summary reports.RunSummary) store.RunSummaryRow {
	return store.RunSummaryRow{
		RunID:          summary.RunID,
		StartedAt:      summary.StartedAt,
		CompletedAt:    summary.CompletedAt,
		DurationMS:     summary.DurationMS,
		Classified:     uint32(summary.Classified),
		Failed:         uint32(summary.Failed),
		AutomatedShare: summary.AutomatedShare,
		WithTimingData: uint32(summary.WithTimingData),
		Categories:     toUint32Map(summary.Categories),
		Confidences:    toUint32Map(summary.Confidences),
	}
}

func toUint32Map(m map[string]int) map[string]uint32 {
	out := make(map[string]uint32, len(m))
	for k, v := range m {
		out[k] = uint32(v)
	}
	return out
}

func (c *RunCoordinator) recordRun(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ClassificationRuns.WithLabelValues(status).Inc()
	c.metrics.RunDuration.WithLabelValues("run").Observe(time.Since(start).Seconds())
}
