// Package scheduler drives periodic classification runs.
package scheduler

import (
	"context"
	"time"

	"github.com/rafalwronapl/moltbook-observatory/internal/reports"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// RunExecutor performs one full classification run.
type RunExecutor interface {
	Execute(ctx context.Context) (*reports.RunSummary, error)
}

// Scheduler triggers classification runs on a fixed interval, plus one
// initial run shortly after startup.
type Scheduler struct {
	logger       logging.Logger
	executor     RunExecutor
	interval     time.Duration
	initialDelay time.Duration
	runTimeout   time.Duration
	ticker       *time.Ticker
	stopChan     chan bool
}

// NewScheduler creates a scheduler around the given executor.
func NewScheduler(executor RunExecutor, interval time.Duration, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		logger:       logger,
		executor:     executor,
		interval:     interval,
		initialDelay: 10 * time.Second,
		runTimeout:   10 * time.Minute,
		stopChan:     make(chan bool),
	}
}

// Start begins the periodic runs.
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"interval": s.interval,
	}).Info("Starting classification scheduler")

	s.ticker = time.NewTicker(s.interval)
	go s.runLoop()

	// Initial run after the service has fully started.
	go func() {
		select {
		case <-time.After(s.initialDelay):
		case <-s.stopChan:
			return
		}
		s.logger.Info("Running initial classification")
		s.execute()
	}()
}

// Stop halts all scheduled runs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping classification scheduler")
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopChan)
}

// TriggerRun starts a run outside the schedule and returns its summary.
func (s *Scheduler) TriggerRun(ctx context.Context) (*reports.RunSummary, error) {
	s.logger.Info("Manually triggering classification run")
	return s.executor.Execute(ctx)
}

func (s *Scheduler) runLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.logger.Info("Running scheduled classification")
			s.execute()
		case <-s.stopChan:
			s.logger.Info("Stopping classification run loop")
			return
		}
	}
}

func (s *Scheduler) execute() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	summary, err := s.executor.Execute(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Classification run failed")
		return
	}
	s.logger.WithFields(logging.Fields{
		"run_id":     summary.RunID,
		"classified": summary.Classified,
		"failed":     summary.Failed,
	}).Info("Classification run finished")
}
