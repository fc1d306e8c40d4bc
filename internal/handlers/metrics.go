package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafalwronapl/moltbook-observatory/pkg/monitoring"
)

// ObservatoryMetrics holds the Prometheus metrics shared by the ingest and
// classification surfaces.
type ObservatoryMetrics struct {
	ContentEvents      *prometheus.CounterVec
	ClickHouseInserts  *prometheus.CounterVec
	ClassificationRuns *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	AccountsByCategory *prometheus.GaugeVec
	CacheRequests      *prometheus.CounterVec

	// Standard transport/storage metrics, assigned in main from the
	// collector's Create*Metrics helpers.
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec
}

// NewObservatoryMetrics registers the service metrics on the collector.
func NewObservatoryMetrics(mc *monitoring.MetricsCollector) *ObservatoryMetrics {
	return &ObservatoryMetrics{
		ContentEvents: mc.NewCounter(
			"content_events_total",
			"Content events consumed from the collector",
			[]string{"kind", "status"},
		),
		ClickHouseInserts: mc.NewCounter(
			"clickhouse_inserts_total",
			"ClickHouse batch insert attempts",
			[]string{"table", "status"},
		),
		ClassificationRuns: mc.NewCounter(
			"classification_runs_total",
			"Completed classification runs",
			[]string{"status"},
		),
		RunDuration: mc.NewHistogram(
			"classification_run_duration_seconds",
			"Wall time of a full classification run",
			[]string{"trigger"},
			[]float64{0.1, 0.5, 1, 5, 15, 60, 300},
		),
		AccountsByCategory: mc.NewGauge(
			"accounts_by_category",
			"Accounts per category as of the latest run",
			[]string{"category"},
		),
		CacheRequests: mc.NewCounter(
			"dashboard_cache_requests_total",
			"Dashboard cache lookups",
			[]string{"result"},
		),
	}
}
