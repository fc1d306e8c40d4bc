package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafalwronapl/moltbook-observatory/internal/classifier"
	"github.com/rafalwronapl/moltbook-observatory/pkg/database"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// AccountAnalytics is the per-account rollup row served by the query API.
// It always reflects the most recent completed run; categories describe
// current behavior and are overwritten, never versioned here.
type AccountAnalytics struct {
	AccountID       string     `json:"account_id"`
	Category        string     `json:"category"`
	ConfidenceLevel string     `json:"confidence_level"`
	TimingScore     *float64   `json:"timing_score"`
	RepetitionScore *float64   `json:"repetition_score"`
	VarianceScore   *float64   `json:"variance_score"`
	ActivityScore   float64    `json:"activity_score"`
	SampleCount     int        `json:"sample_count"`
	PeakSampleCount int        `json:"peak_sample_count"`
	TotalRuns       int        `json:"total_runs"`
	LastRunID       string     `json:"last_run_id"`
	FirstClassified *time.Time `json:"first_classified,omitempty"`
	LastClassified  time.Time  `json:"last_classified"`
}

// CategoryCount is one row of the category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// AnalyticsStore maintains the Postgres rollup.
type AnalyticsStore struct {
	db      database.PostgresConn
	logger  logging.Logger
	queries *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func NewAnalyticsStore(db database.PostgresConn, logger logging.Logger) *AnalyticsStore {
	return &AnalyticsStore{db: db, logger: logger}
}

// WithMetrics attaches the standard database query metrics. Both vectors
// may be nil.
func (s *AnalyticsStore) WithMetrics(queries *prometheus.CounterVec, latency *prometheus.HistogramVec) *AnalyticsStore {
	s.queries = queries
	s.latency = latency
	return s
}

func (s *AnalyticsStore) observe(queryType string, start time.Time, err error) {
	if s.queries != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.queries.WithLabelValues(queryType, status).Inc()
	}
	if s.latency != nil {
		s.latency.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	}
}

// UpsertResult folds one classification result into the rollup row for its
// account.
func (s *AnalyticsStore) UpsertResult(ctx context.Context, runID string, classifiedAt time.Time, res classifier.Result) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observatory.account_analytics (
			account_id, category, confidence_level,
			timing_score, repetition_score, variance_score, activity_score,
			sample_count, peak_sample_count, total_runs, last_run_id,
			first_classified, last_classified
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $12)
		ON CONFLICT (account_id) DO UPDATE SET
			category = EXCLUDED.category,
			confidence_level = EXCLUDED.confidence_level,
			timing_score = EXCLUDED.timing_score,
			repetition_score = EXCLUDED.repetition_score,
			variance_score = EXCLUDED.variance_score,
			activity_score = EXCLUDED.activity_score,
			sample_count = EXCLUDED.sample_count,
			peak_sample_count = GREATEST(observatory.account_analytics.peak_sample_count, EXCLUDED.sample_count),
			total_runs = observatory.account_analytics.total_runs + 1,
			last_run_id = EXCLUDED.last_run_id,
			first_classified = COALESCE(observatory.account_analytics.first_classified, EXCLUDED.first_classified),
			last_classified = EXCLUDED.last_classified
	`, res.AccountID, string(res.Category), string(res.ConfidenceLevel),
		res.ComponentScores.Timing, res.ComponentScores.Repetition,
		res.ComponentScores.Variance, res.ComponentScores.Activity,
		res.SampleCount, res.SampleCount, runID, classifiedAt, classifiedAt)
	s.observe("upsert_result", start, err)
	return err
}

const accountColumns = `
	account_id, category, confidence_level,
	timing_score, repetition_score, variance_score, activity_score,
	sample_count, peak_sample_count, total_runs, last_run_id,
	first_classified, last_classified`

// GetAccount returns one account's rollup, or database.ErrNoRows when the
// account has never been classified.
func (s *AnalyticsStore) GetAccount(ctx context.Context, accountID string) (*AccountAnalytics, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM observatory.account_analytics
		WHERE account_id = $1`, accountID)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		s.observe("get_account", start, nil)
		return nil, database.ErrNoRows
	}
	s.observe("get_account", start, err)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAccounts returns rollup rows, newest classification first, optionally
// filtered by category.
func (s *AnalyticsStore) ListAccounts(ctx context.Context, category string, limit, offset int) ([]AccountAnalytics, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT ` + accountColumns + `
		FROM observatory.account_analytics`
	args := []interface{}{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY last_classified DESC, account_id`
	if category != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("list_accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountAnalytics
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// CategoryBreakdown counts classified accounts per category.
func (s *AnalyticsStore) CategoryBreakdown(ctx context.Context) ([]CategoryCount, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM observatory.account_analytics
		GROUP BY category
		ORDER BY COUNT(*) DESC, category`)
	s.observe("category_breakdown", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*AccountAnalytics, error) {
	var a AccountAnalytics
	err := row.Scan(
		&a.AccountID, &a.Category, &a.ConfidenceLevel,
		&a.TimingScore, &a.RepetitionScore, &a.VarianceScore, &a.ActivityScore,
		&a.SampleCount, &a.PeakSampleCount, &a.TotalRuns, &a.LastRunID,
		&a.FirstClassified, &a.LastClassified,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
