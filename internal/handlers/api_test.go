package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafalwronapl/moltbook-observatory/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupAPI(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	analyticsStore := store.NewAnalyticsStore(db, logger)
	coord := newTestCoordinator(&stubEventSource{events: scriptedBatch("scripted")}, &stubResultSink{})
	Init(analyticsStore, coord, nil, logger, nil)

	router := gin.New()
	router.GET("/accounts", ListAccounts)
	router.GET("/accounts/:id", GetAccount)
	router.GET("/summary", GetSummary)
	router.GET("/dashboard", GetDashboard)
	router.POST("/runs", TriggerRun)
	return router, mock
}

func accountRows() *sqlmock.Rows {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"account_id", "category", "confidence_level",
		"timing_score", "repetition_score", "variance_score", "activity_score",
		"sample_count", "peak_sample_count", "total_runs", "last_run_id",
		"first_classified", "last_classified",
	}).AddRow("crab-acct", "SCRIPTED_BOT", "High",
		nil, 0.95, nil, 0.3, 12, 12, 1, "run-1", now, now)
}

func TestGetAccountEndpoint(t *testing.T) {
	router, mock := setupAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM observatory.account_analytics").
		WithArgs("crab-acct").
		WillReturnRows(accountRows())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/accounts/crab-acct", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var account store.AccountAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.Equal(t, "SCRIPTED_BOT", account.Category)
	assert.Nil(t, account.TimingScore, "null scores must stay null through the API")
	require.NotNil(t, account.RepetitionScore)
	assert.Equal(t, 0.95, *account.RepetitionScore)
}

func TestGetAccountNotFoundEndpoint(t *testing.T) {
	router, mock := setupAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM observatory.account_analytics").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/accounts/ghost", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAccountsEndpoint(t *testing.T) {
	router, mock := setupAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM observatory.account_analytics WHERE category").
		WithArgs("SCRIPTED_BOT", 10, 0).
		WillReturnRows(accountRows())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/accounts?category=SCRIPTED_BOT&limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Accounts []store.AccountAnalytics `json:"accounts"`
		Count    int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestGetSummaryEndpoint(t *testing.T) {
	router, mock := setupAPI(t)

	rows := sqlmock.NewRows([]string{"category", "count"}).
		AddRow("INSUFFICIENT_DATA", 400).
		AddRow("SCRIPTED_BOT", 12)
	mock.ExpectQuery("SELECT category, COUNT").WillReturnRows(rows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Categories []store.CategoryCount `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Categories, 2)
	assert.Equal(t, "INSUFFICIENT_DATA", body.Categories[0].Category)
}

func TestGetDashboardEndpoint(t *testing.T) {
	router, mock := setupAPI(t)

	mock.ExpectQuery("SELECT (.+) FROM observatory.account_analytics").
		WithArgs(500, 0).
		WillReturnRows(accountRows())
	rows := sqlmock.NewRows([]string{"category", "count"}).
		AddRow("SCRIPTED_BOT", 1)
	mock.ExpectQuery("SELECT category, COUNT").WillReturnRows(rows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Meta struct {
			AccountsAnalyzed int    `json:"accounts_analyzed"`
			Platform         string `json:"platform"`
		} `json:"meta"`
		Watchlist []struct {
			AccountID string `json:"account_id"`
		} `json:"watchlist"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Meta.AccountsAnalyzed)
	assert.Equal(t, "Moltbook", body.Meta.Platform)
	require.Len(t, body.Watchlist, 1)
	assert.Equal(t, "crab-acct", body.Watchlist[0].AccountID)
}

func TestTriggerRunEndpoint(t *testing.T) {
	router, _ := setupAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RunID      string `json:"run_id"`
		Classified int    `json:"classified"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RunID)
	assert.Equal(t, 1, body.Classified)
}
