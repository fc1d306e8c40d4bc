package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rafalwronapl/moltbook-observatory/internal/reports"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
	"github.com/rafalwronapl/moltbook-observatory/pkg/database"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
)

// ErrorResponse is the JSON error envelope for the query API.
type ErrorResponse struct {
	Error string `json:"error"`
}

const dashboardCacheTTL = 60 * time.Second

var (
	analytics   *store.AnalyticsStore
	coordinator *RunCoordinator
	cache       goredis.UniversalClient
	logger      logging.Logger
	metrics     *ObservatoryMetrics
	runActive   atomic.Bool
)

// Init wires the API handlers. Cache and metrics may be nil.
func Init(a *store.AnalyticsStore, rc *RunCoordinator, c goredis.UniversalClient, log logging.Logger, m *ObservatoryMetrics) {
	analytics = a
	coordinator = rc
	cache = c
	logger = log
	metrics = m
}

// GetAccount returns one account's latest classification.
func GetAccount(c *gin.Context) {
	accountID := c.Param("id")

	account, err := analytics.GetAccount(c.Request.Context(), accountID)
	if err == database.ErrNoRows {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Account has not been classified"})
		return
	}
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"account_id": accountID,
		}).Error("Failed to fetch account")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch account"})
		return
	}

	c.JSON(http.StatusOK, account)
}

// ListAccounts returns classified accounts, optionally filtered by
// category.
func ListAccounts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	category := c.Query("category")

	accounts, err := analytics.ListAccounts(c.Request.Context(), category, limit, offset)
	if err != nil {
		logger.WithError(err).Error("Failed to list accounts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"count":    len(accounts),
		"offset":   offset,
	})
}

// GetSummary returns the category breakdown and the latest run summary.
func GetSummary(c *gin.Context) {
	counts, err := analytics.CategoryBreakdown(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to fetch category breakdown")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch summary"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"categories": counts,
		"latest_run": coordinator.LatestSummary(),
	})
}

// GetDashboard returns the assembled dashboard payload, cached between
// runs.
func GetDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	if cache != nil {
		cached, err := cache.Get(ctx, DashboardCacheKey).Bytes()
		if err == nil {
			if metrics != nil {
				metrics.CacheRequests.WithLabelValues("hit").Inc()
			}
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
		if err != goredis.Nil {
			logger.WithError(err).Warn("Dashboard cache read failed")
		}
		if metrics != nil {
			metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
	}

	accounts, err := analytics.ListAccounts(ctx, "", 500, 0)
	if err != nil {
		logger.WithError(err).Error("Failed to load accounts for dashboard")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to build dashboard"})
		return
	}
	counts, err := analytics.CategoryBreakdown(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to load breakdown for dashboard")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to build dashboard"})
		return
	}

	dashboard := reports.BuildDashboard(accounts, counts, coordinator.LatestSummary(), time.Now().UTC())

	if cache != nil {
		if payload, err := json.Marshal(dashboard); err == nil {
			if err := cache.Set(ctx, DashboardCacheKey, payload, dashboardCacheTTL).Err(); err != nil {
				logger.WithError(err).Warn("Dashboard cache write failed")
			}
		}
	}

	c.JSON(http.StatusOK, dashboard)
}

// TriggerRun starts a classification run on demand. Only one run may be in
// flight at a time.
func TriggerRun(c *gin.Context) {
	if !runActive.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "A classification run is already in progress"})
		return
	}
	defer runActive.Store(false)

	summary, err := coordinator.Execute(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Manual classification run failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Classification run failed"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
