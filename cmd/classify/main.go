package main

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rafalwronapl/moltbook-observatory/internal/handlers"
	"github.com/rafalwronapl/moltbook-observatory/internal/pipeline"
	"github.com/rafalwronapl/moltbook-observatory/internal/scheduler"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
	"github.com/rafalwronapl/moltbook-observatory/pkg/config"
	"github.com/rafalwronapl/moltbook-observatory/pkg/database"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
	"github.com/rafalwronapl/moltbook-observatory/pkg/monitoring"
	"github.com/rafalwronapl/moltbook-observatory/pkg/redis"
	"github.com/rafalwronapl/moltbook-observatory/pkg/server"
	"github.com/rafalwronapl/moltbook-observatory/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("observatory-classify")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Observatory-Classify (Account Classification)")

	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	databaseURL := config.RequireEnv("DATABASE_URL")

	// Connect to ClickHouse
	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouseNative(chConfig, logger)
	defer clickhouse.Close()

	// Connect to Postgres
	pgConfig := database.DefaultConfig()
	pgConfig.URL = databaseURL
	db := database.MustConnect(pgConfig, logger)
	defer db.Close()

	// Optional Redis cache for the dashboard payload
	cache := connectRedis(logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("observatory-classify", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("observatory-classify", version.Version, version.GitCommit)
	metrics := handlers.NewObservatoryMetrics(metricsCollector)
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Stores and pipeline
	eventStore := store.NewEventStore(clickhouse, logger)
	analyticsStore := store.NewAnalyticsStore(db, logger).
		WithMetrics(metrics.DBQueries, metrics.DBDuration)
	runner := pipeline.NewRunner(logger, config.GetEnvInt("PIPELINE_WORKERS", 8))

	coordinator := handlers.NewRunCoordinator(handlers.RunCoordinatorConfig{
		Events:              eventStore,
		Rollup:              analyticsStore,
		Runner:              runner,
		Logger:              logger,
		Metrics:             metrics,
		Cache:               cache,
		Lookback:            config.GetEnvDuration("RUN_LOOKBACK", 30*24*time.Hour),
		CoordinatedAccounts: coordinatedAccounts(),
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.DBConnections.WithLabelValues("postgres").Set(float64(db.Stats().OpenConnections))
		}
	}()

	// Scheduled runs
	runScheduler := scheduler.NewScheduler(coordinator,
		config.GetEnvDuration("RUN_INTERVAL", time.Hour), logger)
	runScheduler.Start()
	defer runScheduler.Stop()

	// Health checks
	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(clickhouse))
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(db))
	if cache != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(cache))
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"CLICKHOUSE_HOST": clickhouseHost,
		"DATABASE_URL":    databaseURL,
	}))

	// Query API
	handlers.Init(analyticsStore, coordinator, cache, logger, metrics)

	router := server.SetupServiceRouter(logger, "observatory-classify", healthChecker, metricsCollector)
	api := router.Group("/api/v1")
	{
		api.GET("/accounts", handlers.ListAccounts)
		api.GET("/accounts/:id", handlers.GetAccount)
		api.GET("/summary", handlers.GetSummary)
		api.GET("/dashboard", handlers.GetDashboard)
		api.POST("/runs", handlers.TriggerRun)
	}

	serverConfig := server.DefaultConfig("observatory-classify", "18011")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}

	logger.Info("Observatory-Classify stopped")
}

// connectRedis returns nil when no Redis address is configured; the
// dashboard simply skips its cache.
func connectRedis(logger logging.Logger) goredis.UniversalClient {
	addrs := config.GetEnv("REDIS_ADDRS", "")
	if addrs == "" {
		logger.Info("REDIS_ADDRS not set, dashboard cache disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewUniversalClient(ctx, redis.Config{
		Addrs:    strings.Split(addrs, ","),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to Redis, dashboard cache disabled")
		return nil
	}
	return client
}

// coordinatedAccounts parses the optional comma-separated list of accounts
// the collector flagged as appearing together.
func coordinatedAccounts() map[string]bool {
	raw := config.GetEnv("COORDINATED_ACCOUNTS", "")
	if raw == "" {
		return nil
	}
	flagged := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			flagged[id] = true
		}
	}
	return flagged
}
