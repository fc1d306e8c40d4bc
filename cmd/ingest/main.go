package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rafalwronapl/moltbook-observatory/internal/handlers"
	"github.com/rafalwronapl/moltbook-observatory/internal/store"
	"github.com/rafalwronapl/moltbook-observatory/pkg/config"
	"github.com/rafalwronapl/moltbook-observatory/pkg/database"
	"github.com/rafalwronapl/moltbook-observatory/pkg/kafka"
	"github.com/rafalwronapl/moltbook-observatory/pkg/logging"
	"github.com/rafalwronapl/moltbook-observatory/pkg/monitoring"
	"github.com/rafalwronapl/moltbook-observatory/pkg/server"
	"github.com/rafalwronapl/moltbook-observatory/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("observatory-ingest")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Observatory-Ingest (Content Event Processing)")

	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	brokersEnv := config.RequireEnv("KAFKA_BROKERS")

	// Connect to ClickHouse
	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouseNative(chConfig, logger)
	defer clickhouse.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("observatory-ingest", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("observatory-ingest", version.Version, version.GitCommit)
	metrics := handlers.NewObservatoryMetrics(metricsCollector)
	metrics.KafkaMessages, metrics.KafkaDuration, metrics.KafkaLag = metricsCollector.CreateKafkaMetrics()

	// Initialize handlers
	eventStore := store.NewEventStore(clickhouse, logger)
	ingestHandler := handlers.NewIngestHandler(eventStore, logger, metrics)
	eventHandler := kafka.NewContentEventHandler(ingestHandler.HandleContentEvent, logger)

	// Setup Kafka consumer
	brokers := strings.Split(brokersEnv, ",")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "observatory-ingest")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "observatory-ingest")
	topics := strings.Split(config.GetEnv("CONTENT_EVENTS_TOPIC", "content_events"), ",")

	consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}

	// Undecodable or invalid messages go to the DLQ instead of blocking
	// their partition.
	producer, err := kafka.NewProducer(brokers, clientID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()
	dlqTopic := config.GetEnv("CONTENT_EVENTS_DLQ_TOPIC", "content_events_dlq")
	messageHandler := kafka.WithDLQ(eventHandler.HandleMessage, producer, dlqTopic, "observatory-ingest", logger)
	messageHandler = kafka.WithMetrics(messageHandler, metrics.KafkaMessages, metrics.KafkaDuration)

	for _, topic := range topics {
		consumer.AddHandler(topic, messageHandler)
	}

	healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(clickhouse))
	healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"CLICKHOUSE_HOST": clickhouseHost,
		"KAFKA_BROKERS":   brokersEnv,
		"KAFKA_GROUP_ID":  groupID,
	}))

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Kafka consumer error")
		}
	}()

	if config.GetEnvBool("ENABLE_HEALTH_ENDPOINT", true) {
		go startHealthServer(healthChecker, metricsCollector, logger)
	}

	logger.Info("Observatory-Ingest started - consuming content events from Kafka")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down Observatory-Ingest...")

	cancel()
	if consumer != nil {
		consumer.Close()
	}

	logger.Info("Observatory-Ingest stopped")
}

func startHealthServer(healthChecker *monitoring.HealthChecker, metricsCollector *monitoring.MetricsCollector, logger logging.Logger) {
	router := server.SetupServiceRouter(logger, "observatory-ingest", healthChecker, metricsCollector)

	serverConfig := server.DefaultConfig("observatory-ingest", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("Health server error")
	}
}
