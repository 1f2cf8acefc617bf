package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/httpserver"
	"github.com/fraudops/decisioning/internal/logging"
	"github.com/fraudops/decisioning/internal/monitor"
	"github.com/fraudops/decisioning/internal/repositories"
)

const serviceName = "model-monitor-svc"

// calibrationInterval paces the periodic Brier snapshot.
const calibrationInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	logging.Setup(cfg.Server.Environment, serviceName)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting model monitor")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	registry := prometheus.NewRegistry()
	svc := monitor.NewService(
		cfg.Monitor,
		monitor.NewCollectors(registry),
		repositories.NewMetricsRepository(db, cfg.Timeouts.IndexStore),
		nil,
	)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = serviceName
	}
	topics := []string{eventlog.TopicScores, eventlog.TopicDecisions, eventlog.TopicFeatures}
	consumer, err := eventlog.NewConsumer(cfg.Kafka, groupID, topics, svc.Handler())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer group")
	}
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		svc.RunCalibrationLoop(ctx, calibrationInterval)
	}()

	router := httpserver.NewRouter(cfg.Server)
	httpserver.RegisterHealth(router, serviceName,
		httpserver.HealthCheck{Name: "metrics_store", Check: db.Pool.Ping})
	monitor.RegisterRoutes(router, svc, registry)

	if err := httpserver.Serve(ctx, router, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	wg.Wait()
}
