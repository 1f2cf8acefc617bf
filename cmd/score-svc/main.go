package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/httpserver"
	"github.com/fraudops/decisioning/internal/logging"
	"github.com/fraudops/decisioning/internal/scoring"
)

const serviceName = "score-svc"

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
		Msg("Starting ensemble scorer")

	producer, err := eventlog.NewProducer(cfg.Kafka, cfg.Timeouts.EventLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer producer.Close()

	engine := scoring.NewEngine(cfg.Scoring, producer)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = serviceName
	}
	topics := []string{eventlog.TopicFeatures}
	consumer, err := eventlog.NewConsumer(cfg.Kafka, groupID, topics, engine.Handler())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer group")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	router := httpserver.NewRouter(cfg.Server)
	httpserver.RegisterHealth(router, serviceName)
	scoring.RegisterRoutes(router, engine)

	if err := httpserver.Serve(ctx, router, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	wg.Wait()
}
