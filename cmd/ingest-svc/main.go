package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/httpserver"
	"github.com/fraudops/decisioning/internal/ingest"
	"github.com/fraudops/decisioning/internal/logging"
)

const serviceName = "ingest-svc"

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
		Msg("Starting ingest service")

	producer, err := eventlog.NewProducer(cfg.Kafka, cfg.Timeouts.EventLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer producer.Close()

	svc := ingest.NewService(producer)

	router := httpserver.NewRouter(cfg.Server)
	httpserver.RegisterHealth(router, serviceName)
	ingest.RegisterRoutes(router, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := httpserver.Serve(ctx, router, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
