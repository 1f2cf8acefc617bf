package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/audit"
	"github.com/fraudops/decisioning/internal/auth"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/httpserver"
	"github.com/fraudops/decisioning/internal/logging"
	"github.com/fraudops/decisioning/internal/objectstore"
	"github.com/fraudops/decisioning/internal/repositories"
)

const serviceName = "audit-svc"

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
		Msg("Starting auditor")

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

	objects, err := objectstore.NewS3Store(ctx, cfg.ObjectStore, cfg.Timeouts.ObjectStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to object store")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure evidence bucket")
	}

	cases := repositories.NewCaseRepository(db, cfg.Timeouts.IndexStore)
	svc := audit.NewService(objects, repositories.NewAuditRepository(db, cfg.Timeouts.IndexStore), cases)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = serviceName
	}
	topics := []string{eventlog.TopicDecisions}
	consumer, err := eventlog.NewConsumer(cfg.Kafka, groupID, topics, svc.Handler())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer group")
	}
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)

	router := httpserver.NewRouter(cfg.Server)
	httpserver.RegisterHealth(router, serviceName,
		httpserver.HealthCheck{Name: "index_store", Check: db.Pool.Ping})
	audit.RegisterRoutes(router, svc, jwtManager)
	audit.RegisterCaseRoutes(router, cases, jwtManager)

	if err := httpserver.Serve(ctx, router, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	wg.Wait()
}
