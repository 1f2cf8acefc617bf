package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/auth"
	"github.com/fraudops/decisioning/internal/decision"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/httpserver"
	"github.com/fraudops/decisioning/internal/logging"
	"github.com/fraudops/decisioning/internal/repositories"
	"github.com/fraudops/decisioning/internal/state"
)

const serviceName = "decision-svc"

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
		Msg("Starting decision engine")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	kv, err := state.NewClient(cfg.Redis, cfg.Timeouts.KVStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer kv.Close()

	producer, err := eventlog.NewProducer(cfg.Kafka, cfg.Timeouts.EventLog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	policyRepo := repositories.NewPolicyRepository(db, cfg.Timeouts.IndexStore)
	policies := decision.NewPolicyProvider(cfg.Decision, policyRepo)
	if _, err := policies.Reload(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load decision policy")
	}

	engine := decision.NewEngine(cfg.Decision, policies, decision.NewDetector(kv), producer)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = serviceName
	}
	topics := []string{eventlog.TopicScores}
	consumer, err := eventlog.NewConsumer(cfg.Kafka, groupID, topics, engine.Handler())
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
		httpserver.HealthCheck{Name: "kv_store", Check: kv.Ping},
		httpserver.HealthCheck{Name: "index_store", Check: db.Pool.Ping})
	decision.RegisterRoutes(router, engine, jwtManager)

	if err := httpserver.Serve(ctx, router, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	wg.Wait()
}
