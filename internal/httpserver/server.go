// Package httpserver carries the gin plumbing shared by every service
// binary: middleware chain, rate limiting and graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
)

const shutdownGrace = 30 * time.Second

// NewRouter builds the standard router: recovery, request ids, request
// logging, CORS and an optional per-client rate limit.
func NewRouter(cfg configs.ServerConfig) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	if cfg.RateLimitPerMin > 0 {
		limiter := NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
		router.Use(rateLimitMiddleware(limiter))
	}

	return router
}

// Serve runs the router until ctx is cancelled, then shuts down
// gracefully. It blocks and returns the shutdown error, if any.
func Serve(ctx context.Context, router *gin.Engine, cfg configs.ServerConfig) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	log.Info().Msg("Server exited")
	return nil
}
