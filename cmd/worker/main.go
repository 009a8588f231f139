// Command worker runs a headless dispatcher that takes prompts only from the
// NATS request queue. Several workers can share one queue group; the
// per-user slot lives in a JetStream key-value bucket they all use.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"promptbot/internal/http/httpapi"
	"promptbot/internal/infra"
	"promptbot/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()
	if cfg.NATSURL == "" {
		logger.Fatal().Msg("NATS_URL is required for the worker")
	}

	svc, err := service.New(context.Background(), cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	if err := svc.ListenRequests(); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to requests")
	}

	health := infra.NewHTTPServer(cfg, cfg.HealthPort, httpapi.NewHealthRouter())
	go func() {
		if err := health.Start(); err != nil {
			logger.Fatal().Err(err).Msg("health server failed")
		}
	}()

	logger.Info().
		Str("provider", svc.Provider).
		Str("subject", cfg.RequestSubject).
		Str("queue", cfg.RequestQueue).
		Msg("worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("dispatcher did not stop cleanly")
	}
	if err := health.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown health server")
	}
	logger.Info().Msg("worker stopped")
}
