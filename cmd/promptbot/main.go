package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"promptbot/internal/http/handlers"
	"promptbot/internal/http/httpapi"
	"promptbot/internal/infra"
	"promptbot/internal/infra/geoip"
	"promptbot/internal/middleware"
	"promptbot/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	svc, err := service.New(context.Background(), cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start dispatcher")
	}
	if err := svc.ListenRequests(); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to requests")
	}

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		defer resolver.Close()
		lookup = resolver.Lookup
	}

	app := handlers.NewApp(svc.Dispatcher, svc.Archive, logger)
	api := infra.NewHTTPServer(cfg, cfg.Port, httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		BotToken:        cfg.BotToken,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSAllowedOrigins,
	}))
	health := infra.NewHTTPServer(cfg, cfg.HealthPort, httpapi.NewHealthRouter())

	for name, srv := range map[string]*infra.HTTPServer{"api": api, "health": health} {
		go func(name string, srv *infra.HTTPServer) {
			logger.Info().Str("server", name).Str("addr", srv.Addr()).Msg("listening")
			if err := srv.Start(); err != nil {
				logger.Fatal().Err(err).Str("server", name).Msg("http server failed")
			}
		}(name, srv)
	}
	logger.Info().Str("provider", svc.Provider).Dur("timeout", cfg.GenerationTimeout).Msg("promptbot started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown api server")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("dispatcher did not stop cleanly")
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown health server")
	}
	logger.Info().Msg("promptbot stopped")
}
