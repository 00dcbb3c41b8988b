package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fincal/internal/cache"
	"fincal/internal/cli"
	apphttp "fincal/internal/http"
	applog "fincal/internal/log"
	"fincal/internal/middleware/ratelimit"
	"fincal/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.RequireJWTSecret(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx := context.Background()
	store := cli.InitStore(ctx, logger, cfg)

	var opts []services.Option
	publisher := cli.InitAMQP(logger, cfg)
	if publisher != nil {
		opts = append(opts, services.WithPublisher(publisher))
	}
	locker, closeLocker := cli.InitLocker(ctx, logger, cfg)
	if locker != nil {
		opts = append(opts, services.WithLocker(locker))
	}
	svc, zones := cli.NewAccountService(logger, cfg, store, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Service:        svc,
		Auth:           apphttp.NewAuthenticator(cfg.JWTSecret),
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      ratelimit.DefaultConfig(),
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if publisher != nil {
			publisher.Close()
		}
		closeLocker()
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	})

	go cache.NewManager(zones.Cache()).Run(shutdownCtx, 10*time.Minute)

	logger.Info("Starting fincal server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", publisher != nil,
		"lock_enabled", locker != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
