// Package cli holds the start-up steps shared by cmd/fincal,
// cmd/ledger-worker and cmd/fincal-admin.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fincal/internal/amqp"
	"fincal/internal/backend"
	"fincal/internal/clock"
	"fincal/internal/config"
	"fincal/internal/lock"
	applog "fincal/internal/log"
	"fincal/internal/services"

	"github.com/joho/godotenv"
)

const zoneCacheSize = 256

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger at level and makes it the slog
// default.
func SetupLogger(level string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(level),
		Component: applog.ComponentApp,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig exits the process when the configuration is invalid.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitStore opens the configured backend or exits.
func InitStore(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize store", applog.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return res
}

// InitAMQP connects to the broker when AMQP_URL is set. It returns nil when
// messaging is disabled or the broker is unreachable.
func InitAMQP(logger *applog.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without refresh messages", applog.FieldError, err)
		return nil
	}
	logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// InitLocker connects to Redis when REDIS_ADDR is set. The returned close
// func is never nil.
func InitLocker(ctx context.Context, logger *applog.Logger, cfg *config.Config) (*lock.RedisLocker, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("Refresh lock disabled - no REDIS_ADDR provided")
		return nil, func() {}
	}
	rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("Failed to connect to Redis, refreshes are not locked", applog.FieldError, err)
		return nil, func() {}
	}
	return lock.NewRedisLocker(rdb, cfg.RefreshLockTTL), func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("Failed to close Redis client", applog.FieldError, err)
		}
	}
}

// NewAccountService wires the ledger service with the configured policy and
// time zone fallback. The zone cache is returned so callers can sweep it.
func NewAccountService(logger *applog.Logger, cfg *config.Config, store *backend.BackendResult, extra ...services.Option) (*services.AccountService, *clock.Zones) {
	policy, err := services.ParseExcludePolicy(cfg.ExcludePolicy)
	if err != nil {
		logger.Error("Invalid exclude policy", applog.FieldError, err)
		os.Exit(1)
	}
	zones := clock.NewZones(cfg.DefaultTimeZone, zoneCacheSize, 24*time.Hour)
	opts := []services.Option{
		services.WithExcludePolicy(policy),
		services.WithZones(zones),
	}
	return services.NewAccountService(store.Store, append(opts, extra...)...), zones
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM, after
// cleanup has run. done is closed once shutdown has finished.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
