package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fincal/internal/cache"
	"fincal/internal/cli"
	applog "fincal/internal/log"
	"fincal/internal/services"
	"fincal/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting ledger-worker")

	ctx := context.Background()
	store := cli.InitStore(ctx, logger, cfg)

	var opts []services.Option
	locker, closeLocker := cli.InitLocker(ctx, logger, cfg)
	if locker != nil {
		opts = append(opts, services.WithLocker(locker))
	}
	svc, zones := cli.NewAccountService(logger, cfg, store, opts...)
	consumer := cli.InitAMQP(logger, cfg)

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	w := worker.NewRefreshWorker(svc, store.Store)

	// Catch up on anything missed while the worker was down.
	if err := w.StartupRefresh(shutdownCtx); err != nil {
		logger.Error("Startup refresh failed", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		return w.RunPeriodicProjection(gctx, cfg.ProjectionInterval)
	})
	g.Go(func() error {
		cache.NewManager(zones.Cache()).Run(gctx, 10*time.Minute)
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeRefresh(gctx, w.HandleRefreshMessage)
		})
	} else {
		logger.Info("Skipping refresh message consumption - no AMQP client available")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
	}

	if consumer != nil {
		consumer.Close()
	}
	closeLocker()
	if err := svc.Close(); err != nil {
		logger.Error("Failed to close store", applog.FieldError, err)
	}

	if shutdownCtx.Err() != nil {
		cli.WaitForShutdown(shutdownCtx, done)
	}
	logger.Info("Worker shutdown complete")
}
