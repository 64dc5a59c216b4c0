package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spendings/internal/amqp"
	"spendings/internal/backend"
	"spendings/internal/cli"
	"spendings/internal/config"
	"spendings/internal/expense"
	apphttp "spendings/internal/http"
	"spendings/internal/log"
)

func main() {
	if err := cli.LoadEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Logging settings are read ahead of the full config so config errors
	// are logged in the configured format.
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := cli.LoadAndValidateConfig(logger)
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(parent context.Context, cfg *config.Config, logger *log.Logger) error {
	ctx, cancel := cli.SignalContext(parent, logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("create %s backend: %w", backendCfg.Type, err)
	}
	if res.Cleanup != nil {
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err)
			}
		}()
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store := expense.New(ctx, res.Store,
		expense.WithKey(cfg.StoreKey),
		expense.WithLocation(loc),
		expense.WithLogger(logger),
	)

	if cfg.AMQPURL != "" {
		publisher, err := amqp.ConnectWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger, 5)
		if err != nil {
			return fmt.Errorf("connect change publisher: %w", err)
		}
		defer publisher.Close()

		// Publishing outlives request contexts; the client applies its own
		// timeout per message.
		unsubscribe := store.Subscribe(publisher.Listener(context.WithoutCancel(ctx)))
		defer unsubscribe()
		logger.Info("Publishing change events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	srv := apphttp.NewServer(":"+cfg.Port, store, logger, apphttp.Options{})
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting spendings server",
			log.FieldOperation, log.OpStartup,
			"port", cfg.Port,
			log.FieldBackend, backendCfg.Type.String(),
			log.FieldCount, store.Len(),
			"timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		start := time.Now()
		err := cli.ShutdownWithTimeout(logger, cfg.ShutdownTimeout, srv.Shutdown)
		security := srv.SecurityMetrics()
		logger.Info("HTTP server shut down",
			log.FieldOperation, log.OpShutdown,
			log.FieldDuration, time.Since(start).Milliseconds(),
			"rate_limit_hits", security.RateLimitHits,
			"suspicious_requests", security.SuspiciousRequests)
		return err
	})

	return g.Wait()
}
