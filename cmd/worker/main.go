package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/config"
	"github.com/patrickamowe/image-processing-service/internal/logging"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/patrickamowe/image-processing-service/internal/telemetry"
	"github.com/patrickamowe/image-processing-service/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const serviceName = "image-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
		bootstrap.Fatal().Err(err).Msg("invalid configuration")
	}

	logger, err := logging.New(serviceName, cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("build logger")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	// Cleanup decisions read the record's live key, which an in-memory
	// store in another process cannot provide.
	if cfg.Database.Driver == config.DatabaseMemory {
		return errors.New("worker needs a shared database, set DB_DRIVER=postgres")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  serviceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("flush traces")
		}
	}()

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Lock.Backend == config.LockRedis {
		redisClient = cfg.Queue.RedisClient()
		defer redisClient.Close()
	}
	locker, err := storage.OpenLocker(cfg.Lock, redisClient, logger)
	if err != nil {
		return err
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, db, backend, locker)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("metrics_addr", cfg.Worker.MetricsAddr).
		Msg("starting worker")
	return srv.Run()
}
