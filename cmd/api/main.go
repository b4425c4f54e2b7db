package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/api"
	"github.com/patrickamowe/image-processing-service/internal/auth"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/patrickamowe/image-processing-service/internal/config"
	"github.com/patrickamowe/image-processing-service/internal/images"
	"github.com/patrickamowe/image-processing-service/internal/logging"
	"github.com/patrickamowe/image-processing-service/internal/pixel"
	"github.com/patrickamowe/image-processing-service/internal/queue"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/patrickamowe/image-processing-service/internal/telemetry"
	"github.com/patrickamowe/image-processing-service/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/gofont/goregular"
)

const serviceName = "image-api"

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
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if err := codec.Startup(); err != nil {
		return err
	}
	defer codec.Shutdown()

	typeface, err := loadFont(cfg.Watermark)
	if err != nil {
		return err
	}

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

	var cleanup images.CleanupEnqueuer
	if cfg.Queue.CleanupEnabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.ClientOptions{
			Queue:    cfg.Queue.Name,
			Delay:    cfg.Queue.CleanupDelay,
			MaxRetry: cfg.Queue.CleanupMaxRetry,
		})
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Error().Err(err).Msg("queue client close")
			}
		}()
		cleanup = queueClient
	}

	notifier := webhook.NewNotifier(webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	}), cfg.Webhook.URL, 0, logger)
	defer notifier.Wait()

	registry := api.NewRegistry()
	imageSvc, err := images.NewService(images.Deps{
		Images:    db,
		Backend:   backend,
		Locker:    locker,
		Font:      typeface,
		Cleanup:   cleanup,
		Notifier:  notifier,
		Metrics:   images.NewMetrics(registry),
		Logger:    logger,
		UploadDir: cfg.Storage.UploadDir,
	})
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	app, err := api.NewServer(api.Options{
		Logger:           logger,
		Accounts:         auth.NewService(db, tokens, logger),
		Tokens:           tokens,
		Images:           imageSvc,
		Registry:         registry,
		MaxUploadBytes:   cfg.API.MaxUploadBytes,
		TransformTimeout: cfg.API.TransformTimeout,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("storage", cfg.Storage.Backend).
			Str("database", cfg.Database.Driver).
			Str("lock", cfg.Lock.Backend).
			Bool("cleanup_queue", cfg.Queue.CleanupEnabled).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func loadFont(cfg config.WatermarkConfig) (*pixel.Font, error) {
	if cfg.FontPath == "" {
		return pixel.NewFont(goregular.TTF, cfg.FontSize)
	}
	return pixel.LoadFontFile(cfg.FontPath, cfg.FontSize)
}
