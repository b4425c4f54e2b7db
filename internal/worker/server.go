package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/patrickamowe/image-processing-service/internal/config"
	"github.com/patrickamowe/image-processing-service/internal/images"
	"github.com/patrickamowe/image-processing-service/internal/logging"
	"github.com/patrickamowe/image-processing-service/internal/queue"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server consumes stale file cleanup tasks.
type Server struct {
	logger  zerolog.Logger
	server  *asynq.Server
	images  store.ImageStore
	backend storage.Backend
	locker  storage.Locker
	metrics *metrics
	tracer  trace.Tracer
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	imageStore store.ImageStore,
	backend storage.Backend,
	locker storage.Locker,
) (*Server, error) {
	if imageStore == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   logging.AsynqLogger{Logger: logger},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().
						Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		images:  imageStore,
		backend: backend,
		locker:  locker,
		metrics: newMetrics(),
		tracer:  otel.Tracer("image-processing-service/worker"),
	}
	return s, nil
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRemoveStale, s.handleRemoveStale)
	return mux
}

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Server) Run() error {
	return s.server.Run(s.mux())
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleRemoveStale deletes a file a transform left behind. The record lock
// makes sure the key is not live again before it goes.
func (s *Server) handleRemoveStale(ctx context.Context, task *asynq.Task) (err error) {
	startedAt := time.Now()
	outcome := outcomeFailed

	payload, err := queue.ParseRemoveStalePayload(task)
	if err != nil {
		s.metrics.tasksTotal.WithLabelValues(outcomeInvalid).Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.remove_stale", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int64("image.id", payload.ImageID),
		attribute.String("storage.key", payload.Key),
	)
	s.metrics.activeTasks.Inc()
	defer func() {
		s.metrics.activeTasks.Dec()
		s.metrics.tasksTotal.WithLabelValues(outcome).Inc()
		s.metrics.taskDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
	}()

	unlock, err := s.locker.Lock(ctx, images.LockKey(payload.ImageID))
	if err != nil {
		return fmt.Errorf("lock image %d: %w", payload.ImageID, err)
	}
	defer unlock()

	removed := outcomeRemoved
	rec, err := s.images.GetImage(ctx, payload.ImageID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		removed = outcomeRemovedOrphan
	case err != nil:
		return fmt.Errorf("load image %d: %w", payload.ImageID, err)
	case rec.URL == payload.Key:
		outcome = outcomeSkippedLive
		s.logger.Info().Int64("image_id", payload.ImageID).Str("key", payload.Key).Msg("stale key is live again, keeping it")
		return nil
	}

	if err := s.backend.Remove(ctx, payload.Key); err != nil {
		return fmt.Errorf("remove %s: %w", payload.Key, err)
	}

	outcome = removed
	s.logger.Info().
		Int64("image_id", payload.ImageID).
		Str("key", payload.Key).
		Str("outcome", outcome).
		Time("requested_at", payload.RequestedAt).
		Msg("stale file removed")
	return nil
}
