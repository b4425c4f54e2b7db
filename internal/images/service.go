// Package images implements the image record operations: upload, lookup,
// listing and transforms that keep one live file per record.
package images

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hibiken/asynq"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/id"
	"github.com/patrickamowe/image-processing-service/internal/pipeline"
	"github.com/patrickamowe/image-processing-service/internal/pixel"
	"github.com/patrickamowe/image-processing-service/internal/queue"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/patrickamowe/image-processing-service/internal/webhook"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultUploadDir = "uploads"

// CleanupEnqueuer schedules removal of files a transform could not delete.
type CleanupEnqueuer interface {
	EnqueueRemoveStale(ctx context.Context, payload queue.RemoveStalePayload) (*asynq.TaskInfo, error)
}

type Deps struct {
	Images  store.ImageStore
	Backend storage.Backend
	Locker  storage.Locker
	// Font is used by the watermark stage. Without it watermark requests
	// fail with a font resource error.
	Font      *pixel.Font
	Cleanup   CleanupEnqueuer
	Notifier  *webhook.Notifier
	Metrics   *Metrics
	Logger    zerolog.Logger
	UploadDir string
}

type Service struct {
	images     store.ImageStore
	backend    storage.Backend
	locker     storage.Locker
	reconciler *storage.Reconciler
	pipeline   *pipeline.Pipeline
	cleanup    CleanupEnqueuer
	notifier   *webhook.Notifier
	metrics    *Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger
	uploadDir  string
}

func NewService(deps Deps) (*Service, error) {
	if deps.Images == nil {
		return nil, errors.New("image store is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if deps.Locker == nil {
		deps.Locker = storage.NewKeyedMutex()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	uploadDir := strings.Trim(strings.TrimSpace(deps.UploadDir), "/")
	if uploadDir == "" {
		uploadDir = DefaultUploadDir
	}

	return &Service{
		images:     deps.Images,
		backend:    deps.Backend,
		locker:     deps.Locker,
		reconciler: storage.NewReconciler(deps.Backend, deps.Logger),
		pipeline:   pipeline.New(deps.Font, pipeline.WithStageObserver(deps.Metrics.observeStage)),
		cleanup:    deps.Cleanup,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		tracer:     otel.Tracer("image-processing-service/images"),
		logger:     deps.Logger,
		uploadDir:  uploadDir,
	}, nil
}

// LockKey names the lock serialising work on one record.
func LockKey(imageID int64) string {
	return "image:" + strconv.FormatInt(imageID, 10)
}

// Upload validates and stores a new image owned by userID. filename is the
// client's name for the file and only contributes its extension.
func (s *Service) Upload(ctx context.Context, userID int64, filename string, data []byte) (img domain.Image, err error) {
	ctx, span := s.tracer.Start(ctx, "images.upload")
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.Int("upload.bytes", len(data)))
	defer func() {
		s.metrics.observeUpload(err, len(data))
		endSpan(span, err)
	}()

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return domain.Image{}, apperr.Validation("file", "invalid file type, only image files are allowed")
	}

	decoded, format, err := codec.Decode(data)
	if err != nil {
		return domain.Image{}, err
	}

	ext := uploadExtension(filename, format)
	key, err := storage.CleanKey(path.Join(s.uploadDir, id.New()+"."+ext))
	if err != nil {
		return domain.Image{}, apperr.Storage("build upload key", err)
	}
	mime := strings.SplitN(detected.String(), ";", 2)[0]
	if err := s.backend.Write(ctx, key, data, mime); err != nil {
		return domain.Image{}, apperr.Storage("write upload", err)
	}

	bounds := decoded.Bounds()
	img, err = s.images.CreateImage(ctx, domain.Image{
		UserID: userID,
		URL:    key,
		Metadata: domain.ImageMetadata{
			ImageName:   path.Base(key),
			ImageFormat: mime,
			Extension:   format.String(),
			ImageSizeKB: pipeline.SizeKB(int64(len(data))),
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
		},
	})
	if err != nil {
		if rmErr := s.backend.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("key", key).Msg("remove upload after failed insert")
		}
		return domain.Image{}, storeError(err, "user not found", "create image record")
	}

	s.logger.Info().
		Int64("image_id", img.ID).
		Int64("user_id", userID).
		Str("key", key).
		Str("format", format.String()).
		Msg("image uploaded")
	s.notifier.Notify(ctx, webhook.EventImageUploaded, webhook.NewImageEvent(img))
	return img, nil
}

// uploadExtension keeps the client's extension when it names a known image
// format and otherwise uses the decoded format's.
func uploadExtension(filename string, decoded codec.Format) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(filename)), "."))
	if _, ok := codec.FromExtension(ext); ok {
		return ext
	}
	return decoded.Extension()
}

func (s *Service) Get(ctx context.Context, imageID int64) (domain.Image, error) {
	img, err := s.images.GetImage(ctx, imageID)
	if err != nil {
		return domain.Image{}, storeError(err, "image not found", "load image")
	}
	return img, nil
}

func (s *Service) List(ctx context.Context, q domain.ListQuery) ([]domain.Image, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	imgs, err := s.images.ListImages(ctx, q.Offset(), q.PageLimit)
	if err != nil {
		return nil, storeError(err, "image not found", "list images")
	}
	return imgs, nil
}

// Transform applies req to the image's stored file on behalf of userID and
// returns the updated record. The record lock is held from the first read
// to the final commit.
func (s *Service) Transform(ctx context.Context, userID, imageID int64, req domain.TransformRequest) (updated domain.Image, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "images.transform")
	span.SetAttributes(attribute.Int64("image.id", imageID), attribute.Int64("user.id", userID))
	defer func() {
		s.metrics.observeTransform(err, started)
		endSpan(span, err)
	}()

	unlock, err := s.locker.Lock(ctx, LockKey(imageID))
	if err != nil {
		return domain.Image{}, fmt.Errorf("lock image %d: %w", imageID, err)
	}
	defer unlock()

	rec, err := s.images.GetImage(ctx, imageID)
	if err != nil {
		return domain.Image{}, storeError(err, "image not found", "load image")
	}
	if rec.UserID != userID {
		return domain.Image{}, apperr.Forbidden("you are not authorized to modify this image")
	}

	plan, err := pipeline.Parse(req)
	if err != nil {
		return domain.Image{}, err
	}
	span.SetAttributes(attribute.StringSlice("pipeline.stages", stageNames(plan.Stages())))

	data, err := s.backend.Read(ctx, rec.URL)
	if err != nil {
		return domain.Image{}, apperr.Storage("read stored file "+rec.URL, err)
	}
	source, sourceFormat, err := codec.Decode(data)
	if err != nil {
		return domain.Image{}, err
	}

	rendered, compress, err := s.pipeline.Render(ctx, source, sourceFormat, plan)
	if err != nil {
		return domain.Image{}, err
	}

	result, err := s.reconciler.Reconcile(ctx, storage.ReconcileInput{
		OriginalKey: rec.URL,
		Image:       rendered.Image,
		Format:      rendered.Format,
		Compress:    compress,
	}, func(ctx context.Context, r storage.Reconciled) error {
		meta := pipeline.BuildMetadata(rec.Metadata, rendered, r.Size)
		img, err := s.images.UpdateImage(ctx, rec.ID, r.Key, meta)
		if err != nil {
			return storeError(err, "image not found", "update image record")
		}
		updated = img
		return nil
	})
	if err != nil {
		return domain.Image{}, err
	}
	if result.StaleKey != "" {
		s.scheduleCleanup(ctx, rec.ID, result.StaleKey)
	}

	s.logger.Info().
		Int64("image_id", rec.ID).
		Str("from", rec.URL).
		Str("to", result.Key).
		Str("format", rendered.Format.String()).
		Dur("elapsed", time.Since(started)).
		Msg("image transformed")
	s.notifier.Notify(ctx, webhook.EventImageTransformed, webhook.NewImageEvent(updated))
	return updated, nil
}

func (s *Service) scheduleCleanup(ctx context.Context, imageID int64, key string) {
	if s.cleanup == nil {
		s.metrics.staleFilesTotal.WithLabelValues("logged").Inc()
		s.logger.Warn().Int64("image_id", imageID).Str("key", key).Msg("stale file left in storage, cleanup queue disabled")
		return
	}

	info, err := s.cleanup.EnqueueRemoveStale(context.WithoutCancel(ctx), queue.RemoveStalePayload{
		ImageID:     imageID,
		Key:         key,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.metrics.staleFilesTotal.WithLabelValues("enqueue_failed").Inc()
		s.logger.Error().Err(err).Int64("image_id", imageID).Str("key", key).Msg("enqueue stale file cleanup")
		return
	}
	s.metrics.staleFilesTotal.WithLabelValues("enqueued").Inc()
	event := s.logger.Info().Int64("image_id", imageID).Str("key", key)
	if info != nil {
		event = event.Str("task_id", info.ID)
	}
	event.Msg("stale file cleanup enqueued")
}

func storeError(err error, notFound, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	if errors.Is(err, store.ErrBadPage) {
		return apperr.New(apperr.ErrValidation, "page is out of range", err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.New(apperr.ErrInternal, op, err)
}

func stageNames(stages []pipeline.Stage) []string {
	names := make([]string, len(stages))
	for i, stage := range stages {
		names[i] = string(stage)
	}
	return names
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
