package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/images"
	"github.com/patrickamowe/image-processing-service/internal/queue"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

type workerFixture struct {
	server  *Server
	store   *store.MemoryStore
	backend *storage.LocalBackend
	image   domain.Image
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	ctx := context.Background()

	backend, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	mem := store.NewMemoryStore()
	user, err := mem.CreateUser(ctx, "ada", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	img, err := mem.CreateImage(ctx, domain.Image{UserID: user.ID, URL: "uploads/a.jpg"})
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	for _, key := range []string{"uploads/a.jpg", "uploads/a.png"} {
		if err := backend.Write(ctx, key, []byte("x"), "application/octet-stream"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	s := &Server{
		logger:  zerolog.Nop(),
		images:  mem,
		backend: backend,
		locker:  storage.NewKeyedMutex(),
		metrics: newMetrics(),
		tracer:  otel.Tracer("worker-test"),
	}
	return &workerFixture{server: s, store: mem, backend: backend, image: img}
}

func removeStaleTask(t *testing.T, imageID int64, key string) *asynq.Task {
	t.Helper()
	task, err := queue.NewRemoveStaleTask(queue.RemoveStalePayload{ImageID: imageID, Key: key, RequestedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestRemoveStaleDeletesOldKey(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	if err := f.server.handleRemoveStale(ctx, removeStaleTask(t, f.image.ID, "uploads/a.png")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ok, _ := f.backend.Exists(ctx, "uploads/a.png"); ok {
		t.Fatal("stale key should be gone")
	}
	if ok, _ := f.backend.Exists(ctx, "uploads/a.jpg"); !ok {
		t.Fatal("live key must survive")
	}
	if v := counterValue(t, f.server.metrics.tasksTotal.WithLabelValues(outcomeRemoved)); v != 1 {
		t.Fatalf("expected removed metric 1, got %v", v)
	}
}

func TestRemoveStaleKeepsLiveKey(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	if err := f.server.handleRemoveStale(ctx, removeStaleTask(t, f.image.ID, "uploads/a.jpg")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ok, _ := f.backend.Exists(ctx, "uploads/a.jpg"); !ok {
		t.Fatal("live key was removed")
	}
	if v := counterValue(t, f.server.metrics.tasksTotal.WithLabelValues(outcomeSkippedLive)); v != 1 {
		t.Fatalf("expected skipped metric 1, got %v", v)
	}
}

func TestRemoveStaleForDeletedRecord(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	if err := f.server.handleRemoveStale(ctx, removeStaleTask(t, f.image.ID+10, "uploads/a.png")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ok, _ := f.backend.Exists(ctx, "uploads/a.png"); ok {
		t.Fatal("orphaned key should be removed")
	}
	if v := counterValue(t, f.server.metrics.tasksTotal.WithLabelValues(outcomeRemovedOrphan)); v != 1 {
		t.Fatalf("expected orphan metric 1, got %v", v)
	}
}

func TestRemoveStaleRejectsBadPayload(t *testing.T) {
	f := newWorkerFixture(t)

	body, _ := json.Marshal(map[string]any{"image_id": 0, "key": ""})
	err := f.server.handleRemoveStale(context.Background(), asynq.NewTask(queue.TypeRemoveStale, body))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRemoveStaleWaitsForRecordLock(t *testing.T) {
	f := newWorkerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	unlock, err := f.server.locker.Lock(context.Background(), images.LockKey(f.image.ID))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	err = f.server.handleRemoveStale(ctx, removeStaleTask(t, f.image.ID, "uploads/a.png"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while the record is locked, got %v", err)
	}
	if ok, _ := f.backend.Exists(context.Background(), "uploads/a.png"); !ok {
		t.Fatal("key removed without holding the lock")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
