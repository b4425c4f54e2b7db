package images

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/pixel"
	"github.com/patrickamowe/image-processing-service/internal/queue"
	"github.com/patrickamowe/image-processing-service/internal/storage"
	"github.com/patrickamowe/image-processing-service/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

type fixture struct {
	svc     *Service
	store   *store.MemoryStore
	backend storage.Backend
	root    string
	cleanup *recordingEnqueuer
	metrics *Metrics
	owner   domain.User
	other   domain.User
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.RemoveStalePayload
}

func (e *recordingEnqueuer) EnqueueRemoveStale(_ context.Context, payload queue.RemoveStalePayload) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type stickyBackend struct {
	storage.Backend
}

func (stickyBackend) Remove(context.Context, string) error {
	return errors.New("permission denied")
}

func newFixture(t *testing.T, wrap func(storage.Backend) storage.Backend) *fixture {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	local, err := storage.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	var backend storage.Backend = local
	if wrap != nil {
		backend = wrap(local)
	}

	typeface, err := pixel.DefaultFont()
	if err != nil {
		t.Fatalf("default font: %v", err)
	}

	mem := store.NewMemoryStore()
	owner, err := mem.CreateUser(ctx, "owner", "hash")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	other, err := mem.CreateUser(ctx, "other", "hash")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	cleanup := &recordingEnqueuer{}
	metrics := NewMetrics(nil)
	svc, err := NewService(Deps{
		Images:  mem,
		Backend: backend,
		Font:    typeface,
		Cleanup: cleanup,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return &fixture{svc: svc, store: mem, backend: local, root: root, cleanup: cleanup, metrics: metrics, owner: owner, other: other}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 120, A: 255})
		}
	}
	data, err := codec.EncodeBytes(img, codec.PNG, false)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return data
}

func transformRequest(t *testing.T, body string) domain.TransformRequest {
	t.Helper()
	var req domain.TransformRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return req
}

var uploadKey = regexp.MustCompile(`^uploads/[0-9a-f]{32}\.png$`)

func TestUploadStoresFileAndRecord(t *testing.T) {
	f := newFixture(t, nil)
	data := pngBytes(t, 40, 30)

	img, err := f.svc.Upload(context.Background(), f.owner.ID, "Holiday.PNG", data)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !uploadKey.MatchString(img.URL) {
		t.Fatalf("unexpected key %q", img.URL)
	}
	if img.UserID != f.owner.ID {
		t.Fatalf("expected owner %d, got %d", f.owner.ID, img.UserID)
	}

	want := domain.ImageMetadata{
		ImageName:   img.URL[len("uploads/"):],
		ImageFormat: "image/png",
		Extension:   "png",
		ImageSizeKB: img.Metadata.ImageSizeKB,
		Width:       40,
		Height:      30,
	}
	if img.Metadata != want {
		t.Fatalf("metadata = %+v, want %+v", img.Metadata, want)
	}

	stored, err := f.backend.Read(context.Background(), img.URL)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if len(stored) != len(data) {
		t.Fatalf("stored %d bytes, uploaded %d", len(stored), len(data))
	}
	if got := counterValue(t, f.metrics.uploadsTotal.WithLabelValues(outcomeOK)); got != 1 {
		t.Fatalf("expected one successful upload metric, got %v", got)
	}
}

func TestUploadFallsBackToDecodedExtension(t *testing.T) {
	f := newFixture(t, nil)

	img, err := f.svc.Upload(context.Background(), f.owner.ID, "no-extension", pngBytes(t, 4, 4))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !uploadKey.MatchString(img.URL) {
		t.Fatalf("expected png key, got %q", img.URL)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Upload(context.Background(), f.owner.ID, "notes.png", []byte("just some text, not pixels"))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	truncated := pngBytes(t, 8, 8)[:40]
	_, err = f.svc.Upload(context.Background(), f.owner.ID, "broken.png", truncated)
	if !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}

	imgs, err := f.store.ListImages(context.Background(), 0, 10)
	if err != nil || len(imgs) != 0 {
		t.Fatalf("expected no records, got %v, %v", imgs, err)
	}
}

func TestUploadRemovesFileWhenInsertFails(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Upload(context.Background(), 9999, "a.png", pngBytes(t, 4, 4))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(f.root, DefaultUploadDir))
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected upload to be removed, found %d files", len(entries))
	}
	if got := counterValue(t, f.metrics.uploadsTotal.WithLabelValues(string(apperr.ErrNotFound))); got != 1 {
		t.Fatalf("expected failed upload metric, got %v", got)
	}
}

func TestTransformChangesFormatAndRemovesOriginal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	uploaded, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 40, 30))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	updated, err := f.svc.Transform(ctx, f.owner.ID, uploaded.ID, transformRequest(t, `{"resize": {"width": 20, "height": 10}, "format": "jpeg"}`))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	wantKey := uploaded.URL[:len(uploaded.URL)-len("png")] + "jpg"
	if updated.URL != wantKey {
		t.Fatalf("expected key %q, got %q", wantKey, updated.URL)
	}
	if updated.Metadata.Extension != "jpeg" || updated.Metadata.ImageFormat != "image/jpeg" {
		t.Fatalf("unexpected format metadata %+v", updated.Metadata)
	}
	if updated.Metadata.Width != 20 || updated.Metadata.Height != 10 {
		t.Fatalf("expected 20x10, got %dx%d", updated.Metadata.Width, updated.Metadata.Height)
	}
	if updated.Metadata.ImageName != wantKey[len("uploads/"):] {
		t.Fatalf("unexpected image name %q", updated.Metadata.ImageName)
	}

	if ok, _ := f.backend.Exists(ctx, uploaded.URL); ok {
		t.Fatalf("original %s should be gone", uploaded.URL)
	}
	data, err := f.backend.Read(ctx, updated.URL)
	if err != nil {
		t.Fatalf("read new file: %v", err)
	}
	if _, format, err := codec.Decode(data); err != nil || format != codec.JPEG {
		t.Fatalf("expected jpeg on disk, got %q, %v", format, err)
	}

	stored, err := f.store.GetImage(ctx, uploaded.ID)
	if err != nil || stored.URL != updated.URL {
		t.Fatalf("record not updated: %+v, %v", stored, err)
	}
	if len(f.cleanup.payloads) != 0 {
		t.Fatalf("no cleanup expected, got %v", f.cleanup.payloads)
	}
}

func TestTransformInPlaceKeepsKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	uploaded, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 16, 16))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	updated, err := f.svc.Transform(ctx, f.owner.ID, uploaded.ID, transformRequest(t, `{"rotate": 90, "filters": {"grayscale": true}}`))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if updated.URL != uploaded.URL {
		t.Fatalf("expected in-place overwrite, key moved to %q", updated.URL)
	}
	if updated.Metadata.Extension != "png" {
		t.Fatalf("expected png metadata, got %+v", updated.Metadata)
	}
}

func TestTransformRejectsBeforeTouchingStorage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	uploaded, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 8, 8))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	before, _ := f.backend.Read(ctx, uploaded.URL)

	tests := []struct {
		name   string
		userID int64
		id     int64
		body   string
		kind   apperr.Kind
	}{
		{name: "missing image", userID: f.owner.ID, id: uploaded.ID + 100, body: `{"mirror": true}`, kind: apperr.ErrNotFound},
		{name: "not owner", userID: f.other.ID, id: uploaded.ID, body: `{"mirror": true}`, kind: apperr.ErrForbidden},
		{name: "bad resize", userID: f.owner.ID, id: uploaded.ID, body: `{"resize": {"width": -1, "height": 5}}`, kind: apperr.ErrValidation},
		{name: "unknown format", userID: f.owner.ID, id: uploaded.ID, body: `{"format": "xyz"}`, kind: apperr.ErrUnsupportedFormat},
		{name: "unknown key", userID: f.owner.ID, id: uploaded.ID, body: `{"blur": 3}`, kind: apperr.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Transform(ctx, tc.userID, tc.id, transformRequest(t, tc.body))
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}

	after, err := f.backend.Read(ctx, uploaded.URL)
	if err != nil || string(after) != string(before) {
		t.Fatalf("stored file changed after rejected transforms")
	}
	stored, _ := f.store.GetImage(ctx, uploaded.ID)
	if stored.Metadata != uploaded.Metadata {
		t.Fatalf("metadata changed after rejected transforms")
	}
}

func TestTransformEnqueuesStaleCleanup(t *testing.T) {
	f := newFixture(t, func(b storage.Backend) storage.Backend { return stickyBackend{Backend: b} })
	ctx := context.Background()
	uploaded, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 8, 8))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	updated, err := f.svc.Transform(ctx, f.owner.ID, uploaded.ID, transformRequest(t, `{"format": "gif"}`))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(f.cleanup.payloads) != 1 {
		t.Fatalf("expected one cleanup task, got %d", len(f.cleanup.payloads))
	}
	got := f.cleanup.payloads[0]
	if got.ImageID != uploaded.ID || got.Key != uploaded.URL {
		t.Fatalf("unexpected cleanup payload %+v", got)
	}
	if updated.Metadata.Extension != "gif" {
		t.Fatalf("expected gif metadata, got %+v", updated.Metadata)
	}
	if v := counterValue(t, f.metrics.staleFilesTotal.WithLabelValues("enqueued")); v != 1 {
		t.Fatalf("expected stale metric 1, got %v", v)
	}
}

func TestTransformSerialisesPerRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	uploaded, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 32, 32))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	var reqs []domain.TransformRequest
	for _, body := range []string{`{"format": "jpeg"}`, `{"format": "png"}`, `{"format": "gif"}`, `{"mirror": true}`} {
		reqs = append(reqs, transformRequest(t, body))
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(reqs))
	for _, req := range reqs {
		wg.Add(1)
		go func(req domain.TransformRequest) {
			defer wg.Done()
			_, err := f.svc.Transform(ctx, f.owner.ID, uploaded.ID, req)
			errs <- err
		}(req)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transform: %v", err)
		}
	}

	final, err := f.store.GetImage(ctx, uploaded.ID)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	stem := uploaded.URL[:len(uploaded.URL)-len("png")]
	for _, ext := range []string{"png", "jpg", "gif"} {
		key := stem + ext
		ok, err := f.backend.Exists(ctx, key)
		if err != nil {
			t.Fatalf("exists %s: %v", key, err)
		}
		if ok != (key == final.URL) {
			t.Fatalf("key %s exists=%v, live key is %s", key, ok, final.URL)
		}
	}
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Upload(ctx, f.owner.ID, "a.png", pngBytes(t, 4, 4)); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}

	page, err := f.svc.List(ctx, domain.ListQuery{PageNo: 2, PageLimit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected one image on page 2, got %d", len(page))
	}

	for _, q := range []domain.ListQuery{{PageNo: 0, PageLimit: 2}, {PageNo: math.MaxInt, PageLimit: 100}} {
		if _, err := f.svc.List(ctx, q); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", q, err)
		}
	}
}

func TestGetMissingImage(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Get(context.Background(), 42); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
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
