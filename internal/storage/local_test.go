package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	if err := backend.Write(ctx, "uploads/a.png", []byte("hello"), "image/png"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := backend.Read(ctx, "uploads/a.png")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("read %q", data)
	}
	size, err := backend.Size(ctx, "uploads/a.png")
	if err != nil || size != 5 {
		t.Fatalf("size = %d, %v", size, err)
	}
	exists, err := backend.Exists(ctx, "uploads/a.png")
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}

	if err := backend.Remove(ctx, "uploads/a.png"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := backend.Remove(ctx, "uploads/a.png"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := backend.Read(ctx, "uploads/a.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	exists, err = backend.Exists(ctx, "uploads/a.png")
	if err != nil || exists {
		t.Fatalf("exists after remove = %v, %v", exists, err)
	}
}

func TestLocalBackendLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := backend.Write(context.Background(), "a.png", []byte{byte(i)}, ""); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.png" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestLocalBackendRejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocalBackend(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	for _, key := range []string{"", "../outside.png", "/etc/passwd", "a/../../b.png", "."} {
		if err := backend.Write(context.Background(), key, []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "outside.png")); !os.IsNotExist(err) {
		t.Fatalf("file escaped the storage root")
	}
}

func TestReplaceExtension(t *testing.T) {
	cases := []struct {
		key, suffix, want string
	}{
		{"a.png", "jpg", "a.jpg"},
		{"uploads/x.y.png", ".gif", "uploads/x.y.gif"},
		{"uploads/noext", "png", "uploads/noext.png"},
		{"a.png", "png", "a.png"},
	}
	for _, tc := range cases {
		if got := ReplaceExtension(tc.key, tc.suffix); got != tc.want {
			t.Fatalf("ReplaceExtension(%q, %q) = %q, want %q", tc.key, tc.suffix, got, tc.want)
		}
	}
}
