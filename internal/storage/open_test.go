package storage

import (
	"context"
	"testing"

	"github.com/patrickamowe/image-processing-service/internal/config"
	"github.com/rs/zerolog"
)

func TestOpenLocal(t *testing.T) {
	backend, err := Open(context.Background(), config.StorageConfig{Backend: config.StorageLocal, LocalRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := backend.(*LocalBackend); !ok {
		t.Fatalf("expected *LocalBackend, got %T", backend)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.StorageConfig{Backend: "ftp"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenLocker(t *testing.T) {
	locker, err := OpenLocker(config.LockConfig{Backend: config.LockMemory}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("open memory locker: %v", err)
	}
	if _, ok := locker.(*KeyedMutex); !ok {
		t.Fatalf("expected *KeyedMutex, got %T", locker)
	}

	if _, err := OpenLocker(config.LockConfig{Backend: config.LockRedis}, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for redis locker without a client")
	}
	if _, err := OpenLocker(config.LockConfig{Backend: "etcd"}, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown lock backend")
	}
}
