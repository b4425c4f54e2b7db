package storage

import (
	"context"
	"fmt"

	"github.com/patrickamowe/image-processing-service/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open builds the backend selected by cfg and makes sure its bucket or
// container exists.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.StorageLocal:
		backend, err := NewLocalBackend(cfg.LocalRoot)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.StorageMinio:
		backend, err := NewMinioBackend(MinioConfig{
			Endpoint: cfg.Minio.Endpoint,
			Access:   cfg.Minio.AccessKey,
			Secret:   cfg.Minio.SecretKey,
			Bucket:   cfg.Minio.Bucket,
			UseSSL:   cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	case config.StorageAzure:
		backend, err := NewAzureBackend(AzureConfig{
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ServiceURL:       cfg.Azure.ServiceURL,
			ConnectionString: cfg.Azure.ConnectionString,
			Container:        cfg.Azure.Container,
		})
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureContainer(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// OpenLocker builds the record locker selected by cfg. client is only used
// by the redis backend.
func OpenLocker(cfg config.LockConfig, client redis.UniversalClient, logger zerolog.Logger) (Locker, error) {
	switch cfg.Backend {
	case config.LockMemory:
		return NewKeyedMutex(), nil
	case config.LockRedis:
		locker, err := NewRedisLocker(client, cfg.TTL, "", logger)
		if err != nil {
			return nil, err
		}
		return locker, nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.Backend)
	}
}
