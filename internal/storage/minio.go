package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// MinioBackend keeps objects in an S3 compatible bucket.
type MinioBackend struct {
	minio  *minio.Client
	bucket string
}

func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioBackend{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (b *MinioBackend) Bucket() string {
	return b.bucket
}

func (b *MinioBackend) EnsureBucket(ctx context.Context) error {
	exists, err := b.minio.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := b.minio.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := b.minio.BucketExists(ctx, b.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}

func (b *MinioBackend) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.minio.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (b *MinioBackend) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.minio.PutObject(
		ctx,
		b.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (b *MinioBackend) Remove(ctx context.Context, key string) error {
	err := b.minio.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (b *MinioBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Size(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *MinioBackend) Size(ctx context.Context, key string) (int64, error) {
	info, err := b.minio.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return info.Size, nil
	}
	if isMinioNotFound(err) {
		return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return 0, fmt.Errorf("stat object %s: %w", key, err)
}
