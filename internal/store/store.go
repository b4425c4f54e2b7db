package store

import (
	"context"
	"errors"

	"github.com/patrickamowe/image-processing-service/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrBadPage  = errors.New("invalid page window")
)

type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
}

type ImageStore interface {
	// CreateImage assigns the ID and timestamps of img.
	CreateImage(ctx context.Context, img domain.Image) (domain.Image, error)
	GetImage(ctx context.Context, id int64) (domain.Image, error)
	// ListImages pages through all images in ID order.
	ListImages(ctx context.Context, offset, limit int) ([]domain.Image, error)
	// UpdateImage replaces the file key and metadata of an image.
	UpdateImage(ctx context.Context, id int64, url string, meta domain.ImageMetadata) (domain.Image, error)
}

type Store interface {
	UserStore
	ImageStore
	Close() error
}
