package store

import (
	"context"
	"fmt"

	"github.com/patrickamowe/image-processing-service/internal/config"
)

func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DatabaseMemory:
		return NewMemoryStore(), nil
	case config.DatabasePostgres:
		pg, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
