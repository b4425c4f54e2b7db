package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/patrickamowe/image-processing-service/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	meta_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS images_user_id_idx ON images (user_id);
`

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (domain.User, error) {
	user := domain.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO users (username, password_hash, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		user.Username,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.queryUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username)
}

func (s *PostgresStore) queryUser(ctx context.Context, query string, arg any) (domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	metaJSON, err := json.Marshal(img.Metadata)
	if err != nil {
		return domain.Image{}, fmt.Errorf("marshal image metadata: %w", err)
	}

	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now
	err = s.db.QueryRowContext(
		ctx,
		`INSERT INTO images (user_id, url, meta_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		img.UserID,
		img.URL,
		metaJSON,
		img.CreatedAt,
		img.UpdatedAt,
	).Scan(&img.ID)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return domain.Image{}, ErrNotFound
		}
		return domain.Image{}, fmt.Errorf("insert image: %w", err)
	}
	return img, nil
}

const imageColumns = `id, user_id, url, meta_data, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (domain.Image, error) {
	var (
		img      domain.Image
		metaJSON []byte
	)
	if err := row.Scan(
		&img.ID,
		&img.UserID,
		&img.URL,
		&metaJSON,
		&img.CreatedAt,
		&img.UpdatedAt,
	); err != nil {
		return domain.Image{}, err
	}
	if err := json.Unmarshal(metaJSON, &img.Metadata); err != nil {
		return domain.Image{}, fmt.Errorf("unmarshal image metadata: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id int64) (domain.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(
		ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, ErrNotFound
	}
	if err != nil {
		return domain.Image{}, fmt.Errorf("query image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ListImages(ctx context.Context, offset, limit int) ([]domain.Image, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d, limit %d", ErrBadPage, offset, limit)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY id LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Image, 0, limit)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateImage(ctx context.Context, id int64, url string, meta domain.ImageMetadata) (domain.Image, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return domain.Image{}, fmt.Errorf("marshal image metadata: %w", err)
	}

	img, err := scanImage(s.db.QueryRowContext(
		ctx,
		`UPDATE images
		 SET url = $1, meta_data = $2, updated_at = $3
		 WHERE id = $4
		 RETURNING `+imageColumns,
		url,
		metaJSON,
		time.Now().UTC(),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, ErrNotFound
	}
	if err != nil {
		return domain.Image{}, fmt.Errorf("update image: %w", err)
	}
	return img, nil
}
