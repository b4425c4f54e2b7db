package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/domain"
)

type MemoryStore struct {
	mu         sync.RWMutex
	users      map[int64]domain.User
	usernames  map[string]int64
	images     map[int64]domain.Image
	nextUserID int64
	nextImage  int64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]domain.User),
		usernames: make(map[string]int64),
		images:    make(map[int64]domain.Image),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[username]; taken {
		return domain.User{}, ErrConflict
	}
	s.nextUserID++
	user := domain.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[user.ID] = user
	s.usernames[username] = user.ID
	return user, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) CreateImage(_ context.Context, img domain.Image) (domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[img.UserID]; !ok {
		return domain.Image{}, ErrNotFound
	}
	s.nextImage++
	now := s.now()
	img.ID = s.nextImage
	img.CreatedAt = now
	img.UpdatedAt = now
	s.images[img.ID] = img
	return img, nil
}

func (s *MemoryStore) GetImage(_ context.Context, id int64) (domain.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return domain.Image{}, ErrNotFound
	}
	return img, nil
}

func (s *MemoryStore) ListImages(_ context.Context, offset, limit int) ([]domain.Image, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: offset %d, limit %d", ErrBadPage, offset, limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Image, 0, limit)
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, s.images[ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) UpdateImage(_ context.Context, id int64, url string, meta domain.ImageMetadata) (domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, ok := s.images[id]
	if !ok {
		return domain.Image{}, ErrNotFound
	}
	img.URL = url
	img.Metadata = meta
	img.UpdatedAt = s.now()
	s.images[id] = img
	return img, nil
}
