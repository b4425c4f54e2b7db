package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
)

// RedisLocker is a Locker shared by every process talking to the same
// Redis. A lock expires after its TTL if the holder dies.
type RedisLocker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retry     time.Duration
	keyPrefix string
	logger    zerolog.Logger
	release   *redis.Script
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, keyPrefix string, logger zerolog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "imgsvc:lock"
	}

	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		retry:     defaultLockRetry,
		keyPrefix: keyPrefix,
		logger:    logger,
		release: redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`),
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("%s:%s", l.keyPrefix, key)
	token := uuid.NewString()

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if acquired {
			break
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(lockKey, key, token) })
	}, nil
}

func (l *RedisLocker) unlock(lockKey, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.release.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("release redis lock")
	}
}
