// Package redis implements the cross-process run lock on top of Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/realtime-news-indexer/internal/news"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Locker hands out SET NX PX leases.
type Locker struct {
	rdb *redis.Client
}

// New creates a Locker from a URL such as redis://:pass@host:6379/0 and
// pings the server.
func New(ctx context.Context, redisURL string) (*Locker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Locker{rdb: rdb}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// TryLock acquires key for ttl. It returns news.ErrLocked when another holder
// owns the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := l.rdb.SetNX(ctx, key, token.String(), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("set lock %s: %w", key, err)
	}
	if !ok {
		return nil, news.ErrLocked
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token.String()).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.rdb.Close()
}
