package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// VendorLocker is a Redis lease lock serialising tool upserts across processes
type VendorLocker struct {
	rdb          redis.Cmdable
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewVendorLocker creates a lock whose leases expire after ttl if never released
func NewVendorLocker(rdb redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *VendorLocker {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &VendorLocker{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
		logger:       logger,
	}
}

// Lock blocks until the lease for key is acquired or ctx ends
func (l *VendorLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}

	return l.releaser(key, lockKey, token), nil
}

// TryLock makes a single attempt at the lease for key
func (l *VendorLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.releaser(key, lockKey, token), true, nil
}

func (l *VendorLocker) releaser(key, lockKey, token string) func() {
	return func() {
		// the caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("Failed to release vendor lock", zap.String("key", key), zap.Error(err))
		}
	}
}
