package cache

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "order:status:"

// RedisCache holds the last known status per tracking code.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) SetStatus(ctx context.Context, trackingCode string, status domain.Status) error {
	return r.rdb.Set(ctx, statusKeyPrefix+trackingCode, string(status), r.ttl).Err()
}

// WarmStatus seeds the status only when nothing is cached yet, so a late
// or redelivered event cannot roll back a newer status.
func (r *RedisCache) WarmStatus(ctx context.Context, trackingCode string, status domain.Status) (bool, error) {
	return r.rdb.SetNX(ctx, statusKeyPrefix+trackingCode, string(status), r.ttl).Result()
}

func (r *RedisCache) GetStatus(ctx context.Context, trackingCode string) (domain.Status, bool, error) {
	val, err := r.rdb.Get(ctx, statusKeyPrefix+trackingCode).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := domain.ParseStatus(val)
	if err != nil {
		// stale or foreign value; treat as a miss
		return "", false, nil
	}
	return st, true, nil
}

var _ usecase.OrderCache = (*RedisCache)(nil)
