// Package ratelimit shields the webhook and admin endpoints from abusive
// callers. The provider retries aggressively on non-2xx responses, so the
// webhook limit must stay well above its redelivery rate.
package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Allower is the decision surface the middleware consumes.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// RedisLimiter enforces limits through a Redis-backed limiter store shared by
// all API replicas.
type RedisLimiter struct {
	store limiter.Store
}

// NewRedisLimiter wires a limiter store over the shared Redis client.
func NewRedisLimiter(client *redis.Client, prefix string) (*RedisLimiter, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{store: store}, nil
}

// Allow registers one hit for the key and reports whether it is within the
// window's budget.
func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if l == nil || l.store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	lctx, err := limiter.New(l.store, rate).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
