// Package ratelimit throttles cart API callers with a redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key inside a rolling window backed by a sorted set.
type Limiter struct {
	R      *redis.Client
	Prefix string
}

// Allow records one event for key and reports whether the caller is still
// under max for the window. retryAfter is how long until the oldest counted
// event falls out of the window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int64) (allowed bool, remaining int64, retryAfter time.Duration, err error) {
	if l.R == nil {
		return false, 0, 0, fmt.Errorf("ratelimit: redis client not configured")
	}
	if window <= 0 || max <= 0 {
		return true, max, 0, nil
	}

	prefix := l.Prefix
	if prefix == "" {
		prefix = "rl:"
	}
	redisKey := prefix + key
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := l.R.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: fmt.Sprintf("%d", now.UnixNano())})
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("ratelimit: %w", err)
	}

	count := countCmd.Val()
	remaining = max - count
	if remaining < 0 {
		remaining = 0
	}
	if count <= max {
		return true, remaining, 0, nil
	}

	retryAfter = window
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		retryAfter = window - now.Sub(oldestAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return false, 0, retryAfter, nil
}
