package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "flashbid:ratelimit:"

// RedisLimiter stores last-accepted-bid markers as TTL keys in Redis, giving
// every ledger instance the same view of the window.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, window: window}
}

func (l *RedisLimiter) Remaining(ctx context.Context, bidderID string) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, redisKeyPrefix+bidderID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit key: %w", err)
	}
	// PTTL reports a negative duration when the key is missing or unexpiring.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) MarkAccepted(ctx context.Context, bidderID string) error {
	if err := l.client.Set(ctx, redisKeyPrefix+bidderID, 1, l.window).Err(); err != nil {
		return fmt.Errorf("failed to set rate limit key: %w", err)
	}
	return nil
}
