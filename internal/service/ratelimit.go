package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// redisRateLimiter is a fixed window counter: one key per (subject, window start).
type redisRateLimiter struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.Cmdable, prefix string) RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}

	now := l.now()
	start := now.Truncate(window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, start.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		return RateDecision{}, fmt.Errorf("incrementing rate counter: %w", err)
	}

	count := int(incr.Val())
	if count > limit {
		return RateDecision{RetryAfter: start.Add(window).Sub(now)}, nil
	}
	return RateDecision{Allowed: true, Remaining: limit - count}, nil
}
