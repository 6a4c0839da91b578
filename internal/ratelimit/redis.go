// Package ratelimit implements a fixed-window request limiter on Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a named limit: at most Limit requests per key per Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Limiter counts requests in Redis with INCR on a key per window.
type Limiter struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// New returns a Limiter using client. Keys are namespaced under "sessionauth:rl".
func New(client redis.Cmdable) *Limiter {
	return &Limiter{client: client, prefix: "sessionauth:rl", now: time.Now}
}

// Allow records one request for key under rule. It reports whether the request is
// within the limit and, when it is not, how long until the window resets.
// On a Redis error it allows the request and returns the error for logging.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) (bool, time.Duration, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, 0, nil
	}
	now := l.now()
	window := now.UnixNano() / int64(rule.Window)
	redisKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, rule.Name, key, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rule.Window)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("ratelimit: %w", err)
	}
	if incr.Val() > int64(rule.Limit) {
		reset := time.Unix(0, (window+1)*int64(rule.Window))
		return false, reset.Sub(now), nil
	}
	return true, 0, nil
}

// Ping reports whether Redis is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
