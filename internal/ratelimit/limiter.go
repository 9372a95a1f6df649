// Package ratelimit provides fixed-window request admission control.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Decision reports whether a request is admitted and, when denied, how long
// the caller should wait before retrying.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows backed by redis. The
// counter and its expiry live in redis, so concurrent handlers on any number
// of connections share one view. Expired windows evict via TTL.
type Limiter struct {
	rdb     *redis.Client
	ceiling int64
	window  time.Duration
}

func NewLimiter(rdb *redis.Client, ceiling int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, ceiling: ceiling, window: window}
}

// Admit increments the key's window counter and admits the request while the
// count stays at or below the ceiling. The INCR+EXPIRE pair runs pipelined so
// a fresh window always carries its expiry.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	rkey := keyPrefix + key

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rkey)
		pipe.ExpireNX(ctx, rkey, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}

	count := incr.Val()
	if count <= l.ceiling {
		return Decision{Allowed: true, Remaining: l.ceiling - count}, nil
	}

	ttl, err := l.rdb.PTTL(ctx, rkey).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}
