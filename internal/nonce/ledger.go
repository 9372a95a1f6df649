// Package nonce records consumed one-time payment nonces to prevent replay.
package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetentionWindow is how long a consumed nonce stays unreplayable. It must be
// at least as long as the maximum payment deadline window, so an expired
// authorization can never be replayed inside its own validity period.
const RetentionWindow = 24 * time.Hour

const keyPrefix = "payment:nonce:"

// Ledger is a redis-backed nonce set. Reservation is a single SETNX, so the
// check and the write cannot race: at most one caller ever observes true for
// a given nonce value. Eviction is handled by the key TTL.
type Ledger struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewLedger(rdb *redis.Client) *Ledger {
	return &Ledger{rdb: rdb, retention: RetentionWindow}
}

// Reserve records the nonce iff it was not already present. Returns true on
// first reservation, false on replay. No mutation happens on the false path.
func (l *Ledger) Reserve(ctx context.Context, nonce string) (bool, error) {
	set, err := l.rdb.SetNX(ctx, keyPrefix+nonce, time.Now().Unix(), l.retention).Result()
	if err != nil {
		return false, fmt.Errorf("reserve nonce: %w", err)
	}
	return set, nil
}

// Release frees a reserved nonce so the same signed payload can be retried.
// Only called when settlement fails after reservation; a settled nonce is
// never released.
func (l *Ledger) Release(ctx context.Context, nonce string) error {
	if err := l.rdb.Del(ctx, keyPrefix+nonce).Err(); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// Consumed reports whether the nonce is currently recorded.
func (l *Ledger) Consumed(ctx context.Context, nonce string) (bool, error) {
	n, err := l.rdb.Exists(ctx, keyPrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return n > 0, nil
}
