// Package pin persists content to IPFS through an ordered chain of pinning
// providers.
package pin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider pins a named blob and returns its content identifier.
type Provider interface {
	Name() string
	Pin(ctx context.Context, content []byte, name string) (cid string, err error)
}

// ErrExhausted means every configured provider failed (or none were
// configured). Retryable at the queue level.
var ErrExhausted = errors.New("no pinning provider available")

// Chain tries providers strictly in priority order and returns the first
// success. Order is deliberate: cheap local node first, metered services
// last, and no parallel racing that would double-bill. Each attempt gets its
// own timeout so one slow provider cannot eat the whole request budget.
type Chain struct {
	providers        []Provider
	perAttempt       time.Duration
	allowPlaceholder bool
	log              *zap.Logger
}

func NewChain(providers []Provider, perAttempt time.Duration, allowPlaceholder bool, log *zap.Logger) *Chain {
	if perAttempt == 0 {
		perAttempt = 20 * time.Second
	}
	return &Chain{
		providers:        providers,
		perAttempt:       perAttempt,
		allowPlaceholder: allowPlaceholder,
		log:              log,
	}
}

// Pin walks the provider list until one succeeds. With no provider left and
// placeholders allowed (non-production only), a clearly-marked deterministic
// identifier is returned instead of an error.
func (c *Chain) Pin(ctx context.Context, content []byte, name string) (string, error) {
	for _, p := range c.providers {
		attemptCtx, cancel := context.WithTimeout(ctx, c.perAttempt)
		cid, err := p.Pin(attemptCtx, content, name)
		cancel()
		if err == nil {
			c.log.Info("content pinned",
				zap.String("provider", p.Name()),
				zap.String("name", name),
				zap.String("cid", cid),
			)
			return cid, nil
		}
		c.log.Warn("pin attempt failed",
			zap.String("provider", p.Name()),
			zap.String("name", name),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return "", fmt.Errorf("pin %s: %w", name, ctx.Err())
		}
	}

	if c.allowPlaceholder {
		cid := PlaceholderCID(content)
		c.log.Warn("all providers failed, using placeholder CID",
			zap.String("name", name),
			zap.String("cid", cid),
		)
		return cid, nil
	}
	return "", fmt.Errorf("pin %s: %w", name, ErrExhausted)
}

// PlaceholderCID derives a deterministic, clearly-non-IPFS identifier from the
// content. Only ever used when placeholders are explicitly enabled.
func PlaceholderCID(content []byte) string {
	sum := sha256.Sum256(content)
	return "placeholder-" + hex.EncodeToString(sum[:8])
}
