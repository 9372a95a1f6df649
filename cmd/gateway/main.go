package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mintforge/mintgate/internal/api"
	"github.com/mintforge/mintgate/internal/chain"
	"github.com/mintforge/mintgate/internal/config"
	"github.com/mintforge/mintgate/internal/facilitator"
	"github.com/mintforge/mintgate/internal/mint"
	"github.com/mintforge/mintgate/internal/nonce"
	"github.com/mintforge/mintgate/internal/payment"
	"github.com/mintforge/mintgate/internal/pin"
	"github.com/mintforge/mintgate/internal/queue"
	"github.com/mintforge/mintgate/internal/ratelimit"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain client (operator key + ABI bindings) ────────────────────────────
	onchain, err := chain.NewClient(cfg)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	log.Info("chain client ready",
		zap.String("operator", onchain.OperatorAddress().Hex()),
		zap.Int64("chainId", cfg.Chain.ChainID))

	// ── Payment verification ──────────────────────────────────────────────────
	verifier, err := payment.NewVerifier(
		cfg.Payment.MaxAmount,
		cfg.Chain.ChainID,
		common.HexToAddress(cfg.Chain.VerifyingContract),
	)
	if err != nil {
		log.Fatal("invalid PAYMENT_MAX_AMOUNT", zap.Error(err))
	}
	nonces := nonce.NewLedger(rdb)

	// ── Facilitator ───────────────────────────────────────────────────────────
	fac := facilitator.NewClient(
		cfg.Facilitator.BaseURL,
		cfg.Facilitator.APIKey,
		time.Duration(cfg.Facilitator.TimeoutSec)*time.Second,
	)
	if !fac.HasCredentials() {
		log.Warn("facilitator API key not set, settlement requests will be refused")
	}

	// ── Pinning chain, strict priority order ──────────────────────────────────
	var providers []pin.Provider
	if cfg.Pinning.NodeURL != "" {
		providers = append(providers, pin.NewNodeProvider(cfg.Pinning.NodeURL))
	}
	if cfg.Pinning.Web3StorageToken != "" {
		providers = append(providers, pin.NewWeb3StorageProvider(cfg.Pinning.Web3StorageToken))
	}
	if cfg.Pinning.PinataJWT != "" {
		providers = append(providers, pin.NewPinataProvider(cfg.Pinning.PinataJWT))
	}
	pinner := pin.NewChain(
		providers,
		time.Duration(cfg.Pinning.ProviderTimeoutSec)*time.Second,
		cfg.Pinning.AllowPlaceholder,
		log,
	)
	log.Info("pinning chain ready",
		zap.Int("providers", len(providers)),
		zap.Bool("allowPlaceholder", cfg.Pinning.AllowPlaceholder))

	// ── Mint queue ────────────────────────────────────────────────────────────
	rewardAmount, ok := new(big.Int).SetString(cfg.Reward.Amount, 10)
	if !ok {
		log.Fatal("invalid REWARD_AMOUNT", zap.String("value", cfg.Reward.Amount))
	}
	executor := mint.NewExecutor(onchain, pinner, rewardAmount, cfg.Reward.BurnPercent, log)
	q := queue.New(executor, queue.Options{
		MaxSize:     cfg.Queue.MaxSize,
		Tick:        time.Duration(cfg.Queue.TickIntervalMs) * time.Millisecond,
		ItemTimeout: time.Duration(cfg.Queue.ItemTimeoutSec) * time.Second,
		MaxRetries:  cfg.Queue.MaxRetries,
		TerminalTTL: time.Duration(cfg.Queue.TerminalTTLSec) * time.Second,
	}, log)
	q.Start()

	go archiveResults(ctx, rdb, q.Events(), log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit.Ceiling,
		time.Duration(cfg.RateLimit.WindowSec)*time.Second)

	handler := api.NewHandler(
		verifier, nonces, fac, rdb, q, onchain,
		common.HexToAddress(cfg.Facilitator.Address),
		cfg.Chain.ChainID,
		cfg.Payment.Asset,
		log,
	)
	router := api.NewRouter(handler, ratelimit.Middleware(limiter, log))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()
	q.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// archiveResults writes every terminal mint outcome to redis so completed
// mints survive a restart and stay queryable after the in-memory retention
// window lapses.
func archiveResults(ctx context.Context, rdb *redis.Client, events <-chan queue.Event, log *zap.Logger) {
	const archiveTTL = 30 * 24 * time.Hour

	for {
		select {
		case ev := <-events:
			item := ev.Item
			key := "mint:archive:" + item.Payer
			fields := []any{
				"item_id", item.ID,
				"status", item.Status.String(),
				"retry_count", item.RetryCount,
				"completed_at", item.CompletedAt.Unix(),
				"last_error", item.LastError,
			}
			if item.Result != nil {
				fields = append(fields,
					"token_id", item.Result.TokenID,
					"tx_hash", item.Result.TxHash,
					"content_cid", item.Result.ContentCID,
					"metadata_cid", item.Result.MetadataCID,
					"reward_sent", item.Result.RewardSent,
					"reward_burned", item.Result.RewardBurned,
					"rarity", item.Result.Rarity,
				)
			}
			if err := rdb.HSet(ctx, key, fields...).Err(); err != nil {
				log.Error("mint archive write failed",
					zap.String("itemId", item.ID), zap.Error(err))
				continue
			}
			rdb.Expire(ctx, key, archiveTTL) //nolint:errcheck
			log.Info("mint outcome archived",
				zap.String("itemId", item.ID),
				zap.String("payer", item.Payer),
				zap.String("status", item.Status.String()))
		case <-ctx.Done():
			return
		}
	}
}
