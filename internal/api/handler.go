// Package api exposes the payment gateway's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mintforge/mintgate/internal/facilitator"
	"github.com/mintforge/mintgate/internal/nonce"
	"github.com/mintforge/mintgate/internal/payment"
	"github.com/mintforge/mintgate/internal/queue"
)

// Facilitator is the slice of the settlement client the handlers need.
type Facilitator interface {
	HasCredentials() bool
	Verify(ctx context.Context, paymentHeader string, reqs facilitator.Requirements) (*facilitator.VerifyResult, error)
	Settle(ctx context.Context, paymentHeader string, reqs facilitator.Requirements) (*facilitator.SettleResult, error)
}

// BalanceReader reads reward-token balances for payment status queries.
type BalanceReader interface {
	RewardBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Handler carries the dependencies of every route.
type Handler struct {
	verifier        *payment.Verifier
	nonces          *nonce.Ledger
	fac             Facilitator
	rdb             *redis.Client
	queue           *queue.Queue
	balances        BalanceReader
	facilitatorAddr common.Address
	network         string
	asset           string
	log             *zap.Logger
}

func NewHandler(
	verifier *payment.Verifier,
	nonces *nonce.Ledger,
	fac Facilitator,
	rdb *redis.Client,
	q *queue.Queue,
	balances BalanceReader,
	facilitatorAddr common.Address,
	chainID int64,
	asset string,
	log *zap.Logger,
) *Handler {
	return &Handler{
		verifier:        verifier,
		nonces:          nonces,
		fac:             fac,
		rdb:             rdb,
		queue:           q,
		balances:        balances,
		facilitatorAddr: facilitatorAddr,
		network:         networkName(chainID),
		asset:           asset,
		log:             log,
	}
}

func networkName(chainID int64) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	default:
		return fmt.Sprintf("eip155:%d", chainID)
	}
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// extractEnvelope pulls the payment envelope from the X-Payment header, or
// from the request body as a fallback for clients that cannot set headers.
// The raw base64 header is returned alongside, since the facilitator receives
// it verbatim.
func extractEnvelope(c *gin.Context) (*payment.Envelope, string, error) {
	if raw := c.GetHeader(payment.HeaderName); raw != "" {
		env, err := payment.DecodeHeader(raw)
		return env, raw, err
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		return nil, "", errMissingPayment
	}
	var env payment.Envelope
	if err := decodeEnvelopeBody(body, &env); err != nil {
		return nil, "", err
	}
	raw, err := payment.EncodeHeader(&env)
	if err != nil {
		return nil, "", err
	}
	return &env, raw, nil
}

var errMissingPayment = errors.New("missing payment payload")

// PostPay runs the full settlement gate: parse, local verify, facilitator
// identity check, nonce reservation, facilitator verify, settle, receipt.
func (h *Handler) PostPay(c *gin.Context) {
	ctx := c.Request.Context()

	env, rawHeader, err := extractEnvelope(c)
	if err != nil {
		if errors.Is(err, errMissingPayment) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "payment required",
				"required": payment.HeaderName + " header or JSON envelope body",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment payload", "detail": err.Error()})
		return
	}
	auth := &env.Payload.Authorization

	if !h.fac.HasCredentials() {
		h.log.Error("facilitator credentials not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing unavailable"})
		return
	}

	if res := h.verifier.Verify(auth); !res.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed", "reason": res.Reason})
		return
	}

	// The signed facilitator address must match this operator's identity.
	// It is never used as a destination, only checked.
	if auth.FacilitatorAddress != h.facilitatorAddr {
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "facilitator address mismatch",
			"expected": h.facilitatorAddr.Hex(),
			"actual":   auth.FacilitatorAddress.Hex(),
		})
		return
	}

	reserved, err := h.nonces.Reserve(ctx, auth.Nonce)
	if err != nil {
		h.log.Error("nonce reservation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !reserved {
		c.JSON(http.StatusForbidden, gin.H{"error": "nonce already used", "nonce": auth.Nonce})
		return
	}

	reqs := h.requirements(auth)

	if _, err := h.fac.Verify(ctx, rawHeader, reqs); err != nil {
		h.releaseNonce(ctx, auth.Nonce, "facilitator verify failed")
		var rej *facilitator.RejectionError
		if errors.As(err, &rej) {
			c.JSON(http.StatusForbidden, gin.H{"error": "payment verification rejected", "reason": rej.Reason})
			return
		}
		h.log.Error("facilitator verify unreachable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment facilitator unreachable"})
		return
	}

	settled, err := h.fac.Settle(ctx, rawHeader, reqs)
	if err != nil {
		var rej *facilitator.RejectionError
		if errors.As(err, &rej) {
			// Definitively not settled: free the nonce so the same signed
			// payload can be retried.
			h.releaseNonce(ctx, auth.Nonce, "settlement rejected")
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "settlement failed", "reason": rej.Reason})
			return
		}
		// Transport failure: the settle outcome is unknown, so the nonce
		// stays reserved. Releasing it here could allow a double spend.
		h.log.Error("settlement outcome unknown, nonce retained",
			zap.String("nonce", auth.Nonce),
			zap.String("payer", auth.PayerAddress.Hex()),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment facilitator unreachable"})
		return
	}

	receipt := payment.Receipt{
		Payer:     auth.PayerAddress.Hex(),
		ServiceID: auth.ServiceID,
		Amount:    auth.Amount,
		TxHash:    settled.TxHash,
		NetworkID: settled.NetworkID,
		Nonce:     auth.Nonce,
		SettledAt: time.Now().Unix(),
	}
	if err := payment.SaveReceipt(ctx, h.rdb, receipt); err != nil {
		// The payment settled; only the archive write failed. Surface loudly
		// but do not report failure to the payer.
		h.log.Error("settled payment receipt not archived",
			zap.String("payer", receipt.Payer),
			zap.String("serviceId", receipt.ServiceID),
			zap.String("txHash", receipt.TxHash),
			zap.Error(err))
	}

	h.log.Info("payment settled",
		zap.String("payer", receipt.Payer),
		zap.String("serviceId", receipt.ServiceID),
		zap.String("amount", receipt.Amount),
		zap.String("txHash", settled.TxHash))

	c.JSON(http.StatusOK, gin.H{
		"settlement": gin.H{
			"success":     true,
			"transaction": settled.TxHash,
			"network":     settled.NetworkID,
		},
		"transaction": gin.H{
			"payer":     receipt.Payer,
			"serviceId": receipt.ServiceID,
			"amount":    receipt.Amount,
			"settledAt": receipt.SettledAt,
		},
		"verification": gin.H{"valid": true, "payer": receipt.Payer},
		"security":     gin.H{"nonce": auth.Nonce, "nonceRecorded": true},
	})
}

func (h *Handler) requirements(auth *payment.Authorization) facilitator.Requirements {
	return facilitator.Requirements{
		Scheme:            payment.SupportedScheme,
		Network:           h.network,
		Asset:             h.asset,
		PayTo:             h.facilitatorAddr.Hex(),
		MaxAmountRequired: auth.Amount,
		MaxTimeoutSeconds: 300,
	}
}

// releaseNonce frees a reserved nonce on a failure path. Release failure
// leaves a nonce consumed with no settlement behind it, which must never go
// unnoticed.
func (h *Handler) releaseNonce(ctx context.Context, n, cause string) {
	if err := h.nonces.Release(ctx, n); err != nil {
		h.log.Error("nonce reserved but payment not settled and release failed",
			zap.String("nonce", n),
			zap.String("cause", cause),
			zap.Error(err))
	}
}

// GetPay reports whether a payer has settled for a service, plus their
// current reward balance.
func (h *Handler) GetPay(c *gin.Context) {
	serviceID := c.Query("serviceId")
	userAddress := c.Query("userAddress")
	if serviceID == "" || userAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "serviceId and userAddress are required",
			"required": []string{"serviceId", "userAddress"},
		})
		return
	}
	// HexToAddress would quietly map garbage onto the zero address.
	if !common.IsHexAddress(userAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userAddress is not a valid address"})
		return
	}

	ctx := c.Request.Context()
	receipt, err := payment.GetReceipt(ctx, h.rdb, userAddress, serviceID)
	if err != nil {
		h.log.Error("receipt lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := gin.H{"paid": receipt != nil}
	if receipt != nil {
		resp["receipt"] = gin.H{
			"serviceId": receipt.ServiceID,
			"amount":    receipt.Amount,
			"txHash":    receipt.TxHash,
			"network":   receipt.NetworkID,
			"settledAt": receipt.SettledAt,
			"consumed":  receipt.Consumed,
		}
	}
	if bal, err := h.balances.RewardBalance(ctx, common.HexToAddress(userAddress)); err == nil {
		resp["rewardBalance"] = bal.String()
	} else {
		h.log.Warn("reward balance read failed", zap.String("address", userAddress), zap.Error(err))
	}

	c.JSON(http.StatusOK, resp)
}

type mintRequest struct {
	UserAddress string `json:"userAddress" binding:"required"`
	ServiceID   string `json:"serviceId" binding:"required"`
	Artwork     string `json:"artwork"`
	ArtworkName string `json:"artworkName"`
}

// PostMint redeems a settled payment receipt and admits the mint into the
// queue. The receipt is consumed exactly once; if admission then fails, it
// is handed back.
func (h *Handler) PostMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userAddress and serviceId are required"})
		return
	}

	ctx := c.Request.Context()
	consumed, err := payment.ConsumeReceipt(ctx, h.rdb, req.UserAddress, req.ServiceID)
	if err != nil {
		h.log.Error("receipt consume failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !consumed {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "no unconsumed payment receipt for this service"})
		return
	}

	item, pos, err := h.queue.Enqueue(req.UserAddress, []byte(req.Artwork), req.ArtworkName)
	if err != nil {
		if rerr := payment.ReleaseReceipt(ctx, h.rdb, req.UserAddress, req.ServiceID); rerr != nil {
			h.log.Error("receipt consumed but enqueue failed and release failed",
				zap.String("payer", req.UserAddress), zap.Error(rerr))
		}
		switch {
		case errors.Is(err, queue.ErrDuplicatePending):
			c.JSON(http.StatusConflict, gin.H{"error": "a mint is already queued for this address"})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusConflict, gin.H{"error": "mint queue is full, try again later"})
		default:
			h.log.Error("enqueue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	proj := h.queue.Lookup(req.UserAddress)
	c.JSON(http.StatusOK, gin.H{
		"queued":          true,
		"itemId":          item.ID,
		"queuePosition":   pos,
		"estimatedTimeMs": proj.ETA.Milliseconds(),
	})
}

// GetQueue projects a payer's position, or their latest terminal outcome.
func (h *Handler) GetQueue(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	pos := h.queue.Lookup(address)
	if !pos.Found {
		c.JSON(http.StatusOK, gin.H{
			"status":  "not_found",
			"message": "no mint found for this address",
		})
		return
	}

	resp := gin.H{"status": pos.Status.String()}
	switch pos.Status {
	case queue.StatusPending:
		resp["position"] = pos.Position
		resp["aheadOfYou"] = pos.AheadOf
		resp["estimatedTimeMs"] = pos.ETA.Milliseconds()
		resp["message"] = fmt.Sprintf("queued at position %d", pos.Position)
	case queue.StatusProcessing:
		resp["estimatedTimeMs"] = pos.ETA.Milliseconds()
		resp["message"] = "your mint is being processed"
	case queue.StatusCompleted:
		resp["result"] = pos.Item.Result
		resp["message"] = "mint complete"
	case queue.StatusFailed, queue.StatusTimeout:
		resp["error"] = pos.Item.LastError
		resp["message"] = "mint failed"
	case queue.StatusCancelled:
		resp["message"] = "mint was cancelled"
	}
	c.JSON(http.StatusOK, resp)
}

// CancelQueue removes a payer's pending item. Items already processing
// cannot be withdrawn.
func (h *Handler) CancelQueue(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	if !h.queue.Cancel(address) {
		c.JSON(http.StatusConflict, gin.H{"error": "no cancellable pending mint for this address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func decodeEnvelopeBody(body []byte, env *payment.Envelope) error {
	if err := json.Unmarshal(body, env); err != nil {
		return fmt.Errorf("parse payment body: %w", err)
	}
	if env.X402Version != payment.SupportedVersion {
		return fmt.Errorf("unsupported x402 version %d", env.X402Version)
	}
	if env.Scheme != payment.SupportedScheme {
		return fmt.Errorf("unsupported payment scheme %q", env.Scheme)
	}
	if len(env.Payload.Authorization.Signature) == 0 {
		env.Payload.Authorization.Signature = env.Payload.Signature
	}
	return nil
}
