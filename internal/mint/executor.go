// Package mint turns a queue item into on-chain effects: pinned content,
// a reward transfer, an optional burn, and the NFT mint itself.
package mint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/mintforge/mintgate/internal/chain"
	"github.com/mintforge/mintgate/internal/queue"
)

// ChainClient is the slice of the chain client the executor needs.
type ChainClient interface {
	TransferReward(ctx context.Context, to common.Address, amount *big.Int) (string, error)
	BurnReward(ctx context.Context, amount *big.Int) (string, error)
	MintNFT(ctx context.Context, to common.Address, tokenURI string) (*chain.MintOutcome, error)
}

// Pinner pins a blob and returns its CID.
type Pinner interface {
	Pin(ctx context.Context, content []byte, name string) (string, error)
}

// rewardRecord remembers a reward already paid for an item, so a retry after
// a later mint failure does not pay twice.
type rewardRecord struct {
	sent   *big.Int
	burned *big.Int
	sendTx string
	burnTx string
}

// Executor runs one mint end to end. It satisfies queue.Executor.
type Executor struct {
	chain       ChainClient
	pinner      Pinner
	reward      *big.Int
	burnPercent int64
	log         *zap.Logger

	mu       sync.Mutex
	rewarded map[string]*rewardRecord // by item ID
}

func NewExecutor(cc ChainClient, pinner Pinner, reward *big.Int, burnPercent int64, log *zap.Logger) *Executor {
	return &Executor{
		chain:       cc,
		pinner:      pinner,
		reward:      reward,
		burnPercent: burnPercent,
		log:         log,
		rewarded:    make(map[string]*rewardRecord),
	}
}

// splitReward divides the configured reward into the payer's share and the
// burned share. burnPercent of 0 burns nothing.
func (e *Executor) splitReward() (send, burn *big.Int) {
	burn = new(big.Int).Mul(e.reward, big.NewInt(e.burnPercent))
	burn.Div(burn, big.NewInt(100))
	send = new(big.Int).Sub(e.reward, burn)
	return send, burn
}

func (e *Executor) Execute(ctx context.Context, item *queue.Item) (*queue.Result, error) {
	payer := common.HexToAddress(item.Payer)

	contentCID, err := e.pinner.Pin(ctx, item.Artwork, item.ArtworkName)
	if err != nil {
		return nil, fmt.Errorf("pin artwork: %w", err)
	}

	metadata, err := buildMetadata(item, contentCID)
	if err != nil {
		return nil, fmt.Errorf("build metadata: %w", err)
	}
	metadataCID, err := e.pinner.Pin(ctx, metadata, item.ArtworkName+".json")
	if err != nil {
		return nil, fmt.Errorf("pin metadata: %w", err)
	}

	record, err := e.payReward(ctx, item.ID, payer)
	if err != nil {
		return nil, err
	}

	outcome, err := e.chain.MintNFT(ctx, payer, "ipfs://"+metadataCID)
	if err != nil {
		return nil, fmt.Errorf("mint nft: %w", err)
	}

	e.mu.Lock()
	delete(e.rewarded, item.ID)
	e.mu.Unlock()

	rarity := DeriveRarity(outcome.TokenID, outcome.BlockHash)
	e.log.Info("mint executed",
		zap.String("itemId", item.ID),
		zap.String("payer", item.Payer),
		zap.String("tokenId", outcome.TokenID.String()),
		zap.String("rarity", rarity),
		zap.String("txHash", outcome.TxHash))

	return &queue.Result{
		TokenID:      outcome.TokenID.String(),
		TxHash:       outcome.TxHash,
		ContentCID:   contentCID,
		MetadataCID:  metadataCID,
		RewardSent:   record.sent.String(),
		RewardBurned: record.burned.String(),
		Rarity:       rarity,
	}, nil
}

// Forget drops the reward record for an item the queue will never run again.
// A record still present at that point means tokens moved for a mint that
// never completed; that partial payment is surfaced, never dropped silently.
func (e *Executor) Forget(itemID string) {
	e.mu.Lock()
	rec, ok := e.rewarded[itemID]
	if ok {
		delete(e.rewarded, itemID)
	}
	e.mu.Unlock()

	if ok {
		e.log.Error("reward paid but mint never completed",
			zap.String("itemId", itemID),
			zap.String("rewardSent", rec.sent.String()),
			zap.String("rewardBurned", rec.burned.String()),
			zap.String("transferTx", rec.sendTx))
	}
}

// payReward transfers the payer's share and burns the rest, once per item.
// A retried item whose reward already settled skips the parts that landed.
func (e *Executor) payReward(ctx context.Context, itemID string, payer common.Address) (*rewardRecord, error) {
	send, burn := e.splitReward()

	e.mu.Lock()
	rec, ok := e.rewarded[itemID]
	e.mu.Unlock()

	if !ok {
		sendTx, err := e.chain.TransferReward(ctx, payer, send)
		if err != nil {
			return nil, fmt.Errorf("transfer reward: %w", err)
		}
		rec = &rewardRecord{sent: send, burned: big.NewInt(0), sendTx: sendTx}
		e.mu.Lock()
		e.rewarded[itemID] = rec
		e.mu.Unlock()
	} else {
		e.log.Info("reward already paid for item, skipping transfer",
			zap.String("itemId", itemID))
	}

	if burn.Sign() > 0 && rec.burnTx == "" {
		burnTx, err := e.chain.BurnReward(ctx, burn)
		if err != nil {
			return nil, fmt.Errorf("burn reward: %w", err)
		}
		rec.burnTx = burnTx
		rec.burned = burn
	}
	return rec, nil
}

// buildMetadata assembles ERC-721 token metadata. The artwork rides along as
// a data URI so the token renders even if the content pin lapses.
func buildMetadata(item *queue.Item, contentCID string) ([]byte, error) {
	name := item.ArtworkName
	if name == "" {
		name = "Mintgate #" + item.ID[:8]
	}
	meta := map[string]any{
		"name":        name,
		"description": "Minted through the mintgate payment gateway.",
		"image":       "ipfs://" + contentCID,
		"image_data":  "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(item.Artwork),
		"attributes": []map[string]any{
			{"trait_type": "Minted At", "value": time.Now().UTC().Format(time.RFC3339)},
		},
	}
	return json.Marshal(meta)
}

var rarityTiers = []struct {
	ceiling int64
	name    string
}{
	{60, "common"},
	{85, "rare"},
	{95, "epic"},
	{100, "legendary"},
}

// DeriveRarity maps a mint deterministically onto a rarity tier. The block
// hash keeps it unpredictable at signing time; the token ID keeps it stable
// for re-reads.
func DeriveRarity(tokenID *big.Int, blockHash common.Hash) string {
	digest := crypto.Keccak256(tokenID.Bytes(), blockHash.Bytes())
	roll := new(big.Int).Mod(new(big.Int).SetBytes(digest), big.NewInt(100)).Int64()
	for _, tier := range rarityTiers {
		if roll < tier.ceiling {
			return tier.name
		}
	}
	return "common"
}
