package mint

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mintforge/mintgate/internal/chain"
	"github.com/mintforge/mintgate/internal/queue"
)

type fakeChain struct {
	transferCalls int
	burnCalls     int
	mintCalls     int

	transferErr error
	burnErr     error
	mintErr     error

	lastTransferTo     common.Address
	lastTransferAmount *big.Int
	lastBurnAmount     *big.Int
	lastTokenURI       string
}

func (f *fakeChain) TransferReward(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	f.transferCalls++
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.lastTransferTo = to
	f.lastTransferAmount = new(big.Int).Set(amount)
	return "0xsend", nil
}

func (f *fakeChain) BurnReward(ctx context.Context, amount *big.Int) (string, error) {
	f.burnCalls++
	if f.burnErr != nil {
		return "", f.burnErr
	}
	f.lastBurnAmount = new(big.Int).Set(amount)
	return "0xburn", nil
}

func (f *fakeChain) MintNFT(ctx context.Context, to common.Address, tokenURI string) (*chain.MintOutcome, error) {
	f.mintCalls++
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	f.lastTokenURI = tokenURI
	return &chain.MintOutcome{
		TokenID:   big.NewInt(42),
		TxHash:    "0xmint",
		BlockHash: common.HexToHash("0xbeef"),
	}, nil
}

type fakePinner struct {
	cids   map[string]string // by name
	err    error
	pinned []string
}

func (f *fakePinner) Pin(ctx context.Context, content []byte, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.pinned = append(f.pinned, name)
	if cid, ok := f.cids[name]; ok {
		return cid, nil
	}
	return "Qm" + name, nil
}

func testItem() *queue.Item {
	return &queue.Item{
		ID:          "item-0001",
		Payer:       "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Artwork:     []byte("<svg/>"),
		ArtworkName: "art.svg",
	}
}

func TestExecute_HappyPath(t *testing.T) {
	fc := &fakeChain{}
	fp := &fakePinner{cids: map[string]string{"art.svg": "QmArt", "art.svg.json": "QmMeta"}}
	ex := NewExecutor(fc, fp, big.NewInt(100), 10, zap.NewNop())

	res, err := ex.Execute(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.TokenID != "42" || res.TxHash != "0xmint" {
		t.Errorf("mint outcome: %+v", res)
	}
	if res.ContentCID != "QmArt" || res.MetadataCID != "QmMeta" {
		t.Errorf("cids: content=%s metadata=%s", res.ContentCID, res.MetadataCID)
	}
	if res.RewardSent != "90" || res.RewardBurned != "10" {
		t.Errorf("reward split: sent=%s burned=%s, want 90/10", res.RewardSent, res.RewardBurned)
	}
	if res.Rarity == "" {
		t.Error("rarity missing")
	}
	if fc.lastTokenURI != "ipfs://QmMeta" {
		t.Errorf("tokenURI: got %q", fc.lastTokenURI)
	}
	if fc.lastTransferTo != common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") {
		t.Errorf("reward recipient: got %s", fc.lastTransferTo)
	}
}

func TestExecute_ZeroBurnSkipsBurnCall(t *testing.T) {
	fc := &fakeChain{}
	ex := NewExecutor(fc, &fakePinner{}, big.NewInt(100), 0, zap.NewNop())

	res, err := ex.Execute(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fc.burnCalls != 0 {
		t.Errorf("burn calls: got %d, want 0", fc.burnCalls)
	}
	if res.RewardSent != "100" || res.RewardBurned != "0" {
		t.Errorf("reward split: sent=%s burned=%s, want 100/0", res.RewardSent, res.RewardBurned)
	}
}

func TestExecute_PinFailureStopsBeforeChain(t *testing.T) {
	fc := &fakeChain{}
	ex := NewExecutor(fc, &fakePinner{err: errors.New("all providers down")}, big.NewInt(100), 0, zap.NewNop())

	if _, err := ex.Execute(context.Background(), testItem()); err == nil {
		t.Fatal("expected pin error")
	}
	if fc.transferCalls != 0 || fc.mintCalls != 0 {
		t.Error("no chain calls may happen when pinning fails")
	}
}

// Mint fails after the reward landed: the retry must not pay the reward again.
func TestExecute_RetryDoesNotDoubleReward(t *testing.T) {
	fc := &fakeChain{mintErr: errors.New("rpc timeout")}
	ex := NewExecutor(fc, &fakePinner{}, big.NewInt(100), 10, zap.NewNop())
	item := testItem()

	if _, err := ex.Execute(context.Background(), item); err == nil {
		t.Fatal("expected mint error")
	}
	if fc.transferCalls != 1 || fc.burnCalls != 1 {
		t.Fatalf("first attempt: transfer=%d burn=%d, want 1 1", fc.transferCalls, fc.burnCalls)
	}

	fc.mintErr = nil
	res, err := ex.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fc.transferCalls != 1 || fc.burnCalls != 1 {
		t.Errorf("after retry: transfer=%d burn=%d, want still 1 1", fc.transferCalls, fc.burnCalls)
	}
	if res.RewardSent != "90" || res.RewardBurned != "10" {
		t.Errorf("recorded reward on retry: sent=%s burned=%s", res.RewardSent, res.RewardBurned)
	}
}

// Transfer landed, burn failed: the retry re-attempts only the burn.
func TestExecute_RetryResumesAtBurn(t *testing.T) {
	fc := &fakeChain{burnErr: errors.New("nonce too low")}
	ex := NewExecutor(fc, &fakePinner{}, big.NewInt(100), 10, zap.NewNop())
	item := testItem()

	if _, err := ex.Execute(context.Background(), item); err == nil {
		t.Fatal("expected burn error")
	}

	fc.burnErr = nil
	res, err := ex.Execute(context.Background(), item)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fc.transferCalls != 1 {
		t.Errorf("transfer calls: got %d, want 1", fc.transferCalls)
	}
	if fc.burnCalls != 2 {
		t.Errorf("burn calls: got %d, want 2", fc.burnCalls)
	}
	if res.RewardBurned != "10" {
		t.Errorf("burned: got %s, want 10", res.RewardBurned)
	}
}

// Once the queue abandons an item for good, its reward record is dropped:
// the map cannot grow under persistent chain failure, and a later unrelated
// run of the same ID would pay fresh rather than reuse stale state.
func TestForget_ReleasesRewardRecord(t *testing.T) {
	fc := &fakeChain{mintErr: errors.New("rpc unreachable")}
	ex := NewExecutor(fc, &fakePinner{}, big.NewInt(100), 0, zap.NewNop())
	item := testItem()

	if _, err := ex.Execute(context.Background(), item); err == nil {
		t.Fatal("expected mint error")
	}
	if fc.transferCalls != 1 {
		t.Fatalf("transfer calls: got %d, want 1", fc.transferCalls)
	}

	ex.Forget(item.ID)
	if len(ex.rewarded) != 0 {
		t.Errorf("reward records after Forget: got %d, want 0", len(ex.rewarded))
	}

	// A retry of that ID after Forget is a fresh payment, not a skip.
	fc.mintErr = nil
	if _, err := ex.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute after Forget: %v", err)
	}
	if fc.transferCalls != 2 {
		t.Errorf("transfer calls: got %d, want 2", fc.transferCalls)
	}
}

func TestForget_UnknownItemIsNoop(t *testing.T) {
	ex := NewExecutor(&fakeChain{}, &fakePinner{}, big.NewInt(100), 0, zap.NewNop())
	ex.Forget("never-seen")
	if len(ex.rewarded) != 0 {
		t.Errorf("reward records: got %d, want 0", len(ex.rewarded))
	}
}

// A completed item releases its reward record, so a fresh item from the same
// payer pays again.
func TestExecute_RecordClearedAfterSuccess(t *testing.T) {
	fc := &fakeChain{}
	ex := NewExecutor(fc, &fakePinner{}, big.NewInt(100), 0, zap.NewNop())

	if _, err := ex.Execute(context.Background(), testItem()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	next := testItem()
	next.ID = "item-0002"
	if _, err := ex.Execute(context.Background(), next); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fc.transferCalls != 2 {
		t.Errorf("transfer calls: got %d, want 2", fc.transferCalls)
	}
}

func TestBuildMetadata(t *testing.T) {
	raw, err := buildMetadata(testItem(), "QmArt")
	if err != nil {
		t.Fatalf("buildMetadata: %v", err)
	}
	var meta struct {
		Name      string `json:"name"`
		Image     string `json:"image"`
		ImageData string `json:"image_data"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if meta.Name != "art.svg" {
		t.Errorf("name: got %q", meta.Name)
	}
	if meta.Image != "ipfs://QmArt" {
		t.Errorf("image: got %q", meta.Image)
	}
	if !strings.HasPrefix(meta.ImageData, "data:image/svg+xml;base64,") {
		t.Errorf("image_data should be a data URI, got %q", meta.ImageData)
	}
}

func TestDeriveRarity(t *testing.T) {
	hash := common.HexToHash("0xbeef")

	first := DeriveRarity(big.NewInt(42), hash)
	if first != DeriveRarity(big.NewInt(42), hash) {
		t.Error("rarity must be deterministic for the same mint")
	}

	valid := map[string]bool{"common": true, "rare": true, "epic": true, "legendary": true}
	for i := int64(0); i < 50; i++ {
		r := DeriveRarity(big.NewInt(i), hash)
		if !valid[r] {
			t.Fatalf("unexpected rarity tier %q for token %d", r, i)
		}
	}
}
