// Package chain wraps the on-chain side effects of a mint: reward transfer,
// reward burn, and the NFT mint itself.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mintforge/mintgate/internal/config"
)

// CallFailure wraps any failed chain interaction. Always retryable at the
// queue level: the node may be behind, the mempool congested, or the RPC
// endpoint flaky.
type CallFailure struct {
	Op  string
	Err error
}

func (e *CallFailure) Error() string { return fmt.Sprintf("chain %s: %v", e.Op, e.Err) }
func (e *CallFailure) Unwrap() error { return e.Err }

const erc20ABI = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"burn","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const nftABI = `[
	{"type":"function","name":"mintTo","inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

// transferTopic is the ERC-721 Transfer event signature hash.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client wraps go-ethereum with bound reward-token and NFT contracts.
type Client struct {
	eth          *ethclient.Client
	chainID      *big.Int
	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address
	rewardAddr   common.Address
	nftAddr      common.Address
	reward       *bind.BoundContract
	nft          *bind.BoundContract
}

func NewClient(cfg *config.Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	nft, err := abi.JSON(strings.NewReader(nftABI))
	if err != nil {
		return nil, fmt.Errorf("parse nft abi: %w", err)
	}

	rewardAddr := common.HexToAddress(cfg.Chain.RewardToken)
	nftAddr := common.HexToAddress(cfg.Chain.NFTContract)

	return &Client{
		eth:          eth,
		chainID:      big.NewInt(cfg.Chain.ChainID),
		operatorKey:  key,
		operatorAddr: crypto.PubkeyToAddress(key.PublicKey),
		rewardAddr:   rewardAddr,
		nftAddr:      nftAddr,
		reward:       bind.NewBoundContract(rewardAddr, erc20, eth, eth, eth),
		nft:          bind.NewBoundContract(nftAddr, nft, eth, eth, eth),
	}, nil
}

// OperatorAddress returns the address transactions are sent from.
func (c *Client) OperatorAddress() common.Address { return c.operatorAddr }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// transactOpts builds a *bind.TransactOpts signed by the operator key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.operatorKey, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

func (c *Client) transactAndWait(ctx context.Context, op string, contract *bind.BoundContract, method string, args ...any) (*types.Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, &CallFailure{Op: op, Err: err}
	}
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return nil, &CallFailure{Op: op, Err: err}
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, &CallFailure{Op: op, Err: err}
	}
	if receipt.Status == 0 {
		return nil, &CallFailure{Op: op, Err: fmt.Errorf("tx reverted: %s", tx.Hash().Hex())}
	}
	return receipt, nil
}

// TransferReward sends amount reward tokens from the operator to the payer.
func (c *Client) TransferReward(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	receipt, err := c.transactAndWait(ctx, "transfer reward", c.reward, "transfer", to, amount)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// BurnReward destroys amount reward tokens from the operator balance.
func (c *Client) BurnReward(ctx context.Context, amount *big.Int) (string, error) {
	receipt, err := c.transactAndWait(ctx, "burn reward", c.reward, "burn", amount)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// RewardBalance reads an address's reward-token balance.
func (c *Client) RewardBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := c.reward.Call(opts, &out, "balanceOf", addr); err != nil {
		return nil, &CallFailure{Op: "balanceOf", Err: err}
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, &CallFailure{Op: "balanceOf", Err: fmt.Errorf("unexpected return type %T", out[0])}
	}
	return bal, nil
}

// MintOutcome carries everything the executor needs from a confirmed mint.
type MintOutcome struct {
	TokenID   *big.Int
	TxHash    string
	BlockHash common.Hash
}

// MintNFT mints to the payer and extracts the token ID from the Transfer
// event in the receipt, rather than trusting any client-side guess.
func (c *Client) MintNFT(ctx context.Context, to common.Address, tokenURI string) (*MintOutcome, error) {
	receipt, err := c.transactAndWait(ctx, "mint nft", c.nft, "mintTo", to, tokenURI)
	if err != nil {
		return nil, err
	}

	tokenID, err := tokenIDFromReceipt(receipt, c.nftAddr)
	if err != nil {
		return nil, &CallFailure{Op: "mint nft", Err: err}
	}
	return &MintOutcome{
		TokenID:   tokenID,
		TxHash:    receipt.TxHash.Hex(),
		BlockHash: receipt.BlockHash,
	}, nil
}

// NFTTotalSupply reads the collection's current total supply.
func (c *Client) NFTTotalSupply(ctx context.Context) (*big.Int, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx}
	if err := c.nft.Call(opts, &out, "totalSupply"); err != nil {
		return nil, &CallFailure{Op: "totalSupply", Err: err}
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, &CallFailure{Op: "totalSupply", Err: fmt.Errorf("unexpected return type %T", out[0])}
	}
	return supply, nil
}

// tokenIDFromReceipt finds the ERC-721 Transfer log emitted by the NFT
// contract and reads the indexed tokenId topic.
func tokenIDFromReceipt(receipt *types.Receipt, nftAddr common.Address) (*big.Int, error) {
	for _, lg := range receipt.Logs {
		if lg.Address != nftAddr {
			continue
		}
		if len(lg.Topics) == 4 && lg.Topics[0] == transferTopic {
			return new(big.Int).SetBytes(lg.Topics[3].Bytes()), nil
		}
	}
	return nil, fmt.Errorf("no Transfer event in receipt %s", receipt.TxHash.Hex())
}
