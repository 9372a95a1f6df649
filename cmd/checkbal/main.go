package main

import (
	"context"
	"fmt"

	"github.com/mintforge/mintgate/internal/chain"
	"github.com/mintforge/mintgate/internal/config"
)

// Operator utility: prints the operator's reward-token balance and the NFT
// collection's total supply. Reads the same env/config as the gateway.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("config:", err)
		return
	}
	c, err := chain.NewClient(cfg)
	if err != nil {
		fmt.Println("chain:", err)
		return
	}

	ctx := context.Background()
	bal, err := c.RewardBalance(ctx, c.OperatorAddress())
	if err != nil {
		fmt.Println("balance:", err)
		return
	}
	supply, err := c.NFTTotalSupply(ctx)
	if err != nil {
		fmt.Println("supply:", err)
		return
	}

	fmt.Printf("operator:     %s\n", c.OperatorAddress().Hex())
	fmt.Printf("reward bal:   %s\n", bal)
	fmt.Printf("total supply: %s\n", supply)
}
