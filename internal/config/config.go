package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Facilitator FacilitatorConfig
	Chain       ChainConfig
	Reward      RewardConfig
	Queue       QueueConfig
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Pinning     PinningConfig
	Payment     PaymentConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type FacilitatorConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Address    string `mapstructure:"address"`
	TimeoutSec int64  `mapstructure:"timeout_sec"`
}

type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	ChainID           int64  `mapstructure:"chain_id"`
	OperatorKey       string `mapstructure:"operator_key"`
	NFTContract       string `mapstructure:"nft_contract"`
	RewardToken       string `mapstructure:"reward_token"`
	VerifyingContract string `mapstructure:"verifying_contract"`
}

type RewardConfig struct {
	Amount      string `mapstructure:"amount"`
	BurnPercent int64  `mapstructure:"burn_percent"`
}

type QueueConfig struct {
	MaxSize        int   `mapstructure:"max_size"`
	TickIntervalMs int64 `mapstructure:"tick_interval_ms"`
	ItemTimeoutSec int64 `mapstructure:"item_timeout_sec"`
	MaxRetries     int   `mapstructure:"max_retries"`
	TerminalTTLSec int64 `mapstructure:"terminal_ttl_sec"`
}

type RateLimitConfig struct {
	Ceiling   int64 `mapstructure:"ceiling"`
	WindowSec int64 `mapstructure:"window_sec"`
}

type PinningConfig struct {
	NodeURL            string `mapstructure:"node_url"`
	Web3StorageToken   string `mapstructure:"web3_storage_token"`
	PinataJWT          string `mapstructure:"pinata_jwt"`
	ProviderTimeoutSec int64  `mapstructure:"provider_timeout_sec"`
	AllowPlaceholder   bool   `mapstructure:"allow_placeholder"`
}

type PaymentConfig struct {
	MaxAmount string `mapstructure:"max_amount"`
	Asset     string `mapstructure:"asset"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("facilitator.timeout_sec", 30)
	v.SetDefault("reward.amount", "1000000000000000000")
	v.SetDefault("reward.burn_percent", 0)
	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.tick_interval_ms", 5000)
	v.SetDefault("queue.item_timeout_sec", 120)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.terminal_ttl_sec", 600)
	v.SetDefault("ratelimit.ceiling", 10)
	v.SetDefault("ratelimit.window_sec", 60)
	v.SetDefault("pinning.provider_timeout_sec", 20)
	v.SetDefault("pinning.allow_placeholder", false)
	v.SetDefault("payment.max_amount", "10")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                  "PORT",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"facilitator.base_url":         "FACILITATOR_URL",
		"facilitator.api_key":          "FACILITATOR_API_KEY",
		"facilitator.address":          "FACILITATOR_ADDRESS",
		"facilitator.timeout_sec":      "FACILITATOR_TIMEOUT_SEC",
		"chain.rpc_url":                "RPC_URL",
		"chain.chain_id":               "CHAIN_ID",
		"chain.operator_key":           "OPERATOR_SIGNING_KEY",
		"chain.nft_contract":           "NFT_CONTRACT",
		"chain.reward_token":           "REWARD_TOKEN",
		"chain.verifying_contract":     "VERIFYING_CONTRACT",
		"reward.amount":                "REWARD_AMOUNT",
		"reward.burn_percent":          "REWARD_BURN_PERCENT",
		"queue.max_size":               "QUEUE_MAX_SIZE",
		"queue.tick_interval_ms":       "QUEUE_TICK_INTERVAL_MS",
		"queue.item_timeout_sec":       "QUEUE_ITEM_TIMEOUT_SEC",
		"queue.max_retries":            "QUEUE_MAX_RETRIES",
		"queue.terminal_ttl_sec":       "QUEUE_TERMINAL_TTL_SEC",
		"ratelimit.ceiling":            "RATE_LIMIT_CEILING",
		"ratelimit.window_sec":         "RATE_LIMIT_WINDOW_SEC",
		"pinning.node_url":             "IPFS_NODE_URL",
		"pinning.web3_storage_token":   "WEB3_STORAGE_TOKEN",
		"pinning.pinata_jwt":           "PINATA_JWT",
		"pinning.provider_timeout_sec": "PIN_PROVIDER_TIMEOUT_SEC",
		"pinning.allow_placeholder":    "PIN_ALLOW_PLACEHOLDER",
		"payment.max_amount":           "PAYMENT_MAX_AMOUNT",
		"payment.asset":                "PAYMENT_ASSET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Facilitator.BaseURL, "FACILITATOR_URL"},
		{c.Facilitator.Address, "FACILITATOR_ADDRESS"},
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.OperatorKey, "OPERATOR_SIGNING_KEY"},
		{c.Chain.NFTContract, "NFT_CONTRACT"},
		{c.Chain.RewardToken, "REWARD_TOKEN"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Reward.BurnPercent < 0 || c.Reward.BurnPercent > 100 {
		return fmt.Errorf("REWARD_BURN_PERCENT must be in [0,100], got %d", c.Reward.BurnPercent)
	}
	return nil
}
