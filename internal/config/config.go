package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"oracleescrow/internal/retry"
)

// NetworkConfig models network.json.
type NetworkConfig struct {
	Chain struct {
		ChainID int64  `json:"chainId"`
		RPCURL  string `json:"rpcUrl"`
		Mode    string `json:"mode"`
	} `json:"chain"`
	Escrow struct {
		Address            string `json:"address"`
		OracleInitialValue string `json:"oracleInitialValue"`
	} `json:"escrow"`
	Secrets struct {
		HMACSecret         string `json:"hmacSecret"`
		IdempotencyKeySalt string `json:"idempotencyKeySalt"`
	} `json:"secrets"`
	Retry struct {
		MaxAttempts       int `json:"maxAttempts"`
		InitialBackoffMs  int `json:"initialBackoffMs"`
		MaxBackoffMs      int `json:"maxBackoffMs"`
		BackoffMultiplier int `json:"backoffMultiplier"`
	} `json:"retry"`
	Timeouts struct {
		RPCTimeoutMs          int `json:"rpcTimeoutMs"`
		ReceiptTimeoutMs      int `json:"receiptTimeoutMs"`
		IdempotencyWindowSecs int `json:"idempotencyWindowSeconds"`
	} `json:"timeouts"`
}

// AppConfig ties together network.json and the environment.
type AppConfig struct {
	Network NetworkConfig
	Service ServiceConfig
	Chain   ChainConfig
	Retry   retry.Config
	Paths   PathsConfig
	Log     LogConfig
}

type ServiceConfig struct {
	HTTPPort           int
	HMACSecret         string
	HMACClockSkew      time.Duration
	IdempotencyWindow  time.Duration
	IdempotencyKeySalt string
	// IdempotencyBackend is one of file, postgres, redis or memory.
	IdempotencyBackend   string
	IdempotencyStorePath string
	// IdempotencyPruneInterval is how often expired records are deleted.
	IdempotencyPruneInterval time.Duration
	PostgresDSN              string
	RedisAddr                string
	RedisPassword            string
	DLQPath                  string
	RateLimitPerSecond       int
	RateLimitBurst           int
}

type Mode string

const (
	ModeRPC Mode = "rpc"
	ModeDev Mode = "dev"
)

type ChainConfig struct {
	Mode           Mode
	ChainID        int64
	RPCURL         string
	RPCTimeout     time.Duration
	ReceiptTimeout time.Duration
	EscrowAddress  string
	InitialValue   string
	// Keys are hex private keys per escrow role; empty means unavailable.
	OwnerKey       string
	DepositorKey   string
	BeneficiaryKey string
}

type PathsConfig struct {
	Network     string
	Deployments string
	Artifacts   string
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultNetworkPath     = "network.json"
	defaultDeploymentsPath = "build/deployments.json"
	defaultArtifactsDir    = "build/contracts"
)

// Load aggregates configuration from disk and environment. A missing
// network.json at the default path leaves every value at its default.
func Load() (*AppConfig, error) {
	networkPath, explicit := os.LookupEnv("NETWORK_PATH")
	if !explicit || networkPath == "" {
		networkPath = defaultNetworkPath
		explicit = false
	}

	network, err := loadNetwork(networkPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		network = &NetworkConfig{}
	case err != nil:
		return nil, fmt.Errorf("load network: %w", err)
	}

	level, err := ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	mode := Mode(strings.ToLower(envOr("CHAIN_MODE", orDefault(network.Chain.Mode, string(ModeRPC)))))
	if mode != ModeRPC && mode != ModeDev {
		return nil, fmt.Errorf("CHAIN_MODE must be %q or %q, got %q", ModeRPC, ModeDev, mode)
	}

	cfg := &AppConfig{
		Network: *network,
		Service: ServiceConfig{
			HTTPPort:                 envOrInt("API_HTTP_PORT", 3000),
			HMACSecret:               envOr("HMAC_SECRET", network.Secrets.HMACSecret),
			HMACClockSkew:            time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 300)) * time.Second,
			IdempotencyWindow:        time.Duration(positiveOr(network.Timeouts.IdempotencyWindowSecs, 86400)) * time.Second,
			IdempotencyKeySalt:       envOr("IDEMPOTENCY_KEY_SALT", network.Secrets.IdempotencyKeySalt),
			IdempotencyBackend:       strings.ToLower(envOr("IDEMPOTENCY_BACKEND", "file")),
			IdempotencyStorePath:     envOr("IDEMPOTENCY_STORE_PATH", "build/idempotency.json"),
			IdempotencyPruneInterval: time.Duration(positiveOr(envOrInt("IDEMPOTENCY_PRUNE_INTERVAL_SECONDS", 0), 600)) * time.Second,
			PostgresDSN:              envOr("POSTGRES_DSN", ""),
			RedisAddr:                envOr("REDIS_ADDR", ""),
			RedisPassword:            envOr("REDIS_PASSWORD", ""),
			DLQPath:                  envOr("DLQ_PATH", "build/dlq"),
			RateLimitPerSecond:       envOrInt("RATE_LIMIT_RPS", 10),
			RateLimitBurst:           envOrInt("RATE_LIMIT_BURST", 20),
		},
		Chain: ChainConfig{
			Mode:           mode,
			ChainID:        network.Chain.ChainID,
			RPCURL:         envOr("CHAIN_RPC_URL", orDefault(network.Chain.RPCURL, "http://127.0.0.1:8545")),
			RPCTimeout:     time.Duration(positiveOr(network.Timeouts.RPCTimeoutMs, 10_000)) * time.Millisecond,
			ReceiptTimeout: time.Duration(positiveOr(network.Timeouts.ReceiptTimeoutMs, 120_000)) * time.Millisecond,
			EscrowAddress:  envOr("ESCROW_ADDRESS", network.Escrow.Address),
			InitialValue:   orDefault(network.Escrow.OracleInitialValue, "no"),
			OwnerKey:       envOr("OWNER_PRIVATE_KEY", ""),
			DepositorKey:   envOr("DEPOSITOR_PRIVATE_KEY", ""),
			BeneficiaryKey: envOr("BENEFICIARY_PRIVATE_KEY", ""),
		},
		Retry: retryConfig(network),
		Paths: PathsConfig{
			Network:     networkPath,
			Deployments: envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath),
			Artifacts:   envOr("ARTIFACTS_DIR", defaultArtifactsDir),
		},
		Log: LogConfig{
			Level:  level,
			Format: strings.ToLower(envOr("LOG_FORMAT", "text")),
		},
	}
	return cfg, nil
}

func retryConfig(network *NetworkConfig) retry.Config {
	cfg := retry.DefaultConfig()
	r := network.Retry
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.BackoffMultiplier > 0 {
		cfg.Multiplier = r.BackoffMultiplier
	}
	cfg.MaxAttempts = envOrInt("RETRY_MAX_ATTEMPTS", cfg.MaxAttempts)
	return cfg
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger from the log settings.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func loadNetwork(path string) (*NetworkConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg NetworkConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func positiveOr(val, fallback int) int {
	if val <= 0 {
		return fallback
	}
	return val
}
