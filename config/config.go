package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	FinalityPolicyFixed     = "fixed"
	FinalityPolicyTag       = "tag"
	FinalityPolicyInclusion = "inclusion"

	DefaultMaxBlockRange      = uint64(1000)
	DefaultChainPollInterval  = 10 * time.Second
	DefaultBoostInterval      = 3 * time.Minute
	DefaultTxPollInterval     = 10 * time.Second
	DefaultGasPriceMultiplier = 1.1
	DefaultMaxGasMultiplier   = 1.25
	DefaultMaxBoosts          = 5
	DefaultAttestationURL     = "https://iris-api.circle.com"
	DefaultAttestationRPS     = 2.0
	DefaultAttestationRecheck = 30 * time.Second
	DefaultAttestationRetries = 3
	DefaultStateMachinePoll   = 15 * time.Second
	DefaultMetricsListen      = ":9090"
)

type Config struct {
	Network      string             `mapstructure:"network"`
	LogFormat    string             `mapstructure:"log-format"`
	Database     Database           `mapstructure:"database"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Attestation  AttestationConfig  `mapstructure:"attestation"`
	TxManager    TxManagerConfig    `mapstructure:"tx-manager"`
	Signer       SignerConfig       `mapstructure:"signer"`
	StateMachine StateMachineConfig `mapstructure:"state-machine"`
	Chains       []ChainConfig      `mapstructure:"chains"`
}

type Database struct {
	Backend string `mapstructure:"backend"`

	// leveldb
	Dir string `mapstructure:"dir"`

	// mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`

	// redis
	RedisAddr      string `mapstructure:"redisAddr"`
	RedisPassword  string `mapstructure:"redisPassword"`
	RedisDB        int    `mapstructure:"redisDb"`
	RedisNamespace string `mapstructure:"redisNamespace"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type AttestationConfig struct {
	URL               string        `mapstructure:"url"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond"`
	Attempts          uint          `mapstructure:"attempts"`
	PendingRecheck    time.Duration `mapstructure:"pendingRecheck"`
}

type TxManagerConfig struct {
	BoostInterval            time.Duration `mapstructure:"boostInterval"`
	PollInterval             time.Duration `mapstructure:"pollInterval"`
	GasPriceMultiplier       float64       `mapstructure:"gasPriceMultiplier"`
	MaxGasPriceMultiplier    float64       `mapstructure:"maxGasPriceMultiplier"`
	PriorityFeePerGasCapGwei float64       `mapstructure:"priorityFeePerGasCapGwei"`
	MaxGasPriceGwei          float64       `mapstructure:"maxGasPriceGwei"`
	// MaxBoosts of 0 disables fee boosting. Unset means DefaultMaxBoosts.
	MaxBoosts *int `mapstructure:"maxBoosts"`
	// SyncNonceOnStart resets the local nonce counter to the account's pending nonce at startup.
	SyncNonceOnStart bool `mapstructure:"syncNonceOnStart"`
}

type SignerConfig struct {
	PrivateKey string `mapstructure:"privateKey"`
}

type StateMachineConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

type FinalityConfig struct {
	Policy          string `mapstructure:"policy"`
	Confirmations   uint64 `mapstructure:"confirmations"`
	Tag             string `mapstructure:"tag"`
	InclusionSource string `mapstructure:"inclusionSource"`
	RollupRpcUrl    string `mapstructure:"rollupRpcUrl"`
}

type ChainConfig struct {
	ChainID                   uint64         `mapstructure:"chainId"`
	RpcUrl                    string         `mapstructure:"rpcUrl"`
	MessageTransmitterAddress string         `mapstructure:"messageTransmitterAddress"`
	StartBlockHeight          uint64         `mapstructure:"startBlockHeight"`
	MaxBlockRange             uint64         `mapstructure:"maxBlockRange"`
	PollInterval              time.Duration  `mapstructure:"pollInterval"`
	Finality                  FinalityConfig `mapstructure:"finality"`
}

func (cfg *ChainConfig) Validate() error {
	if cfg.ChainID == 0 {
		return fmt.Errorf("chainId cannot be 0")
	}
	if cfg.RpcUrl == "" {
		return fmt.Errorf("chain %d: rpcUrl cannot be empty", cfg.ChainID)
	}
	if cfg.MessageTransmitterAddress == "" {
		return fmt.Errorf("chain %d: messageTransmitterAddress cannot be empty", cfg.ChainID)
	}
	if cfg.StartBlockHeight == 0 {
		return fmt.Errorf("chain %d: startBlockHeight cannot be 0", cfg.ChainID)
	}

	return cfg.Finality.Validate()
}

// Validate checks an explicit finality override. An empty policy keeps the chain default.
func (cfg *FinalityConfig) Validate() error {
	switch cfg.Policy {
	case "":
	case FinalityPolicyFixed:
		if cfg.Confirmations == 0 {
			return fmt.Errorf("confirmations cannot be 0 for the fixed finality policy")
		}
	case FinalityPolicyTag:
		if cfg.Tag != "safe" && cfg.Tag != "finalized" {
			return fmt.Errorf("finality tag must be safe or finalized, got %q", cfg.Tag)
		}
	case FinalityPolicyInclusion:
		if cfg.InclusionSource == "" {
			return fmt.Errorf("inclusionSource cannot be empty for the inclusion finality policy")
		}
		if cfg.Tag != "" && cfg.Tag != "safe" && cfg.Tag != "finalized" {
			return fmt.Errorf("inclusion finality tag must be safe or finalized, got %q", cfg.Tag)
		}
	default:
		return fmt.Errorf("unknown finality policy %q", cfg.Policy)
	}

	return nil
}

func (cfg *TxManagerConfig) Validate() error {
	if cfg.GasPriceMultiplier <= 1 {
		return fmt.Errorf("gasPriceMultiplier must be larger than 1")
	}
	if cfg.MaxGasPriceMultiplier < cfg.GasPriceMultiplier {
		return fmt.Errorf("maxGasPriceMultiplier must not be smaller than gasPriceMultiplier")
	}
	if cfg.MaxBoosts != nil && *cfg.MaxBoosts < 0 {
		return fmt.Errorf("maxBoosts cannot be negative")
	}

	return nil
}

func (cfg *Database) Validate() error {
	switch cfg.Backend {
	case "leveldb":
		if cfg.Dir == "" {
			return fmt.Errorf("database dir cannot be empty")
		}
	case "mysql":
		if cfg.Host == "" || cfg.DBName == "" {
			return fmt.Errorf("mysql host and dbname cannot be empty")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return fmt.Errorf("redisAddr cannot be empty")
		}
	default:
		return fmt.Errorf("unknown database backend %q", cfg.Backend)
	}

	return nil
}

func (cfg *Config) Validate() error {
	cfg.fillDefaultValueIfNotSet()

	if cfg.Network != NetworkMainnet && cfg.Network != NetworkTestnet {
		return fmt.Errorf("network must be %s or %s", NetworkMainnet, NetworkTestnet)
	}
	if err := cfg.Database.Validate(); err != nil {
		return err
	}
	if err := cfg.TxManager.Validate(); err != nil {
		return err
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	seen := make(map[uint64]struct{}, len(cfg.Chains))
	for i := range cfg.Chains {
		if err := cfg.Chains[i].Validate(); err != nil {
			return err
		}
		if _, ok := seen[cfg.Chains[i].ChainID]; ok {
			return fmt.Errorf("chain %d configured twice", cfg.Chains[i].ChainID)
		}
		seen[cfg.Chains[i].ChainID] = struct{}{}
	}

	return nil
}

func (cfg *Config) fillDefaultValueIfNotSet() {
	if cfg.Network == "" {
		cfg.Network = NetworkMainnet
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = "leveldb"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}

	if cfg.Attestation.URL == "" {
		cfg.Attestation.URL = DefaultAttestationURL
	}
	if cfg.Attestation.RequestsPerSecond == 0 {
		cfg.Attestation.RequestsPerSecond = DefaultAttestationRPS
	}
	if cfg.Attestation.Attempts == 0 {
		cfg.Attestation.Attempts = DefaultAttestationRetries
	}
	if cfg.Attestation.PendingRecheck == 0 {
		cfg.Attestation.PendingRecheck = DefaultAttestationRecheck
	}

	if cfg.TxManager.BoostInterval == 0 {
		cfg.TxManager.BoostInterval = DefaultBoostInterval
	}
	if cfg.TxManager.PollInterval == 0 {
		cfg.TxManager.PollInterval = DefaultTxPollInterval
	}
	if cfg.TxManager.GasPriceMultiplier == 0 {
		cfg.TxManager.GasPriceMultiplier = DefaultGasPriceMultiplier
	}
	if cfg.TxManager.MaxGasPriceMultiplier == 0 {
		cfg.TxManager.MaxGasPriceMultiplier = DefaultMaxGasMultiplier
	}
	if cfg.TxManager.MaxBoosts == nil {
		maxBoosts := DefaultMaxBoosts
		cfg.TxManager.MaxBoosts = &maxBoosts
	}

	if cfg.StateMachine.PollInterval == 0 {
		cfg.StateMachine.PollInterval = DefaultStateMachinePoll
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].MaxBlockRange == 0 {
			cfg.Chains[i].MaxBlockRange = DefaultMaxBlockRange
		}
		if cfg.Chains[i].PollInterval == 0 {
			cfg.Chains[i].PollInterval = DefaultChainPollInterval
		}
	}
}

func (cfg *Config) CreateLogger(debug bool) (*zap.Logger, error) {
	return NewRootLogger(cfg.LogFormat, debug)
}

// NewConfig returns a fully parsed Config object from a given file directory
func NewConfig(configFile string) (Config, error) {
	if _, err := os.Stat(configFile); err == nil { // the given file exists, parse it
		v := viper.New()
		v.SetConfigFile(configFile)
		v.SetEnvPrefix("bonder")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
		// AutomaticEnv only applies to keys viper already knows about
		_ = v.BindEnv("signer.privateKey")

		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, err
	} else if errors.Is(err, os.ErrNotExist) { // the given config file does not exist, return error
		return Config{}, fmt.Errorf("no config file found at %s", configFile)
	} else { // other errors
		return Config{}, err
	}
}
