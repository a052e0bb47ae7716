package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
network: testnet
database:
  backend: leveldb
  dir: /tmp/bonder-db
tx-manager:
  boostInterval: 2m
  syncNonceOnStart: true
signer:
  privateKey: "0x01"
chains:
  - chainId: 11155111
    rpcUrl: http://localhost:8545
    messageTransmitterAddress: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"
    startBlockHeight: 100
    finality:
      policy: fixed
      confirmations: 12
  - chainId: 84532
    rpcUrl: http://localhost:9545
    messageTransmitterAddress: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"
    startBlockHeight: 200
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, NetworkTestnet, cfg.Network)
	require.Len(t, cfg.Chains, 2)
	require.Equal(t, uint64(12), cfg.Chains[0].Finality.Confirmations)
	require.Equal(t, DefaultMaxBlockRange, cfg.Chains[1].MaxBlockRange)
	require.Equal(t, 2*time.Minute, cfg.TxManager.BoostInterval)
	require.True(t, cfg.TxManager.SyncNonceOnStart)
	require.Equal(t, DefaultGasPriceMultiplier, cfg.TxManager.GasPriceMultiplier)
	require.Equal(t, DefaultMaxGasMultiplier, cfg.TxManager.MaxGasPriceMultiplier)
	require.Equal(t, "auto", cfg.LogFormat)
	require.Equal(t, DefaultMaxBoosts, *cfg.TxManager.MaxBoosts)
}

func TestZeroMaxBoostsIsKept(t *testing.T) {
	content := strings.Replace(sampleConfig, "  syncNonceOnStart: true\n", "  syncNonceOnStart: true\n  maxBoosts: 0\n", 1)
	cfg, err := NewConfig(writeConfig(t, content))
	require.NoError(t, err)
	require.NotNil(t, cfg.TxManager.MaxBoosts)
	require.Zero(t, *cfg.TxManager.MaxBoosts)

	negative := -1
	cfg.TxManager.MaxBoosts = &negative
	require.Error(t, cfg.Validate())
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no chains", func(c *Config) { c.Chains = nil }},
		{"bad network", func(c *Config) { c.Network = "devnet" }},
		{"duplicate chain", func(c *Config) { c.Chains = append(c.Chains, c.Chains[0]) }},
		{"empty rpc", func(c *Config) { c.Chains[0].RpcUrl = "" }},
		{"bad tag", func(c *Config) { c.Chains[0].Finality = FinalityConfig{Policy: FinalityPolicyTag, Tag: "latest"} }},
		{"bad inclusion tag", func(c *Config) {
			c.Chains[0].Finality = FinalityConfig{Policy: FinalityPolicyInclusion, InclusionSource: "op-stack", Tag: "latest"}
		}},
		{"multiplier too small", func(c *Config) { c.TxManager.GasPriceMultiplier = 0.9 }},
		{"unknown backend", func(c *Config) { c.Database.Backend = "bolt" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewRootLogger(t *testing.T) {
	for _, format := range []string{"json", "logfmt", "auto", "console"} {
		logger, err := NewRootLogger(format, true)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}

	_, err := NewRootLogger("xml", false)
	require.Error(t, err)
}
