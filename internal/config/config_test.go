package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
rpc: wss://base.example/ws
contract: "0x9999999999999999999999999999999999999999"
from: 100
chunk-size: 5000
allowed-origins: "https://a.example, https://b.example"
badge-thresholds:
  creator: "1"
  pioneer: "1000"
wallets:
  - id: local
    name: Local signer
    rdns: io.tokenscope.local
    key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rpc: http://localhost:8545\n"), nil)
	require.NoError(t, err)

	require.Equal(t, uint64(8453), cfg.ChainID)
	require.Equal(t, uint64(20000), cfg.ChunkSize)
	require.Equal(t, uint64(500), cfg.MinChunkSize)
	require.Equal(t, 6, cfg.MaxHalvings)
	require.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	require.Equal(t, 30*time.Second, cfg.MaxRetryBackoff)
	require.Equal(t, 10, cfg.RecentLimit)
	require.Equal(t, ":8080", cfg.Listen)
	require.Empty(t, cfg.Wallets)
}

func TestLoadFileAndFlags(t *testing.T) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.Uint64("from", 0, "")
	require.NoError(t, flags.Parse([]string{"--from=250"}))

	cfg, err := Load(writeConfig(t, sampleConfig), flags)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, uint64(250), cfg.FromBlock, "flags win over the file")
	require.Equal(t, uint64(5000), cfg.ChunkSize)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, map[string]string{"creator": "1", "pioneer": "1000"}, cfg.BadgeThresholds)
	require.Len(t, cfg.Wallets, 1)
	require.Equal(t, "local", cfg.Wallets[0].ID)
	require.Equal(t, "Local signer", cfg.Wallets[0].Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TOKENSCOPE_CHUNK_SIZE", "777")
	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(777), cfg.ChunkSize)
}

func TestValidate(t *testing.T) {
	base := Config{RPCURL: "http://x", Contract: "0x1", ChunkSize: 10, MinChunkSize: 1}
	require.NoError(t, base.Validate())

	bad := base
	bad.RPCURL = ""
	require.ErrorContains(t, bad.Validate(), "rpc")

	bad = base
	bad.MinChunkSize = 20
	require.ErrorContains(t, bad.Validate(), "min-chunk-size")

	bad = base
	bad.Wallets = []WalletConfig{{ID: "a", Key: "k"}, {ID: "a", Key: "k"}}
	require.ErrorContains(t, bad.Validate(), "duplicate")

	bad = base
	bad.Wallets = []WalletConfig{{ID: "a"}}
	require.ErrorContains(t, bad.Validate(), "rpc or key")
}
