package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testToken = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvRPCURL, EnvDatabaseURL, EnvTokenAddress, EnvBlocksPerRequest,
		EnvFinalityBlocks, EnvLogLevel, EnvMetricsListen, EnvAPIListen,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRPCURL, "https://rpc.example.org")
	t.Setenv(EnvTokenAddress, testToken)
	t.Setenv(EnvDatabaseURL, "./data/test.db")
	t.Setenv(EnvBlocksPerRequest, "250")
	t.Setenv(EnvFinalityBlocks, "6")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", cfg.RPCURL)
	require.Equal(t, "./data/test.db", cfg.DB.Path)
	require.Equal(t, uint64(250), cfg.Scanner.BlocksPerRequest)
	require.Equal(t, uint64(6), cfg.Scanner.FinalityBlocks)

	// untouched fields fall back to defaults
	require.Equal(t, uint64(1000), cfg.Scanner.Backfill)
	require.Equal(t, 30*time.Second, cfg.Scanner.RequestTimeout.Duration)
	require.Equal(t, "WAL", cfg.DB.JournalMode)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRPCURL, "https://rpc.example.org")
	t.Setenv(EnvTokenAddress, testToken)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "./transfers.db", cfg.DB.Path)
	require.Equal(t, uint64(100), cfg.Scanner.BlocksPerRequest)
	require.Equal(t, uint64(12), cfg.Scanner.FinalityBlocks)
	require.Equal(t, uint64(10), cfg.Scanner.ReorgWindow)
	require.Equal(t, time.Minute, cfg.Scanner.ReorgInterval.Duration)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, time.Second, cfg.Retry.InitialBackoff.Duration)
	require.Equal(t, time.Minute, cfg.Retry.MaxBackoff.Duration)
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)

	t.Setenv(EnvRPCURL, "https://rpc.example.org")
	_, err = Load("")
	require.Error(t, err) // token still missing

	t.Setenv(EnvTokenAddress, "not-an-address")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
rpc_url: https://file.example.org
token_address: "` + testToken + `"
scanner:
  blocks_per_request: 50
  reorg_interval: 30s
db:
  path: ./file.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://file.example.org", cfg.RPCURL)
	require.Equal(t, uint64(50), cfg.Scanner.BlocksPerRequest)
	require.Equal(t, 30*time.Second, cfg.Scanner.ReorgInterval.Duration)
	require.Equal(t, "./file.db", cfg.DB.Path)

	// the environment wins over the file
	t.Setenv(EnvRPCURL, "https://env.example.org")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://env.example.org", cfg.RPCURL)
}

func TestLoad_TOMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
rpc_url = "https://toml.example.org"
token_address = "` + testToken + `"

[scanner]
finality_blocks = 20
request_timeout = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://toml.example.org", cfg.RPCURL)
	require.Equal(t, uint64(20), cfg.Scanner.FinalityBlocks)
	require.Equal(t, 10*time.Second, cfg.Scanner.RequestTimeout.Duration)
}

func TestLoad_JSONFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "rpc_url": "https://json.example.org",
  "token_address": "` + testToken + `",
  "retry": {"max_attempts": 3, "initial_backoff": "2s"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://json.example.org", cfg.RPCURL)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff.Duration)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=y"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadUnvalidated_NoRequiredFields(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadUnvalidated("")
	require.NoError(t, err)
	require.Equal(t, "./transfers.db", cfg.DB.Path)
}
