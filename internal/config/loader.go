package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables recognized by Load. File settings are applied
// first, then the environment overrides them.
const (
	EnvRPCURL           = "ETHEREUM_RPC_URL"
	EnvDatabaseURL      = "DATABASE_URL"
	EnvTokenAddress     = "TOKEN_ADDRESS"
	EnvBlocksPerRequest = "BLOCKS_PER_REQUEST"
	EnvFinalityBlocks   = "FINALITY_BLOCKS"
	EnvLogLevel         = "LOG_LEVEL"
	EnvMetricsListen    = "METRICS_LISTEN_ADDRESS"
	EnvAPIListen        = "API_LISTEN_ADDRESS"
)

// Load builds the configuration from an optional config file and the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadUnvalidated is Load without the final validation pass. The
// read-only commands use it: querying a local store needs no RPC
// endpoint or token address.
func LoadUnvalidated(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return loadFromYAML(path)
	case ".json":
		return loadFromJSON(path)
	case ".toml":
		return loadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

func loadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &cfg, nil
}

func loadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return &cfg, nil
}

func loadFromTOML(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv(EnvTokenAddress); v != "" {
		cfg.TokenAddress = v
	}
	if v := os.Getenv(EnvBlocksPerRequest); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBlocksPerRequest, err)
		}
		cfg.Scanner.BlocksPerRequest = n
	}
	if v := os.Getenv(EnvFinalityBlocks); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFinalityBlocks, err)
		}
		cfg.Scanner.FinalityBlocks = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvMetricsListen); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = v
	}
	if v := os.Getenv(EnvAPIListen); v != "" {
		cfg.API.Enabled = true
		cfg.API.ListenAddress = v
	}
	return nil
}
