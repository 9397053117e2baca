package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "30s" in
// YAML, JSON and TOML config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// NewDuration is a convenience constructor used by defaults and tests.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// Config is the complete configuration for transferwatch.
type Config struct {
	// RPCURL is the Ethereum JSON-RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// TokenAddress is the ERC-20 contract whose Transfer events are indexed
	TokenAddress string `yaml:"token_address" json:"token_address" toml:"token_address"`

	Scanner ScannerConfig  `yaml:"scanner" json:"scanner" toml:"scanner"`
	DB      DatabaseConfig `yaml:"db" json:"db" toml:"db"`
	Retry   RetryConfig    `yaml:"retry" json:"retry" toml:"retry"`
	Logging LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics" toml:"metrics"`
	API     APIConfig      `yaml:"api" json:"api" toml:"api"`
}

// ScannerConfig controls the forward-scan loop.
type ScannerConfig struct {
	// BlocksPerRequest is the block range per eth_getLogs call
	BlocksPerRequest uint64 `yaml:"blocks_per_request" json:"blocks_per_request" toml:"blocks_per_request"`

	// FinalityBlocks is the number of confirmations subtracted from the
	// chain head before a block is eligible for indexing
	FinalityBlocks uint64 `yaml:"finality_blocks" json:"finality_blocks" toml:"finality_blocks"`

	// ReorgWindow is how many trailing stored blocks are re-verified
	// against the live chain on each reorg check
	ReorgWindow uint64 `yaml:"reorg_window" json:"reorg_window" toml:"reorg_window"`

	// ReorgInterval is the cadence of reorg checks
	ReorgInterval Duration `yaml:"reorg_interval" json:"reorg_interval" toml:"reorg_interval"`

	// PollInterval is how long to sleep when caught up with the safe head
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// RequestTimeout is the per-RPC-call timeout
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// Backfill is how many blocks behind head a fresh store starts from
	Backfill uint64 `yaml:"backfill" json:"backfill" toml:"backfill"`
}

func (s *ScannerConfig) ApplyDefaults() {
	if s.BlocksPerRequest == 0 {
		s.BlocksPerRequest = 100
	}
	if s.FinalityBlocks == 0 {
		s.FinalityBlocks = 12
	}
	if s.ReorgWindow == 0 {
		s.ReorgWindow = 10
	}
	if s.ReorgInterval.Duration == 0 {
		s.ReorgInterval = NewDuration(time.Minute)
	}
	if s.PollInterval.Duration == 0 {
		// one Ethereum slot
		s.PollInterval = NewDuration(12 * time.Second)
	}
	if s.RequestTimeout.Duration == 0 {
		s.RequestTimeout = NewDuration(30 * time.Second)
	}
	if s.Backfill == 0 {
		s.Backfill = 1000
	}
}

// DatabaseConfig is the SQLite configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

func (d *DatabaseConfig) ApplyDefaults() {
	if d.Path == "" {
		d.Path = "./transfers.db"
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// RetryConfig controls RPC retry behavior for transient errors.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (first try included)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the delay before the second attempt
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// BackoffMultiplier is the exponential growth factor
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`

	// MaxBackoff caps the delay between attempts
	MaxBackoff Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
}

func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = NewDuration(time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = NewDuration(time.Minute)
	}
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `yaml:"level" json:"level" toml:"level"`

	// Development enables the console encoder and stack traces
	Development bool `yaml:"development" json:"development" toml:"development"`
}

func (l *LoggingConfig) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// APIConfig controls the read-only HTTP API.
type APIConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
}

func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Scanner.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	c.API.ApplyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required (set ETHEREUM_RPC_URL)")
	}

	if c.TokenAddress == "" {
		return fmt.Errorf("token_address is required (set TOKEN_ADDRESS)")
	}
	if !common.IsHexAddress(c.TokenAddress) {
		return fmt.Errorf("token_address %q is not a valid hex address", c.TokenAddress)
	}

	switch c.DB.JournalMode {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY":
	default:
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	switch c.DB.Synchronous {
	case "FULL", "NORMAL", "OFF":
	default:
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	return nil
}

// Token returns the parsed token contract address. Call after Validate.
func (c *Config) Token() common.Address {
	return common.HexToAddress(c.TokenAddress)
}
