// Package config loads the node's TOML configuration and the YAML genesis
// document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all node configuration.
type Config struct {
	NodeID        string    `toml:"NodeID"`
	DataDir       string    `toml:"DataDir"`
	KeyPath       string    `toml:"KeyPath"`     // sequencer keystore
	GenesisPath   string    `toml:"GenesisPath"` // YAML genesis document
	BlockInterval string    `toml:"BlockInterval"`
	MaxBlockTxs   int       `toml:"MaxBlockTxs"` // max transactions per block; 0 → 500
	RPC           RPCConfig `toml:"RPC"`
	Log           LogConfig `toml:"Log"`
}

// RPCConfig configures the JSON-RPC listener.
type RPCConfig struct {
	Listen    string  `toml:"Listen"`
	AuthToken string  `toml:"AuthToken"` // bearer token for JSON-RPC calls; empty disables auth
	RateLimit float64 `toml:"RateLimit"` // requests per second per client; 0 disables
	Burst     int     `toml:"Burst"`
	Metrics   bool    `toml:"Metrics"` // serve /metrics
}

// LogConfig configures structured logging. An empty File logs to stderr.
type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		KeyPath:       "sequencer.key",
		GenesisPath:   "genesis.yaml",
		BlockInterval: "2s",
		MaxBlockTxs:   500,
		RPC: RPCConfig{
			Listen:    "127.0.0.1:8545",
			RateLimit: 20,
			Burst:     40,
			Metrics:   true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads a TOML config file from path on top of the defaults. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("DataDir required")
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	if c.MaxBlockTxs < 0 {
		return fmt.Errorf("MaxBlockTxs must be >= 0, got %d", c.MaxBlockTxs)
	}
	if c.RPC.RateLimit < 0 || c.RPC.Burst < 0 {
		return errors.New("RPC rate limit and burst must be >= 0")
	}
	if c.RPC.RateLimit > 0 && c.RPC.Burst == 0 {
		return errors.New("RPC.Burst required when RPC.RateLimit is set")
	}
	return nil
}

// Interval parses BlockInterval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.BlockInterval)
	if err != nil {
		return 0, fmt.Errorf("BlockInterval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("BlockInterval must be positive, got %s", d)
	}
	return d, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
