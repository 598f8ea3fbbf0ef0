package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultNetworkName   = "trustledger-local"
	DefaultRPCAddress    = "127.0.0.1:8545"
	DefaultDataDir       = "./trustledger-data"
	DefaultHashAlgorithm = "keccak256"
)

// Config is the on-disk configuration of the custody node.
type Config struct {
	RPCAddress  string    `toml:"RPCAddress"`
	DataDir     string    `toml:"DataDir"`
	NetworkName string    `toml:"NetworkName"`
	Environment string    `toml:"Environment"`
	LogLevel    string    `toml:"LogLevel"`
	Logging     Logging   `toml:"logging"`
	Integrity   Integrity `toml:"integrity"`
	RPC         RPC       `toml:"rpc"`
	Indexer     Indexer   `toml:"indexer"`
	Telemetry   Telemetry `toml:"telemetry"`
	Genesis     Genesis   `toml:"genesis"`
}

// Load loads the configuration from path, writing a default file when none
// exists. Missing fields fall back to their defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if strings.TrimSpace(c.Integrity.HashAlgorithm) == "" {
		c.Integrity.HashAlgorithm = DefaultHashAlgorithm
	}
	c.Logging.applyDefaults()
	c.RPC.applyDefaults()
	if c.Genesis.Alloc == nil {
		c.Genesis.Alloc = []Allocation{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
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
