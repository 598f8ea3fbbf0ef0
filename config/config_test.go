package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkName != DefaultNetworkName || cfg.RPCAddress != DefaultRPCAddress {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Integrity.HashAlgorithm != DefaultHashAlgorithm {
		t.Fatalf("hash algorithm = %q", reloaded.Integrity.HashAlgorithm)
	}
	if reloaded.RPC.RateLimitBurst != 100 {
		t.Fatalf("burst = %d", reloaded.RPC.RateLimitBurst)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
NetworkName = "custody-test"
LogLevel = "debug"

[integrity]
HashAlgorithm = "blake3"

[rpc]
RateLimitPerSecond = 2.5
RateLimitBurst = 5

[telemetry]
Endpoint = "collector:4318"
Traces = true
SampleRatio = 0.25
Headers = "x-tenant=ledger"

[logging]
File = "./logs/custodyd.log"
MaxBackups = 2

[indexer]
Driver = "sqlite"
DSN = "file:index.db"

[[genesis.alloc]]
Address = "0x1111111111111111111111111111111111111111"
Balance = "1000000000000000000000"

[[genesis.alloc]]
Address = "0x2222222222222222222222222222222222222222"
Balance = "5"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.NetworkName != "custody-test" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected node settings: %+v", cfg)
	}
	if cfg.Integrity.HashAlgorithm != "blake3" {
		t.Fatalf("hash algorithm = %q", cfg.Integrity.HashAlgorithm)
	}
	if cfg.RPC.RateLimitPerSecond != 2.5 || cfg.RPC.RateLimitBurst != 5 {
		t.Fatalf("unexpected rpc settings: %+v", cfg.RPC)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("unexpected telemetry settings: %+v", cfg.Telemetry)
	}
	if cfg.Logging.File != "./logs/custodyd.log" || cfg.Logging.MaxBackups != 2 || cfg.Logging.MaxSizeMB != 100 {
		t.Fatalf("unexpected logging settings: %+v", cfg.Logging)
	}
	if cfg.Indexer.Driver != "sqlite" || cfg.Indexer.DSN != "file:index.db" {
		t.Fatalf("unexpected indexer settings: %+v", cfg.Indexer)
	}
	if cfg.RPC.AuthTokenEnv != "TRUSTLEDGER_RPC_TOKEN" {
		t.Fatalf("auth token env = %q", cfg.RPC.AuthTokenEnv)
	}
	if len(cfg.Genesis.Alloc) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(cfg.Genesis.Alloc))
	}
	addr, balance, err := cfg.Genesis.Alloc[0].Parse()
	if err != nil {
		t.Fatalf("parse alloc: %v", err)
	}
	if addr != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	if balance.String() != "1000000000000000000000" {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown hash", func(c *Config) { c.Integrity.HashAlgorithm = "md5" }},
		{"negative rate", func(c *Config) { c.RPC.RateLimitPerSecond = -1 }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
		{"negative leeway", func(c *Config) { c.RPC.JWTLeewaySec = -1 }},
		{"unknown indexer", func(c *Config) { c.Indexer.Driver = "mysql"; c.Indexer.DSN = "x" }},
		{"indexer without dsn", func(c *Config) { c.Indexer.Driver = "postgres" }},
		{"bad address", func(c *Config) {
			c.Genesis.Alloc = []Allocation{{Address: "nope", Balance: "1"}}
		}},
		{"negative balance", func(c *Config) {
			c.Genesis.Alloc = []Allocation{{Address: "0x1111111111111111111111111111111111111111", Balance: "-1"}}
		}},
		{"duplicate alloc", func(c *Config) {
			c.Genesis.Alloc = []Allocation{
				{Address: "0x1111111111111111111111111111111111111111", Balance: "1"},
				{Address: "0x1111111111111111111111111111111111111111", Balance: "2"},
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
