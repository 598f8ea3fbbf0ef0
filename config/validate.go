package config

import (
	"fmt"
	"strings"

	"trustledger/native/integrity"
)

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NetworkName) == "" {
		return fmt.Errorf("NetworkName must not be empty")
	}
	if _, err := integrity.HasherByName(c.Integrity.HashAlgorithm); err != nil {
		return fmt.Errorf("integrity: %w", err)
	}
	if c.RPC.RateLimitPerSecond < 0 {
		return fmt.Errorf("rpc: RateLimitPerSecond must not be negative")
	}
	if c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: RateLimitBurst must not be negative")
	}
	if c.RPC.JWTLeewaySec < 0 {
		return fmt.Errorf("rpc: JWTLeewaySec must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: DSN required for driver %q", c.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	seen := make(map[string]struct{}, len(c.Genesis.Alloc))
	for _, alloc := range c.Genesis.Alloc {
		addr, _, err := alloc.Parse()
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		key := strings.ToLower(addr.Hex())
		if _, dup := seen[key]; dup {
			return fmt.Errorf("genesis: duplicate allocation for %s", addr.Hex())
		}
		seen[key] = struct{}{}
	}
	return nil
}
