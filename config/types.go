package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Integrity selects how oracle executables are fingerprinted.
type Integrity struct {
	HashAlgorithm string `toml:"HashAlgorithm"`
}

// RPC controls the JSON-RPC listener. Credentials are never stored in the
// file: AuthTokenEnv and JWTSecretEnv name the environment variables holding
// them.
type RPC struct {
	RateLimitPerSecond   float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst       int     `toml:"RateLimitBurst"`
	ReadHeaderTimeoutSec int     `toml:"ReadHeaderTimeoutSec"`
	MaxBodyBytes         int64   `toml:"MaxBodyBytes"`
	TrustProxyHeaders    bool    `toml:"TrustProxyHeaders"`
	AuthTokenEnv         string  `toml:"AuthTokenEnv"`
	JWTSecretEnv         string  `toml:"JWTSecretEnv"`
	JWTIssuer            string  `toml:"JWTIssuer"`
	JWTLeewaySec         int     `toml:"JWTLeewaySec"`
}

func (r *RPC) applyDefaults() {
	if r.RateLimitPerSecond == 0 {
		r.RateLimitPerSecond = 50
	}
	if r.RateLimitBurst == 0 {
		r.RateLimitBurst = 100
	}
	if r.ReadHeaderTimeoutSec == 0 {
		r.ReadHeaderTimeoutSec = 5
	}
	if r.MaxBodyBytes == 0 {
		r.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(r.AuthTokenEnv) == "" {
		r.AuthTokenEnv = "TRUSTLEDGER_RPC_TOKEN"
	}
	if strings.TrimSpace(r.JWTSecretEnv) == "" {
		r.JWTSecretEnv = "TRUSTLEDGER_RPC_JWT_SECRET"
	}
}

// Logging configures the optional rotating log file.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

func (l *Logging) applyDefaults() {
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays == 0 {
		l.MaxAgeDays = 28
	}
}

// Indexer mirrors committed events into a SQL database. An empty Driver
// disables it.
type Indexer struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry wires the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Genesis lists the balances minted when the node starts on an empty store.
type Genesis struct {
	Alloc []Allocation `toml:"alloc"`
}

// Allocation funds one address at genesis. Balance is a base-10 integer.
type Allocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Parse validates the allocation and returns its typed form.
func (a Allocation) Parse() (common.Address, *big.Int, error) {
	addr := strings.TrimSpace(a.Address)
	if !common.IsHexAddress(addr) {
		return common.Address{}, nil, fmt.Errorf("invalid genesis address %q", a.Address)
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(a.Balance), 10)
	if !ok || balance.Sign() < 0 {
		return common.Address{}, nil, fmt.Errorf("invalid genesis balance %q for %s", a.Balance, addr)
	}
	return common.HexToAddress(addr), balance, nil
}
