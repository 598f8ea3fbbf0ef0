// Package crypto renders ledger identities in their human-readable bech32
// form and parses either representation back.
package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// IdentityPrefix is the human-readable part of bech32 identities.
const IdentityPrefix = "tl"

// EncodeIdentity returns the bech32 form of addr.
func EncodeIdentity(addr common.Address) (string, error) {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(IdentityPrefix, conv)
}

// DecodeIdentity parses a bech32 identity carrying IdentityPrefix.
func DecodeIdentity(s string) (common.Address, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != IdentityPrefix {
		return common.Address{}, fmt.Errorf("unexpected identity prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != common.AddressLength {
		return common.Address{}, fmt.Errorf("identity must be %d bytes, got %d", common.AddressLength, len(conv))
	}
	return common.BytesToAddress(conv), nil
}

// ParseIdentity accepts a 0x-prefixed hex address or a bech32 identity.
func ParseIdentity(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if common.IsHexAddress(trimmed) {
		return common.HexToAddress(trimmed), nil
	}
	if strings.HasPrefix(strings.ToLower(trimmed), IdentityPrefix+"1") {
		return DecodeIdentity(trimmed)
	}
	return common.Address{}, fmt.Errorf("invalid identity %q", raw)
}
