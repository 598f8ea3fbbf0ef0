package integrity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Hasher computes the fingerprint of executable content.
type Hasher interface {
	Name() string
	Sum(content []byte) common.Hash
}

type keccakHasher struct{}

func (keccakHasher) Name() string { return "keccak256" }

func (keccakHasher) Sum(content []byte) common.Hash {
	return ethcrypto.Keccak256Hash(content)
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return "blake3" }

func (blake3Hasher) Sum(content []byte) common.Hash {
	return common.Hash(blake3.Sum256(content))
}

var (
	// Keccak256 matches the EVM code hash of the content.
	Keccak256 Hasher = keccakHasher{}
	// Blake3 is a faster alternative for deployments that never compare
	// against EVM code hashes.
	Blake3 Hasher = blake3Hasher{}
)

// HasherByName resolves a configured algorithm name. The empty name selects
// keccak256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "keccak256", "keccak", "sha3":
		return Keccak256, nil
	case "blake3":
		return Blake3, nil
	default:
		return nil, fmt.Errorf("integrity: unsupported hash algorithm %q", name)
	}
}
