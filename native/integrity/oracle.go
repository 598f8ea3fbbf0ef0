// Package integrity certifies the identity of deployed executables by content
// hash.
//
// An Oracle records the fingerprint of one target once, at construction, and
// keeps answering against that golden hash even if the content at the target
// is later replaced. Live fingerprints of any address are computed on demand.
package integrity

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/types"
)

var errNilRegistry = errors.New("integrity: executable registry not configured")

// ExecutableRegistry exposes the executable content stored at an address.
// Addresses without an executable yield empty content.
type ExecutableRegistry interface {
	RawContentAt(addr common.Address) ([]byte, error)
}

// Verdict is the outcome of comparing a live fingerprint with an expectation.
type Verdict struct {
	Address  common.Address
	Expected common.Hash
	Observed common.Hash
	Match    bool
}

// Oracle holds the golden hash of one target executable.
type Oracle struct {
	registry ExecutableRegistry
	hasher   Hasher
	target   common.Address
	golden   common.Hash
}

// Option customises an Oracle.
type Option func(*Oracle)

// WithHasher selects the fingerprint algorithm. nil keeps keccak256.
func WithHasher(h Hasher) Option {
	return func(o *Oracle) {
		if h != nil {
			o.hasher = h
		}
	}
}

// New reads the content at target once and freezes its fingerprint.
func New(registry ExecutableRegistry, target common.Address, opts ...Option) (*Oracle, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	if types.IsNull(target) {
		return nil, fmt.Errorf("integrity: %w", types.ErrNullIdentity)
	}
	o := &Oracle{registry: registry, hasher: Keccak256, target: target}
	for _, opt := range opts {
		opt(o)
	}
	golden, err := o.CodeHashOf(target)
	if err != nil {
		return nil, err
	}
	o.golden = golden
	return o, nil
}

// Restore rebuilds an Oracle around a golden hash recorded earlier, without
// re-reading the target.
func Restore(registry ExecutableRegistry, target common.Address, golden common.Hash, opts ...Option) (*Oracle, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	o := &Oracle{registry: registry, hasher: Keccak256, target: target, golden: golden}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Target returns the address whose fingerprint was frozen.
func (o *Oracle) Target() common.Address { return o.target }

// GoldenHash returns the fingerprint recorded at construction.
func (o *Oracle) GoldenHash() common.Hash { return o.golden }

// Hasher returns the fingerprint algorithm in use.
func (o *Oracle) Hasher() Hasher { return o.hasher }

// RawCodeOf returns the executable content currently stored at addr.
func (o *Oracle) RawCodeOf(addr common.Address) ([]byte, error) {
	code, err := o.registry.RawContentAt(addr)
	if err != nil {
		return nil, fmt.Errorf("integrity: read %s: %w", addr.Hex(), err)
	}
	if code == nil {
		code = []byte{}
	}
	return code, nil
}

// CodeHashOf computes the live fingerprint of the content at addr.
func (o *Oracle) CodeHashOf(addr common.Address) (common.Hash, error) {
	code, err := o.RawCodeOf(addr)
	if err != nil {
		return common.Hash{}, err
	}
	return o.hasher.Sum(code), nil
}

// Verify compares the live fingerprint of addr with expected. A mismatch is a
// verdict, not an error.
func (o *Oracle) Verify(addr common.Address, expected common.Hash) (Verdict, error) {
	observed, err := o.CodeHashOf(addr)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Address: addr, Expected: expected, Observed: observed, Match: observed == expected}, nil
}

// VerifyTarget checks the target's live content against the golden hash.
func (o *Oracle) VerifyTarget() (Verdict, error) {
	return o.Verify(o.target, o.golden)
}
