package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NullIdentity is the all-zero address. It never names a valid depositor or
// recipient.
var NullIdentity = common.Address{}

// NullFingerprint is the all-zero hash.
var NullFingerprint = common.Hash{}

// IsNull reports whether addr is the null identity.
func IsNull(addr common.Address) bool {
	return addr == NullIdentity
}

// ChainStateReference names a point in the authoritative header history by
// height together with the header hash the caller expects at that height.
type ChainStateReference struct {
	Number   uint64      `json:"number"`
	Expected common.Hash `json:"expected"`
}

func (r ChainStateReference) String() string {
	return fmt.Sprintf("%d/%s", r.Number, r.Expected.Hex())
}
