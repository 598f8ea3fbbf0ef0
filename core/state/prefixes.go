package state

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountStatePrefix    = []byte("account:")
	accountMetadataPrefix = []byte("account-meta:")
	codePrefix            = []byte("code:")
	slotPrefix            = []byte("slot:")
	txCounterKey          = ethcrypto.Keccak256([]byte("tx-counter"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func accountStateKey(addr common.Address) []byte {
	return prefixedKey(accountStatePrefix, addr.Bytes())
}

func accountMetadataKey(addr common.Address) []byte {
	return prefixedKey(accountMetadataPrefix, addr.Bytes())
}

func codeKey(codeHash common.Hash) []byte {
	return prefixedKey(codePrefix, codeHash.Bytes())
}

func slotKey(addr common.Address, slot []byte) []byte {
	return prefixedKey(slotPrefix, addr.Bytes(), slot)
}
