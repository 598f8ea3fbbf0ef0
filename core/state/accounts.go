package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Kind classifies what lives at an address. The node dispatch table routes
// plain value transfers on it.
type Kind uint8

const (
	KindExternal Kind = iota
	KindCode
	KindWallet
	KindChainSend
)

func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindCode:
		return "code"
	case KindWallet:
		return "wallet"
	case KindChainSend:
		return "chainsend"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type accountMetadata struct {
	Kind    uint8
	Creator common.Address
}

// Account is the host view of one address.
type Account struct {
	Address  common.Address
	Nonce    uint64
	Balance  *big.Int
	CodeHash common.Hash
	Kind     Kind
	Creator  common.Address
}

// HasCode reports whether executable content is stored at the account.
func (a *Account) HasCode() bool {
	return a.CodeHash != gethtypes.EmptyCodeHash && a.CodeHash != (common.Hash{})
}

// Custodial reports whether the account holds value on behalf of others.
func (a *Account) Custodial() bool {
	return a.Kind == KindWallet || a.Kind == KindChainSend
}

// Exists reports whether the account has ever been touched.
func (a *Account) Exists() bool {
	return a.Nonce != 0 || a.Balance.Sign() != 0 || a.HasCode() || a.Kind != KindExternal
}

func emptyAccount(addr common.Address) *Account {
	return &Account{
		Address:  addr,
		Balance:  big.NewInt(0),
		CodeHash: gethtypes.EmptyCodeHash,
		Kind:     KindExternal,
	}
}

func encodeStateAccount(acc *Account) ([]byte, error) {
	balance, overflow := uint256.FromBig(acc.Balance)
	if overflow {
		return nil, fmt.Errorf("balance overflow")
	}
	stateAcc := &gethtypes.StateAccount{
		Nonce:    acc.Nonce,
		Balance:  balance,
		Root:     gethtypes.EmptyRootHash,
		CodeHash: common.CopyBytes(acc.CodeHash.Bytes()),
	}
	return rlp.EncodeToBytes(stateAcc)
}

func decodeStateAccount(addr common.Address, data []byte, acc *Account) error {
	stateAcc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, stateAcc); err != nil {
		return fmt.Errorf("decode account %s: %w", addr.Hex(), err)
	}
	acc.Nonce = stateAcc.Nonce
	if stateAcc.Balance != nil {
		acc.Balance = stateAcc.Balance.ToBig()
	}
	if len(stateAcc.CodeHash) > 0 {
		acc.CodeHash = common.BytesToHash(stateAcc.CodeHash)
	}
	return nil
}

func encodeAccountMetadata(acc *Account) ([]byte, error) {
	return rlp.EncodeToBytes(&accountMetadata{Kind: uint8(acc.Kind), Creator: acc.Creator})
}

func decodeAccountMetadata(data []byte, acc *Account) error {
	meta := new(accountMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return fmt.Errorf("decode account metadata %s: %w", acc.Address.Hex(), err)
	}
	acc.Kind = Kind(meta.Kind)
	acc.Creator = meta.Creator
	return nil
}
