package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustledger/core/events"
	"trustledger/core/types"
	"trustledger/storage"
)

var (
	errReadOnly       = errors.New("state: read-only transaction")
	errTxClosed       = errors.New("state: transaction already finished")
	errAddressInUse   = errors.New("state: address already in use")
	errEmptyExecCode  = errors.New("state: executable content must not be empty")
	errSelfTransfer   = errors.New("state: sender and recipient are identical")
	errUnknownAccount = errors.New("state: unknown account")
)

// Tx is a buffered view over the host state. Writes stay in an overlay until
// the enclosing Manager.Atomic call returns nil, at which point they are
// written as one storage batch. A Tx must not be retained past its callback.
type Tx struct {
	db       storage.Database
	readOnly bool
	closed   bool
	hash     common.Hash

	writes map[string][]byte
	order  []string
	events []events.Event
}

func newTx(db storage.Database, readOnly bool, hash common.Hash) *Tx {
	return &Tx{
		db:       db,
		readOnly: readOnly,
		hash:     hash,
		writes:   make(map[string][]byte),
	}
}

// Hash returns the identifier of the transaction. Read-only views carry the
// zero hash.
func (tx *Tx) Hash() common.Hash { return tx.hash }

func (tx *Tx) get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, errTxClosed
	}
	if value, ok := tx.writes[string(key)]; ok {
		if value == nil {
			return nil, nil
		}
		return common.CopyBytes(value), nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.closed {
		return errTxClosed
	}
	if tx.readOnly {
		return errReadOnly
	}
	k := string(key)
	if _, seen := tx.writes[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = common.CopyBytes(value)
	return nil
}

func (tx *Tx) emit(e events.Event) {
	if tx.readOnly {
		return
	}
	tx.events = append(tx.events, e)
}

func (tx *Tx) batch() []storage.KV {
	out := make([]storage.KV, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, storage.KV{Key: []byte(k), Value: tx.writes[k]})
	}
	return out
}

// Account loads the account stored at addr. Unknown addresses yield an empty
// external account.
func (tx *Tx) Account(addr common.Address) (*Account, error) {
	acc := emptyAccount(addr)
	data, err := tx.get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := decodeStateAccount(addr, data, acc); err != nil {
			return nil, err
		}
	}
	meta, err := tx.get(accountMetadataKey(addr))
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := decodeAccountMetadata(meta, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (tx *Tx) putAccount(acc *Account) error {
	encoded, err := encodeStateAccount(acc)
	if err != nil {
		return err
	}
	if err := tx.put(accountStateKey(acc.Address), encoded); err != nil {
		return err
	}
	meta, err := encodeAccountMetadata(acc)
	if err != nil {
		return err
	}
	return tx.put(accountMetadataKey(acc.Address), meta)
}

// BalanceOf returns the current host balance of addr.
func (tx *Tx) BalanceOf(addr common.Address) (*big.Int, error) {
	acc, err := tx.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// RawContentAt returns the executable content stored at addr, or an empty
// slice when none is deployed.
func (tx *Tx) RawContentAt(addr common.Address) ([]byte, error) {
	acc, err := tx.Account(addr)
	if err != nil {
		return nil, err
	}
	if !acc.HasCode() {
		return []byte{}, nil
	}
	code, err := tx.get(codeKey(acc.CodeHash))
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, fmt.Errorf("state: missing code %s for %s", acc.CodeHash.Hex(), addr.Hex())
	}
	return code, nil
}

// Credit mints amount into addr. It is reserved for genesis allocation.
func (tx *Tx) Credit(addr common.Address, amount *big.Int) error {
	if err := types.ValidateAmount(amount); err != nil {
		return err
	}
	acc, err := tx.Account(addr)
	if err != nil {
		return err
	}
	sum, err := types.AddChecked(acc.Balance, amount)
	if err != nil {
		return err
	}
	acc.Balance = sum
	return tx.putAccount(acc)
}

// Transfer moves amount from one address to another. A zero amount is a
// valid no-op.
func (tx *Tx) Transfer(from, to common.Address, amount *big.Int) error {
	if err := types.ValidateAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if from == to {
		return errSelfTransfer
	}
	fromAcc, err := tx.Account(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", types.ErrInsufficientBalance, from.Hex(), fromAcc.Balance, amount)
	}
	toAcc, err := tx.Account(to)
	if err != nil {
		return err
	}
	credited, err := types.AddChecked(toAcc.Balance, amount)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = credited
	if err := tx.putAccount(fromAcc); err != nil {
		return err
	}
	if err := tx.putAccount(toAcc); err != nil {
		return err
	}
	tx.emit(events.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), TxHash: tx.hash})
	return nil
}

// Payout moves amount out of a custodial account to an identity. Unlike
// Transfer it refuses recipients that are themselves custodial: wallets
// would hold the value without attributing it to anyone, and released
// escrows must keep a zero balance.
func (tx *Tx) Payout(from, to common.Address, amount *big.Int) error {
	target, err := tx.Account(to)
	if err != nil {
		return err
	}
	switch target.Kind {
	case KindWallet:
		return fmt.Errorf("%w: %s", types.ErrCustodialRecipient, to.Hex())
	case KindChainSend:
		return fmt.Errorf("%w: %s", types.ErrNotPayable, to.Hex())
	}
	return tx.Transfer(from, to, amount)
}

// CreateAccount derives the next deployment address for creator, bumps the
// creator's nonce and registers the fresh account with the supplied kind.
func (tx *Tx) CreateAccount(creator common.Address, kind Kind) (common.Address, error) {
	if types.IsNull(creator) {
		return common.Address{}, types.ErrNullIdentity
	}
	creatorAcc, err := tx.Account(creator)
	if err != nil {
		return common.Address{}, err
	}
	addr := ethcrypto.CreateAddress(creator, creatorAcc.Nonce)
	target, err := tx.Account(addr)
	if err != nil {
		return common.Address{}, err
	}
	if target.HasCode() || target.Kind != KindExternal || target.Nonce != 0 {
		return common.Address{}, fmt.Errorf("%w: %s", errAddressInUse, addr.Hex())
	}
	creatorAcc.Nonce++
	if err := tx.putAccount(creatorAcc); err != nil {
		return common.Address{}, err
	}
	target.Kind = kind
	target.Creator = creator
	target.Nonce = 1
	if err := tx.putAccount(target); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// SetCode stores executable content at addr. Content is addressed by its
// keccak256 hash.
func (tx *Tx) SetCode(addr common.Address, code []byte) (common.Hash, error) {
	if len(code) == 0 {
		return common.Hash{}, errEmptyExecCode
	}
	acc, err := tx.Account(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if acc.Kind == KindExternal && acc.Nonce == 0 {
		return common.Hash{}, fmt.Errorf("%w: %s", errUnknownAccount, addr.Hex())
	}
	hash := ethcrypto.Keccak256Hash(code)
	if err := tx.put(codeKey(hash), code); err != nil {
		return common.Hash{}, err
	}
	acc.CodeHash = hash
	if err := tx.putAccount(acc); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// DeployCode creates a code account owned by creator holding code.
func (tx *Tx) DeployCode(creator common.Address, code []byte) (common.Address, error) {
	if len(code) == 0 {
		return common.Address{}, errEmptyExecCode
	}
	addr, err := tx.CreateAccount(creator, KindCode)
	if err != nil {
		return common.Address{}, err
	}
	hash, err := tx.SetCode(addr, code)
	if err != nil {
		return common.Address{}, err
	}
	tx.emit(events.CodeDeployed{Address: addr, Creator: creator, CodeHash: hash, Size: len(code)})
	return addr, nil
}

// Slot reads a storage slot owned by addr. Missing slots return nil.
func (tx *Tx) Slot(addr common.Address, slot []byte) ([]byte, error) {
	return tx.get(slotKey(addr, slot))
}

// SetSlot writes a storage slot owned by addr.
func (tx *Tx) SetSlot(addr common.Address, slot, value []byte) error {
	return tx.put(slotKey(addr, slot), value)
}

// Emit queues an event that is published only if the transaction commits.
func (tx *Tx) Emit(e events.Event) {
	tx.emit(e)
}

// IsEmptyCodeHash reports whether hash denotes the absence of code.
func IsEmptyCodeHash(hash common.Hash) bool {
	return hash == gethtypes.EmptyCodeHash || hash == (common.Hash{})
}
