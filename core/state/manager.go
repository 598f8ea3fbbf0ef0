package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustledger/core/events"
	"trustledger/storage"
)

// Manager is the ledger host. It owns account balances, nonces and
// executable content and serialises every mutation: Atomic callbacks run one
// at a time and either commit all of their writes or none.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	emitter events.Emitter
}

// NewManager creates a host over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for committed transactions.
// Passing nil resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// CommitHook contributes writes to the storage batch of a transaction whose
// callback succeeded. The returned function, when non-nil, runs only after
// the batch is durable.
type CommitHook func(hash common.Hash) ([]storage.KV, func(), error)

// Atomic runs fn inside a write transaction. When fn returns an error every
// buffered write is discarded. The returned hash identifies the committed
// transaction.
func (m *Manager) Atomic(fn func(*Tx) error) (common.Hash, error) {
	return m.AtomicWith(fn, nil)
}

// AtomicWith is Atomic with a commit hook whose writes land in the same
// batch as the transaction's own. A hook error aborts the transaction.
func (m *Manager) AtomicWith(fn func(*Tx) error, hook CommitHook) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, err := m.loadTxCounter()
	if err != nil {
		return common.Hash{}, err
	}
	hash := txHash(counter)
	tx := newTx(m.db, false, hash)
	if err := fn(tx); err != nil {
		tx.closed = true
		return common.Hash{}, err
	}
	if err := tx.put(txCounterKey, encodeCounter(counter+1)); err != nil {
		return common.Hash{}, err
	}
	tx.closed = true
	writes := tx.batch()
	var committed func()
	if hook != nil {
		extra, done, err := hook(hash)
		if err != nil {
			return common.Hash{}, err
		}
		writes = append(writes, extra...)
		committed = done
	}
	if err := m.db.WriteBatch(writes); err != nil {
		return common.Hash{}, fmt.Errorf("state: commit: %w", err)
	}
	if committed != nil {
		committed()
	}
	for _, e := range tx.events {
		m.emitter.Emit(e)
	}
	return hash, nil
}

// View runs fn against a read-only snapshot of the committed state.
func (m *Manager) View(fn func(*Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx := newTx(m.db, true, common.Hash{})
	defer func() { tx.closed = true }()
	return fn(tx)
}

// CurrentBalanceOf returns the committed balance held by addr.
func (m *Manager) CurrentBalanceOf(addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := m.View(func(tx *Tx) error {
		var err error
		balance, err = tx.BalanceOf(addr)
		return err
	})
	return balance, err
}

// TransferValue moves amount between two accounts as its own transaction.
func (m *Manager) TransferValue(from, to common.Address, amount *big.Int) error {
	_, err := m.Atomic(func(tx *Tx) error {
		return tx.Transfer(from, to, amount)
	})
	return err
}

// RawContentAt returns the executable content committed at addr.
func (m *Manager) RawContentAt(addr common.Address) ([]byte, error) {
	var code []byte
	err := m.View(func(tx *Tx) error {
		var err error
		code, err = tx.RawContentAt(addr)
		return err
	})
	return code, err
}

// Account returns the committed account stored at addr.
func (m *Manager) Account(addr common.Address) (*Account, error) {
	var acc *Account
	err := m.View(func(tx *Tx) error {
		var err error
		acc, err = tx.Account(addr)
		return err
	})
	return acc, err
}

// Nonce returns the deployment nonce of addr.
func (m *Manager) Nonce(addr common.Address) (uint64, error) {
	acc, err := m.Account(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// TxCount returns the number of committed transactions.
func (m *Manager) TxCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadTxCounter()
}

func (m *Manager) loadTxCounter() (uint64, error) {
	tx := newTx(m.db, true, common.Hash{})
	data, err := tx.get(txCounterKey)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: corrupt tx counter")
	}
	return binary.BigEndian.Uint64(data), nil
}

func encodeCounter(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func txHash(counter uint64) common.Hash {
	return ethcrypto.Keccak256Hash([]byte("tx:"), encodeCounter(counter))
}
