package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists ledger entries. Implementations need not be safe for
// concurrent use on the same identity; the Ledger serialises those calls.
type Store interface {
	// Entry returns the balance of id and whether id has ever deposited.
	Entry(id common.Address) (*big.Int, bool, error)
	PutEntry(id common.Address, balance *big.Int) error
	// Totals returns the distinct depositor count and the sum of balances.
	Totals() (uint64, *big.Int, error)
	PutTotals(count uint64, total *big.Int) error
}

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	entries map[common.Address]*big.Int
	count   uint64
	total   *big.Int
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[common.Address]*big.Int), total: big.NewInt(0)}
}

func (s *MemStore) Entry(id common.Address) (*big.Int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.entries[id]
	if !ok {
		return big.NewInt(0), false, nil
	}
	return new(big.Int).Set(balance), true, nil
}

func (s *MemStore) PutEntry(id common.Address, balance *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = new(big.Int).Set(balance)
	return nil
}

func (s *MemStore) Totals() (uint64, *big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, new(big.Int).Set(s.total), nil
}

func (s *MemStore) PutTotals(count uint64, total *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = count
	s.total = new(big.Int).Set(total)
	return nil
}
