// Package ledger implements exact-integer balance accounting keyed by
// depositor identity.
//
// Deposits accumulate, withdrawals always take the whole balance, and the
// number of distinct identities that have ever deposited only grows. Every
// read-modify-write on one identity runs under that identity's lock shard;
// other identities only contend on the shared totals. The locks cover one
// Ledger value; callers that build a Ledger per host transaction get their
// serialisation from the host instead.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/types"
)

const lockShards = 64

var errNilStore = errors.New("ledger: store not configured")

// Ledger tracks per-identity balances on top of a Store.
type Ledger struct {
	store  Store
	shards [lockShards]sync.Mutex
	// totalsMu guards the depositor count and balance sum, which every
	// identity shares.
	totalsMu sync.Mutex
}

// New creates a ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// NewInMemory creates a ledger backed by a fresh MemStore.
func NewInMemory() *Ledger {
	return New(NewMemStore())
}

func (l *Ledger) lock(id common.Address) func() {
	shard := &l.shards[int(id[common.AddressLength-1])%lockShards]
	shard.Lock()
	return shard.Unlock
}

// Deposit credits amount to id. A zero amount is a valid no-op that does not
// register id as a depositor.
func (l *Ledger) Deposit(id common.Address, amount *big.Int) error {
	_, err := l.DepositWith(id, amount, nil)
	return err
}

// DepositWith credits amount to id once settle succeeds. settle runs while the
// identity is locked, after the new balance has been validated, so a failed
// settlement leaves the entry untouched. It returns the resulting balance.
func (l *Ledger) DepositWith(id common.Address, amount *big.Int, settle func() error) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	if types.IsNull(id) {
		return nil, fmt.Errorf("ledger: deposit: %w", types.ErrNullIdentity)
	}
	if err := types.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("ledger: deposit: %w", err)
	}
	unlock := l.lock(id)
	defer unlock()

	balance, known, err := l.store.Entry(id)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		if settle != nil {
			if err := settle(); err != nil {
				return nil, err
			}
		}
		return balance, nil
	}
	updated, err := types.AddChecked(balance, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: deposit: %w", err)
	}

	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	count, total, err := l.store.Totals()
	if err != nil {
		return nil, err
	}
	newTotal, err := types.AddChecked(total, amount)
	if err != nil {
		return nil, fmt.Errorf("ledger: deposit: %w", err)
	}
	if !known {
		count++
	}
	if settle != nil {
		if err := settle(); err != nil {
			return nil, err
		}
	}
	if err := l.store.PutEntry(id, updated); err != nil {
		return nil, err
	}
	if err := l.store.PutTotals(count, newTotal); err != nil {
		return nil, err
	}
	return new(big.Int).Set(updated), nil
}

// BalanceOf returns the balance of id; unknown identities hold zero.
func (l *Ledger) BalanceOf(id common.Address) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	unlock := l.lock(id)
	defer unlock()
	balance, _, err := l.store.Entry(id)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// WithdrawAll resets the balance of id to zero and returns the prior value.
// Withdrawing a zero balance is a valid no-op returning zero.
func (l *Ledger) WithdrawAll(id common.Address) (*big.Int, error) {
	return l.WithdrawWith(id, nil)
}

// WithdrawWith zeroes the balance of id only after settle has moved the prior
// balance out. settle is skipped for zero balances. When settle fails the
// entry keeps its balance and the error is returned.
func (l *Ledger) WithdrawWith(id common.Address, settle func(amount *big.Int) error) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	unlock := l.lock(id)
	defer unlock()

	balance, known, err := l.store.Entry(id)
	if err != nil {
		return nil, err
	}
	if !known || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}

	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	count, total, err := l.store.Totals()
	if err != nil {
		return nil, err
	}
	if total.Cmp(balance) < 0 {
		return nil, fmt.Errorf("ledger: total %s below entry balance %s", total, balance)
	}
	if settle != nil {
		if err := settle(new(big.Int).Set(balance)); err != nil {
			return nil, err
		}
	}
	if err := l.store.PutEntry(id, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := l.store.PutTotals(count, new(big.Int).Sub(total, balance)); err != nil {
		return nil, err
	}
	return balance, nil
}

// AddrsLength returns the number of distinct identities that have ever made a
// non-zero deposit.
func (l *Ledger) AddrsLength() (uint64, error) {
	if l == nil || l.store == nil {
		return 0, errNilStore
	}
	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	count, _, err := l.store.Totals()
	return count, err
}

// Total returns the sum of all balances.
func (l *Ledger) Total() (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	l.totalsMu.Lock()
	defer l.totalsMu.Unlock()
	_, total, err := l.store.Totals()
	return total, err
}
