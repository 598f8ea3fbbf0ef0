package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"trustledger/core/events"
	"trustledger/core/types"
	"trustledger/storage"
)

func testAddress(fill byte) common.Address {
	var addr common.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newFundedManager(t *testing.T, funded common.Address, amount int64) *Manager {
	t.Helper()
	m := NewManager(storage.NewMemDB())
	_, err := m.Atomic(func(tx *Tx) error {
		return tx.Credit(funded, big.NewInt(amount))
	})
	require.NoError(t, err)
	return m
}

func TestTransferValueMovesExactAmount(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 100)

	require.NoError(t, m.TransferValue(alice, bob, big.NewInt(40)))

	aliceBal, err := m.CurrentBalanceOf(alice)
	require.NoError(t, err)
	bobBal, err := m.CurrentBalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, int64(60), aliceBal.Int64())
	require.Equal(t, int64(40), bobBal.Int64())
}

func TestTransferValueInsufficientBalance(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 10)

	err := m.TransferValue(alice, bob, big.NewInt(11))
	require.True(t, errors.Is(err, types.ErrInsufficientBalance))

	aliceBal, err := m.CurrentBalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), aliceBal.Int64())
}

func TestAtomicRollsBackOnError(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 50)
	before, err := m.TxCount()
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.Atomic(func(tx *Tx) error {
		if err := tx.Transfer(alice, bob, big.NewInt(50)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bobBal, err := m.CurrentBalanceOf(bob)
	require.NoError(t, err)
	require.Zero(t, bobBal.Sign())
	after, err := m.TxCount()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestAtomicEmitsOnlyCommittedEvents(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 50)
	rec := &events.Recorder{}
	m.SetEmitter(rec)

	_, _ = m.Atomic(func(tx *Tx) error {
		_ = tx.Transfer(alice, bob, big.NewInt(1))
		return errors.New("abort")
	})
	require.Empty(t, rec.Events())

	hash, err := m.Atomic(func(tx *Tx) error {
		return tx.Transfer(alice, bob, big.NewInt(1))
	})
	require.NoError(t, err)
	evts := rec.Events()
	require.Len(t, evts, 1)
	transfer, ok := evts[0].(events.Transfer)
	require.True(t, ok)
	require.Equal(t, hash, transfer.TxHash)
}

func TestTxHashesAreDistinct(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 50)
	h1, err := m.Atomic(func(tx *Tx) error { return tx.Transfer(alice, bob, big.NewInt(1)) })
	require.NoError(t, err)
	h2, err := m.Atomic(func(tx *Tx) error { return tx.Transfer(alice, bob, big.NewInt(1)) })
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestDeployCodeDerivesContractAddress(t *testing.T) {
	creator := testAddress(0x0A)
	m := NewManager(storage.NewMemDB())
	code := []byte{0x60, 0x80, 0x60, 0x40}

	var addr common.Address
	_, err := m.Atomic(func(tx *Tx) error {
		var err error
		addr, err = tx.DeployCode(creator, code)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, ethcrypto.CreateAddress(creator, 0), addr)

	got, err := m.RawContentAt(addr)
	require.NoError(t, err)
	require.Equal(t, code, got)

	acc, err := m.Account(addr)
	require.NoError(t, err)
	require.Equal(t, KindCode, acc.Kind)
	require.Equal(t, ethcrypto.Keccak256Hash(code), acc.CodeHash)

	nonce, err := m.Nonce(creator)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestRawContentAtEmptyForPlainAccounts(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	code, err := m.RawContentAt(testAddress(0x33))
	require.NoError(t, err)
	require.Empty(t, code)

	acc, err := m.Account(testAddress(0x33))
	require.NoError(t, err)
	require.Equal(t, gethtypes.EmptyCodeHash, acc.CodeHash)
	require.False(t, acc.Exists())
}

func TestDeployCodeRejectsEmptyContent(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	_, err := m.Atomic(func(tx *Tx) error {
		_, err := tx.DeployCode(testAddress(0x0A), nil)
		return err
	})
	require.Error(t, err)
	nonce, err := m.Nonce(testAddress(0x0A))
	require.NoError(t, err)
	require.Zero(t, nonce)
}

func TestSlotsAreScopedPerAccount(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	a, b := testAddress(0x01), testAddress(0x02)
	_, err := m.Atomic(func(tx *Tx) error {
		return tx.SetSlot(a, []byte("k"), []byte("v"))
	})
	require.NoError(t, err)
	require.NoError(t, m.View(func(tx *Tx) error {
		got, err := tx.Slot(a, []byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), got)
		other, err := tx.Slot(b, []byte("k"))
		require.NoError(t, err)
		require.Nil(t, other)
		return nil
	}))
}

func TestViewRejectsWrites(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	err := m.View(func(tx *Tx) error {
		return tx.Credit(testAddress(0x01), big.NewInt(1))
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestStatePersistsAcrossLevelDBReopen(t *testing.T) {
	dir := t.TempDir()
	alice := testAddress(0x01)

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	m1 := NewManager(db1)
	_, err = m1.Atomic(func(tx *Tx) error { return tx.Credit(alice, big.NewInt(77)) })
	require.NoError(t, err)
	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	m2 := NewManager(db2)
	bal, err := m2.CurrentBalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(77), bal.Int64())
	count, err := m2.TxCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

type failingBatchDB struct {
	storage.Database
	fail bool
}

func (db *failingBatchDB) WriteBatch(writes []storage.KV) error {
	if db.fail {
		return errors.New("disk full")
	}
	return db.Database.WriteBatch(writes)
}

func TestAtomicWithCommitsHookWritesInSameBatch(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	db := &failingBatchDB{Database: storage.NewMemDB()}
	m := NewManager(db)
	_, err := m.Atomic(func(tx *Tx) error { return tx.Credit(alice, big.NewInt(10)) })
	require.NoError(t, err)

	marker := []byte("marker")
	committed := 0
	hook := func(hash common.Hash) ([]storage.KV, func(), error) {
		return []storage.KV{{Key: marker, Value: hash.Bytes()}}, func() { committed++ }, nil
	}

	db.fail = true
	_, err = m.AtomicWith(func(tx *Tx) error { return tx.Transfer(alice, bob, big.NewInt(4)) }, hook)
	require.Error(t, err)
	require.Zero(t, committed)
	has, err := db.Has(marker)
	require.NoError(t, err)
	require.False(t, has)
	bal, err := m.CurrentBalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())

	db.fail = false
	hash, err := m.AtomicWith(func(tx *Tx) error { return tx.Transfer(alice, bob, big.NewInt(4)) }, hook)
	require.NoError(t, err)
	require.Equal(t, 1, committed)
	stored, err := db.Get(marker)
	require.NoError(t, err)
	require.Equal(t, hash.Bytes(), stored)
}

func TestAtomicWithHookErrorAborts(t *testing.T) {
	alice, bob := testAddress(0x01), testAddress(0x02)
	m := newFundedManager(t, alice, 10)
	count, err := m.TxCount()
	require.NoError(t, err)

	_, err = m.AtomicWith(func(tx *Tx) error {
		return tx.Transfer(alice, bob, big.NewInt(4))
	}, func(common.Hash) ([]storage.KV, func(), error) {
		return nil, nil, errors.New("seal refused")
	})
	require.EqualError(t, err, "seal refused")

	bal, err := m.CurrentBalanceOf(bob)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
	after, err := m.TxCount()
	require.NoError(t, err)
	require.Equal(t, count, after)
}

func TestPayoutRefusesCustodialAccounts(t *testing.T) {
	alice, creator := testAddress(0x01), testAddress(0x0c)
	m := newFundedManager(t, alice, 10)
	var walletAddr, escrowAddr common.Address
	_, err := m.Atomic(func(tx *Tx) error {
		var err error
		if walletAddr, err = tx.CreateAccount(creator, KindWallet); err != nil {
			return err
		}
		escrowAddr, err = tx.CreateAccount(creator, KindChainSend)
		return err
	})
	require.NoError(t, err)

	_, err = m.Atomic(func(tx *Tx) error { return tx.Payout(alice, walletAddr, big.NewInt(1)) })
	require.ErrorIs(t, err, types.ErrCustodialRecipient)
	_, err = m.Atomic(func(tx *Tx) error { return tx.Payout(alice, escrowAddr, big.NewInt(1)) })
	require.ErrorIs(t, err, types.ErrNotPayable)
	_, err = m.Atomic(func(tx *Tx) error { return tx.Payout(alice, creator, big.NewInt(3)) })
	require.NoError(t, err)

	bal, err := m.CurrentBalanceOf(creator)
	require.NoError(t, err)
	require.Equal(t, int64(3), bal.Int64())
}
