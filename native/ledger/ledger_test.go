package ledger

import (
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"trustledger/core/types"
)

func addr(fill byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestDepositAccumulates(t *testing.T) {
	l := NewInMemory()
	id := addr(0x01)
	require.NoError(t, l.Deposit(id, big.NewInt(10)))
	require.NoError(t, l.Deposit(id, big.NewInt(10)))

	bal, err := l.BalanceOf(id)
	require.NoError(t, err)
	require.Equal(t, int64(20), bal.Int64())
}

func TestBalanceOfUnknownIsZero(t *testing.T) {
	l := NewInMemory()
	bal, err := l.BalanceOf(addr(0x09))
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestZeroDepositIsNoop(t *testing.T) {
	l := NewInMemory()
	require.NoError(t, l.Deposit(addr(0x01), big.NewInt(0)))
	count, err := l.AddrsLength()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDepositRejectsInvalidInput(t *testing.T) {
	l := NewInMemory()
	require.ErrorIs(t, l.Deposit(types.NullIdentity, big.NewInt(1)), types.ErrNullIdentity)
	require.ErrorIs(t, l.Deposit(addr(0x01), big.NewInt(-1)), types.ErrInvalidAmount)
	require.ErrorIs(t, l.Deposit(addr(0x01), nil), types.ErrInvalidAmount)
}

func TestDistinctDepositorCount(t *testing.T) {
	l := NewInMemory()
	for _, id := range []common.Address{addr(1), addr(2), addr(1), addr(3), addr(2)} {
		require.NoError(t, l.Deposit(id, big.NewInt(5)))
	}
	count, err := l.AddrsLength()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	_, err = l.WithdrawAll(addr(1))
	require.NoError(t, err)
	count, err = l.AddrsLength()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count, "count never decreases")
}

func TestWithdrawAllZeroes(t *testing.T) {
	l := NewInMemory()
	id := addr(0x01)
	require.NoError(t, l.Deposit(id, big.NewInt(15)))

	prior, err := l.WithdrawAll(id)
	require.NoError(t, err)
	require.Equal(t, int64(15), prior.Int64())

	bal, err := l.BalanceOf(id)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	again, err := l.WithdrawAll(id)
	require.NoError(t, err)
	require.Zero(t, again.Sign())
}

func TestWithdrawWithFailedSettlementKeepsBalance(t *testing.T) {
	l := NewInMemory()
	id := addr(0x01)
	require.NoError(t, l.Deposit(id, big.NewInt(20)))

	boom := errors.New("transfer failed")
	_, err := l.WithdrawWith(id, func(amount *big.Int) error {
		require.Equal(t, int64(20), amount.Int64())
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := l.BalanceOf(id)
	require.NoError(t, err)
	require.Equal(t, int64(20), bal.Int64())
	total, err := l.Total()
	require.NoError(t, err)
	require.Equal(t, int64(20), total.Int64())
}

func TestWithdrawWithSkipsSettleOnZero(t *testing.T) {
	l := NewInMemory()
	called := false
	out, err := l.WithdrawWith(addr(0x01), func(*big.Int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, out.Sign())
	require.False(t, called)
}

func TestDepositWithFailedSettlementLeavesNoTrace(t *testing.T) {
	l := NewInMemory()
	id := addr(0x01)
	_, err := l.DepositWith(id, big.NewInt(5), func() error { return errors.New("nope") })
	require.Error(t, err)

	count, err := l.AddrsLength()
	require.NoError(t, err)
	require.Zero(t, count)
	bal, err := l.BalanceOf(id)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestDepositOverflowRejected(t *testing.T) {
	l := NewInMemory()
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, l.Deposit(addr(0x01), max))
	require.ErrorIs(t, l.Deposit(addr(0x01), big.NewInt(1)), types.ErrInvalidAmount)
	require.ErrorIs(t, l.Deposit(addr(0x02), big.NewInt(1)), types.ErrInvalidAmount, "total would overflow")
}

func TestConservationUnderRandomOperations(t *testing.T) {
	l := NewInMemory()
	rng := rand.New(rand.NewSource(7))
	deposited, withdrawn := big.NewInt(0), big.NewInt(0)
	ids := []common.Address{addr(1), addr(2), addr(3), addr(4)}

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(3) == 0 {
			out, err := l.WithdrawAll(id)
			require.NoError(t, err)
			withdrawn.Add(withdrawn, out)
		} else {
			amt := big.NewInt(int64(rng.Intn(100)))
			require.NoError(t, l.Deposit(id, amt))
			deposited.Add(deposited, amt)
		}
		sum := big.NewInt(0)
		for _, other := range ids {
			bal, err := l.BalanceOf(other)
			require.NoError(t, err)
			sum.Add(sum, bal)
		}
		expected := new(big.Int).Sub(deposited, withdrawn)
		require.Zero(t, sum.Cmp(expected))
		total, err := l.Total()
		require.NoError(t, err)
		require.Zero(t, total.Cmp(expected))
	}
}

func TestConcurrentDepositsAcrossIdentities(t *testing.T) {
	l := NewInMemory()
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		id := addr(byte(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.Deposit(id, big.NewInt(1))
			}
		}()
	}
	wg.Wait()

	for i := 1; i <= 8; i++ {
		bal, err := l.BalanceOf(addr(byte(i)))
		require.NoError(t, err)
		require.Equal(t, int64(100), bal.Int64())
	}
	total, err := l.Total()
	require.NoError(t, err)
	require.Equal(t, int64(800), total.Int64())
}
