package wallet

import (
	"bytes"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"trustledger/core/events"
	"trustledger/core/state"
	"trustledger/core/types"
	"trustledger/native/integrity"
	"trustledger/storage"
)

var oracleRuntime = common.FromHex("0x6080604052348015600f57600080fd5b506004361060285760003560e01c8063")

func addr(fill byte) common.Address {
	var a common.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type fixture struct {
	host     *state.Manager
	recorder *events.Recorder
	deployer common.Address
	oracle   common.Address
	wallet   *Wallet
}

func newFixture(t *testing.T, funded map[common.Address]int64, opts ...Option) *fixture {
	t.Helper()
	host := state.NewManager(storage.NewMemDB())
	recorder := &events.Recorder{}
	host.SetEmitter(recorder)
	deployer := addr(0xd0)
	var oracle common.Address
	_, err := host.Atomic(func(tx *state.Tx) error {
		for a, amount := range funded {
			if err := tx.Credit(a, big.NewInt(amount)); err != nil {
				return err
			}
		}
		var err error
		oracle, err = tx.DeployCode(deployer, oracleRuntime)
		return err
	})
	require.NoError(t, err)
	w, err := Deploy(host, deployer, oracle, opts...)
	require.NoError(t, err)
	return &fixture{host: host, recorder: recorder, deployer: deployer, oracle: oracle, wallet: w}
}

func (f *fixture) balance(t *testing.T, a common.Address) int64 {
	t.Helper()
	bal, err := f.host.CurrentBalanceOf(a)
	require.NoError(t, err)
	return bal.Int64()
}

func (f *fixture) attributed(t *testing.T, a common.Address) int64 {
	t.Helper()
	bal, err := f.wallet.GetBalance(a)
	require.NoError(t, err)
	return bal.Int64()
}

func TestDepositsAndWithdrawalsAcrossIdentities(t *testing.T) {
	alice, bob := addr(0x01), addr(0x02)
	aliceTarget, bobTarget := addr(0x11), addr(0x12)
	f := newFixture(t, map[common.Address]int64{alice: 100, bob: 100})

	_, err := f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)
	balance, err := f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Int64())
	_, err = f.wallet.Deposit(bob, big.NewInt(15))
	require.NoError(t, err)

	require.Equal(t, int64(20), f.attributed(t, alice))
	require.Equal(t, int64(15), f.attributed(t, bob))
	require.Equal(t, int64(35), f.balance(t, f.wallet.Address()))
	count, err := f.wallet.GetAddrsLength()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	paid, err := f.wallet.WithdrawTo(alice, aliceTarget)
	require.NoError(t, err)
	require.Equal(t, int64(20), paid.Int64())
	paid, err = f.wallet.WithdrawTo(bob, bobTarget)
	require.NoError(t, err)
	require.Equal(t, int64(15), paid.Int64())

	require.Equal(t, int64(20), f.balance(t, aliceTarget))
	require.Equal(t, int64(15), f.balance(t, bobTarget))
	require.Zero(t, f.attributed(t, alice))
	require.Zero(t, f.attributed(t, bob))
	require.Zero(t, f.balance(t, f.wallet.Address()))

	count, err = f.wallet.GetAddrsLength()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestCustodyEqualsAttributedTotal(t *testing.T) {
	alice, bob := addr(0x01), addr(0x02)
	f := newFixture(t, map[common.Address]int64{alice: 50, bob: 50})
	for _, step := range []struct {
		from   common.Address
		amount int64
	}{{alice, 5}, {bob, 7}, {alice, 0}, {bob, 11}} {
		_, err := f.wallet.Deposit(step.from, big.NewInt(step.amount))
		require.NoError(t, err)
		custody, err := f.wallet.Custody()
		require.NoError(t, err)
		total, err := f.wallet.TotalAttributed()
		require.NoError(t, err)
		require.Zero(t, custody.Cmp(total))
	}
	_, err := f.wallet.WithdrawTo(bob, addr(0x22))
	require.NoError(t, err)
	custody, err := f.wallet.Custody()
	require.NoError(t, err)
	require.Equal(t, int64(5), custody.Int64())
}

func TestWithdrawRefusesCustodialTargets(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 50})
	other, err := Deploy(f.host, f.deployer, f.oracle)
	require.NoError(t, err)
	var escrowAddr common.Address
	_, err = f.host.Atomic(func(tx *state.Tx) error {
		var err error
		escrowAddr, err = tx.CreateAccount(f.deployer, state.KindChainSend)
		return err
	})
	require.NoError(t, err)

	_, err = f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)

	_, err = f.wallet.WithdrawTo(alice, other.Address())
	require.ErrorIs(t, err, types.ErrTransferFailure)
	require.ErrorIs(t, err, types.ErrCustodialRecipient)

	_, err = f.wallet.WithdrawTo(alice, escrowAddr)
	require.ErrorIs(t, err, types.ErrTransferFailure)
	require.ErrorIs(t, err, types.ErrNotPayable)

	_, err = f.wallet.WithdrawTo(alice, f.wallet.Address())
	require.ErrorIs(t, err, types.ErrCustodialRecipient)

	require.Equal(t, int64(10), f.attributed(t, alice))
	require.Zero(t, f.balance(t, escrowAddr))
	for _, w := range []*Wallet{f.wallet, other} {
		custody, err := w.Custody()
		require.NoError(t, err)
		total, err := w.TotalAttributed()
		require.NoError(t, err)
		require.Zero(t, custody.Cmp(total))
	}
	custody, err := other.Custody()
	require.NoError(t, err)
	require.Zero(t, custody.Sign())
}

func TestConcurrentOperationsSerialiseThroughHost(t *testing.T) {
	funded := map[common.Address]int64{}
	ids := make([]common.Address, 8)
	for i := range ids {
		ids[i] = addr(byte(0x40 + i))
		funded[ids[i]] = 100
	}
	f := newFixture(t, funded)

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*5)
	for _, id := range ids {
		for n := 0; n < 5; n++ {
			wg.Add(1)
			go func(id common.Address) {
				defer wg.Done()
				_, err := f.wallet.Deposit(id, big.NewInt(2))
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total, err := f.wallet.TotalAttributed()
	require.NoError(t, err)
	require.Equal(t, int64(80), total.Int64())
	custody, err := f.wallet.Custody()
	require.NoError(t, err)
	require.Zero(t, custody.Cmp(total))
	count, err := f.wallet.GetAddrsLength()
	require.NoError(t, err)
	require.Equal(t, uint64(len(ids)), count)
	for _, id := range ids {
		require.Equal(t, int64(10), f.attributed(t, id))
	}
}

func TestZeroDepositDoesNotRegisterIdentity(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 10})
	balance, err := f.wallet.Deposit(alice, big.NewInt(0))
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
	count, err := f.wallet.GetAddrsLength()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDepositWithoutFundsLeavesLedgerUntouched(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 5})
	_, err := f.wallet.Deposit(alice, big.NewInt(6))
	require.True(t, errors.Is(err, types.ErrTransferFailure))
	require.Zero(t, f.attributed(t, alice))
	require.Equal(t, int64(5), f.balance(t, alice))
	count, err := f.wallet.GetAddrsLength()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestWithdrawWithZeroBalanceIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	paid, err := f.wallet.WithdrawTo(addr(0x05), addr(0x06))
	require.NoError(t, err)
	require.Zero(t, paid.Sign())
	require.Zero(t, f.balance(t, addr(0x06)))
}

func TestWithdrawToNullTargetRejected(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 10})
	_, err := f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.wallet.WithdrawTo(alice, types.NullIdentity)
	require.True(t, errors.Is(err, types.ErrInvalidRecipient))
	require.Equal(t, int64(10), f.attributed(t, alice))
}

func TestFailedWithdrawalKeepsBalance(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 10})
	_, err := f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)

	_, err = f.wallet.WithdrawTo(alice, f.wallet.Address())
	require.True(t, errors.Is(err, types.ErrTransferFailure))
	require.Equal(t, int64(10), f.attributed(t, alice))
	require.Equal(t, int64(10), f.balance(t, f.wallet.Address()))
}

func TestMessagesArePerIdentity(t *testing.T) {
	alice, bob := addr(0x01), addr(0x02)
	f := newFixture(t, nil)

	msg, err := f.wallet.GetMessage(alice)
	require.NoError(t, err)
	require.Empty(t, msg)

	require.NoError(t, f.wallet.SetMessage(alice, []byte("first")))
	require.NoError(t, f.wallet.SetMessage(alice, []byte("second")))
	require.NoError(t, f.wallet.SetMessage(bob, []byte{0x00, 0xff}))

	msg, err = f.wallet.GetMessage(alice)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), msg)
	msg, err = f.wallet.GetMessage(bob)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0xff}, msg)

	require.Error(t, f.wallet.SetMessage(types.NullIdentity, []byte("x")))
}

func TestOracleFingerprintIsKeccakOfRuntimeCode(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, f.oracle, f.wallet.OracleAddr())
	require.Equal(t, ethcrypto.Keccak256Hash(oracleRuntime), f.wallet.OracleCodeHash())

	code, err := f.wallet.GetCode(f.oracle)
	require.NoError(t, err)
	require.Equal(t, oracleRuntime, code)

	live, err := f.wallet.GetCodeHash(f.oracle)
	require.NoError(t, err)
	require.Equal(t, f.wallet.OracleCodeHash(), live)

	verdict, err := f.wallet.VerifyOracle()
	require.NoError(t, err)
	require.True(t, verdict.Match)
}

func TestGetCodeOfPlainAccountIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	code, err := f.wallet.GetCode(addr(0x42))
	require.NoError(t, err)
	require.Empty(t, code)
}

func TestDeployRejectsMissingOracle(t *testing.T) {
	host := state.NewManager(storage.NewMemDB())
	_, err := Deploy(host, addr(0xd0), types.NullIdentity)
	require.ErrorIs(t, err, ErrInvalidOracle)
	_, err = Deploy(host, addr(0xd0), addr(0x33))
	require.ErrorIs(t, err, ErrOracleNotDeployed)

	nonce, err := host.Nonce(addr(0xd0))
	require.NoError(t, err)
	require.Zero(t, nonce)
}

func TestLoadRestoresFrozenFingerprint(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 10}, WithHasher(integrity.Blake3))
	_, err := f.wallet.Deposit(alice, big.NewInt(4))
	require.NoError(t, err)

	loaded, err := Load(f.host, f.wallet.Address())
	require.NoError(t, err)
	require.Equal(t, f.wallet.OracleCodeHash(), loaded.OracleCodeHash())
	require.Equal(t, integrity.Blake3.Sum(oracleRuntime), loaded.OracleCodeHash())
	bal, err := loaded.GetBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(4), bal.Int64())

	_, err = Load(f.host, alice)
	require.ErrorIs(t, err, ErrNotWallet)
}

func TestEventsEmittedOnlyForCommittedOperations(t *testing.T) {
	alice := addr(0x01)
	f := newFixture(t, map[common.Address]int64{alice: 10})
	_, err := f.wallet.Deposit(alice, big.NewInt(10))
	require.NoError(t, err)
	_, err = f.wallet.Deposit(alice, big.NewInt(1))
	require.Error(t, err)
	_, err = f.wallet.WithdrawTo(alice, addr(0x02))
	require.NoError(t, err)
	require.NoError(t, f.wallet.SetMessage(alice, []byte("hi")))

	require.Equal(t, []string{
		events.TypeCodeDeployed,
		events.TypeWalletDeployed,
		events.TypeTransfer,
		events.TypeWalletDeposit,
		events.TypeTransfer,
		events.TypeWalletWithdraw,
		events.TypeWalletMessage,
	}, f.recorder.Types())
}

func TestMessageContentIsMaskedInLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, nil, WithLogger(logger))
	require.NoError(t, f.wallet.SetMessage(addr(0x01), []byte("top secret")))
	require.NotContains(t, buf.String(), "top secret")
	require.Contains(t, buf.String(), "wallet message set")
}
