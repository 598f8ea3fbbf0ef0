// Package wallet implements a multi-depositor custodial wallet whose trust in
// an oracle executable is anchored to the oracle's code fingerprint at
// deployment time.
//
// Value sent to the wallet is attributed to the sender in a ledger kept in
// the wallet account's storage. Withdrawals always pay out the caller's whole
// balance and debit the ledger only if the outbound transfer commits.
//
// Each operation opens a ledger over the storage of its own host
// transaction. Host transactions run one at a time, which is what keeps
// concurrent operations on one wallet from interleaving.
package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/events"
	"trustledger/core/state"
	"trustledger/core/types"
	"trustledger/native/integrity"
	"trustledger/native/ledger"
	"trustledger/observability"
	"trustledger/observability/logging"
)

var (
	// ErrInvalidOracle is returned when the oracle address is null.
	ErrInvalidOracle = errors.New("wallet: invalid oracle address")
	// ErrOracleNotDeployed is returned when no executable exists at the
	// oracle address, leaving nothing to fingerprint.
	ErrOracleNotDeployed = errors.New("wallet: oracle has no executable content")
	// ErrNotWallet is returned by Load for addresses that are not wallets.
	ErrNotWallet = errors.New("wallet: address is not a custodial wallet")
)

// Host is the ledger host the wallet runs on.
type Host interface {
	Atomic(fn func(*state.Tx) error) (common.Hash, error)
	View(fn func(*state.Tx) error) error
}

type viewRegistry struct {
	host Host
}

func (r viewRegistry) RawContentAt(addr common.Address) ([]byte, error) {
	var code []byte
	err := r.host.View(func(tx *state.Tx) error {
		var err error
		code, err = tx.RawContentAt(addr)
		return err
	})
	return code, err
}

// Wallet is a deployed custodial wallet.
type Wallet struct {
	host   Host
	addr   common.Address
	oracle *integrity.Oracle
	logger *slog.Logger
}

type settings struct {
	hasher integrity.Hasher
	logger *slog.Logger
}

// Option customises a wallet.
type Option func(*settings)

// WithHasher selects the fingerprint algorithm used for the oracle.
func WithHasher(h integrity.Hasher) Option {
	return func(s *settings) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithLogger sets the structured logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func resolve(opts []Option) settings {
	s := settings{hasher: integrity.Keccak256, logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Deploy creates a wallet account on behalf of creator and freezes the
// fingerprint of the executable at oracleAddr. The fingerprint is computed by
// the wallet itself; no caller-supplied hash is trusted.
func Deploy(host Host, creator, oracleAddr common.Address, opts ...Option) (*Wallet, error) {
	if types.IsNull(oracleAddr) {
		return nil, ErrInvalidOracle
	}
	cfg := resolve(opts)
	var (
		addr   common.Address
		golden common.Hash
	)
	_, err := host.Atomic(func(tx *state.Tx) error {
		code, err := tx.RawContentAt(oracleAddr)
		if err != nil {
			return err
		}
		if len(code) == 0 {
			return fmt.Errorf("%w: %s", ErrOracleNotDeployed, oracleAddr.Hex())
		}
		oracle, err := integrity.New(tx, oracleAddr, integrity.WithHasher(cfg.hasher))
		if err != nil {
			return err
		}
		addr, err = tx.CreateAccount(creator, state.KindWallet)
		if err != nil {
			return err
		}
		golden = oracle.GoldenHash()
		if err := storeMeta(tx, addr, &metaRecord{
			Oracle:         oracleAddr,
			OracleCodeHash: golden,
			HashAlgorithm:  cfg.hasher.Name(),
		}); err != nil {
			return err
		}
		tx.Emit(events.WalletDeployed{Wallet: addr, Oracle: oracleAddr, OracleCodeHash: golden})
		return nil
	})
	if err != nil {
		return nil, err
	}
	w, err := restore(host, addr, oracleAddr, golden, cfg)
	if err != nil {
		return nil, err
	}
	w.logger.Info("wallet deployed",
		slog.String("wallet", addr.Hex()),
		slog.String("oracle", oracleAddr.Hex()),
		slog.String("oracleCodeHash", golden.Hex()),
		slog.String("hash", cfg.hasher.Name()))
	return w, nil
}

// Load reopens a wallet previously deployed at addr. The oracle fingerprint
// comes from the wallet's storage, never from the oracle's current content.
func Load(host Host, addr common.Address, opts ...Option) (*Wallet, error) {
	cfg := resolve(opts)
	var meta *metaRecord
	err := host.View(func(tx *state.Tx) error {
		acc, err := tx.Account(addr)
		if err != nil {
			return err
		}
		if acc.Kind != state.KindWallet {
			return fmt.Errorf("%w: %s", ErrNotWallet, addr.Hex())
		}
		meta, err = loadMeta(tx, addr)
		if err != nil {
			return err
		}
		if meta == nil {
			return fmt.Errorf("wallet: missing metadata for %s", addr.Hex())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	hasher, err := integrity.HasherByName(meta.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	cfg.hasher = hasher
	return restore(host, addr, meta.Oracle, meta.OracleCodeHash, cfg)
}

func restore(host Host, addr, oracleAddr common.Address, golden common.Hash, cfg settings) (*Wallet, error) {
	oracle, err := integrity.Restore(viewRegistry{host: host}, oracleAddr, golden, integrity.WithHasher(cfg.hasher))
	if err != nil {
		return nil, err
	}
	return &Wallet{
		host:   host,
		addr:   addr,
		oracle: oracle,
		logger: cfg.logger.With(slog.String("component", "wallet")),
	}, nil
}

// Address returns the wallet's own address.
func (w *Wallet) Address() common.Address { return w.addr }

// OracleAddr returns the oracle reference recorded at deployment.
func (w *Wallet) OracleAddr() common.Address { return w.oracle.Target() }

// OracleCodeHash returns the oracle fingerprint frozen at deployment.
func (w *Wallet) OracleCodeHash() common.Hash { return w.oracle.GoldenHash() }

// GetCode returns the executable content currently stored at addr.
func (w *Wallet) GetCode(addr common.Address) ([]byte, error) {
	return w.oracle.RawCodeOf(addr)
}

// GetCodeHash computes the live fingerprint of the content at addr.
func (w *Wallet) GetCodeHash(addr common.Address) (common.Hash, error) {
	return w.oracle.CodeHashOf(addr)
}

// VerifyOracle compares the oracle's live fingerprint with the frozen one.
func (w *Wallet) VerifyOracle() (integrity.Verdict, error) {
	return w.oracle.VerifyTarget()
}

func (w *Wallet) read(fn func(*ledger.Ledger) error) error {
	return w.host.View(func(tx *state.Tx) error {
		return fn(ledger.New(slotStore{tx: tx, wallet: w.addr}))
	})
}

// GetBalance returns the balance attributed to id.
func (w *Wallet) GetBalance(id common.Address) (*big.Int, error) {
	var balance *big.Int
	err := w.read(func(l *ledger.Ledger) error {
		var err error
		balance, err = l.BalanceOf(id)
		return err
	})
	return balance, err
}

// GetAddrsLength returns the number of distinct identities that have ever
// deposited.
func (w *Wallet) GetAddrsLength() (uint64, error) {
	var count uint64
	err := w.read(func(l *ledger.Ledger) error {
		var err error
		count, err = l.AddrsLength()
		return err
	})
	return count, err
}

// TotalAttributed returns the sum of all depositor balances.
func (w *Wallet) TotalAttributed() (*big.Int, error) {
	var total *big.Int
	err := w.read(func(l *ledger.Ledger) error {
		var err error
		total, err = l.Total()
		return err
	})
	return total, err
}

// Custody returns the host balance held by the wallet account. It always
// equals TotalAttributed.
func (w *Wallet) Custody() (*big.Int, error) {
	var balance *big.Int
	err := w.host.View(func(tx *state.Tx) error {
		var err error
		balance, err = tx.BalanceOf(w.addr)
		return err
	})
	return balance, err
}

// Deposit moves amount from sender into the wallet and credits it to the
// sender's balance. It is the explicit entry point for plain value transfers
// addressed to the wallet. A zero amount is a no-op.
func (w *Wallet) Deposit(from common.Address, amount *big.Int) (*big.Int, error) {
	var balance *big.Int
	_, err := w.host.Atomic(func(tx *state.Tx) error {
		var err error
		balance, err = DepositInto(tx, w.addr, from, amount)
		return err
	})
	if err != nil {
		if errors.Is(err, types.ErrTransferFailure) {
			observability.Custody().RecordTransferFailure("wallet_deposit")
		}
		return nil, err
	}
	observability.Custody().RecordDeposit(amount)
	w.logger.Debug("wallet deposit",
		slog.String("wallet", w.addr.Hex()),
		slog.String("from", from.Hex()),
		slog.String("amount", amount.String()))
	return balance, nil
}

// DepositInto performs a deposit into the wallet at walletAddr inside a
// transaction owned by the caller. The node uses it to route plain value
// transfers addressed to a wallet.
func DepositInto(tx *state.Tx, walletAddr, from common.Address, amount *big.Int) (*big.Int, error) {
	if types.IsNull(from) {
		return nil, fmt.Errorf("wallet: deposit: %w", types.ErrNullIdentity)
	}
	sender, err := tx.Account(from)
	if err != nil {
		return nil, err
	}
	if sender.Custodial() {
		return nil, fmt.Errorf("wallet: deposit from %s: %w", from.Hex(), types.ErrCustodialSender)
	}
	l := ledger.New(slotStore{tx: tx, wallet: walletAddr})
	balance, err := l.DepositWith(from, amount, func() error {
		if err := tx.Transfer(from, walletAddr, amount); err != nil {
			return fmt.Errorf("%w: %v", types.ErrTransferFailure, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		tx.Emit(events.WalletDeposit{Wallet: walletAddr, From: from, Amount: new(big.Int).Set(amount), Balance: new(big.Int).Set(balance)})
	}
	return balance, nil
}

// WithdrawTo pays the caller's entire balance to target. The ledger entry is
// zeroed only if the transfer commits. A zero balance is a no-op returning
// zero.
func (w *Wallet) WithdrawTo(caller, target common.Address) (*big.Int, error) {
	if types.IsNull(target) {
		return nil, fmt.Errorf("wallet: withdraw: %w", types.ErrInvalidRecipient)
	}
	var amount *big.Int
	_, err := w.host.Atomic(func(tx *state.Tx) error {
		l := ledger.New(slotStore{tx: tx, wallet: w.addr})
		var err error
		amount, err = l.WithdrawWith(caller, func(out *big.Int) error {
			if err := tx.Payout(w.addr, target, out); err != nil {
				return fmt.Errorf("%w: %w", types.ErrTransferFailure, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if amount.Sign() > 0 {
			tx.Emit(events.WalletWithdraw{Wallet: w.addr, Owner: caller, To: target, Amount: new(big.Int).Set(amount)})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrTransferFailure) {
			observability.Custody().RecordTransferFailure("wallet_withdraw")
		}
		w.logger.Warn("wallet withdrawal rejected",
			slog.String("wallet", w.addr.Hex()),
			slog.String("caller", caller.Hex()),
			slog.Any("error", err))
		return nil, err
	}
	observability.Custody().RecordWithdrawal(amount)
	w.logger.Debug("wallet withdrawal",
		slog.String("wallet", w.addr.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("to", target.Hex()),
		slog.String("amount", amount.String()))
	return amount, nil
}

// SetMessage replaces the caller's message.
func (w *Wallet) SetMessage(caller common.Address, text []byte) error {
	if types.IsNull(caller) {
		return fmt.Errorf("wallet: set message: %w", types.ErrNullIdentity)
	}
	_, err := w.host.Atomic(func(tx *state.Tx) error {
		if err := storeMessage(tx, w.addr, caller, text); err != nil {
			return err
		}
		tx.Emit(events.WalletMessage{Wallet: w.addr, Owner: caller, Length: len(text)})
		return nil
	})
	if err != nil {
		return err
	}
	w.logger.Debug("wallet message set",
		slog.String("wallet", w.addr.Hex()),
		slog.String("caller", caller.Hex()),
		logging.MaskField("text", string(text)))
	return nil
}

// GetMessage returns the message stored by id, or nil when none was set.
func (w *Wallet) GetMessage(id common.Address) ([]byte, error) {
	var msg []byte
	err := w.host.View(func(tx *state.Tx) error {
		var err error
		msg, err = loadMessage(tx, w.addr, id)
		return err
	})
	return msg, err
}
