package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"trustledger/core/chain"
	"trustledger/core/events"
	"trustledger/core/state"
	"trustledger/core/types"
	"trustledger/native/escrow"
	"trustledger/native/integrity"
	"trustledger/native/wallet"
	"trustledger/observability"
	"trustledger/storage"
)

const (
	defaultEventLogSize = 1024
	walletCacheSize     = 256
)

// GenesisAlloc mints Balance into Address when the node starts on an empty
// store.
type GenesisAlloc struct {
	Address common.Address
	Balance *big.Int
}

// Options configures a Node.
type Options struct {
	Network       string
	HashAlgorithm string
	Genesis       []GenesisAlloc
	Logger        *slog.Logger
	// Emitter receives every committed event after the node has recorded it.
	Emitter      events.Emitter
	EventLogSize int
}

// Node is the central controller wiring the ledger host, the header history
// and the custody components together.
type Node struct {
	db      storage.Database
	state   *state.Manager
	chain   *chain.History
	host    minedHost
	hasher  integrity.Hasher
	logger  *slog.Logger
	events  *eventLog
	wallets *lru.Cache[common.Address, *wallet.Wallet]

	stateMu sync.Mutex
}

// NewNode opens the node over db. Genesis allocations are applied only when
// the store holds no committed transaction yet.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "node"))
	hasher, err := integrity.HasherByName(opts.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	size := opts.EventLogSize
	if size <= 0 {
		size = defaultEventLogSize
	}
	wallets, err := lru.New[common.Address, *wallet.Wallet](walletCacheSize)
	if err != nil {
		return nil, err
	}

	manager := state.NewManager(db)
	log := newEventLog(size, opts.Emitter)
	manager.SetEmitter(log)
	if err := applyGenesis(manager, opts.Genesis); err != nil {
		return nil, err
	}
	history, err := chain.Open(db, manager, opts.Network)
	if err != nil {
		return nil, err
	}

	n := &Node{
		db:      db,
		state:   manager,
		chain:   history,
		hasher:  hasher,
		logger:  logger,
		events:  log,
		wallets: wallets,
	}
	n.host = minedHost{mu: &n.stateMu, state: manager, chain: history, logger: logger}
	head := history.Head()
	observability.Custody().SetHeadHeight(head.Number.Uint64())
	logger.Info("node ready",
		slog.String("network", opts.Network),
		slog.Uint64("head", head.Number.Uint64()),
		slog.String("genesis", n.Genesis().Hex()),
		slog.String("hash", hasher.Name()))
	return n, nil
}

func applyGenesis(manager *state.Manager, alloc []GenesisAlloc) error {
	if len(alloc) == 0 {
		return nil
	}
	count, err := manager.TxCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = manager.Atomic(func(tx *state.Tx) error {
		for _, a := range alloc {
			if err := tx.Credit(a.Address, a.Balance); err != nil {
				return fmt.Errorf("genesis allocation %s: %w", a.Address.Hex(), err)
			}
		}
		return nil
	})
	return err
}

// Host exposes the sealing host used by custody components.
func (n *Node) Host() wallet.Host { return n.host }

// Chain returns the header history.
func (n *Node) Chain() *chain.History { return n.chain }

// Genesis returns the fingerprint of header zero.
func (n *Node) Genesis() common.Hash {
	fp, err := n.chain.FingerprintAt(0)
	if err != nil {
		return common.Hash{}
	}
	return fp
}

// Head returns the latest sealed header.
func (n *Node) Head() *gethtypes.Header { return n.chain.Head() }

// HeaderByNumber returns the sealed header at number.
func (n *Node) HeaderByNumber(number uint64) (*gethtypes.Header, error) {
	return n.chain.HeaderByNumber(number)
}

// FingerprintAt returns the header hash at number, or the zero hash when the
// height is not available.
func (n *Node) FingerprintAt(number uint64) (common.Hash, error) {
	return n.chain.FingerprintAt(number)
}

// Balance returns the committed host balance of addr.
func (n *Node) Balance(addr common.Address) (*big.Int, error) {
	return n.chain.IdentityBalance(addr)
}

// Account returns the committed account at addr.
func (n *Node) Account(addr common.Address) (*state.Account, error) {
	return n.state.Account(addr)
}

// Code returns the executable content stored at addr.
func (n *Node) Code(addr common.Address) ([]byte, error) {
	return n.state.RawContentAt(addr)
}

// RecentEvents returns up to limit of the latest committed events.
func (n *Node) RecentEvents(limit int) []types.Event {
	return n.events.recent(limit)
}

// DeployCode stores executable content at a fresh address derived from the
// creator's nonce.
func (n *Node) DeployCode(creator common.Address, code []byte) (common.Address, error) {
	var addr common.Address
	_, err := n.host.Atomic(func(tx *state.Tx) error {
		sender, err := tx.Account(creator)
		if err != nil {
			return err
		}
		if sender.Custodial() {
			return types.ErrCustodialSender
		}
		addr, err = tx.DeployCode(creator, code)
		return err
	})
	if err != nil {
		return common.Address{}, err
	}
	n.logger.Info("code deployed",
		slog.String("address", addr.Hex()),
		slog.String("creator", creator.Hex()),
		slog.Int("size", len(code)))
	return addr, nil
}

// DeployWallet creates a custodial wallet trusting the oracle at oracleAddr.
func (n *Node) DeployWallet(creator, oracleAddr common.Address) (*wallet.Wallet, error) {
	w, err := wallet.Deploy(n.host, creator, oracleAddr,
		wallet.WithHasher(n.hasher),
		wallet.WithLogger(n.logger))
	if err != nil {
		return nil, err
	}
	n.wallets.Add(w.Address(), w)
	return w, nil
}

// Wallet returns the wallet deployed at addr.
func (n *Node) Wallet(addr common.Address) (*wallet.Wallet, error) {
	if w, ok := n.wallets.Get(addr); ok {
		return w, nil
	}
	w, err := wallet.Load(n.host, addr, wallet.WithLogger(n.logger))
	if err != nil {
		return nil, err
	}
	n.wallets.Add(addr, w)
	return w, nil
}

// DeployChainSend constructs a conditional escrow against the node's header
// history.
func (n *Node) DeployChainSend(p escrow.Params) (*escrow.ChainSend, error) {
	return escrow.DeployWithLogger(n.host, n.chain, p, n.logger)
}

// ChainSend returns the escrow record stored at addr.
func (n *Node) ChainSend(addr common.Address) (*escrow.ChainSend, error) {
	return escrow.Load(n.host, addr)
}

// SendValue moves amount from one address to another, dispatching on what
// lives at the destination: wallets credit the sender's balance, released
// escrows refuse value, anything else receives a plain transfer. The returned
// hash identifies the committed transaction.
func (n *Node) SendValue(from, to common.Address, amount *big.Int) (common.Hash, error) {
	if types.IsNull(from) {
		return common.Hash{}, fmt.Errorf("send: %w", types.ErrNullIdentity)
	}
	if types.IsNull(to) {
		return common.Hash{}, fmt.Errorf("send: %w", types.ErrInvalidRecipient)
	}
	var kind state.Kind
	hash, err := n.host.Atomic(func(tx *state.Tx) error {
		target, err := tx.Account(to)
		if err != nil {
			return err
		}
		kind = target.Kind
		switch target.Kind {
		case state.KindWallet:
			_, err := wallet.DepositInto(tx, to, from, amount)
			return err
		case state.KindChainSend:
			return fmt.Errorf("send to %s: %w", to.Hex(), escrow.ErrNotPayable)
		}
		sender, err := tx.Account(from)
		if err != nil {
			return err
		}
		if sender.Custodial() {
			return fmt.Errorf("send from %s: %w", from.Hex(), types.ErrCustodialSender)
		}
		return tx.Transfer(from, to, amount)
	})
	if err != nil {
		if kind == state.KindWallet && errors.Is(err, types.ErrTransferFailure) {
			observability.Custody().RecordTransferFailure("wallet_deposit")
		}
		return common.Hash{}, err
	}
	if kind == state.KindWallet {
		observability.Custody().RecordDeposit(amount)
	}
	n.logger.Debug("value sent",
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.String("kind", kind.String()),
		slog.String("amount", amount.String()),
		slog.String("tx", hash.Hex()))
	return hash, nil
}

// Close releases the underlying database.
func (n *Node) Close() {
	n.db.Close()
}
