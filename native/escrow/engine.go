// Package escrow implements ChainSend, a single-shot conditional transfer
// that forwards its value to a recipient only when the caller's view of a
// historical header matches the chain's actual fingerprint at that height.
package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"trustledger/core/events"
	"trustledger/core/state"
	"trustledger/core/types"
	"trustledger/observability"
)

var (
	// ErrNotPayable is returned for value sent to a released ChainSend.
	ErrNotPayable = types.ErrNotPayable
	// ErrNotChainSend is returned by Load for addresses that are not escrows.
	ErrNotChainSend = errors.New("escrow: address is not a chainsend")

	errNilHistory = errors.New("escrow: fingerprint source not configured")
)

var slotRecord = []byte("chainsend")

// Host is the ledger host the escrow runs on.
type Host interface {
	Atomic(fn func(*state.Tx) error) (common.Hash, error)
	View(fn func(*state.Tx) error) error
}

// FingerprintSource resolves historical header fingerprints. Heights beyond
// the head or outside the retained window resolve to the zero hash.
type FingerprintSource interface {
	FingerprintAt(number uint64) (common.Hash, error)
}

// Deploy constructs a ChainSend. The value moves from the creator through the
// escrow account to the recipient in one host transaction, and only when the
// reference matches the chain. Any rejection leaves no account, nonce bump or
// balance change behind.
func Deploy(host Host, history FingerprintSource, p Params) (*ChainSend, error) {
	return DeployWithLogger(host, history, p, slog.Default())
}

// DeployWithLogger is Deploy with an explicit logger.
func DeployWithLogger(host Host, history FingerprintSource, p Params, logger *slog.Logger) (*ChainSend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "chainsend"))
	cs, err := deploy(host, history, p)
	if err != nil {
		observability.Custody().RecordEscrow(outcome(err))
		logger.Warn("chainsend rejected",
			slog.String("creator", p.Creator.Hex()),
			slog.String("recipient", p.Recipient.Hex()),
			slog.String("reference", p.Reference.String()),
			slog.Any("error", err))
		return nil, err
	}
	observability.Custody().RecordEscrow("released")
	logger.Info("chainsend released",
		slog.String("escrow", cs.address.Hex()),
		slog.String("recipient", cs.recipient.Hex()),
		slog.String("amount", cs.value.String()),
		slog.Uint64("number", cs.reference.Number))
	return cs, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, types.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, types.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, types.ErrTransferFailure):
		return "transfer_failure"
	default:
		return "error"
	}
}

func deploy(host Host, history FingerprintSource, p Params) (*ChainSend, error) {
	if history == nil {
		return nil, errNilHistory
	}
	if types.IsNull(p.Creator) {
		return nil, fmt.Errorf("escrow: creator: %w", types.ErrNullIdentity)
	}
	if types.IsNull(p.Recipient) {
		return nil, fmt.Errorf("escrow: recipient: %w", types.ErrInvalidRecipient)
	}
	value := p.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if err := types.ValidateAmount(value); err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	actual, err := history.FingerprintAt(p.Reference.Number)
	if err != nil {
		return nil, fmt.Errorf("escrow: resolve fingerprint: %w", err)
	}
	// An unavailable header resolves to the null fingerprint, which never
	// matches, even when the caller expects it.
	if actual == types.NullFingerprint || actual != p.Reference.Expected {
		return nil, fmt.Errorf("%w: header %d is %s, expected %s",
			types.ErrStateMismatch, p.Reference.Number, actual.Hex(), p.Reference.Expected.Hex())
	}

	var cs *ChainSend
	_, err = host.Atomic(func(tx *state.Tx) error {
		creator, err := tx.Account(p.Creator)
		if err != nil {
			return err
		}
		if creator.Custodial() {
			return fmt.Errorf("escrow: creator %s: %w", p.Creator.Hex(), types.ErrCustodialSender)
		}
		addr, err := tx.CreateAccount(p.Creator, state.KindChainSend)
		if err != nil {
			return err
		}
		if err := tx.Transfer(p.Creator, addr, value); err != nil {
			return fmt.Errorf("%w: fund escrow: %v", types.ErrTransferFailure, err)
		}
		if err := tx.Payout(addr, p.Recipient, value); err != nil {
			return fmt.Errorf("%w: release escrow: %w", types.ErrTransferFailure, err)
		}
		cs = &ChainSend{
			address:   addr,
			creator:   p.Creator,
			recipient: p.Recipient,
			reference: p.Reference,
			value:     new(big.Int).Set(value),
			status:    StatusReleased,
			txHash:    tx.Hash(),
		}
		encoded, err := rlp.EncodeToBytes(cs.toRecord())
		if err != nil {
			return err
		}
		if err := tx.SetSlot(addr, slotRecord, encoded); err != nil {
			return err
		}
		tx.Emit(events.ChainSendReleased{
			Escrow:    addr,
			Creator:   p.Creator,
			Recipient: p.Recipient,
			Reference: p.Reference,
			Amount:    new(big.Int).Set(value),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Load returns the ChainSend recorded at addr.
func Load(host Host, addr common.Address) (*ChainSend, error) {
	var cs *ChainSend
	err := host.View(func(tx *state.Tx) error {
		acc, err := tx.Account(addr)
		if err != nil {
			return err
		}
		if acc.Kind != state.KindChainSend {
			return fmt.Errorf("%w: %s", ErrNotChainSend, addr.Hex())
		}
		raw, err := tx.Slot(addr, slotRecord)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return fmt.Errorf("escrow: missing record for %s", addr.Hex())
		}
		rec := new(record)
		if err := rlp.DecodeBytes(raw, rec); err != nil {
			return fmt.Errorf("escrow: decode record: %w", err)
		}
		cs = fromRecord(addr, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}
