package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/types"
)

const (
	// TypeTransfer is emitted for every committed host value movement.
	TypeTransfer = "transfer.native"
)

type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	TxHash common.Hash
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	if e.TxHash != (common.Hash{}) {
		attrs["txHash"] = e.TxHash.Hex()
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
