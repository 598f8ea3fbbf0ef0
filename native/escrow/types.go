package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/types"
)

// Status is the lifecycle state of a ChainSend. Construction either releases
// the value or fails entirely, so a persisted record is always released.
type Status uint8

const (
	StatusReleased Status = iota + 1
)

func (s Status) String() string {
	switch s {
	case StatusReleased:
		return "released"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Params describes a conditional escrow construction.
type Params struct {
	Creator   common.Address
	Recipient common.Address
	Reference types.ChainStateReference
	Value     *big.Int
}

// record is the persisted form of a ChainSend.
type record struct {
	Creator   common.Address
	Recipient common.Address
	Number    uint64
	Expected  common.Hash
	Value     *big.Int
	Status    uint8
	TxHash    common.Hash
}

// ChainSend is a released conditional escrow. It holds no value and accepts
// no further operations; the accessors only describe what happened.
type ChainSend struct {
	address   common.Address
	creator   common.Address
	recipient common.Address
	reference types.ChainStateReference
	value     *big.Int
	status    Status
	txHash    common.Hash
}

func (c *ChainSend) Address() common.Address              { return c.address }
func (c *ChainSend) Creator() common.Address              { return c.creator }
func (c *ChainSend) Recipient() common.Address            { return c.recipient }
func (c *ChainSend) Reference() types.ChainStateReference { return c.reference }
func (c *ChainSend) Status() Status                       { return c.status }
func (c *ChainSend) TxHash() common.Hash                  { return c.txHash }
func (c *ChainSend) Value() *big.Int                      { return new(big.Int).Set(c.value) }

func (c *ChainSend) toRecord() *record {
	return &record{
		Creator:   c.creator,
		Recipient: c.recipient,
		Number:    c.reference.Number,
		Expected:  c.reference.Expected,
		Value:     new(big.Int).Set(c.value),
		Status:    uint8(c.status),
		TxHash:    c.txHash,
	}
}

func fromRecord(addr common.Address, rec *record) *ChainSend {
	value := rec.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return &ChainSend{
		address:   addr,
		creator:   rec.Creator,
		recipient: rec.Recipient,
		reference: types.ChainStateReference{Number: rec.Number, Expected: rec.Expected},
		value:     new(big.Int).Set(value),
		status:    Status(rec.Status),
		txHash:    rec.TxHash,
	}
}
