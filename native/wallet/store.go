package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"trustledger/core/state"
)

var (
	slotBalancePrefix = []byte("balance:")
	slotMessagePrefix = []byte("message:")
	slotTotals        = []byte("totals")
	slotMeta          = []byte("meta")
)

type totalsRecord struct {
	Count uint64
	Total *big.Int
}

type metaRecord struct {
	Oracle         common.Address
	OracleCodeHash common.Hash
	HashAlgorithm  string
}

func identitySlot(prefix []byte, id common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+common.AddressLength)
	buf = append(buf, prefix...)
	return append(buf, id.Bytes()...)
}

// slotStore maps ledger entries onto the wallet account's storage slots so
// that ledger writes commit in the same host transaction as the value
// transfer they account for.
type slotStore struct {
	tx     *state.Tx
	wallet common.Address
}

func (s slotStore) Entry(id common.Address) (*big.Int, bool, error) {
	raw, err := s.tx.Slot(s.wallet, identitySlot(slotBalancePrefix, id))
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return big.NewInt(0), false, nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, false, fmt.Errorf("wallet: decode balance of %s: %w", id.Hex(), err)
	}
	return balance, true, nil
}

func (s slotStore) PutEntry(id common.Address, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return s.tx.SetSlot(s.wallet, identitySlot(slotBalancePrefix, id), encoded)
}

func (s slotStore) Totals() (uint64, *big.Int, error) {
	raw, err := s.tx.Slot(s.wallet, slotTotals)
	if err != nil {
		return 0, nil, err
	}
	if len(raw) == 0 {
		return 0, big.NewInt(0), nil
	}
	rec := new(totalsRecord)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return 0, nil, fmt.Errorf("wallet: decode totals: %w", err)
	}
	if rec.Total == nil {
		rec.Total = big.NewInt(0)
	}
	return rec.Count, rec.Total, nil
}

func (s slotStore) PutTotals(count uint64, total *big.Int) error {
	encoded, err := rlp.EncodeToBytes(&totalsRecord{Count: count, Total: total})
	if err != nil {
		return err
	}
	return s.tx.SetSlot(s.wallet, slotTotals, encoded)
}

func loadMessage(tx *state.Tx, wallet, id common.Address) ([]byte, error) {
	raw, err := tx.Slot(wallet, identitySlot(slotMessagePrefix, id))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var msg []byte
	if err := rlp.DecodeBytes(raw, &msg); err != nil {
		return nil, fmt.Errorf("wallet: decode message of %s: %w", id.Hex(), err)
	}
	return msg, nil
}

func storeMessage(tx *state.Tx, wallet, id common.Address, msg []byte) error {
	encoded, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	return tx.SetSlot(wallet, identitySlot(slotMessagePrefix, id), encoded)
}

func loadMeta(tx *state.Tx, wallet common.Address) (*metaRecord, error) {
	raw, err := tx.Slot(wallet, slotMeta)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	rec := new(metaRecord)
	if err := rlp.DecodeBytes(raw, rec); err != nil {
		return nil, fmt.Errorf("wallet: decode metadata: %w", err)
	}
	return rec, nil
}

func storeMeta(tx *state.Tx, wallet common.Address, rec *metaRecord) error {
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return tx.SetSlot(wallet, slotMeta, encoded)
}
