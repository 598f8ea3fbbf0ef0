package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"trustledger/crypto"
)

func decodeSingleParam(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseAddress accepts hex addresses or bech32 identities.
func parseAddress(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseIdentity(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount accepts base-10 integers or 0x-prefixed hex quantities.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		v, err := hexutil.DecodeBig(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: amount must not be negative", field)
	}
	return v, nil
}

// parseHash accepts a 0x-prefixed hex value or a base-10 integer and
// left-pads it to 32 bytes, so "1", "0x1" and "0x01" name the same hash.
func parseHash(field, raw string) (common.Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Hash{}, nil
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		digits := trimmed[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hexutil.Decode("0x" + digits)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%s: %w", field, err)
		}
		if len(b) > common.HashLength {
			return common.Hash{}, fmt.Errorf("%s: hash longer than %d bytes", field, common.HashLength)
		}
		return common.BytesToHash(b), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("%s: invalid hash %q", field, raw)
	}
	if v.BitLen() > 8*common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: hash longer than %d bytes", field, common.HashLength)
	}
	return common.BigToHash(v), nil
}

func parseBytes(field, raw string) ([]byte, error) {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}
