package types

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ValidateAmount checks that v is a non-nil, non-negative value that fits in
// a 256-bit word.
func ValidateAmount(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative value %s", ErrInvalidAmount, v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: value exceeds 256 bits", ErrInvalidAmount)
	}
	return nil
}

// AddChecked returns a+b, failing when the sum leaves the 256-bit range.
func AddChecked(a, b *big.Int) (*big.Int, error) {
	x, overflow := uint256.FromBig(a)
	if overflow {
		return nil, fmt.Errorf("%w: value exceeds 256 bits", ErrInvalidAmount)
	}
	y, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: value exceeds 256 bits", ErrInvalidAmount)
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: sum exceeds 256 bits", ErrInvalidAmount)
	}
	return sum.ToBig(), nil
}

// CloneAmount returns a copy of v, mapping nil to zero.
func CloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
