package types

import (
	"errors"
	"math/big"
	"testing"
)

func TestValidateAmount(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	cases := []struct {
		name string
		in   *big.Int
		ok   bool
	}{
		{"nil", nil, false},
		{"negative", big.NewInt(-1), false},
		{"zero", big.NewInt(0), true},
		{"max", max, true},
		{"overflow", new(big.Int).Add(max, big.NewInt(1)), false},
	}
	for _, tc := range cases {
		err := ValidateAmount(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%s: expected ErrInvalidAmount, got %v", tc.name, err)
		}
	}
}

func TestAddCheckedOverflow(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := AddChecked(max, big.NewInt(1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	sum, err := AddChecked(big.NewInt(10), big.NewInt(10))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected 20, got %s", sum)
	}
}

func TestCloneAmountDetaches(t *testing.T) {
	orig := big.NewInt(5)
	clone := CloneAmount(orig)
	clone.SetInt64(7)
	if orig.Int64() != 5 {
		t.Fatalf("clone mutated original")
	}
	if CloneAmount(nil).Sign() != 0 {
		t.Fatalf("nil should clone to zero")
	}
}
