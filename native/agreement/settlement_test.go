package agreement

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestComputeSplit(t *testing.T) {
	deposited := big.NewInt(1_000)
	cases := []struct {
		name          string
		buyer, seller *big.Int
		want          error
	}{
		{"even", big.NewInt(500), big.NewInt(500), nil},
		{"all to buyer", big.NewInt(1_000), nil, nil},
		{"all to seller", nil, big.NewInt(1_000), nil},
		{"short", big.NewInt(400), big.NewInt(500), ErrAmountMismatch},
		{"over", big.NewInt(600), big.NewInt(500), ErrAmountMismatch},
		{"negative buyer", big.NewInt(-1), big.NewInt(1_001), ErrInvalidAmount},
		{"negative seller", big.NewInt(1_001), big.NewInt(-1), ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split, err := ComputeSplit(deposited, tc.buyer, tc.seller)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			total := new(big.Int).Add(split.Buyer, split.Seller)
			if total.Cmp(deposited) != 0 {
				t.Fatalf("split does not conserve deposit: %s", total)
			}
		})
	}
}

func TestComputeSplitDoesNotAliasInputs(t *testing.T) {
	buyer := big.NewInt(300)
	split, err := ComputeSplit(big.NewInt(300), buyer, nil)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	buyer.SetInt64(0)
	if split.Buyer.Int64() != 300 {
		t.Fatalf("split must own its amounts")
	}
}

func TestReleaseSplitPaysSeller(t *testing.T) {
	split := releaseSplit(big.NewInt(77))
	if split.Buyer.Sign() != 0 || split.Seller.Int64() != 77 {
		t.Fatalf("unexpected release split %s/%s", split.Buyer, split.Seller)
	}
}

func TestCodeLabels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("wrap: %w", ErrInvalidState), "invalid_state"},
		{ErrUnauthorized, "unauthorized"},
		{ErrAmountMismatch, "amount_mismatch"},
		{fmt.Errorf("%w: %w", ErrTransferFailed, ErrReentrantCall), "transfer_failed"},
		{ErrReentrantCall, "reentrant_call"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestStatusHolding(t *testing.T) {
	if StatusCreated.Holding() || StatusCompleted.Holding() {
		t.Fatalf("created and completed agreements hold no funds")
	}
	if !StatusFunded.Holding() || !StatusDisputed.Holding() {
		t.Fatalf("funded and disputed agreements hold funds")
	}
	if Status(9).Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}
