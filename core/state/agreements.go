package state

import (
	"fmt"
	"math/big"

	"saleescrow/native/agreement"
)

type storedAgreement struct {
	ID           uint64
	Seller       [20]byte
	Buyer        [20]byte
	Asset        [20]byte
	Amount       *big.Int
	Deposited    *big.Int
	Status       uint8
	BuyerPayout  *big.Int
	SellerPayout *big.Int
	DisputedBy   [20]byte
	CreatedAt    uint64
	UpdatedAt    uint64
}

type storedParams struct {
	Owner      [20]byte
	Arbitrator [20]byte
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredAgreement(a *agreement.Agreement) *storedAgreement {
	return &storedAgreement{
		ID:           a.ID,
		Seller:       a.Seller,
		Buyer:        a.Buyer,
		Asset:        a.Asset,
		Amount:       nonNegative(a.Amount),
		Deposited:    nonNegative(a.Deposited),
		Status:       uint8(a.Status),
		BuyerPayout:  nonNegative(a.BuyerPayout),
		SellerPayout: nonNegative(a.SellerPayout),
		DisputedBy:   a.DisputedBy,
		CreatedAt:    uint64(a.CreatedAt),
		UpdatedAt:    uint64(a.UpdatedAt),
	}
}

func (s *storedAgreement) toAgreement() (*agreement.Agreement, error) {
	status := agreement.Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("state: agreement %d has invalid status %d", s.ID, s.Status)
	}
	return &agreement.Agreement{
		ID:           s.ID,
		Seller:       s.Seller,
		Buyer:        s.Buyer,
		Asset:        s.Asset,
		Amount:       nonNegative(s.Amount),
		Deposited:    nonNegative(s.Deposited),
		Status:       status,
		BuyerPayout:  nonNegative(s.BuyerPayout),
		SellerPayout: nonNegative(s.SellerPayout),
		DisputedBy:   s.DisputedBy,
		CreatedAt:    int64(s.CreatedAt),
		UpdatedAt:    int64(s.UpdatedAt),
	}, nil
}

// AgreementGet loads the agreement stored under id.
func (tx *Tx) AgreementGet(id uint64) (*agreement.Agreement, bool, error) {
	var stored storedAgreement
	ok, err := tx.loadRLP(agreementKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	out, err := stored.toAgreement()
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// AgreementPut stores a.
func (tx *Tx) AgreementPut(a *agreement.Agreement) error {
	if a == nil {
		return fmt.Errorf("state: nil agreement")
	}
	if a.CreatedAt < 0 || a.UpdatedAt < 0 {
		return fmt.Errorf("state: agreement %d has negative timestamp", a.ID)
	}
	return tx.storeRLP(agreementKey(a.ID), newStoredAgreement(a))
}

// AgreementCount returns how many identifiers have been allocated.
func (tx *Tx) AgreementCount() (uint64, error) {
	var count uint64
	if _, err := tx.loadRLP(agreementCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// AgreementSetCount advances the identifier counter. It never moves backwards.
func (tx *Tx) AgreementSetCount(n uint64) error {
	current, err := tx.AgreementCount()
	if err != nil {
		return err
	}
	if n < current {
		return fmt.Errorf("state: agreement count cannot decrease from %d to %d", current, n)
	}
	return tx.storeRLP(agreementCountKey, n)
}

func (tx *Tx) ParamsGet() (*agreement.Params, bool, error) {
	var stored storedParams
	ok, err := tx.loadRLP(paramsKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &agreement.Params{Owner: stored.Owner, Arbitrator: stored.Arbitrator}, true, nil
}

func (tx *Tx) ParamsPut(p *agreement.Params) error {
	if p == nil {
		return fmt.Errorf("state: nil params")
	}
	return tx.storeRLP(paramsKey, &storedParams{Owner: p.Owner, Arbitrator: p.Arbitrator})
}
