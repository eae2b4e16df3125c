package agreement

import (
	"math/big"
)

// Status enumerates the lifecycle of a sale agreement. Transitions only move
// forward: Created -> Funded -> (Disputed ->) Completed.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusDisputed
	StatusCompleted
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	return s <= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusDisputed:
		return "disputed"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Holding reports whether an agreement in this state has funds in custody.
func (s Status) Holding() bool {
	return s == StatusFunded || s == StatusDisputed
}

// Agreement is the persisted record of a single sale.
type Agreement struct {
	ID           uint64
	Seller       [20]byte
	Buyer        [20]byte
	Asset        [20]byte
	Amount       *big.Int
	Deposited    *big.Int
	Status       Status
	BuyerPayout  *big.Int
	SellerPayout *big.Int
	DisputedBy   [20]byte
	CreatedAt    int64
	UpdatedAt    int64
}

// Clone returns a deep copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	out := *a
	out.Amount = cloneAmount(a.Amount)
	out.Deposited = cloneAmount(a.Deposited)
	out.BuyerPayout = cloneAmount(a.BuyerPayout)
	out.SellerPayout = cloneAmount(a.SellerPayout)
	return &out
}

// IsParty reports whether addr is the buyer or the seller.
func (a *Agreement) IsParty(addr [20]byte) bool {
	return a != nil && (addr == a.Buyer || addr == a.Seller)
}

// Params holds the process-wide roles.
type Params struct {
	Owner      [20]byte
	Arbitrator [20]byte
}

// CustodyReport compares expected outstanding custody with the vault balance
// for every known asset.
type CustodyReport struct {
	Vault    [20]byte
	Assets   []AssetCustody
	Balanced bool
}

// AssetCustody is one asset's line in a CustodyReport.
type AssetCustody struct {
	Asset    [20]byte
	Expected *big.Int
	Held     *big.Int
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
