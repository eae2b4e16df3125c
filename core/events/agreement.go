package events

import (
	"math/big"

	"saleescrow/core/types"
)

const (
	TypeAgreementCreated  = "agreement.created"
	TypePaymentDeposited  = "agreement.payment_deposited"
	TypePaymentReleased   = "agreement.payment_released"
	TypeDisputeRaised     = "agreement.dispute_raised"
	TypeDisputeResolved   = "agreement.dispute_resolved"
	TypeArbitratorChanged = "agreement.arbitrator_changed"
)

// AgreementCreated is emitted when a seller opens a new sale agreement.
type AgreementCreated struct {
	ID     uint64
	Seller [20]byte
	Buyer  [20]byte
	Amount *big.Int
	Asset  [20]byte
}

func (AgreementCreated) EventType() string { return TypeAgreementCreated }

func (e AgreementCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeAgreementCreated,
		Attributes: map[string]string{
			"agreementId": formatID(e.ID),
			"seller":      accountString(e.Seller),
			"buyer":       accountString(e.Buyer),
			"amount":      formatAmount(e.Amount),
			"asset":       AssetLabel(e.Asset),
		},
	}
}

// PaymentDeposited is emitted once the buyer's payment is in custody.
type PaymentDeposited struct {
	ID     uint64
	Amount *big.Int
}

func (PaymentDeposited) EventType() string { return TypePaymentDeposited }

func (e PaymentDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentDeposited,
		Attributes: map[string]string{
			"agreementId": formatID(e.ID),
			"amount":      formatAmount(e.Amount),
		},
	}
}

// PaymentReleased is emitted when the buyer confirms delivery and the full
// deposit moves to the seller without arbitration.
type PaymentReleased struct {
	ID     uint64
	Seller [20]byte
	Amount *big.Int
}

func (PaymentReleased) EventType() string { return TypePaymentReleased }

func (e PaymentReleased) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentReleased,
		Attributes: map[string]string{
			"agreementId": formatID(e.ID),
			"seller":      accountString(e.Seller),
			"amount":      formatAmount(e.Amount),
		},
	}
}

// DisputeRaised is emitted when either party escalates a funded agreement.
type DisputeRaised struct {
	ID     uint64
	Caller [20]byte
}

func (DisputeRaised) EventType() string { return TypeDisputeRaised }

func (e DisputeRaised) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeRaised,
		Attributes: map[string]string{
			"agreementId": formatID(e.ID),
			"raisedBy":    accountString(e.Caller),
		},
	}
}

// DisputeResolved is emitted after the arbitrator's split has been paid out.
type DisputeResolved struct {
	ID          uint64
	BuyerShare  *big.Int
	SellerShare *big.Int
}

func (DisputeResolved) EventType() string { return TypeDisputeResolved }

func (e DisputeResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeResolved,
		Attributes: map[string]string{
			"agreementId": formatID(e.ID),
			"buyerShare":  formatAmount(e.BuyerShare),
			"sellerShare": formatAmount(e.SellerShare),
		},
	}
}

// ArbitratorChanged is emitted when the owner replaces the arbitrator.
type ArbitratorChanged struct {
	Old [20]byte
	New [20]byte
}

func (ArbitratorChanged) EventType() string { return TypeArbitratorChanged }

func (e ArbitratorChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeArbitratorChanged,
		Attributes: map[string]string{
			"oldArbitrator": accountString(e.Old),
			"newArbitrator": accountString(e.New),
		},
	}
}
