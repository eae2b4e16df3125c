package agreement

import (
	"context"
	"fmt"
	"math/big"
)

// Split is a validated division of a deposit between the two parties.
type Split struct {
	Buyer  *big.Int
	Seller *big.Int
}

// ComputeSplit validates an arbitrator's proposed division. Nil shares count
// as zero. Shares must be non-negative and must add up to deposited exactly.
func ComputeSplit(deposited, buyerShare, sellerShare *big.Int) (Split, error) {
	buyer := cloneAmount(buyerShare)
	seller := cloneAmount(sellerShare)
	if buyer.Sign() < 0 || seller.Sign() < 0 {
		return Split{}, fmt.Errorf("%w: shares must not be negative", ErrInvalidAmount)
	}
	total := new(big.Int).Add(buyer, seller)
	if total.Cmp(cloneAmount(deposited)) != 0 {
		return Split{}, fmt.Errorf("%w: shares total %s, deposited %s", ErrAmountMismatch, total, cloneAmount(deposited))
	}
	return Split{Buyer: buyer, Seller: seller}, nil
}

// releaseSplit pays the whole deposit to the seller.
func releaseSplit(deposited *big.Int) Split {
	return Split{Buyer: big.NewInt(0), Seller: cloneAmount(deposited)}
}

// settle writes the terminal state and then pays out of the vault. Any transfer
// failure is returned so the surrounding unit of work is discarded.
func (r *Registry) settle(ctx context.Context, st State, a *Agreement, split Split) error {
	a.Status = StatusCompleted
	a.BuyerPayout = new(big.Int).Set(split.Buyer)
	a.SellerPayout = new(big.Int).Set(split.Seller)
	a.UpdatedAt = r.now()
	if err := st.AgreementPut(a); err != nil {
		return err
	}

	mover := r.transfererFor(a.Asset)
	if split.Buyer.Sign() > 0 {
		if err := mover.pay(ctx, st, a.Buyer, split.Buyer); err != nil {
			return fmt.Errorf("%w: pay buyer: %w", ErrTransferFailed, err)
		}
	}
	if split.Seller.Sign() > 0 {
		if err := mover.pay(ctx, st, a.Seller, split.Seller); err != nil {
			return fmt.Errorf("%w: pay seller: %w", ErrTransferFailed, err)
		}
	}
	return nil
}
