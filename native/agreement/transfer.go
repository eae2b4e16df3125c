package agreement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"saleescrow/native/bank"
)

// transferer moves one asset in and out of the registry vault.
type transferer interface {
	// collect takes funding for amount from payer into the vault. attached is
	// the native value sent along with the call.
	collect(ctx context.Context, st State, payer [20]byte, amount, attached *big.Int) error
	// pay moves amount from the vault to recipient.
	pay(ctx context.Context, st State, recipient [20]byte, amount *big.Int) error
}

func (r *Registry) transfererFor(asset [20]byte) transferer {
	if bank.IsNative(asset) {
		return nativeTransfer{ledger: r.ledger, vault: r.vault}
	}
	return tokenTransfer{ledger: r.ledger, vault: r.vault, token: asset}
}

type nativeTransfer struct {
	ledger *bank.Ledger
	vault  [20]byte
}

func (n nativeTransfer) collect(ctx context.Context, st State, payer [20]byte, amount, attached *big.Int) error {
	if attached == nil || attached.Cmp(amount) != 0 {
		return fmt.Errorf("%w: deposit must equal agreed amount %s", ErrInvalidAmount, amount)
	}
	if err := n.ledger.Transfer(ctx, st, bank.NativeAsset, payer, n.vault, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (n nativeTransfer) pay(ctx context.Context, st State, recipient [20]byte, amount *big.Int) error {
	return n.ledger.Transfer(ctx, st, bank.NativeAsset, n.vault, recipient, amount)
}

type tokenTransfer struct {
	ledger *bank.Ledger
	vault  [20]byte
	token  [20]byte
}

func (t tokenTransfer) collect(ctx context.Context, st State, payer [20]byte, amount, attached *big.Int) error {
	if attached != nil && attached.Sign() != 0 {
		return fmt.Errorf("%w: native value must not accompany a token deposit", ErrInvalidAmount)
	}
	allowance, err := t.ledger.Allowance(st, t.token, payer, t.vault)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s below agreed amount %s", ErrInvalidAmount, allowance, amount)
	}
	if err := t.ledger.TransferFrom(ctx, st, t.token, t.vault, payer, t.vault, amount); err != nil {
		if errors.Is(err, bank.ErrInsufficientAllowance) {
			return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
		}
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (t tokenTransfer) pay(ctx context.Context, st State, recipient [20]byte, amount *big.Int) error {
	return t.ledger.Transfer(ctx, st, t.token, t.vault, recipient, amount)
}
