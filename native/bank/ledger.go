package bank

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

// Ledger moves native and token balances held in a Store. It is stateless with
// respect to balances; the only in-memory state is the receive hook table.
type Ledger struct {
	mu    sync.RWMutex
	hooks map[[20]byte]ReceiveHook
}

// NewLedger returns a ledger without receive hooks.
func NewLedger() *Ledger {
	return &Ledger{hooks: make(map[[20]byte]ReceiveHook)}
}

// SetReceiveHook installs hook for addr. A nil hook removes any existing one.
func (l *Ledger) SetReceiveHook(addr [20]byte, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

func (l *Ledger) hook(addr [20]byte) ReceiveHook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hooks[addr]
}

// Balance returns the balance of account in asset.
func (l *Ledger) Balance(st Store, asset, account [20]byte) (*big.Int, error) {
	if err := l.requireAsset(st, asset); err != nil {
		return nil, err
	}
	bal, err := st.BalanceGet(asset, account)
	if err != nil {
		return nil, err
	}
	return amountOrZero(bal), nil
}

// Mint credits account with freshly issued funds. It is used for genesis
// allocations and development funding and bypasses receive hooks.
func (l *Ledger) Mint(st Store, asset, account [20]byte, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := l.requireAsset(st, asset); err != nil {
		return err
	}
	return l.credit(st, asset, account, amount)
}

// Transfer moves amount of asset from one account to another. Frozen token
// recipients and rejecting receive hooks revert the transfer.
func (l *Ledger) Transfer(ctx context.Context, st Store, asset, from, to [20]byte, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := l.requireAsset(st, asset); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.checkFrozen(st, asset, from, to); err != nil {
		return err
	}
	if err := l.debit(st, asset, from, amount); err != nil {
		return err
	}
	if err := l.credit(st, asset, to, amount); err != nil {
		return err
	}
	if hook := l.hook(to); hook != nil {
		if err := hook(ctx, asset, from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("%w: %w", ErrReceiveRejected, err)
		}
	}
	return nil
}

// Approve sets the amount spender may pull from owner's token balance.
func (l *Ledger) Approve(st Store, token, owner, spender [20]byte, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if IsNative(token) {
		return fmt.Errorf("%w: allowances apply to tokens only", ErrUnknownToken)
	}
	if err := l.requireAsset(st, token); err != nil {
		return err
	}
	return st.AllowancePut(token, owner, spender, new(big.Int).Set(amount))
}

// Allowance returns the remaining amount spender may pull from owner.
func (l *Ledger) Allowance(st Store, token, owner, spender [20]byte) (*big.Int, error) {
	if err := l.requireAsset(st, token); err != nil {
		return nil, err
	}
	current, err := st.AllowanceGet(token, owner, spender)
	if err != nil {
		return nil, err
	}
	return amountOrZero(current), nil
}

// TransferFrom lets spender move amount of token from owner to recipient,
// consuming allowance.
func (l *Ledger) TransferFrom(ctx context.Context, st Store, token, spender, owner, to [20]byte, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if IsNative(token) {
		return fmt.Errorf("%w: allowances apply to tokens only", ErrUnknownToken)
	}
	allowance, err := l.Allowance(st, token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := st.AllowancePut(token, owner, spender, allowance.Sub(allowance, amount)); err != nil {
		return err
	}
	return l.Transfer(ctx, st, token, owner, to, amount)
}

// RegisterToken adds a token to the registry.
func (l *Ledger) RegisterToken(st Store, token *Token) error {
	if token == nil {
		return fmt.Errorf("bank: token required")
	}
	if IsNative(token.Address) {
		return fmt.Errorf("bank: token address must not be zero")
	}
	symbol := normalizeSymbol(token.Symbol)
	if symbol == "" {
		return fmt.Errorf("bank: token symbol required")
	}
	if token.Decimals > 36 {
		return fmt.Errorf("bank: token decimals %d out of range", token.Decimals)
	}
	if _, ok, err := st.TokenGet(token.Address); err != nil {
		return err
	} else if ok {
		return ErrTokenExists
	}
	stored := token.Clone()
	stored.Symbol = symbol
	return st.TokenPut(stored)
}

// Token returns the registry entry for addr.
func (l *Ledger) Token(st Store, addr [20]byte) (*Token, error) {
	token, ok, err := st.TokenGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownToken
	}
	return token.Clone(), nil
}

// SetFrozen freezes or unfreezes account for token transfers.
func (l *Ledger) SetFrozen(st Store, token, account [20]byte, frozen bool) error {
	if IsNative(token) {
		return fmt.Errorf("%w: only token balances can be frozen", ErrUnknownToken)
	}
	if err := l.requireAsset(st, token); err != nil {
		return err
	}
	return st.FrozenPut(token, account, frozen)
}

func (l *Ledger) requireAsset(st Store, asset [20]byte) error {
	if IsNative(asset) {
		return nil
	}
	_, ok, err := st.TokenGet(asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownToken
	}
	return nil
}

func (l *Ledger) checkFrozen(st Store, asset, from, to [20]byte) error {
	if IsNative(asset) {
		return nil
	}
	for _, account := range [][20]byte{from, to} {
		frozen, err := st.FrozenGet(asset, account)
		if err != nil {
			return err
		}
		if frozen {
			return ErrFrozen
		}
	}
	return nil
}

func (l *Ledger) debit(st Store, asset, account [20]byte, amount *big.Int) error {
	bal, err := st.BalanceGet(asset, account)
	if err != nil {
		return err
	}
	bal = amountOrZero(bal)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
	}
	return st.BalancePut(asset, account, bal.Sub(bal, amount))
}

func (l *Ledger) credit(st Store, asset, account [20]byte, amount *big.Int) error {
	bal, err := st.BalanceGet(asset, account)
	if err != nil {
		return err
	}
	current, overflow := uint256.FromBig(amountOrZero(bal))
	if overflow {
		return ErrBalanceOverflow
	}
	delta, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrBalanceOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, delta)
	if overflow {
		return ErrBalanceOverflow
	}
	return st.BalancePut(asset, account, sum.ToBig())
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
