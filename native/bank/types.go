package bank

import (
	"context"
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrUnknownToken          = errors.New("bank: unknown token")
	ErrTokenExists           = errors.New("bank: token already registered")
	ErrFrozen                = errors.New("bank: account frozen")
	ErrReceiveRejected       = errors.New("bank: receive rejected")
	ErrBalanceOverflow       = errors.New("bank: balance overflow")
	ErrInvalidAmount         = errors.New("bank: invalid amount")
)

// NativeAsset identifies the chain's native currency. Every other asset
// identifier names a registered token.
var NativeAsset [20]byte

// IsNative reports whether asset is the native currency sentinel.
func IsNative(asset [20]byte) bool { return asset == NativeAsset }

// Token describes a registered fungible token.
type Token struct {
	Address  [20]byte
	Symbol   string
	Decimals uint8
}

// Clone returns a copy of the token.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Store is the persistence surface the ledger needs. Implementations are
// expected to be transactional: the ledger may leave a Store half-updated when
// it returns an error and relies on the caller discarding the unit of work.
type Store interface {
	BalanceGet(asset, account [20]byte) (*big.Int, error)
	BalancePut(asset, account [20]byte, amount *big.Int) error
	AllowanceGet(token, owner, spender [20]byte) (*big.Int, error)
	AllowancePut(token, owner, spender [20]byte, amount *big.Int) error
	TokenGet(addr [20]byte) (*Token, bool, error)
	TokenPut(token *Token) error
	TokenList() ([][20]byte, error)
	FrozenGet(token, account [20]byte) (bool, error)
	FrozenPut(token, account [20]byte, frozen bool) error
}

// Backend runs ledger operations as atomic units of work.
type Backend interface {
	Update(ctx context.Context, fn func(ctx context.Context, st Store) error) error
	View(ctx context.Context, fn func(st Store) error) error
}

// ReceiveHook is invoked whenever the hooked account is credited. Returning an
// error reverts the credit.
type ReceiveHook func(ctx context.Context, asset, from [20]byte, amount *big.Int) error

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
