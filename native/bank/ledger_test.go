package bank

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
)

type memStore struct {
	balances   map[[40]byte]*big.Int
	allowances map[[60]byte]*big.Int
	tokens     map[[20]byte]*Token
	frozen     map[[40]byte]bool
}

func newMemStore() *memStore {
	return &memStore{
		balances:   make(map[[40]byte]*big.Int),
		allowances: make(map[[60]byte]*big.Int),
		tokens:     make(map[[20]byte]*Token),
		frozen:     make(map[[40]byte]bool),
	}
}

func pair(a, b [20]byte) [40]byte {
	var out [40]byte
	copy(out[:20], a[:])
	copy(out[20:], b[:])
	return out
}

func triple(a, b, c [20]byte) [60]byte {
	var out [60]byte
	copy(out[:20], a[:])
	copy(out[20:40], b[:])
	copy(out[40:], c[:])
	return out
}

func (m *memStore) BalanceGet(asset, account [20]byte) (*big.Int, error) {
	if v, ok := m.balances[pair(asset, account)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memStore) BalancePut(asset, account [20]byte, amount *big.Int) error {
	m.balances[pair(asset, account)] = new(big.Int).Set(amount)
	return nil
}

func (m *memStore) AllowanceGet(token, owner, spender [20]byte) (*big.Int, error) {
	if v, ok := m.allowances[triple(token, owner, spender)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *memStore) AllowancePut(token, owner, spender [20]byte, amount *big.Int) error {
	m.allowances[triple(token, owner, spender)] = new(big.Int).Set(amount)
	return nil
}

func (m *memStore) TokenGet(addr [20]byte) (*Token, bool, error) {
	tok, ok := m.tokens[addr]
	return tok.Clone(), ok, nil
}

func (m *memStore) TokenPut(token *Token) error {
	m.tokens[token.Address] = token.Clone()
	return nil
}

func (m *memStore) TokenList() ([][20]byte, error) {
	out := make([][20]byte, 0, len(m.tokens))
	for addr := range m.tokens {
		out = append(out, addr)
	}
	return out, nil
}

func (m *memStore) FrozenGet(token, account [20]byte) (bool, error) {
	return m.frozen[pair(token, account)], nil
}

func (m *memStore) FrozenPut(token, account [20]byte, frozen bool) error {
	m.frozen[pair(token, account)] = frozen
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{b}, 20))
	return out
}

func TestTransferMovesNativeFunds(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	alice, bob := addr(1), addr(2)
	if err := ledger.Mint(st, NativeAsset, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(context.Background(), st, NativeAsset, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(st, NativeAsset, alice)
	bobBal, _ := ledger.Balance(st, NativeAsset, bob)
	if aliceBal.Int64() != 60 || bobBal.Int64() != 40 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	if err := ledger.Transfer(context.Background(), st, NativeAsset, alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(context.Background(), st, NativeAsset, alice, bob, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestReceiveHookCanReject(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	alice, bob := addr(1), addr(2)
	_ = ledger.Mint(st, NativeAsset, alice, big.NewInt(10))
	rejection := errors.New("no thanks")
	var seenFrom [20]byte
	ledger.SetReceiveHook(bob, func(ctx context.Context, asset, from [20]byte, amount *big.Int) error {
		seenFrom = from
		return rejection
	})
	err := ledger.Transfer(context.Background(), st, NativeAsset, alice, bob, big.NewInt(5))
	if !errors.Is(err, ErrReceiveRejected) || !errors.Is(err, rejection) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}
	if seenFrom != alice {
		t.Fatalf("hook saw wrong sender")
	}
	ledger.SetReceiveHook(bob, nil)
	if err := ledger.Transfer(context.Background(), st, NativeAsset, alice, bob, big.NewInt(5)); err != nil {
		t.Fatalf("transfer after hook removal: %v", err)
	}
}

func TestTokenAllowanceFlow(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	token := addr(0xEE)
	owner, spender, recipient := addr(1), addr(2), addr(3)
	if err := ledger.RegisterToken(st, &Token{Address: token, Symbol: " usdx ", Decimals: 6}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.RegisterToken(st, &Token{Address: token, Symbol: "USDX"}); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	meta, err := ledger.Token(st, token)
	if err != nil || meta.Symbol != "USDX" || meta.Decimals != 6 {
		t.Fatalf("unexpected token metadata %#v err=%v", meta, err)
	}
	_ = ledger.Mint(st, token, owner, big.NewInt(500))
	if err := ledger.Approve(st, token, owner, spender, big.NewInt(200)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(context.Background(), st, token, spender, owner, recipient, big.NewInt(250)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := ledger.TransferFrom(context.Background(), st, token, spender, owner, recipient, big.NewInt(150)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance(st, token, owner, spender)
	if remaining.Int64() != 50 {
		t.Fatalf("expected allowance 50, got %s", remaining)
	}
	got, _ := ledger.Balance(st, token, recipient)
	if got.Int64() != 150 {
		t.Fatalf("expected recipient balance 150, got %s", got)
	}
}

func TestFrozenRecipientRevertsTokenTransfer(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	token := addr(0xEE)
	alice, bob := addr(1), addr(2)
	_ = ledger.RegisterToken(st, &Token{Address: token, Symbol: "USDX"})
	_ = ledger.Mint(st, token, alice, big.NewInt(10))
	if err := ledger.SetFrozen(st, token, bob, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := ledger.Transfer(context.Background(), st, token, alice, bob, big.NewInt(1)); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if err := ledger.SetFrozen(st, NativeAsset, bob, true); err == nil {
		t.Fatalf("expected native freeze to be rejected")
	}
}

func TestUnknownTokenRejected(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	if _, err := ledger.Balance(st, addr(9), addr(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if err := ledger.Mint(st, addr(9), addr(1), big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestCreditOverflowDetected(t *testing.T) {
	st := newMemStore()
	ledger := NewLedger()
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := ledger.Mint(st, NativeAsset, addr(1), max); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Mint(st, NativeAsset, addr(1), big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}
