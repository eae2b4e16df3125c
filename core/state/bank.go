package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"saleescrow/native/bank"
)

type storedToken struct {
	Address  [20]byte
	Symbol   string
	Decimals uint8
}

func (tx *Tx) loadBigInt(key []byte) (*big.Int, error) {
	out := new(big.Int)
	if _, err := tx.loadRLP(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *Tx) storeBigInt(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount %s", amount)
	}
	if amount.Sign() == 0 {
		return tx.delete(key)
	}
	return tx.storeRLP(key, amount)
}

// BalanceGet returns the balance of account in asset, zero when unset.
func (tx *Tx) BalanceGet(asset, account [20]byte) (*big.Int, error) {
	return tx.loadBigInt(balanceKey(asset, account))
}

// BalancePut stores the balance of account in asset.
func (tx *Tx) BalancePut(asset, account [20]byte, amount *big.Int) error {
	return tx.storeBigInt(balanceKey(asset, account), amount)
}

func (tx *Tx) AllowanceGet(token, owner, spender [20]byte) (*big.Int, error) {
	return tx.loadBigInt(allowanceKey(token, owner, spender))
}

func (tx *Tx) AllowancePut(token, owner, spender [20]byte, amount *big.Int) error {
	return tx.storeBigInt(allowanceKey(token, owner, spender), amount)
}

// TokenGet loads a registry entry.
func (tx *Tx) TokenGet(addr [20]byte) (*bank.Token, bool, error) {
	var stored storedToken
	ok, err := tx.loadRLP(tokenKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &bank.Token{Address: stored.Address, Symbol: stored.Symbol, Decimals: stored.Decimals}, true, nil
}

// TokenPut stores a registry entry and indexes its address.
func (tx *Tx) TokenPut(token *bank.Token) error {
	if token == nil {
		return fmt.Errorf("state: nil token")
	}
	list, err := tx.TokenList()
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool { return bytes.Compare(list[i][:], token.Address[:]) >= 0 })
	if idx == len(list) || list[idx] != token.Address {
		list = append(list, [20]byte{})
		copy(list[idx+1:], list[idx:])
		list[idx] = token.Address
		if err := tx.storeRLP(tokenListKey, list); err != nil {
			return err
		}
	}
	return tx.storeRLP(tokenKey(token.Address), &storedToken{
		Address:  token.Address,
		Symbol:   token.Symbol,
		Decimals: token.Decimals,
	})
}

// TokenList returns registered token addresses in ascending byte order.
func (tx *Tx) TokenList() ([][20]byte, error) {
	var list [][20]byte
	if _, err := tx.loadRLP(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (tx *Tx) FrozenGet(token, account [20]byte) (bool, error) {
	var frozen bool
	if _, err := tx.loadRLP(frozenKey(token, account), &frozen); err != nil {
		return false, err
	}
	return frozen, nil
}

func (tx *Tx) FrozenPut(token, account [20]byte, frozen bool) error {
	if !frozen {
		return tx.delete(frozenKey(token, account))
	}
	return tx.storeRLP(frozenKey(token, account), frozen)
}
