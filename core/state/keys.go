package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	balancePrefix     = []byte("bank/balance/")
	allowancePrefix   = []byte("bank/allowance/")
	tokenPrefix       = []byte("bank/token/")
	frozenPrefix      = []byte("bank/frozen/")
	tokenListKey      = ethcrypto.Keccak256([]byte("bank/token-list"))
	agreementPrefix   = []byte("agreement/record/")
	agreementCountKey = ethcrypto.Keccak256([]byte("agreement/count"))
	paramsKey         = ethcrypto.Keccak256([]byte("agreement/params"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func balanceKey(asset, account [20]byte) []byte {
	return prefixedKey(balancePrefix, asset[:], account[:])
}

func allowanceKey(token, owner, spender [20]byte) []byte {
	return prefixedKey(allowancePrefix, token[:], owner[:], spender[:])
}

func tokenKey(addr [20]byte) []byte {
	return prefixedKey(tokenPrefix, addr[:])
}

func frozenKey(token, account [20]byte) []byte {
	return prefixedKey(frozenPrefix, token[:], account[:])
}

func agreementKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixedKey(agreementPrefix, buf[:])
}
