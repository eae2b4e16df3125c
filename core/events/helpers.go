package events

import (
	"math/big"
	"strconv"

	"saleescrow/crypto"
)

const nativeAssetLabel = "native"

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func accountString(addr [20]byte) string {
	return crypto.FromArray(crypto.AccountPrefix, addr).String()
}

// AssetLabel renders the native sentinel as "native" and any token by its
// bech32 token address.
func AssetLabel(asset [20]byte) string {
	if asset == ([20]byte{}) {
		return nativeAssetLabel
	}
	return crypto.FromArray(crypto.TokenPrefix, asset).String()
}
