/*
Crypto Compare is used for spot prices at the USD reporting edge.

This file contains the mapping of asset symbols to their corresponding Crypto Compare ID.

If an asset doesnt have an entry here it will by default use the symbol as the CCID.
It exists for wrapped or bridged assets whose on-chain symbol differs from the Crypto Compare ID.

*/

package config

import "strings"

var (
	CoinToCCId = map[string]string{
		"USDE":  "USDE",
		"USDT0": "USDT",
		"USDT":  "USDT",
		"USDC":  "USDC",
		"HYPE":  "HYPE",
		"WHYPE": "HYPE",
		"UBTC":  "BTC",
		"UETH":  "ETH",
		"WETH":  "ETH",
	}
)

// CCIdFor returns the Crypto Compare ID for a symbol.
func CCIdFor(symbol string) string {
	upper := strings.ToUpper(symbol)
	if id, ok := CoinToCCId[upper]; ok {
		return id
	}
	return upper
}
