/*

Asset is the vault's underlying ERC20. It is read once per cycle and never mutated.

*/

package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAssetDecimals is used when the asset contract does not answer decimals().
const DefaultAssetDecimals uint8 = 18

type Asset struct {
	Address  common.Address `json:"address"`  // e.g., 0x5d3a...
	Symbol   string         `json:"symbol"`   // e.g., "USDe"
	Decimals uint8          `json:"decimals"` // e.g., 18
	PriceUSD float64        `json:"price_usd"`
}

// PriceData is a single spot price observation used for USD conversions at the reporting edge.
type PriceData struct {
	Symbol   string  `json:"symbol"`
	PriceUSD float64 `json:"price_usd"`
	Source   string  `json:"source"` // "cryptocompare" or "config"
}
