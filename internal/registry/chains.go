package registry

import (
	"fmt"
	"strings"
)

// NativeCurrency describes the gas-paying asset of a chain.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Chain is the static metadata of one supported EVM network.
type Chain struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	DisplayName    string         `json:"display_name"`
	ShortName      string         `json:"short_name"`
	NativeCurrency NativeCurrency `json:"native_currency"`
	ExplorerURL    string         `json:"explorer_url"`
	RPCURL         string         `json:"rpc_url"`
	Color          string         `json:"color"`
	Testnet        bool           `json:"testnet"`
}

func (c Chain) CAIP2() string {
	return fmt.Sprintf("eip155:%d", c.ID)
}

func (c Chain) ExplorerTxURL(hash string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + hash
}

func (c Chain) ExplorerAddressURL(address string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/address/" + address
}

// chainTable is ordered by selection priority; the order doubles as the
// tie-breaker for best-chain scoring.
var chainTable = []Chain{
	{
		ID: 1, Name: "ethereum", DisplayName: "Ethereum", ShortName: "eth",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://etherscan.io",
		Color:          "#627EEA",
	},
	{
		ID: 8453, Name: "base", DisplayName: "Base", ShortName: "base",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://basescan.org",
		Color:          "#0052FF",
	},
	{
		ID: 42161, Name: "arbitrum", DisplayName: "Arbitrum One", ShortName: "arb1",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://arbiscan.io",
		Color:          "#28A0F0",
	},
	{
		ID: 10, Name: "optimism", DisplayName: "OP Mainnet", ShortName: "oeth",
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://optimistic.etherscan.io",
		Color:          "#FF0420",
	},
	{
		ID: 137, Name: "polygon", DisplayName: "Polygon", ShortName: "matic",
		NativeCurrency: NativeCurrency{Name: "Polygon", Symbol: "MATIC", Decimals: 18},
		ExplorerURL:    "https://polygonscan.com",
		Color:          "#8247E5",
	},
	{
		ID: 56, Name: "bsc", DisplayName: "BNB Smart Chain", ShortName: "bnb",
		NativeCurrency: NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
		ExplorerURL:    "https://bscscan.com",
		Color:          "#F0B90B",
	},
	{
		ID: 43114, Name: "avalanche", DisplayName: "Avalanche C-Chain", ShortName: "avax",
		NativeCurrency: NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18},
		ExplorerURL:    "https://snowtrace.io",
		Color:          "#E84142",
	},
	{
		ID: 11155111, Name: "sepolia", DisplayName: "Sepolia", ShortName: "sep",
		NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://sepolia.etherscan.io",
		Color:          "#CFB5F0",
		Testnet:        true,
	},
}

var chainAliases = map[string]string{
	"mainnet":     "ethereum",
	"eth":         "ethereum",
	"arb":         "arbitrum",
	"op":          "optimism",
	"matic":       "polygon",
	"bnb":         "bsc",
	"binance":     "bsc",
	"avax":        "avalanche",
	"avalanche-c": "avalanche",
}
