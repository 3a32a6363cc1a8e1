package registry

import (
	"fmt"
	"strings"
)

// Public RPC endpoints used when no override is configured.
var defaultRPCByChainID = map[int64]string{
	1:        "https://eth.llamarpc.com",
	10:       "https://mainnet.optimism.io",
	56:       "https://bsc-dataseed.binance.org",
	137:      "https://polygon-rpc.com",
	8453:     "https://mainnet.base.org",
	42161:    "https://arb1.arbitrum.io/rpc",
	43114:    "https://api.avax.network/ext/bc/C/rpc",
	11155111: "https://rpc.sepolia.org",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURL prefers an explicit override, then the chain's configured endpoint.
func (r *Registry) ResolveRPCURL(override, chain string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	c, ok := r.Chain(chain)
	if !ok {
		return "", fmt.Errorf("unsupported chain: %s", chain)
	}
	if c.RPCURL == "" {
		return "", fmt.Errorf("no rpc configured for chain %s; set rpc.%s in config", c.Name, c.Name)
	}
	return c.RPCURL, nil
}
