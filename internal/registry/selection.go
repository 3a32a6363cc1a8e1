package registry

const (
	nativeBonus          = 20
	pairNativeBonus      = 10
	defaultTokenPriority = 10
)

var chainPriority = map[string]int{
	"ethereum":  100,
	"base":      95,
	"arbitrum":  90,
	"optimism":  85,
	"polygon":   80,
	"bsc":       75,
	"avalanche": 70,
	"sepolia":   0,
}

var tokenPriority = map[string]int{
	"ETH":    100,
	"USDC":   95,
	"USDT":   90,
	"WETH":   85,
	"DAI":    80,
	"WBTC":   75,
	"MATIC":  70,
	"BNB":    70,
	"AVAX":   70,
	"ARB":    60,
	"OP":     60,
	"LINK":   55,
	"UNI":    50,
	"AAVE":   45,
	"CBETH":  40,
	"AERO":   35,
	"CAKE":   35,
	"WMATIC": 30,
	"WBNB":   30,
	"WAVAX":  30,
}

// ChainPriority returns the static ranking weight of a chain.
func (r *Registry) ChainPriority(chain string) int {
	return chainPriority[normalizeChainName(chain)]
}

// TokenPriority returns the static ranking weight of a token symbol.
func (r *Registry) TokenPriority(token string) int {
	if p, ok := tokenPriority[normalizeSymbol(token)]; ok {
		return p
	}
	return defaultTokenPriority
}

// SelectBestChain ranks every chain supporting token by chain priority, token
// priority and a native bonus. Ties keep priority-table order. Unknown tokens
// fall back to the default chain.
func (r *Registry) SelectBestChain(token string) string {
	candidates := r.ChainsSupporting(token)
	if len(candidates) == 0 {
		return r.defaultChain
	}
	best, bestScore := "", -1
	for _, chain := range candidates {
		score := r.ChainPriority(chain) + r.TokenPriority(token)
		if r.isNative(token, chain) {
			score += nativeBonus
		}
		if score > bestScore {
			best, bestScore = chain, score
		}
	}
	return best
}

// SelectBestChainForPair picks the best chain whitelisting both tokens. The
// boolean is false when no chain supports the pair.
func (r *Registry) SelectBestChainForPair(tokenIn, tokenOut string) (string, bool) {
	inChains := r.ChainsSupporting(tokenIn)
	if len(inChains) == 0 {
		return "", false
	}
	outSet := make(map[string]struct{})
	for _, chain := range r.ChainsSupporting(tokenOut) {
		outSet[chain] = struct{}{}
	}

	avgToken := (r.TokenPriority(tokenIn) + r.TokenPriority(tokenOut)) / 2
	best, bestScore := "", -1
	for _, chain := range inChains {
		if _, ok := outSet[chain]; !ok {
			continue
		}
		score := r.ChainPriority(chain) + avgToken
		if r.isNative(tokenIn, chain) {
			score += pairNativeBonus
		}
		if r.isNative(tokenOut, chain) {
			score += pairNativeBonus
		}
		if score > bestScore {
			best, bestScore = chain, score
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
