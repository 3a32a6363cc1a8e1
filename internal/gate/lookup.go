package gate

import (
	"strings"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/model"
)

// Chains lists every supported chain with its whitelist, in priority order.
func (g *Gate) Chains() []model.ChainSummary {
	chains := g.registry.Chains()
	out := make([]model.ChainSummary, 0, len(chains))
	for _, c := range chains {
		out = append(out, model.ChainSummary{
			ID:           c.ID,
			CAIP2:        c.CAIP2(),
			Name:         c.Name,
			DisplayName:  c.DisplayName,
			ShortName:    c.ShortName,
			NativeSymbol: c.NativeCurrency.Symbol,
			ExplorerURL:  c.ExplorerURL,
			Testnet:      c.Testnet,
			Tokens:       g.registry.Tokens(c.Name),
		})
	}
	return out
}

// ChainTokens resolves chain (name, alias, id or CAIP-2) and returns its
// whitelist.
func (g *Gate) ChainTokens(chain string) ([]model.TokenSupport, error) {
	c, err := g.registry.ParseChain(chain)
	if err != nil {
		return nil, err
	}
	tokens := g.registry.TokenDetails(c.Name)
	out := make([]model.TokenSupport, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, model.TokenSupport{
			Token:       t.Symbol,
			Chain:       c.Name,
			Supported:   true,
			Native:      t.IsNative(),
			Address:     t.Address,
			Decimals:    t.Decimals,
			SupportedOn: g.registry.ChainsSupporting(t.Symbol),
		})
	}
	return out, nil
}

// CheckToken reports whether token is whitelisted on chain. Unknown chains
// are reported as unsupported rather than failing.
func (g *Gate) CheckToken(token, chain string) model.TokenSupport {
	symbol := strings.ToUpper(strings.TrimSpace(token))
	name := strings.ToLower(strings.TrimSpace(chain))
	if c, err := g.registry.ParseChain(chain); err == nil {
		name = c.Name
	}
	res := model.TokenSupport{Token: symbol, Chain: name, SupportedOn: g.registry.ChainsSupporting(symbol)}
	if t, ok := g.registry.Token(name, symbol); ok {
		res.Supported = true
		res.Native = t.IsNative()
		res.Address = t.Address
		res.Decimals = t.Decimals
	}
	return res
}

// BestChain picks the network for a token, or for a pair when tokenOut is
// set. A single unknown token falls back to the default chain with Found
// false.
func (g *Gate) BestChain(tokenIn, tokenOut string) (model.ChainSelection, error) {
	in := strings.ToUpper(strings.TrimSpace(tokenIn))
	out := strings.ToUpper(strings.TrimSpace(tokenOut))
	if in == "" {
		return model.ChainSelection{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	sel := model.ChainSelection{TokenIn: in, TokenOut: out}
	if out == "" {
		sel.Candidates = g.registry.ChainsSupporting(in)
		sel.Chain = g.registry.SelectBestChain(in)
		sel.Found = len(sel.Candidates) > 0
		return sel, nil
	}
	outChains := map[string]bool{}
	for _, c := range g.registry.ChainsSupporting(out) {
		outChains[c] = true
	}
	sel.Candidates = []string{}
	for _, c := range g.registry.ChainsSupporting(in) {
		if outChains[c] {
			sel.Candidates = append(sel.Candidates, c)
		}
	}
	sel.Chain, sel.Found = g.registry.SelectBestChainForPair(in, out)
	return sel, nil
}
