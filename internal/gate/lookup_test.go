package gate

import (
	"testing"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

func TestChainsListsWhitelist(t *testing.T) {
	g := New()
	chains := g.Chains()
	if len(chains) != 8 {
		t.Fatalf("expected 8 chains, got %d", len(chains))
	}
	for _, c := range chains {
		if c.Name == "base" && (c.ID != 8453 || c.CAIP2 != "eip155:8453" || len(c.Tokens) == 0) {
			t.Fatalf("unexpected base summary: %+v", c)
		}
	}
}

func TestChainTokensResolvesAliases(t *testing.T) {
	g := New()
	tokens, err := g.ChainTokens("eip155:1")
	if err != nil {
		t.Fatalf("ChainTokens failed: %v", err)
	}
	foundUSDC := false
	for _, tok := range tokens {
		if tok.Chain != "ethereum" {
			t.Fatalf("unexpected chain %q", tok.Chain)
		}
		if tok.Token == "USDC" {
			foundUSDC = tok.Decimals == 6 && tok.Address != ""
		}
	}
	if !foundUSDC {
		t.Fatal("expected USDC with 6 decimals on ethereum")
	}
	if _, err := g.ChainTokens("solana"); !clierr.HasCode(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported chain, got %v", err)
	}
}

func TestCheckToken(t *testing.T) {
	g := New()
	if res := g.CheckToken("eth", "Base"); !res.Supported || !res.Native || res.Chain != "base" {
		t.Fatalf("unexpected ETH on base: %+v", res)
	}
	if res := g.CheckToken("DOGE", "base"); res.Supported || len(res.SupportedOn) != 0 {
		t.Fatalf("unexpected DOGE result: %+v", res)
	}
	if res := g.CheckToken("ETH", "solana"); res.Supported {
		t.Fatalf("unknown chain must be unsupported: %+v", res)
	}
}

func TestBestChain(t *testing.T) {
	g := New()
	sel, err := g.BestChain("MATIC", "")
	if err != nil || sel.Chain != "polygon" || !sel.Found {
		t.Fatalf("unexpected MATIC selection: %+v (%v)", sel, err)
	}
	sel, err = g.BestChain("DOGE", "")
	if err != nil || sel.Chain != "base" || sel.Found {
		t.Fatalf("unknown token must fall back to base: %+v (%v)", sel, err)
	}
	sel, err = g.BestChain("MATIC", "BNB")
	if err != nil || sel.Found || len(sel.Candidates) != 0 {
		t.Fatalf("disjoint pair must not resolve: %+v (%v)", sel, err)
	}
	if _, err := g.BestChain(" ", ""); !clierr.HasCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
