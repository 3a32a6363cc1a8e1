package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

// DefaultChain is returned by SelectBestChain when a token is unknown on every chain.
const DefaultChain = "base"

// Registry is the immutable chain and token whitelist. It is built once at
// process start and shared by reference; every accessor returns copies.
type Registry struct {
	chains       []Chain
	byName       map[string]int
	byID         map[int64]int
	tokens       map[string]map[string]Token
	defaultChain string
}

type Option func(*options)

type options struct {
	rpcOverrides map[string]string
	defaultChain string
}

// WithRPCOverrides replaces default RPC endpoints, keyed by chain name, alias or id.
func WithRPCOverrides(overrides map[string]string) Option {
	return func(o *options) {
		o.rpcOverrides = overrides
	}
}

func WithDefaultChain(name string) Option {
	return func(o *options) {
		o.defaultChain = name
	}
}

var defaultRegistry = mustNew()

// Default returns the process-wide registry built from the static tables.
func Default() *Registry {
	return defaultRegistry
}

func mustNew() *Registry {
	reg, err := New()
	if err != nil {
		panic(err)
	}
	return reg
}

func New(opts ...Option) (*Registry, error) {
	cfg := options{defaultChain: DefaultChain}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		chains: make([]Chain, 0, len(chainTable)),
		byName: make(map[string]int, len(chainTable)),
		byID:   make(map[int64]int, len(chainTable)),
		tokens: make(map[string]map[string]Token, len(chainTable)),
	}
	for _, chain := range chainTable {
		if chain.ID <= 0 {
			return nil, fmt.Errorf("chain %s: id must be positive", chain.Name)
		}
		if _, exists := r.byID[chain.ID]; exists {
			return nil, fmt.Errorf("chain id %d registered twice", chain.ID)
		}
		if _, exists := r.byName[chain.Name]; exists {
			return nil, fmt.Errorf("chain %s registered twice", chain.Name)
		}
		if rpc, ok := DefaultRPCURL(chain.ID); ok {
			chain.RPCURL = rpc
		}
		list, ok := tokenTable[chain.Name]
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("chain %s has no whitelisted tokens", chain.Name)
		}
		set := make(map[string]Token, len(list))
		for _, token := range list {
			symbol := normalizeSymbol(token.Symbol)
			if symbol == "" || len(symbol) > maxSymbolLength {
				return nil, fmt.Errorf("chain %s: invalid token symbol %q", chain.Name, token.Symbol)
			}
			token.Symbol = symbol
			set[symbol] = token
		}
		native, ok := set[normalizeSymbol(chain.NativeCurrency.Symbol)]
		if !ok || !native.IsNative() {
			return nil, fmt.Errorf("chain %s: native token %s missing from whitelist", chain.Name, chain.NativeCurrency.Symbol)
		}
		r.byName[chain.Name] = len(r.chains)
		r.byID[chain.ID] = len(r.chains)
		r.tokens[chain.Name] = set
		r.chains = append(r.chains, chain)
	}

	for key, url := range cfg.rpcOverrides {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		chain, err := r.ParseChain(key)
		if err != nil {
			return nil, fmt.Errorf("rpc override: %w", err)
		}
		r.chains[r.byName[chain.Name]].RPCURL = url
	}

	def := strings.ToLower(strings.TrimSpace(cfg.defaultChain))
	if _, ok := r.byName[def]; !ok {
		return nil, fmt.Errorf("default chain %q is not registered", cfg.defaultChain)
	}
	r.defaultChain = def
	return r, nil
}

func (r *Registry) DefaultChain() string {
	return r.defaultChain
}

// Chains returns every supported chain in priority order.
func (r *Registry) Chains() []Chain {
	return append([]Chain(nil), r.chains...)
}

// ChainNames returns canonical chain names in priority order.
func (r *Registry) ChainNames() []string {
	out := make([]string, 0, len(r.chains))
	for _, chain := range r.chains {
		out = append(out, chain.Name)
	}
	return out
}

func (r *Registry) Chain(name string) (Chain, bool) {
	idx, ok := r.byName[normalizeChainName(name)]
	if !ok {
		return Chain{}, false
	}
	return r.chains[idx], true
}

func (r *Registry) ChainByID(chainID int64) (Chain, bool) {
	idx, ok := r.byID[chainID]
	if !ok {
		return Chain{}, false
	}
	return r.chains[idx], true
}

// IsSupportedChain reports whether name is a canonical chain name or alias.
func (r *Registry) IsSupportedChain(name string) bool {
	_, ok := r.Chain(name)
	return ok
}

// ParseChain resolves a canonical name, alias, short name, numeric chain id or
// CAIP-2 identifier.
func (r *Registry) ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if chain, ok := r.Chain(norm); ok {
		return chain, nil
	}
	for _, chain := range r.chains {
		if chain.ShortName == norm || strings.ToLower(chain.DisplayName) == norm {
			return chain, nil
		}
	}
	if strings.HasPrefix(norm, "eip155:") {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if n, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if chain, ok := r.ChainByID(n); ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain: %s", input))
}

// IsTokenSupported is a case-insensitive whitelist membership test.
func (r *Registry) IsTokenSupported(token, chain string) bool {
	_, ok := r.Token(chain, token)
	return ok
}

func (r *Registry) Token(chain, symbol string) (Token, bool) {
	set, ok := r.tokens[normalizeChainName(chain)]
	if !ok {
		return Token{}, false
	}
	token, ok := set[normalizeSymbol(symbol)]
	return token, ok
}

// Tokens returns the sorted whitelist of a chain, or nil for unknown chains.
func (r *Registry) Tokens(chain string) []string {
	set, ok := r.tokens[normalizeChainName(chain)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for symbol := range set {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// TokenDetails returns the whitelisted tokens of a chain sorted by symbol.
func (r *Registry) TokenDetails(chain string) []Token {
	symbols := r.Tokens(chain)
	out := make([]Token, 0, len(symbols))
	for _, symbol := range symbols {
		token, _ := r.Token(chain, symbol)
		out = append(out, token)
	}
	return out
}

// Whitelist returns chain name -> sorted symbols for every chain.
func (r *Registry) Whitelist() map[string][]string {
	out := make(map[string][]string, len(r.chains))
	for _, chain := range r.chains {
		out[chain.Name] = r.Tokens(chain.Name)
	}
	return out
}

// ChainsSupporting returns, in priority order, every chain whitelisting token.
func (r *Registry) ChainsSupporting(token string) []string {
	symbol := normalizeSymbol(token)
	out := []string{}
	if symbol == "" {
		return out
	}
	for _, chain := range r.chains {
		if _, ok := r.tokens[chain.Name][symbol]; ok {
			out = append(out, chain.Name)
		}
	}
	return out
}

// NativeToken returns the native symbol of chain, or "" when unknown.
func (r *Registry) NativeToken(chain string) string {
	c, ok := r.Chain(chain)
	if !ok {
		return ""
	}
	return c.NativeCurrency.Symbol
}

func (r *Registry) isNative(symbol, chain string) bool {
	return normalizeSymbol(symbol) == r.NativeToken(chain)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func normalizeChainName(name string) string {
	norm := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := chainAliases[norm]; ok {
		return canonical
	}
	return norm
}
