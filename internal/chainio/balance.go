package chainio

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/registry"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

// ErrWalletNotConnected is returned when neither the request nor the reader
// names an account to read.
var ErrWalletNotConnected = errors.New("wallet not connected: no account address for balance check")

// Client is the subset of ethclient.Client used for balance reads.
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

type Dialer func(ctx context.Context, rpcURL string) (Client, error)

func DialEthclient(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var erc20ABI = mustABI(registry.ERC20ReadABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BalanceReader resolves native and ERC-20 balances over JSON-RPC using the
// registry's chain and token tables.
type BalanceReader struct {
	registry *registry.Registry
	dial     Dialer
	owner    string
}

type Option func(*BalanceReader)

func WithDialer(dial Dialer) Option {
	return func(b *BalanceReader) {
		if dial != nil {
			b.dial = dial
		}
	}
}

// WithOwner sets the account read when a request carries no address.
func WithOwner(address string) Option {
	return func(b *BalanceReader) { b.owner = strings.TrimSpace(address) }
}

func NewBalanceReader(reg *registry.Registry, opts ...Option) *BalanceReader {
	if reg == nil {
		reg = registry.Default()
	}
	b := &BalanceReader{registry: reg, dial: DialEthclient}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BalanceReader) Balance(ctx context.Context, req validate.BalanceRequest) (decimal.Decimal, error) {
	owner := strings.TrimSpace(req.Address)
	if owner == "" {
		owner = b.owner
	}
	if owner == "" {
		return decimal.Zero, ErrWalletNotConnected
	}
	if !common.IsHexAddress(owner) {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid account address %q", owner))
	}
	chain, ok := b.registry.Chain(req.Chain)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, "unsupported chain: "+req.Chain)
	}
	token, ok := b.registry.Token(chain.Name, req.Token)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("token %s is not supported on %s", req.Token, chain.Name))
	}

	client, err := b.dial(ctx, chain.RPCURL)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect %s rpc", chain.Name), err)
	}
	defer client.Close()

	account := common.HexToAddress(owner)
	var raw *big.Int
	if token.IsNative() {
		raw, err = client.BalanceAt(ctx, account, nil)
		if err != nil {
			return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
	} else {
		raw, err = erc20Balance(ctx, client, common.HexToAddress(token.Address), account)
		if err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.NewFromBigInt(raw, -int32(token.Decimals)), nil
}

func erc20Balance(ctx context.Context, client Client, tokenAddr, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{From: owner, To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token balance", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid balanceOf response type")
	}
	return balance, nil
}
