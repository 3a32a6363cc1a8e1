package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/swapguard/internal/approval"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/httpx"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/registry"
)

// Broadcaster signs and sends an approved transaction and returns its hash.
type Broadcaster interface {
	Broadcast(ctx context.Context, a approval.Approval) (string, error)
}

type Receipt struct {
	ApprovalID  string `json:"approval_id"`
	Chain       string `json:"chain"`
	TxHash      string `json:"tx_hash"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Handoff is the only path from an approval to a broadcaster.
type Handoff struct {
	ledger      *approval.Ledger
	broadcaster Broadcaster
	registry    *registry.Registry
	retry       recovery.Config
	logger      zerolog.Logger
}

type Option func(*Handoff)

func WithRetryConfig(cfg recovery.Config) Option {
	return func(h *Handoff) { h.retry = cfg }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handoff) { h.logger = logger }
}

func WithRegistry(reg *registry.Registry) Option {
	return func(h *Handoff) {
		if reg != nil {
			h.registry = reg
		}
	}
}

func New(ledger *approval.Ledger, b Broadcaster, opts ...Option) *Handoff {
	h := &Handoff{
		ledger:      ledger,
		broadcaster: b,
		registry:    registry.Default(),
		retry:       recovery.DefaultConfig(),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit claims the approval against details and hands it to the
// broadcaster. Authorization is repeated before every attempt so an approval
// that expires mid-retry is never sent. A successful broadcast consumes the
// approval; any later Submit for it fails with CodeApprovalRequired.
func (h *Handoff) Submit(ctx context.Context, id string, details approval.Details) (Receipt, error) {
	if h.broadcaster == nil {
		return Receipt{}, clierr.New(clierr.CodeUnavailable, "no broadcaster is configured")
	}
	if _, err := h.ledger.Claim(id, details); err != nil {
		return Receipt{}, err
	}

	res := recovery.Retry(ctx, h.retry, func(ctx context.Context) (string, error) {
		a, err := h.ledger.Recheck(id, details)
		if err != nil {
			return "", err
		}
		hash, err := h.broadcaster.Broadcast(ctx, a)
		if err != nil {
			return "", err
		}
		if !ValidTxHash(hash) {
			return "", clierr.New(clierr.CodeValidation, fmt.Sprintf("broadcaster returned invalid transaction hash %q", hash))
		}
		return hash, nil
	}, recovery.WithLogger(h.logger))
	if !res.Success {
		h.ledger.Release(id)
		h.logger.Warn().Str("approval_id", id).Str("code", string(res.Err.Code)).Int("attempts", res.Attempts).Msg("broadcast failed")
		return Receipt{Attempts: res.Attempts, ApprovalID: id}, res.Err
	}
	if _, err := h.ledger.Consume(id, res.Value); err != nil {
		h.logger.Error().Err(err).Str("approval_id", id).Str("tx_hash", res.Value).Msg("mark approval used")
	}

	receipt := Receipt{ApprovalID: id, Chain: details.Chain, TxHash: res.Value, Attempts: res.Attempts}
	if chain, ok := h.registry.Chain(details.Chain); ok {
		receipt.Chain = chain.Name
		receipt.ExplorerURL = chain.ExplorerTxURL(res.Value)
	}
	h.logger.Info().Str("approval_id", id).Str("chain", receipt.Chain).Str("tx_hash", receipt.TxHash).Msg("transaction handed off")
	return receipt, nil
}

// ValidTxHash reports whether s is a 0x-prefixed 32-byte hex string.
func ValidTxHash(s string) bool {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	return err == nil && len(b) == 32
}

// HTTPBroadcaster posts approved snapshots to an external signer service.
type HTTPBroadcaster struct {
	url      string
	client   *httpx.Client
	registry *registry.Registry
}

func NewHTTPBroadcaster(url string, timeout time.Duration, reg *registry.Registry) *HTTPBroadcaster {
	if reg == nil {
		reg = registry.Default()
	}
	return &HTTPBroadcaster{url: strings.TrimSpace(url), client: httpx.New(timeout), registry: reg}
}

type broadcastRequest struct {
	ApprovalID  string           `json:"approval_id"`
	Fingerprint string           `json:"fingerprint"`
	ChainID     string           `json:"chain_id"`
	Details     approval.Details `json:"details"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

type broadcastResponse struct {
	TxHash string `json:"tx_hash"`
}

func (b *HTTPBroadcaster) Broadcast(ctx context.Context, a approval.Approval) (string, error) {
	chain, ok := b.registry.Chain(a.Details.Chain)
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, "unsupported chain: "+a.Details.Chain)
	}
	body, err := json.Marshal(broadcastRequest{
		ApprovalID:  a.ID,
		Fingerprint: a.Fingerprint,
		ChainID:     chain.CAIP2(),
		Details:     a.Details,
		ExpiresAt:   a.ExpiresAt,
	})
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode broadcast request", err)
	}
	var out broadcastResponse
	headers := map[string]string{"Idempotency-Key": a.ID}
	if _, err := httpx.DoBodyJSON(ctx, b.client, http.MethodPost, b.url, body, headers, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.TxHash), nil
}
