package validate

import (
	"bytes"
	"encoding/json"
	"strings"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/shopspring/decimal"
)

// Tool names a planner tool the core accepts.
type Tool string

const (
	ToolSwapTokens   Tool = "swapTokens"
	ToolCheckBalance Tool = "checkBalance"
)

// Tools lists every tool in a stable order.
func Tools() []Tool {
	return []Tool{ToolCheckBalance, ToolSwapTokens}
}

// Request is the tagged union of validated planner requests.
type Request interface {
	Tool() Tool
}

type SwapRequest struct {
	TokenIn   string          `json:"tokenIn"`
	TokenOut  string          `json:"tokenOut"`
	Amount    decimal.Decimal `json:"amount"`
	Chain     string          `json:"chain"`
	Recipient string          `json:"recipient,omitempty"`
}

func (SwapRequest) Tool() Tool { return ToolSwapTokens }

// BalanceRequest reads the balance of Token on Chain. An empty Address means
// the connected wallet.
type BalanceRequest struct {
	Token   string `json:"token"`
	Chain   string `json:"chain"`
	Address string `json:"address,omitempty"`
}

func (BalanceRequest) Tool() Tool { return ToolCheckBalance }

// ToolCall is the untyped shape proposed by the external planner.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// ParseToolCall decodes a planner tool call, keeping numbers exact.
func ParseToolCall(raw []byte) (ToolCall, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var call ToolCall
	if err := dec.Decode(&call); err != nil {
		return ToolCall{}, clierr.Wrap(clierr.CodeUsage, "decode tool call", err)
	}
	return call, nil
}

// Result is either a canonical request or the list of violated rules.
type Result[T any] struct {
	Success  bool     `json:"success"`
	Data     T        `json:"data,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Message joins every violated rule in check order.
func (r Result[T]) Message() string {
	return strings.Join(r.Errors, "; ")
}

// Err returns nil on success or a validation error carrying Message.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return clierr.New(clierr.CodeValidation, "validation failed: "+r.Message())
}

func widen[T Request](r Result[T]) Result[Request] {
	out := Result[Request]{Success: r.Success, Errors: r.Errors, Warnings: r.Warnings}
	if r.Success {
		out.Data = r.Data
	}
	return out
}
