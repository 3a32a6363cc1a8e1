package schema

import (
	"github.com/ggonzalez94/swapguard/internal/registry"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

// ToolDefinition is the JSON-schema style contract handed to the external
// planner.
type ToolDefinition struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Parameters           ObjectParam `json:"parameters"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
}

type ObjectParam struct {
	Type       string           `json:"type"`
	Properties map[string]Param `json:"properties"`
	Required   []string         `json:"required"`
}

type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

const (
	tokenPattern   = `^[A-Za-z0-9]{1,10}$`
	addressPattern = `^0x[0-9a-fA-F]{40}$`
)

// Tools returns the planner tool definitions with the chain enum taken from
// reg.
func Tools(reg *registry.Registry) []ToolDefinition {
	if reg == nil {
		reg = registry.Default()
	}
	chains := reg.ChainNames()
	chain := Param{Type: "string", Description: "Network to use. Defaults to the best chain for the token when omitted by the user.", Enum: chains}

	return []ToolDefinition{
		{
			Name:        string(validate.ToolCheckBalance),
			Description: "Read the balance of a whitelisted token on one network.",
			Parameters: ObjectParam{
				Type: "object",
				Properties: map[string]Param{
					"token":   {Type: "string", Description: "Token symbol, e.g. ETH or USDC.", Pattern: tokenPattern},
					"chain":   chain,
					"address": {Type: "string", Description: "Account to read. Omit for the connected wallet.", Pattern: addressPattern},
				},
				Required: []string{"token", "chain"},
			},
		},
		{
			Name:        string(validate.ToolSwapTokens),
			Description: "Prepare a token swap for user review. Nothing is sent until the user approves it.",
			Parameters: ObjectParam{
				Type: "object",
				Properties: map[string]Param{
					"tokenIn":   {Type: "string", Description: "Symbol of the token to sell.", Pattern: tokenPattern},
					"tokenOut":  {Type: "string", Description: "Symbol of the token to buy.", Pattern: tokenPattern},
					"amount":    {Type: "string", Description: "Amount of tokenIn as a decimal string, or {\"step\": n, \"portion\": \"half\"} inside a plan."},
					"chain":     chain,
					"recipient": {Type: "string", Description: "Optional recipient of the output tokens.", Pattern: addressPattern},
				},
				Required: []string{"tokenIn", "tokenOut", "amount", "chain"},
			},
			RequiresConfirmation: true,
		},
	}
}
