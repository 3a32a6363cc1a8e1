package model

import "time"

const EnvelopeVersion = "v1"

// Envelope wraps every command and API response.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

// ErrorBody pairs the machine-readable code with the classified,
// user-facing explanation of the failure.
type ErrorBody struct {
	Code        int    `json:"code"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Category    string `json:"category,omitempty"`
	Recovery    string `json:"recovery_code,omitempty"`
	UserMessage string `json:"user_message,omitempty"`
	Guidance    string `json:"guidance,omitempty"`
	Action      string `json:"action,omitempty"`
	Retryable   bool   `json:"retryable"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	LatencyMS int64     `json:"latency_ms"`
}

type ChainSummary struct {
	ID           int64    `json:"chain_id"`
	CAIP2        string   `json:"caip2"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	ShortName    string   `json:"short_name"`
	NativeSymbol string   `json:"native_symbol"`
	ExplorerURL  string   `json:"explorer_url"`
	Testnet      bool     `json:"testnet"`
	Tokens       []string `json:"tokens"`
}

type TokenSupport struct {
	Token       string   `json:"token"`
	Chain       string   `json:"chain"`
	Supported   bool     `json:"supported"`
	Native      bool     `json:"native"`
	Address     string   `json:"address,omitempty"`
	Decimals    int      `json:"decimals,omitempty"`
	SupportedOn []string `json:"supported_on"`
}

type ChainSelection struct {
	TokenIn    string   `json:"token_in"`
	TokenOut   string   `json:"token_out,omitempty"`
	Chain      string   `json:"chain,omitempty"`
	Found      bool     `json:"found"`
	Candidates []string `json:"candidates"`
}

type BackoffStep struct {
	Attempt int   `json:"attempt"`
	DelayMS int64 `json:"delay_ms"`
}

type DerivedAmount struct {
	Balance string `json:"balance"`
	Portion string `json:"portion"`
	Amount  string `json:"amount"`
}
