package recovery

import (
	"context"
	"errors"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryWallet      Category = "wallet"
	CategoryTransaction Category = "transaction"
	CategoryValidation  Category = "validation"
	CategoryRateLimit   Category = "rate_limit"
	CategoryTimeout     Category = "timeout"
	CategoryUnknown     Category = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Code string

const (
	CodeNetworkOffline     Code = "NETWORK_OFFLINE"
	CodeNetworkTimeout     Code = "NETWORK_TIMEOUT"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeUserRejected       Code = "USER_REJECTED"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeWrongNetwork       Code = "WRONG_NETWORK"
	CodeWalletNotConnected Code = "WALLET_NOT_CONNECTED"
	CodeTxReverted         Code = "TRANSACTION_REVERTED"
	CodeGasEstimation      Code = "GAS_ESTIMATION_FAILED"
	CodeTxFailed           Code = "TRANSACTION_FAILED"
	CodeRPCError           Code = "RPC_ERROR"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInputRejected      Code = "INPUT_REJECTED"
	CodeApprovalRequired   Code = "APPROVAL_REQUIRED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRequestCancelled   Code = "REQUEST_CANCELLED"
	CodeUnknown            Code = "UNKNOWN_ERROR"
)

// AppError is a classified failure. It is built once by Classify and never
// modified afterwards.
type AppError struct {
	Code        Code      `json:"code"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
	Guidance    string    `json:"guidance"`
	Action      string    `json:"action"`
	Retryable   bool      `json:"retryable"`
	Timestamp   time.Time `json:"timestamp"`
	Cause       error     `json:"-"`
}

func (e *AppError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New builds the AppError for a known code, taking user-facing text from the
// message table.
func New(code Code, cause error) *AppError {
	entry, ok := table[code]
	if !ok {
		code = CodeUnknown
		entry = table[CodeUnknown]
	}
	msg := entry.user
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{
		Code:        code,
		Category:    entry.category,
		Severity:    entry.severity,
		Message:     msg,
		UserMessage: entry.user,
		Guidance:    entry.guidance,
		Action:      entry.action,
		Retryable:   entry.retryable,
		Timestamp:   time.Now().UTC(),
		Cause:       cause,
	}
}

// Classify maps any failure into the taxonomy. Already classified errors are
// returned as is. Transport failures wrapped as unavailable or internal go
// through the message rules so timeouts and refused connections keep their
// own codes; an unmatched unavailable error is an RPC error.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	switch {
	case errors.Is(err, context.Canceled):
		return New(CodeRequestCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return New(CodeNetworkTimeout, err)
	}
	if typed, ok := clierr.As(err); ok {
		if code, ok := codeForTyped(typed.Code); ok {
			return New(code, err)
		}
	}
	code := matchMessage(err.Error())
	if code == CodeUnknown && clierr.HasCode(err, clierr.CodeUnavailable) {
		code = CodeRPCError
	}
	return New(code, err)
}

func codeForTyped(code clierr.Code) (Code, bool) {
	switch code {
	case clierr.CodeUsage, clierr.CodeValidation, clierr.CodeUnsupported, clierr.CodePlanLimit:
		return CodeValidation, true
	case clierr.CodeInputRejected, clierr.CodeBlocked:
		return CodeInputRejected, true
	case clierr.CodeApprovalRequired:
		return CodeApprovalRequired, true
	case clierr.CodeRateLimited:
		return CodeRateLimited, true
	case clierr.CodeNotFound:
		return CodeNotFound, true
	}
	return "", false
}

var wrongNetworkPhrases = []string{"wrong network", "chain mismatch", "chain id mismatch", "switch network"}

// matchMessage applies the substring rules in priority order; first match wins.
func matchMessage(raw string) Code {
	msg := strings.ToLower(raw)
	wrongNetwork := containsAny(msg, wrongNetworkPhrases...)

	switch {
	case !wrongNetwork && containsAny(msg, "network", "connection", "econnrefused", "econnreset", "enotfound", "etimedout", "timeout", "timed out", "fetch failed", "offline"):
		if containsAny(msg, "timeout", "etimedout", "timed out") {
			return CodeNetworkTimeout
		}
		return CodeNetworkOffline
	case containsAny(msg, "rate limit", "rate-limit", "ratelimit", "429", "too many"):
		return CodeRateLimited
	case containsAny(msg, "user rejected", "user denied", "denied", "cancelled", "canceled"):
		return CodeUserRejected
	case containsAny(msg, "insufficient", "not enough"):
		return CodeInsufficientFunds
	case wrongNetwork:
		return CodeWrongNetwork
	case containsAny(msg, "wallet not connected", "no wallet", "connect wallet", "connector not found"):
		return CodeWalletNotConnected
	case strings.Contains(msg, "revert"):
		return CodeTxReverted
	case strings.Contains(msg, "gas") && strings.Contains(msg, "estimat"):
		return CodeGasEstimation
	case containsAny(msg, "transaction failed", "tx failed"):
		return CodeTxFailed
	case containsAny(msg, "rpc", "provider", "service unavailable", "bad gateway"):
		return CodeRPCError
	}
	return CodeUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
