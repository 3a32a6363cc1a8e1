package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess          Code = 0
	CodeInternal         Code = 1
	CodeUsage            Code = 2
	CodeRateLimited      Code = 11
	CodeUnavailable      Code = 12
	CodeUnsupported      Code = 13
	CodeBlocked          Code = 16
	CodeValidation       Code = 20
	CodeInputRejected    Code = 21
	CodeApprovalRequired Code = 22
	CodePlanLimit        Code = 23
	CodePlanFailed       Code = 24
	CodeNotFound         Code = 25
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName returns the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeInputRejected:
		return "input_rejected"
	case CodeApprovalRequired:
		return "approval_required"
	case CodePlanLimit:
		return "plan_limit"
	case CodePlanFailed:
		return "plan_failed"
	case CodeNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}
