package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/ggonzalez94/swapguard/internal/registry"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxTokenLength = 10

var (
	structs      *validator.Validate
	tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	// Amounts above this pass validation with a warning.
	largeAmount = decimal.New(1, 18)

	errNotNumber = errors.New("amount must be a number")
)

// maxAmountExponent bounds scientific notation so a short string cannot
// expand into an arbitrarily long number.
const maxAmountExponent = 64

func init() {
	structs = validator.New()
	structs.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = structs.RegisterValidation("token", func(fl validator.FieldLevel) bool {
		v := strings.TrimSpace(fl.Field().String())
		return len(v) <= maxTokenLength && tokenPattern.MatchString(v)
	})
}

type swapInput struct {
	TokenIn   string `json:"tokenIn" validate:"required,token"`
	TokenOut  string `json:"tokenOut" validate:"required,token"`
	Amount    string `json:"amount" validate:"required"`
	Chain     string `json:"chain" validate:"required,max=32"`
	Recipient string `json:"recipient" validate:"omitempty,eth_addr"`
}

type balanceInput struct {
	Token   string `json:"token" validate:"required,token"`
	Chain   string `json:"chain" validate:"required,max=32"`
	Address string `json:"address" validate:"omitempty,eth_addr"`
}

// Validator checks planner requests against the whitelist registry. It is
// safe for concurrent use.
type Validator struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Validator {
	if reg == nil {
		reg = registry.Default()
	}
	return &Validator{registry: reg}
}

// ValidateToolCall dispatches on the tool name and validates its params.
func (v *Validator) ValidateToolCall(call ToolCall) Result[Request] {
	switch {
	case strings.EqualFold(strings.TrimSpace(call.Tool), string(ToolSwapTokens)):
		return widen(v.ValidateSwap(call.Params))
	case strings.EqualFold(strings.TrimSpace(call.Tool), string(ToolCheckBalance)):
		return widen(v.ValidateBalance(call.Params))
	default:
		return Result[Request]{Errors: []string{fmt.Sprintf("unknown tool %q (expected %s or %s)", call.Tool, ToolSwapTokens, ToolCheckBalance)}}
	}
}

// ValidateSwap runs structural, chain, whitelist and business checks in that
// order and reports every violation.
func (v *Validator) ValidateSwap(params map[string]any) Result[SwapRequest] {
	fields := []string{"tokenIn", "tokenOut", "amount", "chain", "recipient"}
	typeErrs := map[string]string{}

	in := swapInput{
		TokenIn:   readString(params, "tokenIn", typeErrs),
		TokenOut:  readString(params, "tokenOut", typeErrs),
		Chain:     readString(params, "chain", typeErrs),
		Recipient: readString(params, "recipient", typeErrs),
	}
	amountText, ok := readAmount(params["amount"])
	if !ok {
		typeErrs["amount"] = errNotNumber.Error()
	}
	in.Amount = amountText
	var parsed decimal.Decimal
	if ok && amountText != "" {
		var err error
		if parsed, err = parseAmount(amountText); err != nil {
			typeErrs["amount"] = err.Error()
		}
	}

	errs, bad := structuralErrors(in, fields, typeErrs)

	chain, chainOK := v.checkChain(in.Chain, bad["chain"], &errs)

	tokenIn := strings.ToUpper(strings.TrimSpace(in.TokenIn))
	tokenOut := strings.ToUpper(strings.TrimSpace(in.TokenOut))
	if chainOK {
		for _, token := range []struct{ field, symbol string }{{"tokenIn", tokenIn}, {"tokenOut", tokenOut}} {
			if bad[token.field] {
				continue
			}
			if !v.registry.IsTokenSupported(token.symbol, chain) {
				errs = append(errs, fmt.Sprintf("token %s is not supported on %s", token.symbol, chain))
			}
		}
	}

	var amount decimal.Decimal
	if !bad["tokenIn"] && !bad["tokenOut"] && tokenIn == tokenOut {
		errs = append(errs, "tokenIn and tokenOut must be different tokens")
	}
	var warnings []string
	if !bad["amount"] {
		switch {
		case !parsed.IsPositive():
			errs = append(errs, "amount must be greater than 0")
		default:
			amount = parsed
			if amount.GreaterThan(largeAmount) {
				warnings = append(warnings, fmt.Sprintf("amount %s is unusually large; confirm it before approving", amount.String()))
			}
		}
	}

	if len(errs) > 0 {
		return Result[SwapRequest]{Errors: errs, Warnings: warnings}
	}
	return Result[SwapRequest]{
		Success: true,
		Data: SwapRequest{
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			Amount:    amount,
			Chain:     chain,
			Recipient: strings.TrimSpace(in.Recipient),
		},
		Warnings: warnings,
	}
}

func (v *Validator) ValidateBalance(params map[string]any) Result[BalanceRequest] {
	fields := []string{"token", "chain", "address"}
	typeErrs := map[string]string{}
	in := balanceInput{
		Token:   readString(params, "token", typeErrs),
		Chain:   readString(params, "chain", typeErrs),
		Address: readString(params, "address", typeErrs),
	}

	errs, bad := structuralErrors(in, fields, typeErrs)
	chain, chainOK := v.checkChain(in.Chain, bad["chain"], &errs)
	token := strings.ToUpper(strings.TrimSpace(in.Token))
	if chainOK && !bad["token"] && !v.registry.IsTokenSupported(token, chain) {
		errs = append(errs, fmt.Sprintf("token %s is not supported on %s", token, chain))
	}

	if len(errs) > 0 {
		return Result[BalanceRequest]{Errors: errs}
	}
	return Result[BalanceRequest]{Success: true, Data: BalanceRequest{Token: token, Chain: chain, Address: in.Address}}
}

func (v *Validator) checkChain(raw string, malformed bool, errs *[]string) (string, bool) {
	if malformed {
		return "", false
	}
	chain, err := v.registry.ParseChain(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("chain %s is not supported (supported: %s)", strings.TrimSpace(raw), strings.Join(v.registry.ChainNames(), ", ")))
		return "", false
	}
	return chain.Name, true
}

// structuralErrors runs struct-tag validation and returns messages in field
// order plus the set of fields that failed.
func structuralErrors(in any, fields []string, typeErrs map[string]string) ([]string, map[string]bool) {
	byField := map[string]string{}
	if err := structs.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if _, seen := byField[fe.Field()]; !seen {
					byField[fe.Field()] = fieldMessage(fe)
				}
			}
		} else {
			byField["_"] = err.Error()
		}
	}
	for field, msg := range typeErrs {
		byField[field] = msg
	}

	errs := []string{}
	bad := map[string]bool{}
	for _, field := range fields {
		if msg, ok := byField[field]; ok {
			errs = append(errs, msg)
			bad[field] = true
		}
	}
	if msg, ok := byField["_"]; ok {
		errs = append(errs, msg)
	}
	return errs, bad
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "token":
		return fmt.Sprintf("%s must be a token symbol of at most %d characters", fe.Field(), maxTokenLength)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "eth_addr":
		return fe.Field() + " must be a 0x-prefixed 40 hex character address"
	default:
		return fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
	}
}

func readString(params map[string]any, key string, typeErrs map[string]string) string {
	raw, ok := params[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		typeErrs[key] = key + " must be a string"
		return ""
	}
	return strings.TrimSpace(s)
}

// parseAmount is the single amount parser. It accepts plain decimals,
// leading-dot fractions and scientific notation.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, errNotNumber
	}
	if exp := d.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Zero, errors.New("amount is out of range")
	}
	return d, nil
}

// readAmount accepts JSON numbers, numeric strings and Go numeric types and
// returns a plain decimal string. False means the value has the wrong type.
func readAmount(raw any) (string, bool) {
	switch t := raw.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		d, err := parseAmount(t.String())
		if err != nil {
			return "", false
		}
		return d.String(), true
	case decimal.Decimal:
		return t.String(), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return decimal.NewFromFloat(t).String(), true
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return "", false
		}
		return decimal.NewFromFloat32(t).String(), true
	case int:
		return decimal.NewFromInt(int64(t)).String(), true
	case int32:
		return decimal.NewFromInt32(t).String(), true
	case int64:
		return decimal.NewFromInt(t).String(), true
	case uint:
		return decimal.NewFromInt(int64(t)).String(), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(t), 0).String(), true
	default:
		return "", false
	}
}
