package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

var (
	hundred  = decimal.NewFromInt(100)
	portions = map[string]decimal.Decimal{
		"all":     decimal.NewFromInt(1),
		"max":     decimal.NewFromInt(1),
		"full":    decimal.NewFromInt(1),
		"half":    decimal.RequireFromString("0.5"),
		"quarter": decimal.RequireFromString("0.25"),
		"third":   decimal.NewFromInt(1).Div(decimal.NewFromInt(3)),
	}
)

// ParsePortion turns "half", "quarter", "all", "NN%" or a fraction in (0, 1]
// into a multiplier.
func ParsePortion(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if f, ok := portions[s]; ok {
		return f, nil
	}
	var (
		f   decimal.Decimal
		err error
	)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		f, err = decimal.NewFromString(strings.TrimSpace(pct))
		f = f.Div(hundred)
	} else {
		f, err = decimal.NewFromString(s)
	}
	if err != nil || !f.IsPositive() || f.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("portion %q must be half, quarter, all, a percentage up to 100%% or a fraction up to 1", raw))
	}
	return f, nil
}

// DeriveAmount applies portion to balance. The result never exceeds balance.
func DeriveAmount(balance decimal.Decimal, portion string) (decimal.Decimal, error) {
	if balance.IsNegative() {
		return decimal.Zero, clierr.New(clierr.CodeValidation, "source balance must not be negative")
	}
	f, err := ParsePortion(portion)
	if err != nil {
		return decimal.Zero, err
	}
	amount := balance.Mul(f)
	if amount.GreaterThan(balance) {
		amount = balance
	}
	return amount, nil
}

// AmountRef is a step parameter that points at an earlier step's balance,
// written as {"step": n, "portion": "half"}.
type AmountRef struct {
	Step    int
	Portion string
}

// ParseAmountRef reports whether raw is a reference object and decodes it.
func ParseAmountRef(raw any) (AmountRef, bool, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return AmountRef{}, false, nil
	}
	stepRaw, ok := obj["step"]
	if !ok {
		return AmountRef{}, false, nil
	}
	step, ok := intValue(stepRaw)
	if !ok || step < 1 {
		return AmountRef{}, true, clierr.New(clierr.CodeValidation, "amount reference step must be a positive integer")
	}
	portion := "all"
	if p, ok := obj["portion"]; ok {
		s, ok := p.(string)
		if !ok {
			return AmountRef{}, true, clierr.New(clierr.CodeValidation, "amount reference portion must be a string")
		}
		portion = s
	}
	return AmountRef{Step: step, Portion: portion}, true, nil
}

func intValue(raw any) (int, bool) {
	switch t := raw.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil || !d.IsInteger() {
			return 0, false
		}
		return int(d.IntPart()), true
	}
	return 0, false
}

// resolveParams substitutes amount references with amounts derived from
// completed earlier steps.
func (p *Plan) resolveParams(step *Step) (map[string]any, error) {
	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	ref, isRef, err := ParseAmountRef(params["amount"])
	if err != nil || !isRef {
		return params, err
	}
	if ref.Step >= step.Number {
		return nil, clierr.New(clierr.CodeValidation, fmt.Sprintf("step %d can only reference an earlier step, not step %d", step.Number, ref.Step))
	}
	src, _ := p.Step(ref.Step)
	if src.Status != StepCompleted || src.Result == nil || src.Result.Balance == nil {
		return nil, clierr.New(clierr.CodeValidation, fmt.Sprintf("step %d has no completed balance to reference", ref.Step))
	}
	amount, err := DeriveAmount(*src.Result.Balance, ref.Portion)
	if err != nil {
		return nil, err
	}
	params["amount"] = amount.String()
	return params, nil
}
