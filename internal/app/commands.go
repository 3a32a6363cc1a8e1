package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/gate"
	"github.com/ggonzalez94/swapguard/internal/injection"
	"github.com/ggonzalez94/swapguard/internal/model"
	"github.com/ggonzalez94/swapguard/internal/plan"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Supported chains and token coverage"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.gate().Chains(), nil)
		},
	}
	root.AddCommand(listCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens <chain>",
		Short: "List whitelisted tokens on a chain (name, alias, id or CAIP-2)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := s.gate().ChainTokens(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), tokens, nil)
		},
	}
	root.AddCommand(tokensCmd)

	bestCmd := &cobra.Command{
		Use:   "best <token>",
		Short: "Pick the preferred chain for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.gate().BestChain(args[0], "")
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), sel, nil)
		},
	}
	root.AddCommand(bestCmd)

	pairCmd := &cobra.Command{
		Use:   "pair <token-in> <token-out>",
		Short: "Pick the preferred chain supporting both tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := s.gate().BestChain(args[0], args[1])
			if err != nil {
				return err
			}
			var warnings []string
			if !sel.Found {
				warnings = append(warnings, fmt.Sprintf("no chain supports both %s and %s", sel.TokenIn, sel.TokenOut))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), sel, warnings)
		},
	}
	root.AddCommand(pairCmd)

	return root
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token whitelist helpers"}
	var chainArg string
	checkCmd := &cobra.Command{
		Use:   "check <token>",
		Short: "Check whether a token is whitelisted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.gate().CheckToken(args[0], chainArg), nil)
		},
	}
	checkCmd.Flags().StringVar(&chainArg, "chain", "", "Restrict the check to one chain")
	root.AddCommand(checkCmd)
	return root
}

type swapArgs struct {
	tokenIn   string
	tokenOut  string
	amount    string
	chain     string
	recipient string
}

func (a swapArgs) params() map[string]any {
	p := map[string]any{
		"tokenIn":  a.tokenIn,
		"tokenOut": a.tokenOut,
		"amount":   a.amount,
		"chain":    a.chain,
	}
	if strings.TrimSpace(a.recipient) != "" {
		p["recipient"] = a.recipient
	}
	return p
}

type balanceArgs struct {
	token   string
	chain   string
	address string
}

func (a balanceArgs) params() map[string]any {
	p := map[string]any{"token": a.token, "chain": a.chain}
	if strings.TrimSpace(a.address) != "" {
		p["address"] = a.address
	}
	return p
}

func (s *runtimeState) newValidateCommand() *cobra.Command {
	root := &cobra.Command{Use: "validate", Short: "Validate planner tool calls"}

	var swap swapArgs
	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Validate swapTokens parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runValidate(cmd, validate.ToolCall{Tool: string(validate.ToolSwapTokens), Params: swap.params()})
		},
	}
	swapCmd.Flags().StringVar(&swap.tokenIn, "token-in", "", "Token to sell")
	swapCmd.Flags().StringVar(&swap.tokenOut, "token-out", "", "Token to buy")
	swapCmd.Flags().StringVar(&swap.amount, "amount", "", "Decimal amount of token-in")
	swapCmd.Flags().StringVar(&swap.chain, "chain", "", "Chain name, alias, id or CAIP-2")
	swapCmd.Flags().StringVar(&swap.recipient, "recipient", "", "Optional recipient address")
	root.AddCommand(swapCmd)

	var bal balanceArgs
	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Validate checkBalance parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runValidate(cmd, validate.ToolCall{Tool: string(validate.ToolCheckBalance), Params: bal.params()})
		},
	}
	balanceCmd.Flags().StringVar(&bal.token, "token", "", "Token symbol")
	balanceCmd.Flags().StringVar(&bal.chain, "chain", "", "Chain name, alias, id or CAIP-2")
	balanceCmd.Flags().StringVar(&bal.address, "address", "", "Optional account address")
	root.AddCommand(balanceCmd)

	toolCmd := &cobra.Command{
		Use:   "tool [json]",
		Short: "Validate a raw {\"tool\",\"params\"} call (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			call, err := validate.ParseToolCall([]byte(raw))
			if err != nil {
				return err
			}
			return s.runValidate(cmd, call)
		},
	}
	root.AddCommand(toolCmd)

	return root
}

func (s *runtimeState) runValidate(cmd *cobra.Command, call validate.ToolCall) error {
	res, err := s.gate().Validate(cmd.Context(), call)
	if err != nil {
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), res.Data, res.Warnings)
}

func (s *runtimeState) newScreenCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "screen [text]",
		Short: "Screen user text for prompt injection (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			res, err := s.gate().Screen(cmd.Context(), gate.ClientID(s.settings.ClientID, ""), source, text)
			if err != nil {
				return err
			}
			var warnings []string
			if res.Detection.Detected {
				warnings = append(warnings, res.Detection.AdvisoryMessage)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, warnings)
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "Source recorded on audit records")
	return cmd
}

func (s *runtimeState) newSanitizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize [text]",
		Short: "Print sanitized text without screening it (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			d := injection.NewDetector(injection.WithMaxLength(s.settings.MaxInputLength))
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{
				"sanitized": d.Sanitize(text),
				"truncated": len([]rune(text)) > d.MaxLength(),
			}, nil)
		},
	}
}

func (s *runtimeState) newErrorsCommand() *cobra.Command {
	root := &cobra.Command{Use: "errors", Short: "Error recovery helpers"}
	classifyCmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify a raw error message into a recovery code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := strings.TrimSpace(strings.Join(args, " "))
			if msg == "" {
				return clierr.New(clierr.CodeUsage, "message is required")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), recovery.Classify(errors.New(msg)), nil)
		},
	}
	root.AddCommand(classifyCmd)
	return root
}

func (s *runtimeState) newBackoffCommand() *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "backoff",
		Short: "Print the retry delay schedule for the configured retry policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attempts <= 0 {
				attempts = s.settings.Retry.MaxRetries + 1
			}
			if attempts > 32 {
				return clierr.New(clierr.CodeUsage, "--attempts must be at most 32")
			}
			steps := make([]model.BackoffStep, 0, attempts)
			for i := 0; i < attempts; i++ {
				steps = append(steps, model.BackoffStep{
					Attempt: i,
					DelayMS: recovery.BackoffDelay(i, s.settings.Retry).Milliseconds(),
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), steps, nil)
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Number of attempts to show (default: retries + 1)")
	return cmd
}

func (s *runtimeState) newPlanCommand() *cobra.Command {
	root := &cobra.Command{Use: "plan", Short: "Multi-step plan helpers"}

	var balanceArg, portion string
	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a swap amount from a balance and a portion (all, half, 25%, 0.3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := decimal.NewFromString(strings.TrimSpace(balanceArg))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "--balance must be a decimal number", err)
			}
			amount, err := plan.DeriveAmount(balance, portion)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.DerivedAmount{
				Balance: balance.String(),
				Portion: portion,
				Amount:  amount.String(),
			}, nil)
		},
	}
	deriveCmd.Flags().StringVar(&balanceArg, "balance", "", "Balance of the source token")
	deriveCmd.Flags().StringVar(&portion, "portion", "all", "Portion of the balance")
	_ = deriveCmd.MarkFlagRequired("balance")
	root.AddCommand(deriveCmd)

	checkCmd := &cobra.Command{
		Use:   "check [json]",
		Short: "Check a proposed plan {\"steps\":[...]} against the step limit and tool rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			calls, err := parsePlanSteps(raw)
			if err != nil {
				return err
			}
			p, warnings, err := s.checkPlan(cmd, calls)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), p, warnings)
		},
	}
	root.AddCommand(checkCmd)

	return root
}

// checkPlan validates each step statically. Steps whose amount refers to an
// earlier balance are checked for a well-formed reference only, since the
// amount is unknown until the plan runs.
func (s *runtimeState) checkPlan(cmd *cobra.Command, calls []validate.ToolCall) (*plan.Plan, []string, error) {
	p, err := plan.New(calls, s.settings.MaxPlanSteps)
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	for i, call := range calls {
		ref, isRef, err := plan.ParseAmountRef(call.Params["amount"])
		if err != nil {
			return p, warnings, clierr.Wrap(clierr.CodePlanFailed, fmt.Sprintf("step %d", i+1), err)
		}
		if isRef {
			if ref.Step < 1 || ref.Step > i {
				return p, warnings, clierr.New(clierr.CodePlanFailed, fmt.Sprintf("step %d: amount refers to step %d, which does not run before it", i+1, ref.Step))
			}
			if _, err := plan.ParsePortion(ref.Portion); err != nil {
				return p, warnings, clierr.Wrap(clierr.CodePlanFailed, fmt.Sprintf("step %d", i+1), err)
			}
			warnings = append(warnings, fmt.Sprintf("step %d: amount is derived from step %d at run time", i+1, ref.Step))
			continue
		}
		res, err := s.gate().Validate(cmd.Context(), call)
		if err != nil {
			return p, warnings, clierr.Wrap(clierr.CodePlanFailed, fmt.Sprintf("step %d", i+1), err)
		}
		for _, w := range res.Warnings {
			warnings = append(warnings, fmt.Sprintf("step %d: %s", i+1, w))
		}
	}
	return p, warnings, nil
}

func (s *runtimeState) newAuditCommand() *cobra.Command {
	root := &cobra.Command{Use: "audit", Short: "Security audit records and settled plans"}

	var severity string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List flagged inputs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireStore(); err != nil {
				return err
			}
			events, err := s.store.ListSecurityEvents(cmd.Context(), severity, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list audit events", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), events, nil)
		},
	}
	listCmd.Flags().StringVar(&severity, "severity", "", "Filter by severity (low, medium, high)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to return")
	root.AddCommand(listCmd)

	var status string
	var planLimit int
	plansCmd := &cobra.Command{
		Use:   "plans",
		Short: "List settled plans recorded by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireStore(); err != nil {
				return err
			}
			plans, err := s.store.ListPlans(cmd.Context(), status, planLimit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list plans", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), plans, nil)
		},
	}
	plansCmd.Flags().StringVar(&status, "status", "", "Filter by status (completed, failed)")
	plansCmd.Flags().IntVar(&planLimit, "limit", 50, "Maximum plans to return")
	root.AddCommand(plansCmd)

	planCmd := &cobra.Command{
		Use:   "plan <id>",
		Short: "Show one recorded plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.requireStore(); err != nil {
				return err
			}
			rec, err := s.store.GetPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rec, nil)
		},
	}
	root.AddCommand(planCmd)

	return root
}

func (s *runtimeState) requireStore() error {
	if s.store == nil {
		return clierr.New(clierr.CodeUnavailable, "audit store is disabled (--no-audit or audit.enabled=false)")
	}
	return nil
}

type planFile struct {
	Steps []validate.ToolCall `json:"steps"`
}

func parsePlanSteps(raw string) ([]validate.ToolCall, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var pf planFile
	if err := dec.Decode(&pf); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid plan json", err)
	}
	return pf.Steps, nil
}

// argOrStdin returns the single positional argument, or all of stdin when
// none is given.
func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	buf, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "read stdin", err)
	}
	if strings.TrimSpace(string(buf)) == "" {
		return "", clierr.New(clierr.CodeUsage, "input is required as an argument or on stdin")
	}
	return string(buf), nil
}
