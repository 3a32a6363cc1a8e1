package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapguard/internal/approval"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

// BalanceChecker answers checkBalance steps.
type BalanceChecker interface {
	Balance(ctx context.Context, req validate.BalanceRequest) (decimal.Decimal, error)
}

// Recorder persists a plan after it settles.
type Recorder interface {
	SavePlan(ctx context.Context, p *Plan) error
}

type Orchestrator struct {
	validator *validate.Validator
	balances  BalanceChecker
	ledger    *approval.Ledger
	retry     recovery.Config
	recorder  Recorder
	logger    zerolog.Logger
}

type Option func(*Orchestrator)

func WithRetryConfig(cfg recovery.Config) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func NewOrchestrator(v *validate.Validator, balances BalanceChecker, ledger *approval.Ledger, opts ...Option) *Orchestrator {
	if v == nil {
		v = validate.New(nil)
	}
	if ledger == nil {
		ledger = approval.NewLedger(nil)
	}
	o := &Orchestrator{
		validator: v,
		balances:  balances,
		ledger:    ledger,
		retry:     recovery.DefaultConfig(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the steps in order. The first failure marks the plan failed
// and every later step stays pending.
func (o *Orchestrator) Run(ctx context.Context, p *Plan) error {
	if p.Status != StatusPlanning {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("plan %s already ran (%s)", p.ID, p.Status))
	}
	p.Status = StatusExecuting
	log := o.logger.With().Str("plan_id", p.ID).Int("steps", len(p.Steps)).Logger()

	var runErr error
	for i := range p.Steps {
		p.Current = i
		step := &p.Steps[i]
		step.Status = StepRunning
		p.UpdatedAt = time.Now().UTC()

		if err := o.runStep(ctx, p, step); err != nil {
			app := recovery.Classify(err)
			step.Status = StepFailed
			step.Error = err.Error()
			step.Failure = app
			p.Status = StatusFailed
			log.Warn().Int("step", step.Number).Str("tool", step.Tool).Str("code", string(app.Code)).Msg("plan step failed")
			runErr = clierr.Wrap(clierr.CodePlanFailed, fmt.Sprintf("step %d (%s) failed", step.Number, step.Tool), err)
			break
		}
		step.Status = StepCompleted
		log.Debug().Int("step", step.Number).Str("tool", step.Tool).Msg("plan step completed")
	}
	if runErr == nil {
		p.Status = StatusCompleted
	}
	p.UpdatedAt = time.Now().UTC()

	if o.recorder != nil {
		if err := o.recorder.SavePlan(ctx, p); err != nil {
			log.Error().Err(err).Msg("record plan")
		}
	}
	return runErr
}

func (o *Orchestrator) runStep(ctx context.Context, p *Plan, step *Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params, err := p.resolveParams(step)
	if err != nil {
		return err
	}
	res := o.validator.ValidateToolCall(validate.ToolCall{Tool: step.Tool, Params: params})
	if !res.Success {
		return res.Err()
	}
	step.Result = &StepResult{Request: res.Data, Warnings: res.Warnings}

	switch req := res.Data.(type) {
	case validate.BalanceRequest:
		if o.balances == nil {
			return clierr.New(clierr.CodeUnavailable, "no balance source is configured")
		}
		out := recovery.Retry(ctx, o.retry, func(ctx context.Context) (decimal.Decimal, error) {
			return o.balances.Balance(ctx, req)
		}, recovery.WithLogger(o.logger))
		step.Attempts = out.Attempts
		if !out.Success {
			return out.Err
		}
		balance := out.Value
		step.Result.Balance = &balance
	case validate.SwapRequest:
		step.Attempts = 1
		a := o.ledger.Create(approval.SwapDetails(req))
		step.Result.Approval = &a
	}
	return nil
}
