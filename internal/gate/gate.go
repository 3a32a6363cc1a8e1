// Package gate wires the safety core into a single entry point: every user
// input is rate limited and screened, every planner call is validated, and
// swaps only leave through an approved, unexpired confirmation.
package gate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggonzalez94/swapguard/internal/approval"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/handoff"
	"github.com/ggonzalez94/swapguard/internal/injection"
	"github.com/ggonzalez94/swapguard/internal/metrics"
	"github.com/ggonzalez94/swapguard/internal/plan"
	"github.com/ggonzalez94/swapguard/internal/policy"
	"github.com/ggonzalez94/swapguard/internal/ratelimit"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/registry"
	"github.com/ggonzalez94/swapguard/internal/telemetry"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

type Gate struct {
	registry    *registry.Registry
	validator   *validate.Validator
	detector    *injection.Detector
	limiter     *ratelimit.Limiter
	ledger      *approval.Ledger
	balances    plan.BalanceChecker
	broadcaster handoff.Broadcaster
	handoff     *handoff.Handoff
	recorder    plan.Recorder
	audit       injection.AuditSink
	metrics     metrics.Recorder
	tracer      trace.Tracer
	logger      zerolog.Logger
	retry       recovery.Config
	tools       []string
	maxSteps    int
	now         func() time.Time
}

type Option func(*Gate)

func WithRegistry(reg *registry.Registry) Option {
	return func(g *Gate) {
		if reg != nil {
			g.registry = reg
		}
	}
}

func WithDetector(d *injection.Detector) Option {
	return func(g *Gate) {
		if d != nil {
			g.detector = d
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Gate) {
		if l != nil {
			g.limiter = l
		}
	}
}

func WithLedger(l *approval.Ledger) Option {
	return func(g *Gate) {
		if l != nil {
			g.ledger = l
		}
	}
}

func WithBalanceChecker(b plan.BalanceChecker) Option {
	return func(g *Gate) { g.balances = b }
}

func WithBroadcaster(b handoff.Broadcaster) Option {
	return func(g *Gate) { g.broadcaster = b }
}

func WithPlanRecorder(r plan.Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

func WithAuditSink(s injection.AuditSink) Option {
	return func(g *Gate) {
		if s != nil {
			g.audit = s
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.metrics = r
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) {
		if t != nil {
			g.tracer = t
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithRetryConfig(cfg recovery.Config) Option {
	return func(g *Gate) { g.retry = cfg }
}

// WithToolAllowlist restricts the planner tools the gate accepts. An empty
// list accepts every known tool.
func WithToolAllowlist(tools []string) Option {
	return func(g *Gate) { g.tools = append([]string(nil), tools...) }
}

func WithMaxPlanSteps(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{
		registry: registry.Default(),
		detector: injection.NewDetector(),
		metrics:  metrics.NoopRecorder{},
		logger:   zerolog.Nop(),
		retry:    recovery.DefaultConfig(),
		maxSteps: plan.DefaultMaxSteps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiter == nil {
		g.limiter = ratelimit.New(ratelimit.DefaultRequests, ratelimit.DefaultWindow)
	}
	if g.ledger == nil {
		g.ledger = approval.NewLedger(approval.NewMachine(approval.WithClock(g.now)))
	}
	if g.audit == nil {
		g.audit = injection.NewLogSink(g.logger)
	}
	if g.tracer == nil {
		g.tracer = telemetry.Tracer()
	}
	g.validator = validate.New(g.registry)
	if g.broadcaster != nil {
		g.handoff = handoff.New(g.ledger, g.broadcaster,
			handoff.WithRetryConfig(g.retry),
			handoff.WithLogger(g.logger),
			handoff.WithRegistry(g.registry),
		)
	}
	return g
}

func (g *Gate) Registry() *registry.Registry   { return g.registry }
func (g *Gate) Validator() *validate.Validator { return g.validator }
func (g *Gate) Ledger() *approval.Ledger       { return g.ledger }
func (g *Gate) Limiter() *ratelimit.Limiter    { return g.limiter }

// ScreenResult is the outcome of screening one user message. Sanitized is
// the text downstream components should see.
type ScreenResult struct {
	Sanitized string           `json:"sanitized"`
	Detection injection.Result `json:"detection"`
	AuditID   string           `json:"audit_id,omitempty"`
	Remaining int              `json:"remaining"`
}

// Screen runs the entry checks for a user message. High-severity input is
// audited and rejected with CodeInputRejected; lower severities pass with
// their advisory attached.
func (g *Gate) Screen(ctx context.Context, clientID, source, text string) (ScreenResult, error) {
	ctx, span := g.tracer.Start(ctx, "gate.screen", trace.WithAttributes(attribute.String("source", source)))
	defer span.End()
	start := time.Now()
	defer func() { g.metrics.ObserveLatency("screen", time.Since(start), nil) }()

	if !g.limiter.Allow(clientID) {
		wait := g.limiter.RetryAfter(clientID)
		g.metrics.IncCounter(metrics.EventRateLimited, nil)
		g.logger.Warn().Str("client_id", clientID).Dur("retry_after", wait).Msg("rate limit exceeded")
		err := clierr.New(clierr.CodeRateLimited, fmt.Sprintf("rate limit exceeded; retry in %ds", int(math.Ceil(wait.Seconds()))))
		fail(span, err)
		return ScreenResult{}, err
	}

	res := g.detector.Detect(text)
	out := ScreenResult{
		Sanitized: g.detector.Sanitize(text),
		Detection: res,
		Remaining: g.limiter.Remaining(clientID),
	}
	g.metrics.IncCounter(metrics.EventScreened, map[string]string{"code": string(res.Severity)})
	span.SetAttributes(attribute.String("severity", string(res.Severity)), attribute.Int("matches", len(res.MatchedPatterns)))

	if !res.Blocking() {
		if res.Detected {
			g.logger.Info().Str("severity", string(res.Severity)).Strs("patterns", res.MatchedPatterns).Msg("suspicious input passed with advisory")
		}
		return out, nil
	}

	rec := injection.NewAuditRecord(res, source, utf8.RuneCountInString(text), g.now())
	out.AuditID = rec.ID
	if err := g.audit.RecordSecurityEvent(ctx, rec); err != nil {
		g.logger.Error().Err(err).Str("audit_id", rec.ID).Msg("record security event")
	}
	g.metrics.IncCounter(metrics.EventInputRejected, map[string]string{"code": string(res.Severity)})
	err := clierr.New(clierr.CodeInputRejected, res.AdvisoryMessage)
	fail(span, err)
	return out, err
}

// Proposal is a validated planner call. Swaps carry the pending approval the
// user has to confirm; balance checks carry the balance when a reader is
// configured.
type Proposal struct {
	Tool             validate.Tool      `json:"tool"`
	Request          validate.Request   `json:"request"`
	Warnings         []string           `json:"warnings,omitempty"`
	Approval         *approval.Approval `json:"approval,omitempty"`
	RequiresApproval bool               `json:"requires_approval"`
	Balance          *string            `json:"balance,omitempty"`
	Attempts         int                `json:"attempts,omitempty"`
}

// Validate checks a planner call against the tool allowlist and the
// validator without side effects.
func (g *Gate) Validate(ctx context.Context, call validate.ToolCall) (validate.Result[validate.Request], error) {
	_, span := g.tracer.Start(ctx, "gate.validate", trace.WithAttributes(attribute.String("tool", call.Tool)))
	defer span.End()

	if err := policy.CheckToolAllowed(g.tools, call.Tool); err != nil {
		fail(span, err)
		return validate.Result[validate.Request]{Errors: []string{err.Error()}}, err
	}
	res := g.validator.ValidateToolCall(call)
	if !res.Success {
		g.metrics.IncCounter(metrics.EventInvalid, nil)
		err := res.Err()
		fail(span, err)
		return res, err
	}
	g.metrics.IncCounter(metrics.EventValidated, map[string]string{"chain": chainOf(res.Data)})
	return res, nil
}

// Propose validates a planner call and prepares it. Nothing is broadcast
// here.
func (g *Gate) Propose(ctx context.Context, call validate.ToolCall) (Proposal, error) {
	res, err := g.Validate(ctx, call)
	if err != nil {
		return Proposal{}, err
	}
	ctx, span := g.tracer.Start(ctx, "gate.propose", trace.WithAttributes(attribute.String("tool", string(res.Data.Tool()))))
	defer span.End()

	p := Proposal{Tool: res.Data.Tool(), Request: res.Data, Warnings: res.Warnings}
	switch req := res.Data.(type) {
	case validate.SwapRequest:
		a := g.ledger.Create(approval.SwapDetails(req))
		p.Approval = &a
		p.RequiresApproval = true
		g.metrics.IncCounter(metrics.EventApprovalOpened, map[string]string{"chain": req.Chain})
		g.logger.Info().Str("approval_id", a.ID).Str("chain", req.Chain).Time("expires_at", a.ExpiresAt).Msg("approval opened")
	case validate.BalanceRequest:
		if g.balances == nil {
			return p, nil
		}
		out := recovery.Retry(ctx, g.retry, func(ctx context.Context) (string, error) {
			b, err := g.balances.Balance(ctx, req)
			if err != nil {
				return "", err
			}
			return b.String(), nil
		}, recovery.WithLogger(g.logger))
		p.Attempts = out.Attempts
		if !out.Success {
			fail(span, out.Err)
			return p, out.Err
		}
		p.Balance = &out.Value
	}
	return p, nil
}

func (g *Gate) Get(id string) (approval.Approval, error) {
	a, err := g.ledger.Get(id)
	if err == nil && a.State == approval.StateExpired {
		g.metrics.IncCounter(metrics.EventExpired, map[string]string{"chain": a.Details.Chain})
	}
	return a, err
}

// Approve records the user's confirmation. The returned approval reflects
// the resulting state, which is expired when the window already closed.
func (g *Gate) Approve(ctx context.Context, id string) (approval.Approval, error) {
	_, span := g.tracer.Start(ctx, "gate.approve", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()
	a, err := g.ledger.Approve(id)
	if err != nil {
		fail(span, err)
		return a, err
	}
	span.SetAttributes(attribute.String("state", string(a.State)))
	switch a.State {
	case approval.StateApproved:
		g.metrics.IncCounter(metrics.EventApproved, map[string]string{"chain": a.Details.Chain})
	case approval.StateExpired:
		g.metrics.IncCounter(metrics.EventExpired, map[string]string{"chain": a.Details.Chain})
	}
	g.logger.Info().Str("approval_id", id).Str("state", string(a.State)).Msg("approval decision")
	return a, nil
}

func (g *Gate) Reject(ctx context.Context, id string) (approval.Approval, error) {
	_, span := g.tracer.Start(ctx, "gate.reject", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()
	a, err := g.ledger.Reject(id)
	if err != nil {
		fail(span, err)
		return a, err
	}
	if a.State == approval.StateRejected {
		g.metrics.IncCounter(metrics.EventRejected, map[string]string{"chain": a.Details.Chain})
	}
	g.logger.Info().Str("approval_id", id).Str("state", string(a.State)).Msg("approval decision")
	return a, nil
}

// Reset replaces an approval whose swap details changed. The call must be a
// valid swap; the old approval id stops existing.
func (g *Gate) Reset(ctx context.Context, id string, call validate.ToolCall) (approval.Approval, error) {
	res, err := g.Validate(ctx, call)
	if err != nil {
		return approval.Approval{}, err
	}
	swap, ok := res.Data.(validate.SwapRequest)
	if !ok {
		return approval.Approval{}, clierr.New(clierr.CodeUsage, "only swapTokens proposals carry an approval")
	}
	a, err := g.ledger.Reset(id, approval.SwapDetails(swap))
	if err != nil {
		return a, err
	}
	g.metrics.IncCounter(metrics.EventApprovalOpened, map[string]string{"chain": swap.Chain})
	g.logger.Info().Str("replaced_id", id).Str("approval_id", a.ID).Msg("approval reset after details changed")
	return a, nil
}

// Submit hands an approved swap to the broadcaster. When call is nil the
// approved snapshot itself is submitted; otherwise call must describe the
// same swap the user approved.
func (g *Gate) Submit(ctx context.Context, id string, call *validate.ToolCall) (handoff.Receipt, error) {
	ctx, span := g.tracer.Start(ctx, "gate.submit", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()
	start := time.Now()

	if g.handoff == nil {
		err := clierr.New(clierr.CodeUnavailable, "no broadcaster is configured")
		fail(span, err)
		return handoff.Receipt{}, err
	}
	var details approval.Details
	if call == nil {
		a, err := g.ledger.Get(id)
		if err != nil {
			fail(span, err)
			return handoff.Receipt{}, err
		}
		details = a.Details
	} else {
		res, err := g.Validate(ctx, *call)
		if err != nil {
			return handoff.Receipt{}, err
		}
		swap, ok := res.Data.(validate.SwapRequest)
		if !ok {
			err := clierr.New(clierr.CodeUsage, "only swapTokens proposals can be submitted")
			fail(span, err)
			return handoff.Receipt{}, err
		}
		details = approval.SwapDetails(swap)
	}

	receipt, err := g.handoff.Submit(ctx, id, details)
	g.metrics.ObserveLatency("submit", time.Since(start), map[string]string{"chain": details.Chain})
	if err != nil {
		fail(span, err)
		return receipt, err
	}
	g.metrics.IncCounter(metrics.EventSubmitted, map[string]string{"chain": receipt.Chain})
	span.SetAttributes(attribute.String("tx_hash", receipt.TxHash))
	return receipt, nil
}

// RunPlan builds and runs a multi-step plan. The plan is returned even when
// it fails so callers can show which step stopped it.
func (g *Gate) RunPlan(ctx context.Context, calls []validate.ToolCall) (*plan.Plan, error) {
	ctx, span := g.tracer.Start(ctx, "gate.plan", trace.WithAttributes(attribute.Int("steps", len(calls))))
	defer span.End()
	start := time.Now()

	for _, call := range calls {
		if err := policy.CheckToolAllowed(g.tools, call.Tool); err != nil {
			fail(span, err)
			return nil, err
		}
	}
	p, err := plan.New(calls, g.maxSteps)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	opts := []plan.Option{plan.WithRetryConfig(g.retry), plan.WithLogger(g.logger)}
	if g.recorder != nil {
		opts = append(opts, plan.WithRecorder(g.recorder))
	}
	err = plan.NewOrchestrator(g.validator, g.balances, g.ledger, opts...).Run(ctx, p)
	g.metrics.ObserveLatency("plan", time.Since(start), nil)
	if err != nil {
		g.metrics.IncCounter(metrics.EventPlanFailed, nil)
		fail(span, err)
		return p, err
	}
	g.metrics.IncCounter(metrics.EventPlanCompleted, nil)
	return p, nil
}

// Sweep drops idle rate-limit buckets and settled approvals older than
// twice the approval TTL.
func (g *Gate) Sweep() (buckets, approvals int) {
	buckets = g.limiter.Sweep()
	approvals = g.ledger.Sweep(g.now().Add(-2 * g.ledger.Machine().TTL()))
	if buckets > 0 || approvals > 0 {
		g.logger.Debug().Int("buckets", buckets).Int("approvals", approvals).Msg("swept idle state")
	}
	return buckets, approvals
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func chainOf(req validate.Request) string {
	switch r := req.(type) {
	case validate.SwapRequest:
		return r.Chain
	case validate.BalanceRequest:
		return r.Chain
	}
	return ""
}

// ClientID derives a rate-limit identifier. Explicit ids win; otherwise the
// fallback (a remote address, say) is used.
func ClientID(explicit, fallback string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if id := strings.TrimSpace(fallback); id != "" {
		return id
	}
	return "anonymous"
}
