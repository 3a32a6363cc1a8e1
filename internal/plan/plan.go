package plan

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapguard/internal/approval"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

// DefaultMaxSteps caps the tool calls one conversational turn may chain.
const DefaultMaxSteps = 5

type Status string

type StepStatus string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type StepResult struct {
	Request  validate.Request   `json:"request,omitempty"`
	Balance  *decimal.Decimal   `json:"balance,omitempty"`
	Approval *approval.Approval `json:"approval,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

type Step struct {
	Number   int                `json:"number"`
	Tool     string             `json:"tool"`
	Params   map[string]any     `json:"params"`
	Status   StepStatus         `json:"status"`
	Result   *StepResult        `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Failure  *recovery.AppError `json:"failure,omitempty"`
	Attempts int                `json:"attempts"`
}

type Plan struct {
	ID        string    `json:"id"`
	Steps     []Step    `json:"steps"`
	Current   int       `json:"current"`
	Status    Status    `json:"status"`
	MaxSteps  int       `json:"max_steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a plan from the planner's proposals. Proposing more than
// maxSteps calls is refused outright rather than truncated.
func New(calls []validate.ToolCall, maxSteps int) (*Plan, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if len(calls) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "plan has no steps")
	}
	if len(calls) > maxSteps {
		return nil, limitError(len(calls), maxSteps)
	}
	now := time.Now().UTC()
	p := &Plan{
		ID:        uuid.NewString(),
		Steps:     make([]Step, 0, len(calls)),
		Status:    StatusPlanning,
		MaxSteps:  maxSteps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, call := range calls {
		if err := p.Add(call); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add appends a step while the plan is still being assembled.
func (p *Plan) Add(call validate.ToolCall) error {
	if p.Status != StatusPlanning {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("plan %s is %s; steps can only be added while planning", p.ID, p.Status))
	}
	if len(p.Steps) >= p.MaxSteps {
		return limitError(len(p.Steps)+1, p.MaxSteps)
	}
	p.Steps = append(p.Steps, Step{
		Number: len(p.Steps) + 1,
		Tool:   call.Tool,
		Params: maps.Clone(call.Params),
		Status: StepPending,
	})
	return nil
}

// Step returns the step with the given 1-based number.
func (p *Plan) Step(number int) (*Step, bool) {
	if number < 1 || number > len(p.Steps) {
		return nil, false
	}
	return &p.Steps[number-1], true
}

func (p *Plan) Pending() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StepPending {
			n++
		}
	}
	return n
}

func limitError(proposed, limit int) error {
	return clierr.New(clierr.CodePlanLimit, fmt.Sprintf("plan proposes %d steps; at most %d are allowed per turn", proposed, limit))
}
