// Package metrics records gate events and latencies.
package metrics

import "time"

// Recorder is implemented by every metrics backend. Labels that a backend
// does not know are ignored.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names shared by the gate and the HTTP layer.
const (
	EventScreened       = "input_screened"
	EventInputRejected  = "input_rejected"
	EventRateLimited    = "rate_limited"
	EventValidated      = "tool_validated"
	EventInvalid        = "tool_invalid"
	EventApprovalOpened = "approval_opened"
	EventApproved       = "approval_approved"
	EventRejected       = "approval_rejected"
	EventExpired        = "approval_expired"
	EventSubmitted      = "transaction_submitted"
	EventPlanCompleted  = "plan_completed"
	EventPlanFailed     = "plan_failed"
)
