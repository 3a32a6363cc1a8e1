package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ggonzalez94/swapguard/internal/validate"
)

// DefaultTTL is how long a pending approval stays eligible for approval.
const DefaultTTL = 5 * time.Minute

type State string

const (
	StatePending  State = "pending_review"
	StateApproved State = "user_approved"
	StateRejected State = "user_rejected"
	StateExpired  State = "expired"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// Details is the snapshot of the transaction an approval guards.
type Details struct {
	Type        string `json:"type"`
	TokenIn     string `json:"token_in,omitempty"`
	TokenOut    string `json:"token_out,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Chain       string `json:"chain"`
	Destination string `json:"destination,omitempty"`
}

// SwapDetails snapshots a validated swap request.
func SwapDetails(req validate.SwapRequest) Details {
	return Details{
		Type:        string(validate.ToolSwapTokens),
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount.String(),
		Chain:       req.Chain,
		Destination: req.Recipient,
	}
}

// Fingerprint is a stable digest of the snapshot. Two snapshots that differ
// only in token or address casing share a fingerprint.
func (d Details) Fingerprint() string {
	fields := []string{
		strings.ToLower(strings.TrimSpace(d.Type)),
		strings.ToUpper(strings.TrimSpace(d.TokenIn)),
		strings.ToUpper(strings.TrimSpace(d.TokenOut)),
		strings.TrimSpace(d.Amount),
		strings.ToLower(strings.TrimSpace(d.Chain)),
		strings.ToLower(strings.TrimSpace(d.Destination)),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

type Approval struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	TxHash      string     `json:"tx_hash,omitempty"`
	Details     Details    `json:"details"`
	Fingerprint string     `json:"fingerprint"`

	// set while a hand-off holds the approval
	claimed bool
}

// Consumed reports whether the approval already authorized a broadcast.
// A consumed approval never authorizes another one.
func (a Approval) Consumed() bool {
	return a.ConsumedAt != nil
}

// Machine implements the approval lifecycle as pure transitions: every
// operation returns a new Approval and leaves its argument untouched.
type Machine struct {
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

type Option func(*Machine)

func WithTTL(ttl time.Duration) Option {
	return func(m *Machine) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) {
		if newID != nil {
			m.newID = newID
		}
	}
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{ttl: DefaultTTL, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) TTL() time.Duration {
	return m.ttl
}

func (m *Machine) Create(details Details) Approval {
	now := m.now().UTC()
	return Approval{
		ID:          m.newID(),
		State:       StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
		Details:     details,
		Fingerprint: details.Fingerprint(),
	}
}

// Approve moves a pending approval to user_approved. An approval past its
// expiry comes back expired and a settled approval comes back unchanged.
func (m *Machine) Approve(a Approval) Approval {
	if a.State.Terminal() {
		return a
	}
	now := m.now().UTC()
	if a.State == StateExpired || now.After(a.ExpiresAt) {
		a.State = StateExpired
		return a
	}
	a.State = StateApproved
	a.ApprovedAt = &now
	return a
}

// Reject is honored whether or not the approval has expired.
func (m *Machine) Reject(a Approval) Approval {
	if a.State.Terminal() {
		return a
	}
	now := m.now().UTC()
	a.State = StateRejected
	a.RejectedAt = &now
	return a
}

func (m *Machine) IsValid(a Approval) bool {
	return a.State != StateExpired && !m.now().After(a.ExpiresAt)
}

// RequiresApproval is the broadcast gate: only a valid, unused
// user_approved approval may be handed off.
func (m *Machine) RequiresApproval(a Approval) bool {
	return a.State != StateApproved || a.Consumed() || !m.IsValid(a)
}

// Consume records the broadcast an approval authorized. Expiry is not
// checked since the transaction has already been sent.
func (m *Machine) Consume(a Approval, txHash string) Approval {
	if a.State != StateApproved || a.Consumed() {
		return a
	}
	now := m.now().UTC()
	a.ConsumedAt = &now
	a.TxHash = txHash
	a.claimed = false
	return a
}

// Status applies lazy expiry to a pending approval.
func (m *Machine) Status(a Approval) Approval {
	if a.State == StatePending && m.now().After(a.ExpiresAt) {
		a.State = StateExpired
	}
	return a
}
