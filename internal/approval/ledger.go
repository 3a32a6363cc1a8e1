package approval

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
)

// Ledger keeps live approvals in memory. Transitions on one approval are
// applied with compare-and-swap so the first observed transition wins.
type Ledger struct {
	machine *Machine

	mu      sync.RWMutex
	entries map[string]*atomic.Pointer[Approval]
}

func NewLedger(machine *Machine) *Ledger {
	if machine == nil {
		machine = NewMachine()
	}
	return &Ledger{machine: machine, entries: map[string]*atomic.Pointer[Approval]{}}
}

func (l *Ledger) Machine() *Machine {
	return l.machine
}

func (l *Ledger) Create(details Details) Approval {
	a := l.machine.Create(details)
	ptr := &atomic.Pointer[Approval]{}
	ptr.Store(&a)

	l.mu.Lock()
	l.entries[a.ID] = ptr
	l.mu.Unlock()
	return a
}

func (l *Ledger) Get(id string) (Approval, error) {
	ptr, err := l.entry(id)
	if err != nil {
		return Approval{}, err
	}
	return l.machine.Status(*ptr.Load()), nil
}

func (l *Ledger) Approve(id string) (Approval, error) {
	return l.transition(id, l.machine.Approve)
}

func (l *Ledger) Reject(id string) (Approval, error) {
	return l.transition(id, l.machine.Reject)
}

// Reset discards an approval and opens a fresh one for the new details.
func (l *Ledger) Reset(id string, details Details) (Approval, error) {
	l.mu.Lock()
	ptr, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return Approval{}, notFound(id)
	}
	if ptr.Load().claimed {
		l.mu.Unlock()
		return Approval{}, clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s is being handed off", id))
	}
	delete(l.entries, id)
	l.mu.Unlock()
	return l.Create(details), nil
}

func (l *Ledger) RequiresApproval(id string) bool {
	a, err := l.Get(id)
	if err != nil {
		return true
	}
	return l.machine.RequiresApproval(a)
}

// Authorize returns nil only when the approval is user_approved, unused,
// not expired, not held by another hand-off, and still guards exactly the
// given details.
func (l *Ledger) Authorize(id string, details Details) (Approval, error) {
	a, err := l.Get(id)
	if err != nil {
		return Approval{}, err
	}
	return a, l.authorize(a, details, false)
}

// Claim authorizes the approval and marks it held by one hand-off. A second
// Claim fails until the holder calls Consume or Release.
func (l *Ledger) Claim(id string, details Details) (Approval, error) {
	ptr, err := l.entry(id)
	if err != nil {
		return Approval{}, err
	}
	for {
		cur := ptr.Load()
		a := l.machine.Status(*cur)
		if err := l.authorize(a, details, false); err != nil {
			return a, err
		}
		next := *cur
		next.claimed = true
		if ptr.CompareAndSwap(cur, &next) {
			return next, nil
		}
	}
}

// Recheck is Authorize for the current holder of a claim.
func (l *Ledger) Recheck(id string, details Details) (Approval, error) {
	a, err := l.Get(id)
	if err != nil {
		return Approval{}, err
	}
	if !a.claimed {
		return a, clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s is not claimed for hand-off", id))
	}
	return a, l.authorize(a, details, true)
}

// Consume marks a claimed approval as used by the broadcast of txHash.
func (l *Ledger) Consume(id, txHash string) (Approval, error) {
	ptr, err := l.entry(id)
	if err != nil {
		return Approval{}, err
	}
	for {
		cur := ptr.Load()
		if cur.Consumed() {
			return *cur, clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s was already used", id))
		}
		next := l.machine.Consume(*cur, txHash)
		if !next.Consumed() {
			return *cur, clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s is %s, not user_approved", id, cur.State))
		}
		if ptr.CompareAndSwap(cur, &next) {
			return next, nil
		}
	}
}

// Release drops a claim after a failed hand-off so the approval can be
// submitted again while it is still valid.
func (l *Ledger) Release(id string) {
	ptr, err := l.entry(id)
	if err != nil {
		return
	}
	for {
		cur := ptr.Load()
		if !cur.claimed {
			return
		}
		next := *cur
		next.claimed = false
		if ptr.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (l *Ledger) authorize(a Approval, details Details, holder bool) error {
	switch {
	case a.Consumed():
		return clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s was already used for %s; create a new approval to retry", a.ID, a.TxHash))
	case a.claimed && !holder:
		return clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s is already being handed off", a.ID))
	case l.machine.RequiresApproval(a):
		if a.State == StateApproved {
			return clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s expired at %s", a.ID, a.ExpiresAt.Format(time.RFC3339)))
		}
		return clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("approval %s is %s, not user_approved", a.ID, a.State))
	case details.Fingerprint() != a.Fingerprint:
		return clierr.New(clierr.CodeApprovalRequired, fmt.Sprintf("transaction details changed since approval %s was granted", a.ID))
	}
	return nil
}

// Sweep drops approvals created before cutoff that are settled or expired
// and not held by a hand-off.
func (l *Ledger) Sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, ptr := range l.entries {
		a := l.machine.Status(*ptr.Load())
		if a.State == StatePending || a.claimed || !a.CreatedAt.Before(cutoff) {
			continue
		}
		delete(l.entries, id)
		removed++
	}
	return removed
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) transition(id string, fn func(Approval) Approval) (Approval, error) {
	ptr, err := l.entry(id)
	if err != nil {
		return Approval{}, err
	}
	for {
		cur := ptr.Load()
		next := fn(*cur)
		if next.State == cur.State {
			return l.machine.Status(*cur), nil
		}
		if ptr.CompareAndSwap(cur, &next) {
			return next, nil
		}
	}
}

func (l *Ledger) entry(id string) (*atomic.Pointer[Approval], error) {
	l.mu.RLock()
	ptr, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return ptr, nil
}

func notFound(id string) error {
	return clierr.New(clierr.CodeNotFound, fmt.Sprintf("approval %s not found", id))
}
