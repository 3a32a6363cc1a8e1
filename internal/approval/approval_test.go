package approval

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/validate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("apr-%d", n.Add(1)) }
}

func swapDetails() Details {
	return SwapDetails(validate.SwapRequest{TokenIn: "ETH", TokenOut: "USDC", Amount: decimal.NewFromInt(100), Chain: "base"})
}

func TestApprovalLifecycle(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine(WithClock(clock.Now), WithIDGenerator(sequentialIDs()))

	created := m.Create(swapDetails())
	if created.State != StatePending || created.ApprovedAt != nil || created.RejectedAt != nil {
		t.Fatalf("unexpected created approval: %+v", created)
	}
	if !created.ExpiresAt.Equal(created.CreatedAt.Add(DefaultTTL)) {
		t.Fatalf("expected expiry %s after creation, got %s", DefaultTTL, created.ExpiresAt.Sub(created.CreatedAt))
	}
	if !m.RequiresApproval(created) {
		t.Fatal("pending approval must require approval")
	}

	approved := m.Approve(created)
	if approved.State != StateApproved || approved.ApprovedAt == nil {
		t.Fatalf("unexpected approved approval: %+v", approved)
	}
	if m.RequiresApproval(approved) {
		t.Fatal("approved approval must not require approval")
	}
	if created.State != StatePending || created.ApprovedAt != nil {
		t.Fatalf("approve mutated its argument: %+v", created)
	}

	fresh := m.Create(swapDetails())
	rejected := m.Reject(fresh)
	if rejected.State != StateRejected || rejected.RejectedAt == nil {
		t.Fatalf("unexpected rejected approval: %+v", rejected)
	}
	if !m.RequiresApproval(rejected) {
		t.Fatal("rejected approval must require approval")
	}
	if fresh.ID == created.ID {
		t.Fatal("expected fresh approval id")
	}
}

func TestTerminalStatesDoNotTransition(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine(WithClock(clock.Now))

	approved := m.Approve(m.Create(swapDetails()))
	if got := m.Reject(approved); got.State != StateApproved || got.RejectedAt != nil {
		t.Fatalf("reject changed an approved approval: %+v", got)
	}
	rejected := m.Reject(m.Create(swapDetails()))
	if got := m.Approve(rejected); got.State != StateRejected || got.ApprovedAt != nil {
		t.Fatalf("approve changed a rejected approval: %+v", got)
	}
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine(WithClock(clock.Now))

	pending := m.Create(swapDetails())
	approved := m.Approve(m.Create(swapDetails()))
	clock.Advance(DefaultTTL + time.Second)

	for _, a := range []Approval{pending, approved} {
		if m.IsValid(a) {
			t.Fatalf("expected %s approval past expiry to be invalid", a.State)
		}
		if !m.RequiresApproval(a) {
			t.Fatalf("expected %s approval past expiry to require approval", a.State)
		}
	}

	late := m.Approve(pending)
	if late.State != StateExpired || late.ApprovedAt != nil {
		t.Fatalf("expected expired result, got %+v", late)
	}
	if again := m.Approve(late); again.State != StateExpired {
		t.Fatalf("expected approve on expired to stay expired, got %s", again.State)
	}
	if got := m.Status(pending); got.State != StateExpired {
		t.Fatalf("expected lazy expiry, got %s", got.State)
	}

	rejected := m.Reject(late)
	if rejected.State != StateRejected || rejected.RejectedAt == nil {
		t.Fatalf("explicit rejection must be honored after expiry, got %+v", rejected)
	}
}

func TestApproveAtExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine(WithClock(clock.Now), WithTTL(time.Minute))
	a := m.Create(swapDetails())
	clock.Advance(time.Minute)
	if !m.IsValid(a) {
		t.Fatal("expected approval valid exactly at expiry")
	}
	if got := m.Approve(a); got.State != StateApproved {
		t.Fatalf("expected approval at boundary, got %s", got.State)
	}
}

func TestFingerprint(t *testing.T) {
	base := swapDetails()
	same := base
	same.TokenIn = "eth"
	same.Chain = "BASE"
	if base.Fingerprint() != same.Fingerprint() {
		t.Fatal("expected casing-insensitive fingerprint")
	}
	changed := base
	changed.Amount = "1000"
	if base.Fingerprint() == changed.Fingerprint() {
		t.Fatal("expected amount change to alter fingerprint")
	}
}

func TestLedgerAuthorize(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(NewMachine(WithClock(clock.Now), WithIDGenerator(sequentialIDs())))
	details := swapDetails()

	a := ledger.Create(details)
	if _, err := ledger.Authorize(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected approval required for pending, got %v", err)
	}
	if _, err := ledger.Approve(a.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if ledger.RequiresApproval(a.ID) {
		t.Fatal("expected approved entry to be eligible")
	}
	if _, err := ledger.Authorize(a.ID, details); err != nil {
		t.Fatalf("expected authorization, got %v", err)
	}

	switched := details
	switched.Amount = "100000"
	if _, err := ledger.Authorize(a.ID, switched); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected bait-and-switch to be refused, got %v", err)
	}

	clock.Advance(DefaultTTL + time.Second)
	if _, err := ledger.Authorize(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected expired approval to be refused, got %v", err)
	}
	if !ledger.RequiresApproval("missing") {
		t.Fatal("unknown ids must require approval")
	}
	if _, err := ledger.Get("missing"); !clierr.HasCode(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedgerClaimAndConsume(t *testing.T) {
	ledger := NewLedger(NewMachine(WithIDGenerator(sequentialIDs())))
	details := swapDetails()
	a := ledger.Create(details)
	if _, err := ledger.Approve(a.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if _, err := ledger.Claim(a.ID, details); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := ledger.Claim(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected second claim to be refused, got %v", err)
	}
	if _, err := ledger.Authorize(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected claimed approval to be refused, got %v", err)
	}
	if _, err := ledger.Recheck(a.ID, details); err != nil {
		t.Fatalf("holder recheck failed: %v", err)
	}
	if _, err := ledger.Reset(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected reset of a claimed approval to be refused, got %v", err)
	}

	ledger.Release(a.ID)
	if _, err := ledger.Authorize(a.ID, details); err != nil {
		t.Fatalf("expected released approval to authorize, got %v", err)
	}
	if _, err := ledger.Recheck(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected recheck without a claim to fail, got %v", err)
	}

	if _, err := ledger.Claim(a.ID, details); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	used, err := ledger.Consume(a.ID, "0xabc")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if used.State != StateApproved || !used.Consumed() || used.TxHash != "0xabc" {
		t.Fatalf("unexpected consumed approval: %+v", used)
	}
	if !ledger.RequiresApproval(a.ID) {
		t.Fatal("consumed approval must require a new approval")
	}
	if _, err := ledger.Claim(a.ID, details); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected consumed approval to be refused, got %v", err)
	}
	if _, err := ledger.Consume(a.ID, "0xdef"); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}

	pending := ledger.Create(details)
	if _, err := ledger.Consume(pending.ID, "0xabc"); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected pending approval consume to fail, got %v", err)
	}
}

func TestLedgerResetIssuesFreshApproval(t *testing.T) {
	ledger := NewLedger(NewMachine(WithIDGenerator(sequentialIDs())))
	a := ledger.Create(swapDetails())
	if _, err := ledger.Approve(a.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	changed := swapDetails()
	changed.Amount = "50"
	fresh, err := ledger.Reset(a.ID, changed)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if fresh.ID == a.ID || fresh.State != StatePending || fresh.Details.Amount != "50" {
		t.Fatalf("unexpected reset approval: %+v", fresh)
	}
	if _, err := ledger.Get(a.ID); !clierr.HasCode(err, clierr.CodeNotFound) {
		t.Fatalf("expected discarded approval to be gone, got %v", err)
	}
	if _, err := ledger.Reset("missing", changed); !clierr.HasCode(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedgerConcurrentApproveRejectSettlesOnce(t *testing.T) {
	ledger := NewLedger(nil)
	for round := 0; round < 200; round++ {
		a := ledger.Create(swapDetails())
		var wg sync.WaitGroup
		results := make([]Approval, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					results[i], err = ledger.Approve(a.ID)
				} else {
					results[i], err = ledger.Reject(a.ID)
				}
				if err != nil {
					t.Errorf("transition failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		final, err := ledger.Get(a.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !final.State.Terminal() {
			t.Fatalf("expected settled state, got %s", final.State)
		}
		for _, r := range results {
			if r.State != final.State {
				t.Fatalf("round %d: caller observed %s but ledger settled on %s", round, r.State, final.State)
			}
		}
		if final.State == StateRejected && !ledger.RequiresApproval(a.ID) {
			t.Fatal("rejected approval became eligible")
		}
	}
}

func TestLedgerSweep(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(NewMachine(WithClock(clock.Now)))
	settled := ledger.Create(swapDetails())
	if _, err := ledger.Reject(settled.ID); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	pending := ledger.Create(swapDetails())

	clock.Advance(time.Minute)
	if n := ledger.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected one swept entry, got %d", n)
	}
	if _, err := ledger.Get(pending.ID); err != nil {
		t.Fatalf("pending approval should survive sweep: %v", err)
	}

	clock.Advance(DefaultTTL)
	if n := ledger.Sweep(clock.Now()); n != 1 || ledger.Len() != 0 {
		t.Fatalf("expected expired entry swept, got %d (len %d)", n, ledger.Len())
	}
}
