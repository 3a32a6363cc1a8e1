package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/swapguard/internal/approval"
	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/recovery"
)

const txHash = "0x8f3c1b2a4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8"

type stubBroadcaster struct {
	calls atomic.Int32
	errs  []error
	hash  string
}

func (s *stubBroadcaster) Broadcast(context.Context, approval.Approval) (string, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) {
		return "", s.errs[n-1]
	}
	return s.hash, nil
}

func fastRetry() recovery.Config {
	cfg := recovery.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return cfg
}

func details() approval.Details {
	return approval.Details{Type: "swapTokens", TokenIn: "ETH", TokenOut: "USDC", Amount: "100", Chain: "base"}
}

func TestSubmitRefusesUnapproved(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{hash: txHash}
	h := New(ledger, b, WithRetryConfig(fastRetry()))

	pending := ledger.Create(details())
	if _, err := h.Submit(context.Background(), pending.ID, details()); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected approval required, got %v", err)
	}
	rejected := ledger.Create(details())
	if _, err := ledger.Reject(rejected.ID); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if _, err := h.Submit(context.Background(), rejected.ID, details()); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected approval required for rejected, got %v", err)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("broadcaster must not be called, got %d calls", b.calls.Load())
	}
}

func TestSubmitApprovedRetriesTransientFailures(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{hash: txHash, errs: []error{errors.New("rpc node unavailable")}}
	h := New(ledger, b, WithRetryConfig(fastRetry()))

	a := ledger.Create(details())
	if _, err := ledger.Approve(a.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	receipt, err := h.Submit(context.Background(), a.ID, details())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.TxHash != txHash || receipt.Attempts != 2 || receipt.Chain != "base" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if receipt.ExplorerURL != "https://basescan.org/tx/"+txHash {
		t.Fatalf("unexpected explorer url: %s", receipt.ExplorerURL)
	}
}

func TestSubmitConsumesApproval(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{hash: txHash}
	h := New(ledger, b, WithRetryConfig(fastRetry()))
	a := ledger.Create(details())
	if _, err := ledger.Approve(a.ID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Submit(context.Background(), a.ID, details())
			switch {
			case err == nil:
				ok.Add(1)
			case !clierr.HasCode(err, clierr.CodeApprovalRequired):
				t.Errorf("expected approval required, got %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || b.calls.Load() != 1 {
		t.Fatalf("expected one hand-off, got %d successes and %d broadcasts", ok.Load(), b.calls.Load())
	}
	if _, err := h.Submit(context.Background(), a.ID, details()); !clierr.HasCode(err, clierr.CodeApprovalRequired) {
		t.Fatalf("expected used approval to be refused, got %v", err)
	}
}

func TestFailedSubmitReleasesApproval(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{hash: txHash, errs: []error{errors.New("user rejected the request")}}
	h := New(ledger, b, WithRetryConfig(fastRetry()))
	a := ledger.Create(details())
	_, _ = ledger.Approve(a.ID)

	if _, err := h.Submit(context.Background(), a.ID, details()); err == nil {
		t.Fatal("expected first submit to fail")
	}
	receipt, err := h.Submit(context.Background(), a.ID, details())
	if err != nil {
		t.Fatalf("expected released approval to submit, got %v", err)
	}
	if receipt.TxHash != txHash || b.calls.Load() != 2 {
		t.Fatalf("unexpected receipt %+v after %d calls", receipt, b.calls.Load())
	}
}

func TestSubmitDoesNotRetryWalletRejection(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{errs: []error{errors.New("user rejected the request")}}
	h := New(ledger, b, WithRetryConfig(fastRetry()))
	a := ledger.Create(details())
	_, _ = ledger.Approve(a.ID)

	_, err := h.Submit(context.Background(), a.ID, details())
	var app *recovery.AppError
	if !errors.As(err, &app) || app.Code != recovery.CodeUserRejected {
		t.Fatalf("expected user rejection, got %v", err)
	}
	if b.calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", b.calls.Load())
	}
}

func TestSubmitRejectsMalformedHash(t *testing.T) {
	ledger := approval.NewLedger(nil)
	b := &stubBroadcaster{hash: "0x1234"}
	h := New(ledger, b, WithRetryConfig(fastRetry()))
	a := ledger.Create(details())
	_, _ = ledger.Approve(a.ID)
	if _, err := h.Submit(context.Background(), a.ID, details()); err == nil {
		t.Fatal("expected malformed hash to fail")
	}
	if b.calls.Load() != 1 {
		t.Fatalf("malformed hash must not be retried, got %d calls", b.calls.Load())
	}
}

func TestValidTxHash(t *testing.T) {
	if !ValidTxHash(txHash) || !ValidTxHash("0x"+strings.ToUpper(txHash[2:])) {
		t.Fatal("expected valid hash")
	}
	for _, bad := range []string{"", "0x", txHash[2:], txHash + "00", "0xzz" + txHash[4:]} {
		if ValidTxHash(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestHTTPBroadcaster(t *testing.T) {
	var got broadcastRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("missing idempotency key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"tx_hash":"` + txHash + `"}`))
	}))
	defer srv.Close()

	ledger := approval.NewLedger(nil)
	h := New(ledger, NewHTTPBroadcaster(srv.URL, time.Second, nil), WithRetryConfig(fastRetry()))
	a := ledger.Create(details())
	_, _ = ledger.Approve(a.ID)

	receipt, err := h.Submit(context.Background(), a.ID, details())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.TxHash != txHash {
		t.Fatalf("unexpected hash: %s", receipt.TxHash)
	}
	if got.ApprovalID != a.ID || got.ChainID != "eip155:8453" || got.Fingerprint != a.Fingerprint || got.Details.Amount != "100" {
		t.Fatalf("unexpected broadcast payload: %+v", got)
	}
}
