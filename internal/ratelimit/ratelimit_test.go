package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLimiterDefaultBudget(t *testing.T) {
	c := newClock()
	l := New(0, 0, WithClock(c.Now))
	if n, w := l.Limit(); n != DefaultRequests || w != DefaultWindow {
		t.Fatalf("unexpected defaults %d/%s", n, w)
	}
	for i := 0; i < DefaultRequests; i++ {
		if !l.Allow("alice") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if l.Allow("alice") {
		t.Fatal("request 21 should be limited")
	}
	if l.Remaining("alice") != 0 {
		t.Fatalf("expected empty bucket, got %d", l.Remaining("alice"))
	}
	if got := l.RetryAfter("alice"); got != 3*time.Second {
		t.Fatalf("expected 3s until the next token, got %s", got)
	}
	if !l.Allow("bob") {
		t.Fatal("identifiers must not share buckets")
	}

	c.Advance(3 * time.Second)
	if !l.Allow("alice") {
		t.Fatal("expected one token after refill interval")
	}
	if l.Allow("alice") {
		t.Fatal("expected bucket empty again")
	}

	c.Advance(DefaultWindow)
	if got := l.Remaining("alice"); got != DefaultRequests {
		t.Fatalf("expected full bucket after a window, got %d", got)
	}
}

func TestLimiterConcurrentAccess(t *testing.T) {
	c := newClock()
	l := New(20, time.Minute, WithClock(c.Now))
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 20 {
		t.Fatalf("expected exactly 20 admitted requests, got %d", allowed.Load())
	}
}

func TestLimiterSweep(t *testing.T) {
	c := newClock()
	l := New(5, time.Minute, WithClock(c.Now))
	l.Allow("idle")
	c.Advance(30 * time.Second)
	l.Allow("active")
	c.Advance(45 * time.Second)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("expected one idle bucket swept, got %d", n)
	}
	if got := l.Remaining("idle"); got != 5 {
		t.Fatalf("expected fresh bucket after sweep, got %d", got)
	}
}
