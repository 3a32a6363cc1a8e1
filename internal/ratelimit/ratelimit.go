package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequests = 20
	DefaultWindow   = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a token bucket per identifier. Each bucket holds up to
// requests tokens and refills at requests/window. Safe for concurrent use.
type Limiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(requests int, window time.Duration, opts ...Option) *Limiter {
	if requests <= 0 {
		requests = DefaultRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{requests: requests, window: window, now: time.Now, buckets: map[string]*bucket{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token for id and reports whether the request may pass.
func (l *Limiter) Allow(id string) bool {
	now := l.now()
	return l.bucket(id, now).limiter.AllowN(now, 1)
}

// Remaining reports the whole tokens left for id without consuming any.
func (l *Limiter) Remaining(id string) int {
	now := l.now()
	tokens := l.bucket(id, now).limiter.TokensAt(now)
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}

// RetryAfter is how long id must wait for the next token.
func (l *Limiter) RetryAfter(id string) time.Duration {
	now := l.now()
	r := l.bucket(id, now).limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return l.window
	}
	return r.DelayFrom(now)
}

// Sweep drops buckets idle for longer than one window, which have refilled
// completely and carry no state.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Limit() (int, time.Duration) {
	return l.requests, l.window
}

func (l *Limiter) bucket(id string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		every := rate.Every(l.window / time.Duration(l.requests))
		b = &bucket{limiter: rate.NewLimiter(every, l.requests)}
		l.buckets[id] = b
	}
	if now.After(b.lastSeen) {
		b.lastSeen = now
	}
	return b
}
