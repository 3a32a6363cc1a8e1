package recovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Config tunes the retry schedule.
type Config struct {
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	JitterFactor float64       `json:"jitter_factor" yaml:"jitter_factor"`
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxRetries:   3,
		JitterFactor: 0.1,
	}
}

// BackoffDelay returns min(initial*multiplier^attempt, max) with symmetric
// jitter of delay*jitterFactor, never negative.
func BackoffDelay(attempt int, cfg Config) time.Duration {
	return backoffDelay(attempt, cfg, rand.Float64)
}

func backoffDelay(attempt int, cfg Config, random func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if ceiling := float64(cfg.MaxDelay); delay > ceiling || math.IsNaN(delay) {
		delay = ceiling
	}
	jitter := delay * cfg.JitterFactor * (2*random() - 1)
	delay += jitter
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// schedule is a backoff.BackOff that stops after MaxRetries delays.
type schedule struct {
	cfg     Config
	random  func() float64
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	if s.attempt >= s.cfg.MaxRetries {
		return backoff.Stop
	}
	d := backoffDelay(s.attempt, s.cfg, s.random)
	s.attempt++
	return d
}

func (s *schedule) Reset() { s.attempt = 0 }

type RetryResult[T any] struct {
	Value    T
	Err      *AppError
	Attempts int
	Success  bool
}

type retryOptions struct {
	logger zerolog.Logger
	random func() float64
}

type RetryOption func(*retryOptions)

func WithLogger(logger zerolog.Logger) RetryOption {
	return func(o *retryOptions) { o.logger = logger }
}

// WithRandom replaces the jitter source; it must return values in [0, 1).
func WithRandom(random func() float64) RetryOption {
	return func(o *retryOptions) {
		if random != nil {
			o.random = random
		}
	}
}

// Retry runs op until it succeeds, fails with a non-retryable
// classification, or MaxRetries+1 attempts are spent. Delays between
// attempts end early when ctx is done.
func Retry[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), opts ...RetryOption) RetryResult[T] {
	o := retryOptions{logger: zerolog.Nop(), random: rand.Float64}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	var (
		attempts int
		last     *AppError
	)
	operation := func() (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			last = Classify(err)
			return zero, backoff.Permanent(last)
		}
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = Classify(err)
		if !last.Retryable {
			return v, backoff.Permanent(last)
		}
		return v, last
	}
	notify := func(err error, next time.Duration) {
		o.logger.Warn().
			Str("code", string(last.Code)).
			Int("attempt", attempts).
			Dur("retry_in", next).
			Msg("retrying after transient failure")
	}

	b := backoff.WithContext(&schedule{cfg: cfg, random: o.random}, ctx)
	v, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err == nil {
		return RetryResult[T]{Value: v, Attempts: attempts, Success: true}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (last == nil || last.Retryable) {
		last = Classify(ctxErr)
	}
	if last == nil {
		last = Classify(err)
	}
	return RetryResult[T]{Value: v, Err: last, Attempts: attempts}
}
