// Package retry runs an operation with exponential backoff.
//
// Operations mark failures explicitly: Retryable errors are retried, Permanent
// errors stop immediately, and anything else is returned as is. Used for
// per-student lock polling and for startup connections to PostgreSQL and Redis.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryableError marks an error worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string  { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that Do retries it. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked Retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PermanentError stops retrying at once.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string  { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config holds backoff parameters.
type Config struct {
	// MaxAttempts counts the first attempt. Zero means no limit, which
	// requires MaxElapsed or a context deadline.
	MaxAttempts int
	// MaxElapsed stops retrying once the next sleep would end past this budget.
	MaxElapsed time.Duration

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor spreads each delay by up to ±factor.
	JitterFactor float64
}

// DefaultConfig returns three attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option configures a Retrier.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxAttempts = n
		}
	}
}

func WithMaxElapsed(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxElapsed = d
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier is immutable and safe to reuse.
type Retrier struct {
	config Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config, now: time.Now, sleep: sleepCtx}
}

// Do calls operation until it succeeds, returns a non-retryable error, or the
// attempt or time budget runs out. The returned error has Retryable and
// Permanent markers removed. When ctx ends between attempts the last
// operation error is returned, or ctx.Err() if there was none.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	start := r.now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			if IsPermanent(err) {
				return errors.Unwrap(err)
			}
			return err
		}
		lastErr = errors.Unwrap(err)

		if r.config.MaxAttempts > 0 && attempt >= r.config.MaxAttempts {
			return lastErr
		}
		delay := r.delay(attempt)
		if r.config.MaxElapsed > 0 && r.now().Add(delay).Sub(start) > r.config.MaxElapsed {
			return lastErr
		}
		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// delay is InitialDelay * Multiplier^(attempt-1), capped and jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.JitterFactor > 0 {
		d += d * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// LockRetrier polls a contended per-student lock for at most maxWait.
// A zero maxWait tries once.
func LockRetrier(maxWait time.Duration) *Retrier {
	if maxWait <= 0 {
		return New(WithMaxAttempts(1))
	}
	return New(
		WithMaxAttempts(0),
		WithMaxElapsed(maxWait),
		WithInitialDelay(25*time.Millisecond),
		WithMaxDelay(250*time.Millisecond),
		WithMultiplier(1.5),
		WithJitter(0.2),
	)
}

// ConnectRetrier waits for PostgreSQL or Redis to accept connections at startup.
func ConnectRetrier() *Retrier {
	return New(
		WithMaxAttempts(5),
		WithInitialDelay(500*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithMultiplier(2.0),
		WithJitter(0.2),
	)
}
