package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger mirrors the gatekeeper logging interface so this package stays free
// of upward imports.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type defLogger struct{}

func (defLogger) Debug(format string, args ...any) {}
func (defLogger) Info(format string, args ...any)  {}
func (defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] RATELIMIT "+format+"\n", args...)
}
func (defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] RATELIMIT "+format+"\n", args...)
}

// Limiter gates requests against fixed windows held in a CounterStore.
type Limiter struct {
	store  CounterStore
	logger Logger
	nowFn  func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter logger.
func WithLogger(logger Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// New returns a Limiter backed by the given store.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: defLogger{},
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check applies the policy to one request for the given key. When the counter
// store is unreachable it fails open: the request is allowed and the outage
// is logged.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Result, error) {
	policy = policy.Normalize()
	now := l.nowFn()

	entry, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		if !now.Before(entry.ExpiresAt) {
			// lazy cleanup of the finished window
			if delErr := l.store.Delete(ctx, key); delErr != nil {
				return l.failOpen(policy, now, delErr), nil
			}
			entry = Window{}
		}
	case errors.Is(err, ErrWindowNotFound):
		entry = Window{}
	default:
		return l.failOpen(policy, now, err), nil
	}

	if entry.Count >= policy.MaxRequests {
		retryAfter := entry.ExpiresAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:    false,
			Limit:      policy.MaxRequests,
			Current:    entry.Count,
			Remaining:  0,
			ResetAt:    entry.ExpiresAt,
			RetryAfter: retryAfter,
		}, nil
	}

	updated, err := l.store.Increment(ctx, key, policy.Window)
	if err != nil {
		return l.failOpen(policy, now, err), nil
	}

	// concurrent increments can overshoot the budget between Get and
	// Increment; the overshooting request is denied so the window count
	// settles at most one above the budget
	if updated.Count > policy.MaxRequests {
		retryAfter := updated.ExpiresAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:    false,
			Limit:      policy.MaxRequests,
			Current:    updated.Count,
			Remaining:  0,
			ResetAt:    updated.ExpiresAt,
			RetryAfter: retryAfter,
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Current:   updated.Count,
		Remaining: policy.MaxRequests - updated.Count,
		ResetAt:   updated.ExpiresAt,
	}, nil
}

func (l *Limiter) failOpen(policy Policy, now time.Time, err error) Result {
	l.logger.Warn("counter store unreachable, failing open: %v", err)
	return Result{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Current:   0,
		Remaining: policy.MaxRequests,
		ResetAt:   now.Add(policy.Window),
	}
}
