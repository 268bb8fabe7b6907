// Package ratelimit decides whether a request against a keyed resource
// (an anchor, or an anchor+operation pair) may proceed right now. Two
// throttling algorithms are supported: a fixed window that caps requests per
// discrete span, and a token bucket that allows bursts bounded by an
// accumulating pool.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/store"
	"github.com/corridorpay/anchor-router/types"
)

// Algorithm names a throttling algorithm.
type Algorithm string

const (
	FixedWindow Algorithm = "fixed_window"
	TokenBucket Algorithm = "token_bucket"
)

// Policy configures the limit for one key. The zero Policy means unlimited:
// every admission succeeds and no state is written.
type Policy struct {
	// Algorithm selects fixed window or token bucket. Empty defaults to
	// fixed window.
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`

	// MaxRequests caps requests per window (fixed window) or the bucket
	// capacity (token bucket). Zero or negative means unlimited.
	MaxRequests int `yaml:"max_requests" json:"max_requests"`

	// Window is the span of a fixed window. Also the refill horizon for a
	// token bucket when RefillRate is unset.
	Window time.Duration `yaml:"window" json:"window"`

	// RefillRate is tokens replenished per second for a token bucket. When
	// zero, MaxRequests tokens per Window is assumed.
	RefillRate float64 `yaml:"refill_rate" json:"refill_rate"`
}

// Unlimited reports whether the policy imposes no limit.
func (p Policy) Unlimited() bool {
	return p.MaxRequests <= 0
}

func (p Policy) refillPerSecond() float64 {
	if p.RefillRate > 0 {
		return p.RefillRate
	}
	if p.Window <= 0 {
		return float64(p.MaxRequests)
	}
	return float64(p.MaxRequests) / p.Window.Seconds()
}

// stateTTL is how long idle state survives. Two windows keeps a rolled-over
// window observable while letting abandoned keys expire.
func (p Policy) stateTTL() time.Duration {
	window := p.Window
	if window <= 0 {
		window = time.Minute
	}
	return 2 * window
}

// State is the per-key counter state. Fixed window uses Count/WindowStart;
// token bucket uses Tokens/LastRefill. The two algorithms never share a key.
type State struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	Tokens      float64   `json:"tokens"`
	LastRefill  time.Time `json:"last_refill"`
}

// Info is a read-only view of one key's standing, for operational
// introspection.
type Info struct {
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Limiter tracks per-key request counters and admits or rejects requests.
// Checks for the same key are serialized by the backing store; different
// keys proceed independently.
type Limiter struct {
	store  store.Store[State]
	logger *logrus.Logger
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter on top of the given state store.
func New(st store.Store[State], logger *logrus.Logger, opts ...Option) *Limiter {
	l := &Limiter{store: st, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records one request against key under policy and reports whether it
// may proceed. On rejection the returned error carries CodeRateLimited and a
// retry-after hint. The state write is unconditional: a rejected fixed-window
// check still rolls an expired window forward, but never pushes the count
// past the cap.
func (l *Limiter) Admit(ctx context.Context, key string, policy Policy) error {
	if policy.Unlimited() {
		return nil
	}

	now := l.now()
	var retryAfter time.Duration

	err := l.store.Update(ctx, key, policy.stateTTL(), func(s *State) error {
		switch policy.Algorithm {
		case TokenBucket:
			refill(s, policy, now)
			if s.Tokens < 1 {
				retryAfter = timeToNextToken(s, policy)
				return types.E(types.CodeRateLimited, "no tokens left for %q", key).
					WithRetryAfter(retryAfter)
			}
			s.Tokens--
			return nil

		default: // fixed window
			rollWindow(s, policy, now)
			if s.Count >= policy.MaxRequests {
				retryAfter = s.WindowStart.Add(policy.Window).Sub(now)
				return types.E(types.CodeRateLimited, "window exhausted for %q", key).
					WithRetryAfter(retryAfter)
			}
			s.Count++
			return nil
		}
	})

	if err != nil && types.CodeOf(err) == types.CodeRateLimited {
		l.logger.WithFields(logrus.Fields{
			"key":         key,
			"algorithm":   policy.Algorithm,
			"retry_after": retryAfter,
		}).Warn("Rate limit exceeded")
	}
	return err
}

// Peek reports whether an Admit for key would currently succeed, without
// consuming capacity or writing state. The router uses this to exclude
// throttled anchors from candidacy.
func (l *Limiter) Peek(ctx context.Context, key string, policy Policy) (bool, time.Duration, error) {
	if policy.Unlimited() {
		return true, 0, nil
	}

	s, _, err := l.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}

	now := l.now()
	switch policy.Algorithm {
	case TokenBucket:
		refill(&s, policy, now)
		if s.Tokens < 1 {
			return false, timeToNextToken(&s, policy), nil
		}
		return true, 0, nil

	default:
		rollWindow(&s, policy, now)
		if s.Count >= policy.MaxRequests {
			return false, s.WindowStart.Add(policy.Window).Sub(now), nil
		}
		return true, 0, nil
	}
}

// Snapshot returns the current standing of key under policy.
func (l *Limiter) Snapshot(ctx context.Context, key string, policy Policy) (*Info, error) {
	if policy.Unlimited() {
		return &Info{Limit: 0, Remaining: math.MaxInt32}, nil
	}

	s, _, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	now := l.now()
	switch policy.Algorithm {
	case TokenBucket:
		refill(&s, policy, now)
		remaining := int(s.Tokens)
		return &Info{
			Limit:     policy.MaxRequests,
			Remaining: remaining,
			ResetIn:   timeToNextToken(&s, policy),
		}, nil

	default:
		rollWindow(&s, policy, now)
		return &Info{
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - s.Count,
			ResetIn:   s.WindowStart.Add(policy.Window).Sub(now),
		}, nil
	}
}

// Reset clears the state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return err
	}
	l.logger.WithField("key", key).Info("Rate limit reset")
	return nil
}

// rollWindow resets an expired or uninitialized fixed window so the current
// instant starts a fresh span.
func rollWindow(s *State, policy Policy, now time.Time) {
	if s.WindowStart.IsZero() || !now.Before(s.WindowStart.Add(policy.Window)) {
		s.Count = 0
		s.WindowStart = now
	}
}

// refill tops the bucket up for the time elapsed since the last refill,
// capped at the bucket capacity. A fresh bucket starts full.
func refill(s *State, policy Policy, now time.Time) {
	if s.LastRefill.IsZero() {
		s.Tokens = float64(policy.MaxRequests)
		s.LastRefill = now
		return
	}

	elapsed := now.Sub(s.LastRefill).Seconds()
	if elapsed > 0 {
		s.Tokens = math.Min(float64(policy.MaxRequests), s.Tokens+elapsed*policy.refillPerSecond())
	}
	s.LastRefill = now
}

func timeToNextToken(s *State, policy Policy) time.Duration {
	rate := policy.refillPerSecond()
	if rate <= 0 {
		return policy.Window
	}
	deficit := 1 - s.Tokens
	if deficit < 0 {
		return 0
	}
	return time.Duration(deficit / rate * float64(time.Second))
}
