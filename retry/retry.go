// Package retry executes an operation up to a configured number of attempts,
// classifying each failure as retryable or fatal and computing the delay
// schedule between attempts. Rate-limit failures get their own schedule and
// may carry a provider-supplied retry-after hint.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/types"
)

// Policy configures attempt counts and the delay schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry (attempt 1)
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the exponential schedule
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier grows the delay per retry. Values below 1 are treated as 1.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// JitterFactor spreads delays: 0 means none, 1 means full jitter
	JitterFactor float64 `yaml:"jitter_factor" json:"jitter_factor"`

	// HonorRetryAfter prefers a provider-supplied retry-after hint over the
	// computed schedule when the failure is a rate-limit signal
	HonorRetryAfter bool `yaml:"honor_retry_after" json:"honor_retry_after"`

	// RateLimitInitialDelay, RateLimitMultiplier and RateLimitMaxDelay form
	// the separate schedule used when the failure is a rate-limit signal.
	// Zero values fall back to the main schedule's fields.
	RateLimitInitialDelay time.Duration `yaml:"rate_limit_initial_delay" json:"rate_limit_initial_delay"`
	RateLimitMultiplier   float64       `yaml:"rate_limit_multiplier" json:"rate_limit_multiplier"`
	RateLimitMaxDelay     time.Duration `yaml:"rate_limit_max_delay" json:"rate_limit_max_delay"`
}

// DefaultPolicy returns the stock schedule: 3 attempts, 100ms doubling to a
// 10s cap, no jitter, retry-after hints honored up to a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:           3,
		InitialDelay:          100 * time.Millisecond,
		MaxDelay:              10 * time.Second,
		Multiplier:            2.0,
		HonorRetryAfter:       true,
		RateLimitInitialDelay: time.Second,
		RateLimitMultiplier:   2.0,
		RateLimitMaxDelay:     time.Minute,
	}
}

// Outcome is the result of running an operation under a policy.
type Outcome[T any] struct {
	// Value is the operation's result when Err is nil
	Value T

	// Err is the terminal error: the last failure when attempts ran out, or
	// the first non-retryable one
	Err error

	// Attempts is how many times the operation ran
	Attempts int

	// Delay is the total delay the schedule produced. With a dry-run sleeper
	// this is accumulated, not actually slept.
	Delay time.Duration
}

// Sleeper waits out one delay. Returning an error aborts the run.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper; it honors context cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoSleep is a dry-run Sleeper: delays are accumulated in the outcome but
// never slept. Used by tests and by callers replaying schedules.
func NoSleep(context.Context, time.Duration) error { return nil }

// Jitter adjusts a computed delay. factor is the policy's JitterFactor.
type Jitter func(d time.Duration, factor float64) time.Duration

// MidpointJitter is the default Jitter. It is deterministic: instead of
// drawing from [d*(1-factor), d], it returns the midpoint of that range,
// keeping schedules reproducible. Callers wanting true randomness can inject
// a seeded variant via WithJitter.
func MidpointJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	if factor > 1 {
		factor = 1
	}
	span := time.Duration(float64(d) * factor)
	return d - span/2
}

// Engine runs operations under a Policy. It holds no mutable state, so a
// single Engine is safe for concurrent use across requests.
type Engine struct {
	policy Policy
	sleep  Sleeper
	jitter Jitter
	logger *logrus.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSleeper overrides how delays are waited out.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithJitter overrides the jitter function.
func WithJitter(j Jitter) Option {
	return func(e *Engine) { e.jitter = j }
}

// New creates an Engine.
func New(policy Policy, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{policy: policy, sleep: Sleep, jitter: MidpointJitter, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's configured policy.
func (e *Engine) Policy() Policy { return e.policy }

// Do runs op until it succeeds, fails fatally, or attempts run out. Attempts
// are 0-indexed; the delay before attempt 0 is always zero. Each failure is
// classified by Retryable, the single source of truth for retry decisions.
func Do[T any](ctx context.Context, e *Engine, op func(attempt int) (T, error)) Outcome[T] {
	var out Outcome[T]

	if e.policy.MaxAttempts <= 0 {
		out.Err = types.E(types.CodeValidation, "retry policy needs at least one attempt")
		return out
	}

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := e.delayFor(attempt, lastErr)
			out.Delay += d

			e.logger.WithFields(logrus.Fields{
				"attempt":  attempt,
				"delay_ms": d.Milliseconds(),
			}).Debug("Backing off before retry")

			if err := e.sleep(ctx, d); err != nil {
				out.Err = err
				return out
			}
		}

		value, err := op(attempt)
		out.Attempts = attempt + 1
		if err == nil {
			out.Value = value
			return out
		}
		lastErr = err

		if !Retryable(err) {
			e.logger.WithError(err).WithField("attempt", attempt).Debug("Fatal error, not retrying")
			out.Err = err
			return out
		}
	}

	out.Err = lastErr
	return out
}

// delayFor computes the delay before the given attempt (attempt > 0). A
// rate-limit failure prefers the provider's retry-after hint, capped at the
// rate-limit-specific max, over the exponential formula.
func (e *Engine) delayFor(attempt int, lastErr error) time.Duration {
	p := e.policy

	if types.CodeOf(lastErr) == types.CodeRateLimited {
		ceiling := p.RateLimitMaxDelay
		if ceiling <= 0 {
			ceiling = p.MaxDelay
		}

		if p.HonorRetryAfter {
			if hint := types.RetryAfterOf(lastErr); hint > 0 {
				return minDuration(hint, ceiling)
			}
		}

		initial := p.RateLimitInitialDelay
		if initial <= 0 {
			initial = p.InitialDelay
		}
		multiplier := p.RateLimitMultiplier
		if multiplier <= 0 {
			multiplier = p.Multiplier
		}
		return exponential(initial, multiplier, ceiling, attempt)
	}

	d := exponential(p.InitialDelay, p.Multiplier, p.MaxDelay, attempt)
	return e.jitter(d, p.JitterFactor)
}

// exponential is min(initial * multiplier^(attempt-1), max).
func exponential(initial time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))
	if max > 0 && d > max {
		d = max
	}
	return d
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
