// Package engine wires the routing, rate-limit, fallback and retry pieces
// into the full selection flow: route to the best eligible anchor, admit the
// request against its quota, run the caller's operation under the retry
// policy, and advance to the next ranked candidate when an anchor fails.
package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/config"
	"github.com/corridorpay/anchor-router/fallback"
	"github.com/corridorpay/anchor-router/ratelimit"
	"github.com/corridorpay/anchor-router/retry"
	"github.com/corridorpay/anchor-router/routing"
	"github.com/corridorpay/anchor-router/store"
	"github.com/corridorpay/anchor-router/telemetry"
	"github.com/corridorpay/anchor-router/types"
)

// Operation is the caller-supplied call against a chosen anchor. The engine
// decides which anchor and when; the operation does the I/O.
type Operation func(ctx context.Context, anchor types.AnchorMetadata, quote types.Quote) error

// Options configures an Engine. Zero fields get working defaults: in-memory
// stores, no rate limits, the stock retry policy, a discarding sink.
type Options struct {
	Logger           *logrus.Logger
	Sink             telemetry.Sink
	RetryPolicy      retry.Policy
	RetryOptions     []retry.Option
	FailureThreshold int

	// StateTTL bounds how long an idle failure streak survives. Zero keeps
	// the selector's default.
	StateTTL time.Duration

	// PolicyFor maps an anchor ID to its admission policy. Nil means
	// unlimited for every anchor.
	PolicyFor func(anchor string) ratelimit.Policy

	// Priority is the configured anchor order consulted by NextAnchor
	Priority []string

	RateLimitStore store.Store[ratelimit.State]
	FailureStore   store.Store[fallback.FailureState]

	// ApplyDefaults fills unset routing request fields before routing
	ApplyDefaults func(*types.RoutingRequest)
}

// Engine is the resilience and decision core. It holds no per-request state;
// one Engine serves many concurrent callers.
type Engine struct {
	router    *routing.Router
	limiter   *ratelimit.Limiter
	selector  *fallback.Selector
	retrier   *retry.Engine
	sink      telemetry.Sink
	logger    *logrus.Logger
	threshold int
	priority  []string
	policyFor func(anchor string) ratelimit.Policy
	defaults  func(*types.RoutingRequest)
}

// New creates an Engine from options.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	sink := opts.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}

	policy := opts.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	policyFor := opts.PolicyFor
	if policyFor == nil {
		policyFor = func(string) ratelimit.Policy { return ratelimit.Policy{} }
	}

	rlStore := opts.RateLimitStore
	if rlStore == nil {
		rlStore = store.NewMemory[ratelimit.State](5 * time.Minute)
	}
	fbStore := opts.FailureStore
	if fbStore == nil {
		fbStore = store.NewMemory[fallback.FailureState](5 * time.Minute)
	}

	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}

	var fbOpts []fallback.Option
	if opts.StateTTL > 0 {
		fbOpts = append(fbOpts, fallback.WithStateTTL(opts.StateTTL))
	}

	e := &Engine{
		limiter:   ratelimit.New(rlStore, logger),
		selector:  fallback.New(fbStore, logger, fbOpts...),
		retrier:   retry.New(policy, logger, opts.RetryOptions...),
		sink:      sink,
		logger:    logger,
		threshold: threshold,
		priority:  opts.Priority,
		policyFor: policyFor,
		defaults:  opts.ApplyDefaults,
	}

	e.router = routing.NewRouter(logger,
		routing.WithGate(&availabilityGate{engine: e}),
		routing.WithGate(&admissionGate{engine: e}),
	)

	return e
}

// FromConfig builds an Engine from a loaded configuration, including the
// Redis-backed stores and telemetry sinks it enables.
func FromConfig(cfg *config.Config, logger *logrus.Logger) *Engine {
	opts := Options{
		Logger:           logger,
		RetryPolicy:      cfg.Retry,
		FailureThreshold: cfg.Fallback.FailureThreshold,
		StateTTL:         cfg.Fallback.StateTTL,
		Priority:         cfg.Fallback.Priority,
		PolicyFor:        cfg.RateLimit.PolicyFor,
		ApplyDefaults:    cfg.ApplyRoutingDefaults,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.RateLimitStore = store.NewRedis[ratelimit.State](client, "anchor-router:rl:")
		opts.FailureStore = store.NewRedis[fallback.FailureState](client, "anchor-router:cb:")
	}

	if cfg.Telemetry.Enabled {
		sinks := telemetry.MultiSink{telemetry.NewRecorder(logger, cfg.Telemetry.BufferSize)}
		if cfg.Telemetry.Prometheus {
			sinks = append(sinks, telemetry.NewPrometheusSink(nil))
		}
		opts.Sink = sinks
	}

	return New(opts)
}

// Limiter exposes the engine's rate limiter for operational introspection.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Selector exposes the engine's fallback selector.
func (e *Engine) Selector() *fallback.Selector { return e.selector }

// Route applies configured defaults and computes a routing decision. Anchors
// that are circuit-broken or out of admission capacity are excluded from
// candidacy.
func (e *Engine) Route(ctx context.Context, req types.RoutingRequest, candidates []routing.Candidate) (*types.RoutingResult, error) {
	if e.defaults != nil {
		e.defaults(&req)
	}

	result, err := e.router.Route(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventRoutingDecision, result.Selected.Anchor.ID,
		map[string]interface{}{
			"request_id":   result.RequestID,
			"strategy":     string(result.Strategy),
			"score":        result.Selected.Score,
			"alternatives": len(result.Alternatives),
		}))

	return result, nil
}

// NextAnchor returns the next available anchor from the configured priority
// order, skipping past the given anchor when one is named.
func (e *Engine) NextAnchor(ctx context.Context, after string) (string, error) {
	return e.selector.SelectNext(ctx, e.priority, after, e.threshold)
}

// Report describes one Perform run.
type Report struct {
	// Result is the routing decision that drove the run
	Result *types.RoutingResult

	// Anchor and Quote are the pairing that succeeded; zero on failure
	Anchor types.AnchorMetadata
	Quote  types.Quote

	// Attempts is the total operation invocations across all anchors tried
	Attempts int

	// Delay is the total backoff delay the schedules produced
	Delay time.Duration

	// FallbackUsed reports whether an anchor other than the winner served
	FallbackUsed bool

	// FailedAnchors lists anchors that were tried and failed
	FailedAnchors []string
}

// Perform routes the request and executes op against the ranked candidates
// in order: admit against the anchor's quota, run the operation under the
// retry policy, record the result. A fatal error stops the run; a retryable
// one advances to the next candidate. Fails with CodeNoCandidate when every
// ranked candidate has been exhausted.
func (e *Engine) Perform(ctx context.Context, req types.RoutingRequest, candidates []routing.Candidate, op Operation) (*Report, error) {
	result, err := e.Route(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	report := &Report{Result: result}
	var lastErr error

	for i, candidate := range result.Candidates() {
		anchorID := candidate.Anchor.ID

		available, err := e.selector.IsAvailable(ctx, anchorID, e.threshold)
		if err != nil {
			return report, err
		}
		if !available {
			// went down between routing and execution
			continue
		}

		if err := e.limiter.Admit(ctx, anchorID, e.policyFor(anchorID)); err != nil {
			if types.CodeOf(err) != types.CodeRateLimited {
				return report, err
			}
			e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventRateLimitRejected, anchorID,
				map[string]interface{}{"request_id": result.RequestID}))
			lastErr = err
			continue
		}

		if i > 0 {
			report.FallbackUsed = true
			e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventFallbackAdvanced, anchorID,
				map[string]interface{}{
					"request_id": result.RequestID,
					"original":   result.Selected.Anchor.ID,
				}))
		}

		outcome := retry.Do(ctx, e.retrier, func(attempt int) (struct{}, error) {
			return struct{}{}, op(ctx, candidate.Anchor, candidate.Quote)
		})
		report.Attempts += outcome.Attempts
		report.Delay += outcome.Delay

		if outcome.Err == nil {
			e.recordSuccess(ctx, anchorID)
			report.Anchor = candidate.Anchor
			report.Quote = candidate.Quote

			e.logger.WithFields(logrus.Fields{
				"request_id":    result.RequestID,
				"anchor":        anchorID,
				"attempts":      report.Attempts,
				"fallback_used": report.FallbackUsed,
			}).Info("Operation completed")

			return report, nil
		}

		lastErr = outcome.Err
		report.FailedAnchors = append(report.FailedAnchors, anchorID)
		e.recordFailure(ctx, anchorID, result.RequestID, outcome)

		if !retry.Retryable(outcome.Err) {
			return report, outcome.Err
		}
	}

	return report, types.E(types.CodeNoCandidate, "every ranked candidate was exhausted").WithCause(lastErr)
}

// recordSuccess clears the anchor's failure streak, closing its circuit when
// one was open.
func (e *Engine) recordSuccess(ctx context.Context, anchorID string) {
	failures, err := e.selector.Failures(ctx, anchorID)
	if err == nil && failures >= e.threshold && e.threshold > 0 {
		e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventCircuitClosed, anchorID, nil))
	}
	if err := e.selector.RecordSuccess(ctx, anchorID); err != nil {
		e.logger.WithError(err).WithField("anchor", anchorID).Warn("Failed to clear failure state")
	}
}

// recordFailure bumps the anchor's streak and emits circuit/retry events.
func (e *Engine) recordFailure(ctx context.Context, anchorID, requestID string, outcome retry.Outcome[struct{}]) {
	count, err := e.selector.RecordFailure(ctx, anchorID)
	if err != nil {
		e.logger.WithError(err).WithField("anchor", anchorID).Warn("Failed to record failure")
		return
	}

	if e.threshold > 0 && count == e.threshold {
		e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventCircuitOpened, anchorID,
			map[string]interface{}{"failures": count}))
	}

	if outcome.Attempts >= e.retrier.Policy().MaxAttempts && retry.Retryable(outcome.Err) {
		e.sink.Emit(ctx, telemetry.NewEvent(telemetry.EventRetryExhausted, anchorID,
			map[string]interface{}{
				"request_id": requestID,
				"attempts":   outcome.Attempts,
			}))
	}
}

// availabilityGate excludes circuit-broken anchors from candidacy.
type availabilityGate struct {
	engine *Engine
}

func (g *availabilityGate) Eligible(ctx context.Context, anchorID string) (bool, string) {
	available, err := g.engine.selector.IsAvailable(ctx, anchorID, g.engine.threshold)
	if err != nil {
		g.engine.logger.WithError(err).WithField("anchor", anchorID).Warn("Availability check failed")
		return true, "" // fail open: a store hiccup must not empty the candidate set
	}
	if !available {
		return false, "circuit open"
	}
	return true, ""
}

// admissionGate excludes anchors whose quota is currently exhausted. It only
// peeks; capacity is consumed by Perform after selection.
type admissionGate struct {
	engine *Engine
}

func (g *admissionGate) Eligible(ctx context.Context, anchorID string) (bool, string) {
	ok, _, err := g.engine.limiter.Peek(ctx, anchorID, g.engine.policyFor(anchorID))
	if err != nil {
		g.engine.logger.WithError(err).WithField("anchor", anchorID).Warn("Rate limit peek failed")
		return true, ""
	}
	if !ok {
		return false, "rate limited"
	}
	return true, ""
}
