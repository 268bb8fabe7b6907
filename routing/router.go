// Package routing scores and ranks competing anchors for a financial
// operation. Routing is a pure function of already-known state: given the
// same candidates and request it always produces the same result, which
// keeps decisions replayable without network calls.
package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/types"
)

// Scoring constants. bestRateScale is the large constant divided by the
// effective rate so that cheaper conversions score higher; the weights put
// the single-criterion strategies on comparable magnitudes.
const (
	bestRateScale        = 1e9
	feeWeight            = 100.0
	settlementWeight     = 10.0
	liquidityWeight      = 100.0
	maxSettlementSeconds = 86400
)

// Candidate pairs an anchor's catalog metadata with its current quote.
type Candidate struct {
	Anchor types.AnchorMetadata
	Quote  types.Quote
}

// Gate excludes anchors from candidacy for reasons outside the catalog data,
// such as an exhausted rate limit or an open circuit. Gates must not mutate
// state; consuming admission happens after selection.
type Gate interface {
	// Eligible reports whether the anchor may be considered, with a short
	// reason when it may not.
	Eligible(ctx context.Context, anchorID string) (bool, string)
}

// Router computes routing decisions. It holds no mutable shared state and is
// safe for concurrent use.
type Router struct {
	logger *logrus.Logger
	gates  []Gate
	now    func() time.Time
}

// Option customizes a Router.
type Option func(*Router)

// WithGate adds an exclusion gate. Gates run in registration order.
func WithGate(g Gate) Option {
	return func(r *Router) { r.gates = append(r.gates, g) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router.
func NewRouter(logger *logrus.Logger, opts ...Option) *Router {
	r := &Router{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route filters candidates, scores the survivors under the request's
// strategy, and returns the best plus up to MaxAlternatives ranked
// runners-up. Fails with CodeNoQuotes when nothing survives the filter,
// a retryable condition since new quotes may arrive.
func (r *Router) Route(ctx context.Context, req types.RoutingRequest, candidates []Candidate) (*types.RoutingResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = types.StrategyBestRate
	}

	now := r.now()
	eligible := r.filterCandidates(ctx, req, candidates, now)
	if len(eligible) == 0 {
		return nil, types.E(types.CodeNoQuotes,
			"no anchor has an eligible quote for %s/%s", req.BaseAsset, req.QuoteAsset)
	}

	scored := make([]types.RankedCandidate, 0, len(eligible))
	for _, c := range eligible {
		scored = append(scored, types.RankedCandidate{
			Anchor: c.Anchor,
			Quote:  c.Quote,
			Score:  r.score(req, strategy, c),
		})
	}

	// Equal scores keep their original relative order; no hidden tie-break.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	selected := scored[0]
	alternatives := scored[1:]
	if len(alternatives) > req.MaxAlternatives {
		alternatives = alternatives[:req.MaxAlternatives]
	}

	reasoning := []string{
		fmt.Sprintf("Strategy %s selected %s (score %.2f)", strategy, selected.Anchor.ID, selected.Score),
		fmt.Sprintf("%d of %d candidates survived filtering", len(eligible), len(candidates)),
	}
	if len(scored) > 1 {
		next := scored[1]
		reasoning = append(reasoning,
			fmt.Sprintf("Margin over %s: %.2f", next.Anchor.ID, selected.Score-next.Score))
	}

	result := &types.RoutingResult{
		RequestID:    req.ID,
		Selected:     selected,
		Alternatives: append([]types.RankedCandidate(nil), alternatives...),
		Strategy:     strategy,
		Reasoning:    reasoning,
		ComputedAt:   now,
	}

	r.logger.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"strategy":     strategy,
		"selected":     selected.Anchor.ID,
		"score":        selected.Score,
		"alternatives": len(result.Alternatives),
	}).Info("Request routed")

	return result, nil
}

// filterCandidates drops anchors that cannot serve the request: inactive or
// unregistered anchors, insufficient reputation, unsupported operation or
// missing KYC, mismatched pair, a nonsense rate, out-of-bounds amount,
// expired quote, or a gate veto.
func (r *Router) filterCandidates(ctx context.Context, req types.RoutingRequest, candidates []Candidate, now time.Time) []Candidate {
	var eligible []Candidate

	for _, c := range candidates {
		if reason := r.ineligible(ctx, req, c, now); reason != "" {
			r.logger.WithFields(logrus.Fields{
				"request_id": req.ID,
				"anchor":     c.Anchor.ID,
				"reason":     reason,
			}).Debug("Candidate excluded")
			continue
		}
		eligible = append(eligible, c)
	}

	return eligible
}

// ineligible returns an empty string for an eligible candidate, otherwise a
// short reason for the exclusion.
func (r *Router) ineligible(ctx context.Context, req types.RoutingRequest, c Candidate, now time.Time) string {
	switch {
	case c.Anchor.ID == "" || c.Anchor.ID != c.Quote.AnchorID:
		return "not registered"
	case !c.Anchor.Active:
		return "inactive"
	case c.Anchor.ReputationScore < req.MinReputation:
		return fmt.Sprintf("reputation %d below minimum %d", c.Anchor.ReputationScore, req.MinReputation)
	case req.Operation != "" && !c.Anchor.SupportsOperation(req.Operation):
		return fmt.Sprintf("operation %s unsupported", req.Operation)
	case req.RequireKYC && !c.Anchor.KYCSupported:
		return "no KYC service"
	case !c.Quote.MatchesPair(req.BaseAsset, req.QuoteAsset):
		return "pair mismatch"
	case c.Quote.Rate <= 0:
		return "non-positive rate"
	case c.Quote.Expired(now):
		return "quote expired"
	case !c.Quote.InBounds(req.Amount):
		return fmt.Sprintf("amount %d outside [%d, %d]", req.Amount, c.Quote.MinAmount, c.Quote.MaxAmount)
	}

	for _, gate := range r.gates {
		ok, reason := gate.Eligible(ctx, c.Anchor.ID)
		if !ok {
			if reason == "" {
				reason = "gated"
			}
			return reason
		}
	}

	return ""
}

// score dispatches on strategy. Higher is better under every strategy.
func (r *Router) score(req types.RoutingRequest, strategy types.Strategy, c Candidate) float64 {
	switch strategy {
	case types.StrategyLowestFee:
		return float64(types.BasisPointScale-c.Quote.FeeBps) * feeWeight

	case types.StrategyFastestSettlement:
		remaining := maxSettlementSeconds - c.Anchor.AvgSettlementTime
		if remaining < 0 {
			remaining = 0
		}
		return float64(remaining) * settlementWeight

	case types.StrategyHighestLiquidity:
		return float64(c.Anchor.LiquidityScore) * liquidityWeight

	case types.StrategyCustom:
		weights := types.DefaultCustomWeights()
		if req.CustomWeights != nil && !req.CustomWeights.IsZero() {
			weights = *req.CustomWeights
		}
		return customScore(req.Amount, c, weights)

	default: // StrategyBestRate
		return bestRateScale / c.Quote.EffectiveRate(req.Amount)
	}
}

// customScore blends five components, each normalized to the 0-10000 basis
// point scale before weighting: a rate of 1.0 with no fee scores 10000 on
// the rate component, a zero fee scores 10000 on the fee component, and the
// catalog scores are already on that scale.
func customScore(amount int64, c Candidate, w types.CustomWeights) float64 {
	effective := c.Quote.EffectiveRate(amount)
	rateComponent := 0.0
	if effective > 0 {
		rateComponent = float64(types.RateScale) * float64(types.BasisPointScale) / effective
	}
	feeComponent := float64(types.BasisPointScale - c.Quote.FeeBps)

	return w.Rate*rateComponent +
		w.Fee*feeComponent +
		w.Reputation*float64(c.Anchor.ReputationScore) +
		w.Liquidity*float64(c.Anchor.LiquidityScore) +
		w.Uptime*float64(c.Anchor.UptimePct)
}
