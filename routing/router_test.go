package routing

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corridorpay/anchor-router/types"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(opts ...Option) *Router {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewRouter(logger, opts...)
}

func usdEurRequest() types.RoutingRequest {
	return types.RoutingRequest{
		BaseAsset:       "USD",
		QuoteAsset:      "EUR",
		Amount:          100_000,
		Operation:       types.OperationWithdrawal,
		MaxAlternatives: 3,
	}
}

// candidate builds an eligible candidate; tests break individual fields to
// exercise the filter.
func candidate(id string, rate, feeBps int64) Candidate {
	return Candidate{
		Anchor: types.AnchorMetadata{
			ID:                  id,
			Name:                id,
			ReputationScore:     8000,
			AvgSettlementTime:   600,
			LiquidityScore:      7000,
			UptimePct:           9900,
			Active:              true,
			SupportedOperations: []types.OperationKind{types.OperationDeposit, types.OperationWithdrawal},
			KYCSupported:        true,
		},
		Quote: types.Quote{
			ID:         "q-" + id,
			AnchorID:   id,
			BaseAsset:  "USD",
			QuoteAsset: "EUR",
			Rate:       rate,
			FeeBps:     feeBps,
			MinAmount:  1,
			MaxAmount:  1_000_000,
			ExpiresAt:  testNow.Add(time.Minute),
		},
	}
}

func TestRoute_BestRateWins(t *testing.T) {
	router := newTestRouter()

	// same nominal rate, lower fee means a better effective rate
	candidates := []Candidate{
		candidate("expensive", 9200, 300),
		candidate("cheap", 9200, 50),
		candidate("middling", 9200, 150),
	}

	result, err := router.Route(context.Background(), usdEurRequest(), candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if result.Selected.Anchor.ID != "cheap" {
		t.Errorf("expected cheap to win, got %s", result.Selected.Anchor.ID)
	}
	if len(result.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(result.Alternatives))
	}
	if result.Alternatives[0].Anchor.ID != "middling" {
		t.Errorf("expected middling as first alternative, got %s", result.Alternatives[0].Anchor.ID)
	}
	if result.Strategy != types.StrategyBestRate {
		t.Errorf("expected default strategy best_rate, got %s", result.Strategy)
	}
}

func TestRoute_LowestFee(t *testing.T) {
	router := newTestRouter()

	// a worse rate must not matter under lowest_fee
	candidates := []Candidate{
		candidate("good-rate-high-fee", 9000, 200),
		candidate("bad-rate-low-fee", 9900, 25),
	}

	req := usdEurRequest()
	req.Strategy = types.StrategyLowestFee

	result, err := router.Route(context.Background(), req, candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "bad-rate-low-fee" {
		t.Errorf("expected bad-rate-low-fee to win, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_FastestSettlement(t *testing.T) {
	router := newTestRouter()

	slow := candidate("slow", 9200, 100)
	slow.Anchor.AvgSettlementTime = 7200
	fast := candidate("fast", 9200, 100)
	fast.Anchor.AvgSettlementTime = 30

	req := usdEurRequest()
	req.Strategy = types.StrategyFastestSettlement

	result, err := router.Route(context.Background(), req, []Candidate{slow, fast})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "fast" {
		t.Errorf("expected fast to win, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_HighestLiquidity(t *testing.T) {
	router := newTestRouter()

	thin := candidate("thin", 9200, 100)
	thin.Anchor.LiquidityScore = 2000
	deep := candidate("deep", 9200, 100)
	deep.Anchor.LiquidityScore = 9500

	req := usdEurRequest()
	req.Strategy = types.StrategyHighestLiquidity

	result, err := router.Route(context.Background(), req, []Candidate{thin, deep})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "deep" {
		t.Errorf("expected deep to win, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_CustomWeightsOverrideDefaults(t *testing.T) {
	router := newTestRouter()

	reputable := candidate("reputable", 9500, 300)
	reputable.Anchor.ReputationScore = 9900
	cheap := candidate("cheap", 9200, 10)
	cheap.Anchor.ReputationScore = 5000

	req := usdEurRequest()
	req.Strategy = types.StrategyCustom
	req.CustomWeights = &types.CustomWeights{Reputation: 1.0}

	result, err := router.Route(context.Background(), req, []Candidate{cheap, reputable})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "reputable" {
		t.Errorf("reputation-only weights should pick reputable, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_CustomDefaultBlend(t *testing.T) {
	router := newTestRouter()

	strong := candidate("strong", 9200, 50)
	strong.Anchor.ReputationScore = 9500
	strong.Anchor.LiquidityScore = 9000
	weak := candidate("weak", 9900, 400)
	weak.Anchor.ReputationScore = 3000
	weak.Anchor.LiquidityScore = 2000
	weak.Anchor.UptimePct = 8000

	req := usdEurRequest()
	req.Strategy = types.StrategyCustom

	result, err := router.Route(context.Background(), req, []Candidate{weak, strong})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "strong" {
		t.Errorf("expected strong to win under default blend, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	router := newTestRouter()
	candidates := []Candidate{
		candidate("a", 9100, 100),
		candidate("b", 9300, 80),
		candidate("c", 9200, 120),
	}
	req := usdEurRequest()

	first, err := router.Route(context.Background(), req, candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := router.Route(context.Background(), req, candidates)
		if err != nil {
			t.Fatalf("Route failed on repeat %d: %v", i, err)
		}
		if again.Selected.Anchor.ID != first.Selected.Anchor.ID {
			t.Fatalf("selection changed on repeat %d: %s vs %s",
				i, again.Selected.Anchor.ID, first.Selected.Anchor.ID)
		}
		if again.Selected.Score != first.Selected.Score {
			t.Fatalf("score changed on repeat %d", i)
		}
	}
}

func TestRoute_TiesKeepInputOrder(t *testing.T) {
	router := newTestRouter()

	// identical candidates except for the ID tie on every score
	candidates := []Candidate{
		candidate("first", 9200, 100),
		candidate("second", 9200, 100),
		candidate("third", 9200, 100),
	}

	result, err := router.Route(context.Background(), usdEurRequest(), candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "first" {
		t.Errorf("tie must keep input order, got %s", result.Selected.Anchor.ID)
	}
	if result.Alternatives[0].Anchor.ID != "second" || result.Alternatives[1].Anchor.ID != "third" {
		t.Errorf("alternatives out of order: %s, %s",
			result.Alternatives[0].Anchor.ID, result.Alternatives[1].Anchor.ID)
	}
}

func TestRoute_AlternativesBounded(t *testing.T) {
	router := newTestRouter()
	candidates := []Candidate{
		candidate("a", 9100, 100),
		candidate("b", 9200, 90),
		candidate("c", 9300, 80),
		candidate("d", 9400, 70),
	}

	req := usdEurRequest()
	req.MaxAlternatives = 1

	result, err := router.Route(context.Background(), req, candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(result.Alternatives) != 1 {
		t.Errorf("expected 1 alternative, got %d", len(result.Alternatives))
	}

	req.MaxAlternatives = 0
	result, err = router.Route(context.Background(), req, candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if len(result.Alternatives) != 0 {
		t.Errorf("expected no alternatives, got %d", len(result.Alternatives))
	}
}

func TestRoute_AssignsRequestID(t *testing.T) {
	router := newTestRouter()

	result, err := router.Route(context.Background(), usdEurRequest(), []Candidate{candidate("a", 9200, 100)})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.RequestID == "" {
		t.Error("expected a generated request ID")
	}

	req := usdEurRequest()
	req.ID = "req-42"
	result, err = router.Route(context.Background(), req, []Candidate{candidate("a", 9200, 100)})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.RequestID != "req-42" {
		t.Errorf("expected caller's request ID preserved, got %s", result.RequestID)
	}
}

func TestRoute_FilterExclusions(t *testing.T) {
	router := newTestRouter()

	inactive := candidate("inactive", 9200, 100)
	inactive.Anchor.Active = false

	lowRep := candidate("low-rep", 9200, 100)
	lowRep.Anchor.ReputationScore = 1000

	noKYC := candidate("no-kyc", 9200, 100)
	noKYC.Anchor.KYCSupported = false

	noWithdraw := candidate("no-withdraw", 9200, 100)
	noWithdraw.Anchor.SupportedOperations = []types.OperationKind{types.OperationDeposit}

	wrongPair := candidate("wrong-pair", 9200, 100)
	wrongPair.Quote.QuoteAsset = "GBP"

	expired := candidate("expired", 9200, 100)
	expired.Quote.ExpiresAt = testNow.Add(-time.Second)

	expiresNow := candidate("expires-now", 9200, 100)
	expiresNow.Quote.ExpiresAt = testNow // boundary: not strictly in the future

	tooSmall := candidate("too-small", 9200, 100)
	tooSmall.Quote.MinAmount = 200_000

	unregistered := candidate("", 9200, 100)

	mismatched := candidate("mismatched", 9200, 100)
	mismatched.Quote.AnchorID = "someone-else"

	survivor := candidate("survivor", 9500, 200)

	req := usdEurRequest()
	req.RequireKYC = true
	req.MinReputation = 5000

	result, err := router.Route(context.Background(), req, []Candidate{
		inactive, lowRep, noKYC, noWithdraw, wrongPair, expired, expiresNow,
		tooSmall, unregistered, mismatched, survivor,
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "survivor" {
		t.Errorf("expected only survivor to remain, got %s", result.Selected.Anchor.ID)
	}
	if len(result.Alternatives) != 0 {
		t.Errorf("expected no alternatives, got %d", len(result.Alternatives))
	}
}

func TestRoute_AmountBoundsInclusive(t *testing.T) {
	router := newTestRouter()

	c := candidate("exact", 9200, 100)
	c.Quote.MinAmount = 100_000
	c.Quote.MaxAmount = 100_000

	result, err := router.Route(context.Background(), usdEurRequest(), []Candidate{c})
	if err != nil {
		t.Fatalf("amount equal to both bounds must be eligible: %v", err)
	}
	if result.Selected.Anchor.ID != "exact" {
		t.Errorf("unexpected winner %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_NoEligibleCandidates(t *testing.T) {
	router := newTestRouter()

	expired := candidate("expired", 9200, 100)
	expired.Quote.ExpiresAt = testNow.Add(-time.Minute)

	_, err := router.Route(context.Background(), usdEurRequest(), []Candidate{expired})
	if err == nil {
		t.Fatal("expected an error when nothing survives filtering")
	}
	if types.CodeOf(err) != types.CodeNoQuotes {
		t.Errorf("expected CodeNoQuotes, got %s", types.CodeOf(err))
	}

	_, err = router.Route(context.Background(), usdEurRequest(), nil)
	if err == nil || types.CodeOf(err) != types.CodeNoQuotes {
		t.Errorf("expected CodeNoQuotes for empty candidate set, got %v", err)
	}
}

func TestRoute_InvalidRequest(t *testing.T) {
	router := newTestRouter()
	candidates := []Candidate{candidate("a", 9200, 100)}

	tests := []struct {
		name   string
		mutate func(*types.RoutingRequest)
	}{
		{"missing pair", func(r *types.RoutingRequest) { r.BaseAsset = "" }},
		{"zero amount", func(r *types.RoutingRequest) { r.Amount = 0 }},
		{"negative amount", func(r *types.RoutingRequest) { r.Amount = -5 }},
		{"unknown strategy", func(r *types.RoutingRequest) { r.Strategy = "cheapest" }},
		{"negative alternatives", func(r *types.RoutingRequest) { r.MaxAlternatives = -1 }},
		{"reputation out of range", func(r *types.RoutingRequest) { r.MinReputation = 20000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := usdEurRequest()
			tt.mutate(&req)

			_, err := router.Route(context.Background(), req, candidates)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if types.CodeOf(err) != types.CodeValidation {
				t.Errorf("expected CodeValidation, got %s", types.CodeOf(err))
			}
		})
	}
}

type denyGate struct {
	denied map[string]string
}

func (g denyGate) Eligible(_ context.Context, anchorID string) (bool, string) {
	if reason, ok := g.denied[anchorID]; ok {
		return false, reason
	}
	return true, ""
}

func TestRoute_GateExcludesCandidates(t *testing.T) {
	gate := denyGate{denied: map[string]string{"gated": "rate limit exhausted"}}
	router := newTestRouter(WithGate(gate))

	// gated would win on rate if the gate did not veto it
	candidates := []Candidate{
		candidate("gated", 9000, 10),
		candidate("open", 9500, 200),
	}

	result, err := router.Route(context.Background(), usdEurRequest(), candidates)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "open" {
		t.Errorf("expected gate to remove gated, got %s", result.Selected.Anchor.ID)
	}
}

func TestRoute_AllCandidatesGated(t *testing.T) {
	gate := denyGate{denied: map[string]string{"a": "circuit open", "b": "circuit open"}}
	router := newTestRouter(WithGate(gate))

	_, err := router.Route(context.Background(), usdEurRequest(), []Candidate{
		candidate("a", 9200, 100),
		candidate("b", 9300, 100),
	})
	if err == nil || types.CodeOf(err) != types.CodeNoQuotes {
		t.Errorf("expected CodeNoQuotes when every candidate is gated, got %v", err)
	}
}

func TestEffectiveRate_FeeAdjustment(t *testing.T) {
	q := types.Quote{Rate: 10000, FeeBps: 100}

	// 1% fee on 10000 units: gross 10100, effective 1.01 in fixed point
	got := q.EffectiveRate(10000)
	if got != 10100 {
		t.Errorf("expected effective rate 10100, got %v", got)
	}

	free := types.Quote{Rate: 9200, FeeBps: 0}
	if free.EffectiveRate(10000) != 9200 {
		t.Errorf("zero fee must leave the rate unchanged")
	}
}

func TestEffectiveRate_LargeAmounts(t *testing.T) {
	// a max-fee quote on an amount where naive amount*fee_bps arithmetic
	// would wrap int64
	q := types.Quote{Rate: 9000, FeeBps: 10000}

	got := q.EffectiveRate(4_000_000_000_000_000)
	if got != 18000 {
		t.Errorf("expected effective rate 18000, got %v", got)
	}
}

func TestRoute_NonPositiveRateExcluded(t *testing.T) {
	router := newTestRouter()

	zeroRate := candidate("zero-rate", 0, 100)
	sane := candidate("sane", 9200, 100)

	result, err := router.Route(context.Background(), usdEurRequest(), []Candidate{zeroRate, sane})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.Selected.Anchor.ID != "sane" {
		t.Errorf("zero-rate quote must be filtered, got %s", result.Selected.Anchor.ID)
	}

	_, err = router.Route(context.Background(), usdEurRequest(), []Candidate{zeroRate})
	if err == nil || types.CodeOf(err) != types.CodeNoQuotes {
		t.Errorf("expected CodeNoQuotes when only a zero-rate quote remains, got %v", err)
	}
}
