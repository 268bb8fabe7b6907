package types

// Strategy selects the criterion used to rank eligible anchors.
type Strategy string

const (
	StrategyBestRate          Strategy = "best_rate"
	StrategyLowestFee         Strategy = "lowest_fee"
	StrategyFastestSettlement Strategy = "fastest_settlement"
	StrategyHighestLiquidity  Strategy = "highest_liquidity"
	StrategyCustom            Strategy = "custom"
)

// ValidStrategy reports whether s names a known routing strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyBestRate, StrategyLowestFee, StrategyFastestSettlement,
		StrategyHighestLiquidity, StrategyCustom:
		return true
	}
	return false
}

// CustomWeights tunes the weighted sum used by StrategyCustom. Weights are
// relative; they do not need to add up to 1.
type CustomWeights struct {
	Rate       float64 `yaml:"rate" json:"rate"`
	Fee        float64 `yaml:"fee" json:"fee"`
	Reputation float64 `yaml:"reputation" json:"reputation"`
	Liquidity  float64 `yaml:"liquidity" json:"liquidity"`
	Uptime     float64 `yaml:"uptime" json:"uptime"`
}

// DefaultCustomWeights returns the stock blend: rate 30%, fee 25%,
// reputation 20%, liquidity 15%, uptime 10%.
func DefaultCustomWeights() CustomWeights {
	return CustomWeights{
		Rate:       0.30,
		Fee:        0.25,
		Reputation: 0.20,
		Liquidity:  0.15,
		Uptime:     0.10,
	}
}

// IsZero reports whether no weight has been set.
func (w CustomWeights) IsZero() bool {
	return w.Rate == 0 && w.Fee == 0 && w.Reputation == 0 &&
		w.Liquidity == 0 && w.Uptime == 0
}

// RoutingRequest describes one selection problem: which anchor should
// perform the given operation for the given amount and pair.
type RoutingRequest struct {
	// ID correlates the request through logs and telemetry. Assigned by the
	// router when empty.
	ID string `json:"id,omitempty"`

	// BaseAsset and QuoteAsset are the asset pair being converted
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`

	// Amount is the transactable amount in minor units of the base asset
	Amount int64 `json:"amount"`

	// Operation is the kind of operation the anchor must support
	Operation OperationKind `json:"operation"`

	// Strategy ranks the surviving candidates
	Strategy Strategy `json:"strategy"`

	// MaxAlternatives bounds the number of ranked runners-up returned
	MaxAlternatives int `json:"max_alternatives"`

	// RequireKYC restricts candidates to anchors offering a KYC service
	RequireKYC bool `json:"require_kyc"`

	// MinReputation is the minimum acceptable reputation score (0-10000)
	MinReputation int64 `json:"min_reputation"`

	// CustomWeights overrides the StrategyCustom blend for this request
	CustomWeights *CustomWeights `json:"custom_weights,omitempty"`
}

// Validate checks the request fields that the engine cannot default.
func (r *RoutingRequest) Validate() error {
	if r.BaseAsset == "" || r.QuoteAsset == "" {
		return E(CodeValidation, "asset pair must be specified")
	}
	if r.Amount <= 0 {
		return E(CodeValidation, "amount must be positive, got %d", r.Amount)
	}
	if r.Strategy != "" && !ValidStrategy(r.Strategy) {
		return E(CodeValidation, "unknown strategy %q", r.Strategy)
	}
	if r.MaxAlternatives < 0 {
		return E(CodeValidation, "max alternatives must not be negative")
	}
	if r.MinReputation < 0 || r.MinReputation > BasisPointScale {
		return E(CodeValidation, "min reputation must be within [0, %d]", BasisPointScale)
	}
	return nil
}
