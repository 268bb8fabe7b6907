package types

import "time"

// RankedCandidate is one scored anchor/quote pairing. Alternatives carry
// their scores so callers can see how close the runners-up were.
type RankedCandidate struct {
	Anchor AnchorMetadata `json:"anchor"`
	Quote  Quote          `json:"quote"`
	Score  float64        `json:"score"`
}

// RoutingResult is the outcome of one routing computation. It is produced
// fresh per request and never persisted by the engine.
type RoutingResult struct {
	// RequestID echoes (or assigns) the routing request ID
	RequestID string `json:"request_id"`

	// Selected is the winning candidate
	Selected RankedCandidate `json:"selected"`

	// Alternatives are the ranked runners-up, best first, excluding the
	// winner, bounded by the request's MaxAlternatives
	Alternatives []RankedCandidate `json:"alternatives,omitempty"`

	// Strategy is the strategy that produced the ranking
	Strategy Strategy `json:"strategy"`

	// Reasoning is a human-readable trace of the decision
	Reasoning []string `json:"reasoning,omitempty"`

	// ComputedAt is when the ranking was computed
	ComputedAt time.Time `json:"computed_at"`
}

// Candidates returns the full ranked order: the winner followed by the
// alternatives.
func (r *RoutingResult) Candidates() []RankedCandidate {
	out := make([]RankedCandidate, 0, 1+len(r.Alternatives))
	out = append(out, r.Selected)
	out = append(out, r.Alternatives...)
	return out
}
