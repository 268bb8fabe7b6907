package types

import "time"

// RateScale is the fixed-point scale for quote rates: 10000 represents a
// rate of 1.0.
const RateScale = 10000

// Quote is a time-bounded, anchor-issued price and fee offer for converting
// one asset to another. Quotes are immutable once issued; a new price means a
// new quote with a new ID.
type Quote struct {
	// ID identifies the quote, assigned by the issuing catalog
	ID string `json:"id"`

	// AnchorID is the anchor that issued the quote
	AnchorID string `json:"anchor_id"`

	// BaseAsset and QuoteAsset are asset codes for the traded pair
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`

	// Rate is the conversion rate in RateScale fixed point (10000 = 1.0)
	Rate int64 `json:"rate"`

	// FeeBps is the anchor fee in basis points (0-10000)
	FeeBps int64 `json:"fee_bps"`

	// MinAmount and MaxAmount bound the transactable amount, inclusive
	MinAmount int64 `json:"min_amount"`
	MaxAmount int64 `json:"max_amount"`

	// ExpiresAt is the instant after which the quote is no longer valid
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the quote is no longer valid at the given instant.
// A quote is eligible only while now < ExpiresAt.
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// MatchesPair reports whether the quote covers the requested asset pair.
func (q *Quote) MatchesPair(base, quote string) bool {
	return q.BaseAsset == base && q.QuoteAsset == quote
}

// InBounds reports whether amount satisfies MinAmount <= amount <= MaxAmount.
func (q *Quote) InBounds(amount int64) bool {
	return amount >= q.MinAmount && amount <= q.MaxAmount
}

// EffectiveRate returns the fee-adjusted rate for the given amount:
// rate * (amount + amount*fee/10000) / amount, in RateScale fixed point.
// The fee component is truncated to whole minor units before the ratio is
// taken, matching how anchors charge fees on the gross amount. The fee is
// computed in two parts so amount*FeeBps never leaves int64, whatever the
// amount.
func (q *Quote) EffectiveRate(amount int64) float64 {
	if amount <= 0 {
		return float64(q.Rate)
	}
	fee := amount/BasisPointScale*q.FeeBps + amount%BasisPointScale*q.FeeBps/BasisPointScale
	gross := amount + fee
	return float64(q.Rate) * float64(gross) / float64(amount)
}
