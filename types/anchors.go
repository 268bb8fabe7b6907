package types

// OperationKind identifies the financial operation a caller wants an anchor
// to perform.
type OperationKind string

const (
	OperationDeposit    OperationKind = "deposit"
	OperationWithdrawal OperationKind = "withdrawal"
	OperationQuote      OperationKind = "quote"
)

// BasisPointScale is the fixed-point scale shared by reputation, liquidity,
// uptime and fee fields: 10000 represents 100.00%.
const BasisPointScale = 10000

// AnchorMetadata describes a provider as published by the external catalog.
// The engine treats it as read-only.
type AnchorMetadata struct {
	// ID is the catalog identifier for the anchor
	ID string `json:"id"`

	// Name is a human-readable label used in logs and reasoning strings
	Name string `json:"name,omitempty"`

	// ReputationScore is a two-decimal percentage (0-10000)
	ReputationScore int64 `json:"reputation_score"`

	// AvgSettlementTime is the historical average settlement time in seconds
	AvgSettlementTime int64 `json:"avg_settlement_time"`

	// LiquidityScore is a two-decimal percentage (0-10000)
	LiquidityScore int64 `json:"liquidity_score"`

	// UptimePct is a two-decimal percentage (0-10000)
	UptimePct int64 `json:"uptime_pct"`

	// HistoricalVolume is the total volume settled through this anchor
	HistoricalVolume int64 `json:"historical_volume"`

	// Active reports whether the catalog currently lists the anchor
	Active bool `json:"active"`

	// SupportedOperations lists the operations the anchor can execute
	SupportedOperations []OperationKind `json:"supported_operations,omitempty"`

	// KYCSupported reports whether the anchor offers a KYC service
	KYCSupported bool `json:"kyc_supported"`
}

// SupportsOperation reports whether the anchor advertises the given
// operation. An anchor with no advertised operations supports none.
func (m *AnchorMetadata) SupportsOperation(op OperationKind) bool {
	for _, supported := range m.SupportedOperations {
		if supported == op {
			return true
		}
	}
	return false
}
