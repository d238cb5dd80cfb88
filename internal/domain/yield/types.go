// Package yield holds the canonical records shared by the adapters, the
// normalizer and the analytics packages.
package yield

import (
	"strings"
	"time"
)

// Protocol is a normalized snapshot of a DeFi protocol from the protocol directory.
type Protocol struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	TVL      float64  `json:"tvl"`
	Category string   `json:"category"`
	Chains   []string `json:"chains"`
	Change1d float64  `json:"change_1d"`
	Change7d float64  `json:"change_7d"`
	Audits   string   `json:"audits,omitempty"`
	Audited  bool     `json:"audited"`
	URL      string   `json:"url,omitempty"`
}

// Matches reports whether name identifies this protocol by name or slug.
func (p Protocol) Matches(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.EqualFold(p.Name, name) || strings.EqualFold(p.Slug, name)
}

// Pool is a single yield venue.
type Pool struct {
	PoolID       string   `json:"pool_id"`
	Chain        string   `json:"chain"`
	Project      string   `json:"project"`
	Symbol       string   `json:"symbol"`
	TVLUsd       float64  `json:"tvl_usd"`
	APY          float64  `json:"apy"`
	APYBase      float64  `json:"apy_base"`
	APYReward    float64  `json:"apy_reward"`
	RewardTokens []string `json:"reward_tokens,omitempty"`
	Stablecoin   bool     `json:"stablecoin"`
	Source       string   `json:"source,omitempty"`
}

// HistoricalDataPoint is one sample of a pool's chart.
type HistoricalDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	TVLUsd    float64   `json:"tvl_usd"`
	APY       float64   `json:"apy"`
	APYBase   float64   `json:"apy_base"`
	APYReward *float64  `json:"apy_reward,omitempty"`
	IL7d      *float64  `json:"il_7d,omitempty"`
}

// RiskMetrics scores a protocol on five dimensions, each in [1,10].
type RiskMetrics struct {
	ProtocolRisk      float64  `json:"protocol_risk"`
	SmartContractRisk float64  `json:"smart_contract_risk"`
	LiquidityRisk     float64  `json:"liquidity_risk"`
	MarketRisk        float64  `json:"market_risk"`
	ComposabilityRisk float64  `json:"composability_risk"`
	OverallRisk       float64  `json:"overall_risk"`
	RiskFactors       []string `json:"risk_factors"`
	Fallback          bool     `json:"fallback,omitempty"`
}

// Trend is the direction of a series over the comparison window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// TrendAnalysis summarizes a pool's historical series.
type TrendAnalysis struct {
	PoolID         string  `json:"pool_id,omitempty"`
	AverageAPY     float64 `json:"average_apy"`
	CurrentAPY     float64 `json:"current_apy"`
	APYTrend       Trend   `json:"apy_trend"`
	TVLTrend       Trend   `json:"tvl_trend"`
	Volatility     float64 `json:"volatility"`
	RiskScore      float64 `json:"risk_score"`
	Recommendation string  `json:"recommendation"`
	Samples        int     `json:"samples"`
}

// RiskTier is the caller's risk tolerance.
type RiskTier string

const (
	TierConservative RiskTier = "conservative"
	TierModerate     RiskTier = "moderate"
	TierAggressive   RiskTier = "aggressive"
)

// ParseRiskTier accepts the tier names case-insensitively plus a few aliases.
func ParseRiskTier(s string) (RiskTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative", "low", "safe":
		return TierConservative, true
	case "moderate", "medium", "balanced", "":
		return TierModerate, true
	case "aggressive", "high":
		return TierAggressive, true
	}
	return "", false
}

// AssetCategory buckets pools for allocation.
type AssetCategory string

const (
	CategoryStable    AssetCategory = "stable"
	CategoryBlueChip  AssetCategory = "blue-chip"
	CategoryRiskAsset AssetCategory = "risk-asset"
)

// ProtocolAllocation is one leg of an allocation plan.
type ProtocolAllocation struct {
	Protocol    string        `json:"protocol"`
	PoolID      string        `json:"pool_id,omitempty"`
	Category    AssetCategory `json:"category"`
	Percentage  float64       `json:"percentage"`
	ExpectedAPY float64       `json:"expected_apy"`
	RiskScore   float64       `json:"risk_score"`
	TVL         float64       `json:"tvl"`
	Chain       string        `json:"chain"`
	Token       string        `json:"token"`
	Amount      float64       `json:"amount,omitempty"`
}

// AllocationPlan is a weighted set of legs for one request. Confidence is an
// advisory heuristic in [0,95], not a calibrated probability.
type AllocationPlan struct {
	Tier        RiskTier             `json:"tier"`
	Symbol      string               `json:"symbol,omitempty"`
	TotalAmount float64              `json:"total_amount,omitempty"`
	Allocations []ProtocolAllocation `json:"allocations"`
	ExpectedAPY float64              `json:"expected_apy"`
	Confidence  float64              `json:"confidence"`
	Rationale   []string             `json:"rationale"`
	Fallback    bool                 `json:"fallback,omitempty"`
}

// TotalPercentage sums the leg percentages.
func (p AllocationPlan) TotalPercentage() float64 {
	total := 0.0
	for _, a := range p.Allocations {
		total += a.Percentage
	}
	return total
}

// Position is a user holding submitted for analysis.
type Position struct {
	Protocol string  `json:"protocol" yaml:"protocol"`
	Asset    string  `json:"asset" yaml:"asset"`
	Amount   float64 `json:"amount" yaml:"amount"`
	APY      float64 `json:"apy" yaml:"apy"`
}

// PositionAnalysis is the per-position view inside a portfolio analysis.
type PositionAnalysis struct {
	Position
	Weight    float64 `json:"weight"`
	RiskScore float64 `json:"risk_score"`
}

// PortfolioAnalysis is the aggregate view of a set of positions.
type PortfolioAnalysis struct {
	Analysis        string             `json:"analysis"`
	Recommendations []string           `json:"recommendations"`
	RiskScore       float64            `json:"risk_score"`
	TotalValue      float64            `json:"total_value"`
	ExpectedYield   float64            `json:"expected_yield"`
	Positions       []PositionAnalysis `json:"positions,omitempty"`
}

// TokenPrice is a spot quote from the price feed.
type TokenPrice struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	PriceUSD     float64 `json:"price_usd"`
	MarketCap    float64 `json:"market_cap"`
	Change24hPct float64 `json:"change_24h_pct"`
}

// Reserve is an on-chain lending reserve read from a network.
type Reserve struct {
	Network       string  `json:"network"`
	Protocol      string  `json:"protocol"`
	Symbol        string  `json:"symbol"`
	Asset         string  `json:"asset"`
	SupplyAPY     float64 `json:"supply_apy"`
	BorrowAPY     float64 `json:"borrow_apy"`
	TotalSupply   float64 `json:"total_supply"`
	TotalBorrow   float64 `json:"total_borrow"`
	Utilization   float64 `json:"utilization"`
	ReserveFactor float64 `json:"reserve_factor"`
	PriceUSD      float64 `json:"price_usd"`
	Stablecoin    bool    `json:"stablecoin"`
}

// MarketOverview merges the independent upstream branches of one request.
type MarketOverview struct {
	GeneratedAt  time.Time             `json:"generated_at"`
	TotalTVL     float64               `json:"total_tvl"`
	Protocols    int                   `json:"protocols"`
	TopProtocols []Protocol            `json:"top_protocols"`
	TopPools     []Pool                `json:"top_pools"`
	AverageAPY   float64               `json:"average_apy"`
	Prices       map[string]TokenPrice `json:"prices,omitempty"`
	OnChain      []Reserve             `json:"on_chain,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
}
