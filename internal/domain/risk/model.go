// Package risk scores DeFi protocols on five risk dimensions.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// FactorUnavailable is the only factor on a neutral fallback score.
const FactorUnavailable = "Risk calculation unavailable"

// Model scores protocols from a directory snapshot.
type Model struct {
	policy config.RiskPolicy
	high   map[string]struct{}
	low    map[string]struct{}
}

// NewModel creates a model from policy.
func NewModel(policy config.RiskPolicy) *Model {
	return &Model{
		policy: policy,
		high:   config.Upper(policy.HighRiskCategories),
		low:    config.Upper(policy.LowRiskCategories),
	}
}

// ScoreProtocol computes the risk metrics of p. It is deterministic for a
// given snapshot.
func (m *Model) ScoreProtocol(p yield.Protocol) yield.RiskMetrics {
	pol := m.policy
	var (
		protocol      = pol.BaseScore
		smartContract = pol.BaseScore
		liquidity     = pol.BaseScore
		market        = pol.BaseScore
		composability = pol.BaseScore
		factors       = []string{}
	)

	switch {
	case p.TVL > pol.TVLVeryHigh:
		protocol -= 2
		liquidity -= 2
	case p.TVL > pol.TVLHigh:
		protocol--
		liquidity--
	case p.TVL < pol.TVLLow:
		protocol += 2
		liquidity += 2
		factors = append(factors, "Low TVL")
	}

	if p.Audited {
		smartContract -= 2
	} else {
		smartContract++
		factors = append(factors, "No audits found")
	}

	if len(p.Chains) > pol.MultiChainThreshold {
		composability++
		factors = append(factors, "Multi-chain complexity")
	}

	category := strings.ToUpper(strings.TrimSpace(p.Category))
	if _, ok := m.high[category]; ok {
		market += 2
		protocol++
		factors = append(factors, fmt.Sprintf("High-risk category: %s", p.Category))
	} else if _, ok := m.low[category]; ok {
		market--
		protocol--
	}

	switch {
	case p.Change7d < pol.SevereOutflowPct:
		liquidity += 2
		factors = append(factors, fmt.Sprintf("Significant TVL decline: %.1f%% over 7d", p.Change7d))
	case p.Change7d < pol.OutflowPct:
		liquidity++
		factors = append(factors, fmt.Sprintf("TVL decline: %.1f%% over 7d", p.Change7d))
	}

	metrics := yield.RiskMetrics{
		ProtocolRisk:      m.clamp(protocol),
		SmartContractRisk: m.clamp(smartContract),
		LiquidityRisk:     m.clamp(liquidity),
		MarketRisk:        m.clamp(market),
		ComposabilityRisk: m.clamp(composability),
		RiskFactors:       factors,
	}
	metrics.OverallRisk = m.Overall(metrics)
	return metrics
}

// Overall blends the five sub-scores with the configured weights, rounded to
// one decimal.
func (m *Model) Overall(r yield.RiskMetrics) float64 {
	w := m.policy.Weights
	v := w.Protocol*r.ProtocolRisk +
		w.SmartContract*r.SmartContractRisk +
		w.Liquidity*r.LiquidityRisk +
		w.Market*r.MarketRisk +
		w.Composability*r.ComposabilityRisk
	return math.Round(v*10) / 10
}

// Neutral is returned when a protocol cannot be scored.
func (m *Model) Neutral() yield.RiskMetrics {
	s := m.policy.FallbackScore
	return yield.RiskMetrics{
		ProtocolRisk:      s,
		SmartContractRisk: s,
		LiquidityRisk:     s,
		MarketRisk:        s,
		ComposabilityRisk: s,
		OverallRisk:       s,
		RiskFactors:       []string{FactorUnavailable},
		Fallback:          true,
	}
}

// Lookup finds name in protocols and scores it, or returns the neutral score.
func (m *Model) Lookup(protocols []yield.Protocol, name string) yield.RiskMetrics {
	for _, p := range protocols {
		if p.Matches(name) {
			return m.ScoreProtocol(p)
		}
	}
	return m.Neutral()
}

func (m *Model) clamp(v float64) float64 {
	return math.Max(m.policy.MinScore, math.Min(m.policy.MaxScore, v))
}
