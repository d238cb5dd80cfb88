// Package portfolio analyzes user positions and computes impermanent loss.
package portfolio

import (
	"fmt"
	"math"
	"strings"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// NoPositions is the sole recommendation for an empty portfolio.
const NoPositions = "No positions to analyze"

// RiskLookup returns a protocol's overall risk, neutral when unknown.
type RiskLookup func(protocol string) float64

// Analyzer aggregates positions into a PortfolioAnalysis.
type Analyzer struct {
	policy config.PortfolioPolicy
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(policy config.PortfolioPolicy) *Analyzer {
	return &Analyzer{policy: policy}
}

// AnalyzePortfolio computes value-weighted yield and risk and derives
// recommendations. Positions with a non-positive amount are ignored.
// topMarketAPY is the best currently available yield, 0 if unknown.
func (a *Analyzer) AnalyzePortfolio(positions []yield.Position, risk RiskLookup, topMarketAPY float64) yield.PortfolioAnalysis {
	held := make([]yield.Position, 0, len(positions))
	total := 0.0
	for _, p := range positions {
		if p.Amount > 0 {
			held = append(held, p)
			total += p.Amount
		}
	}
	if len(held) == 0 {
		return yield.PortfolioAnalysis{
			Analysis:        "Empty portfolio",
			Recommendations: []string{NoPositions},
		}
	}

	out := yield.PortfolioAnalysis{
		TotalValue: round2(total),
		Positions:  make([]yield.PositionAnalysis, 0, len(held)),
	}
	weightedAPY, weightedRisk := 0.0, 0.0
	for _, p := range held {
		score := 6.0
		if risk != nil {
			score = risk(p.Protocol)
		}
		w := p.Amount / total
		weightedAPY += w * p.APY
		weightedRisk += w * score
		out.Positions = append(out.Positions, yield.PositionAnalysis{
			Position:  p,
			Weight:    round2(w * 100),
			RiskScore: score,
		})
	}
	out.ExpectedYield = round2(weightedAPY)
	out.RiskScore = math.Round(weightedRisk*10) / 10
	out.Recommendations = a.recommend(out, topMarketAPY)
	out.Analysis = fmt.Sprintf("%d positions worth $%.2f with weighted APY %.2f%% and risk %.1f/10",
		len(held), out.TotalValue, out.ExpectedYield, out.RiskScore)
	return out
}

func (a *Analyzer) recommend(pa yield.PortfolioAnalysis, topMarketAPY float64) []string {
	p := a.policy
	var recs []string

	switch {
	case pa.RiskScore > p.HighRisk:
		recs = append(recs, fmt.Sprintf("High portfolio risk (%.1f/10): consider shifting toward audited, high-TVL protocols", pa.RiskScore))
	case pa.RiskScore < p.LowRisk:
		recs = append(recs, fmt.Sprintf("Low portfolio risk (%.1f/10): there is room to diversify into higher-yield strategies", pa.RiskScore))
	}

	for _, pos := range pa.Positions {
		if pos.Weight > p.ConcentrationPct {
			recs = append(recs, fmt.Sprintf("Concentration risk: %s %s is %.1f%% of the portfolio", pos.Protocol, strings.ToUpper(pos.Asset), pos.Weight))
		}
	}

	if topMarketAPY > 0 && pa.ExpectedYield < p.YieldGapRatio*topMarketAPY {
		recs = append(recs, fmt.Sprintf("Portfolio yield %.2f%% trails the market; top opportunities offer %.2f%%", pa.ExpectedYield, topMarketAPY))
	}

	for _, pos := range pa.Positions {
		if pos.RiskScore >= p.PositionHighRisk {
			recs = append(recs, fmt.Sprintf("Consider reducing exposure to %s (risk %.1f/10)", pos.Protocol, pos.RiskScore))
		}
	}

	if p.MaxRecommendations > 0 && len(recs) > p.MaxRecommendations {
		recs = recs[:p.MaxRecommendations]
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
