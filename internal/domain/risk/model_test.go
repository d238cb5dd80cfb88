package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

func testModel() *Model {
	return NewModel(config.Default().Risk)
}

func TestScoreProtocol_LargeAuditedLendingWithOutflow(t *testing.T) {
	m := testModel()
	got := m.ScoreProtocol(yield.Protocol{
		Name:     "Aave V3",
		TVL:      2e10,
		Category: "Lending",
		Chains:   []string{"Ethereum", "Arbitrum"},
		Audited:  true,
		Change7d: -25,
	})

	assert.Equal(t, 2.0, got.ProtocolRisk)
	assert.Equal(t, 3.0, got.SmartContractRisk)
	assert.Equal(t, 5.0, got.LiquidityRisk)
	assert.Equal(t, 4.0, got.MarketRisk)
	assert.Equal(t, 5.0, got.ComposabilityRisk)

	want := math.Round((0.25*2+0.25*3+0.20*5+0.20*4+0.10*5)*10) / 10
	assert.Equal(t, want, got.OverallRisk)
	assert.Len(t, got.RiskFactors, 1)
	assert.False(t, got.Fallback)
}

func TestScoreProtocol_SmallUnauditedDerivatives(t *testing.T) {
	m := testModel()
	got := m.ScoreProtocol(yield.Protocol{
		Name:     "Perp Farm",
		TVL:      5e6,
		Category: "Derivatives",
		Chains:   []string{"a", "b", "c", "d"},
		Change7d: -12,
	})

	assert.Equal(t, 8.0, got.ProtocolRisk)
	assert.Equal(t, 6.0, got.SmartContractRisk)
	assert.Equal(t, 8.0, got.LiquidityRisk)
	assert.Equal(t, 7.0, got.MarketRisk)
	assert.Equal(t, 6.0, got.ComposabilityRisk)
	assert.Contains(t, got.RiskFactors, "Low TVL")
	assert.Contains(t, got.RiskFactors, "No audits found")
	assert.Contains(t, got.RiskFactors, "Multi-chain complexity")
	assert.Contains(t, got.RiskFactors, "High-risk category: Derivatives")
}

func TestScoreProtocol_BoundsAndFormula(t *testing.T) {
	m := testModel()
	categories := []string{"Lending", "Derivatives", "Dexes", "Liquid Staking", ""}
	tvls := []float64{0, 5e7, 5e8, 5e9, 5e10}
	changes := []float64{-50, -15, 0, 30}

	for _, c := range categories {
		for _, tvl := range tvls {
			for _, ch := range changes {
				for _, audited := range []bool{true, false} {
					r := m.ScoreProtocol(yield.Protocol{TVL: tvl, Category: c, Change7d: ch, Audited: audited, Chains: make([]string, int(tvl)%7)})
					for _, v := range []float64{r.ProtocolRisk, r.SmartContractRisk, r.LiquidityRisk, r.MarketRisk, r.ComposabilityRisk, r.OverallRisk} {
						assert.GreaterOrEqual(t, v, 1.0)
						assert.LessOrEqual(t, v, 10.0)
					}
					want := math.Round((0.25*r.ProtocolRisk+0.25*r.SmartContractRisk+0.20*r.LiquidityRisk+0.20*r.MarketRisk+0.10*r.ComposabilityRisk)*10) / 10
					assert.InDelta(t, want, r.OverallRisk, 1e-9)
				}
			}
		}
	}
}

func TestLookupFallsBackToNeutral(t *testing.T) {
	m := testModel()
	protocols := []yield.Protocol{{Name: "Aave V3", Slug: "aave-v3", TVL: 2e10, Category: "Lending", Audited: true}}

	found := m.Lookup(protocols, "AAVE-V3")
	assert.False(t, found.Fallback)

	missing := m.Lookup(protocols, "unknown")
	assert.True(t, missing.Fallback)
	assert.Equal(t, 6.0, missing.OverallRisk)
	assert.Equal(t, []string{FactorUnavailable}, missing.RiskFactors)
}
