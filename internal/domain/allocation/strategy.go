// Package allocation splits capital across ranked pools according to a risk tier.
package allocation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/normalize"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// RiskLookup returns a protocol's overall risk and whether it was known.
type RiskLookup func(project string) (float64, bool)

// Request is one allocation to build.
type Request struct {
	Tier   yield.RiskTier
	Symbol string  // optional; pools holding it are preferred within each category
	Amount float64 // optional; fills each leg's Amount when positive
}

// Strategy builds allocation plans.
type Strategy struct {
	policy   config.AllocationPolicy
	filter   *normalize.Filter
	blueChip map[string]struct{}
}

// NewStrategy creates a strategy. filter classifies stablecoin symbols.
func NewStrategy(policy config.AllocationPolicy, filter *normalize.Filter) *Strategy {
	return &Strategy{
		policy:   policy,
		filter:   filter,
		blueChip: config.Upper(policy.BlueChipTokens),
	}
}

var categoryOrder = []yield.AssetCategory{yield.CategoryStable, yield.CategoryBlueChip, yield.CategoryRiskAsset}

// Categorize places a pool in exactly one asset category.
func (s *Strategy) Categorize(p yield.Pool) yield.AssetCategory {
	if s.filter.IsStable(p) {
		return yield.CategoryStable
	}
	for _, t := range normalize.Tokens(p.Symbol) {
		if _, ok := s.blueChip[t]; ok {
			return yield.CategoryBlueChip
		}
	}
	return yield.CategoryRiskAsset
}

// BuildAllocation splits the tier's category weights over the best ranked
// pools of each category. ranked must already be ordered best first. When a
// weighted category has no candidates the static table is used instead.
func (s *Strategy) BuildAllocation(req Request, ranked []yield.Pool, risk RiskLookup) yield.AllocationPlan {
	tier := req.Tier
	if tier == "" {
		tier = yield.TierModerate
	}
	weights := s.policy.Tiers.For(tier)

	candidates, missing := s.candidates(ranked, req.Symbol, weights)
	fallback := len(missing) > 0
	if fallback {
		candidates, _ = s.candidates(StaticCandidates(), "", weights)
	}

	plan := yield.AllocationPlan{
		Tier:        tier,
		Symbol:      strings.ToUpper(req.Symbol),
		TotalAmount: req.Amount,
		Fallback:    fallback,
		Allocations: []yield.ProtocolAllocation{},
		Rationale: []string{
			fmt.Sprintf("%s tier: %.0f%% stable, %.0f%% blue-chip, %.0f%% risk-asset",
				tier, weights.Stable, weights.BlueChip, weights.RiskAsset),
		},
	}
	if fallback {
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("No live candidates for %s; using the default allocation table", strings.Join(missing, ", ")))
	} else {
		plan.Rationale = append(plan.Rationale, "Pools ranked by apy x sqrt(tvl / 1M) within each category")
	}

	for _, category := range categoryOrder {
		weight := weightFor(weights, category)
		if weight <= 0 {
			continue
		}
		legs := s.split(category, weight, candidates[category], risk)
		plan.Allocations = append(plan.Allocations, legs...)
	}

	expected := 0.0
	for i := range plan.Allocations {
		leg := &plan.Allocations[i]
		expected += leg.Percentage / 100 * leg.ExpectedAPY
		if req.Amount > 0 {
			leg.Amount = round2(req.Amount * leg.Percentage / 100)
		}
	}
	plan.ExpectedAPY = round2(expected)
	plan.Confidence = s.confidence(tier, len(plan.Allocations), fallback)
	if req.Symbol != "" {
		plan.Rationale = append(plan.Rationale, fmt.Sprintf("Pools holding %s preferred within each category", plan.Symbol))
	}
	return plan
}

// candidates picks the top-N pools per category, N being the split length.
// It also reports weighted categories left without candidates.
func (s *Strategy) candidates(ranked []yield.Pool, symbol string, weights config.TierWeights) (map[yield.AssetCategory][]yield.Pool, []string) {
	ordered := ranked
	if symbol != "" {
		ordered = append([]yield.Pool(nil), ranked...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return normalize.HasToken(ordered[i].Symbol, symbol) && !normalize.HasToken(ordered[j].Symbol, symbol)
		})
	}

	out := make(map[yield.AssetCategory][]yield.Pool, len(categoryOrder))
	for _, p := range ordered {
		c := s.Categorize(p)
		if len(out[c]) < len(s.policy.Splits.For(c)) {
			out[c] = append(out[c], p)
		}
	}

	var missing []string
	for _, c := range categoryOrder {
		if weightFor(weights, c) > 0 && len(out[c]) == 0 {
			missing = append(missing, string(c))
		}
	}
	return out, missing
}

// split distributes weight over pools by the category's pattern. With fewer
// pools than legs the used prefix of the pattern is renormalized. The last
// leg absorbs rounding so the category never exceeds its weight.
func (s *Strategy) split(category yield.AssetCategory, weight float64, pools []yield.Pool, risk RiskLookup) []yield.ProtocolAllocation {
	if len(pools) == 0 {
		return nil
	}
	pattern := s.policy.Splits.For(category)
	if len(pattern) < len(pools) {
		pools = pools[:len(pattern)]
	}
	shares := pattern[:len(pools)]
	total := 0.0
	for _, v := range shares {
		total += v
	}

	legs := make([]yield.ProtocolAllocation, 0, len(pools))
	assigned := 0.0
	for i, p := range pools {
		pct := round2(weight * shares[i] / total)
		if i == len(pools)-1 {
			pct = round2(weight - assigned)
		}
		assigned += pct
		legs = append(legs, yield.ProtocolAllocation{
			Protocol:    p.Project,
			PoolID:      p.PoolID,
			Category:    category,
			Percentage:  pct,
			ExpectedAPY: round2(p.APY),
			RiskScore:   s.legRisk(p.Project, risk),
			TVL:         p.TVLUsd,
			Chain:       p.Chain,
			Token:       p.Symbol,
		})
	}
	return legs
}

func (s *Strategy) legRisk(project string, risk RiskLookup) float64 {
	score := s.policy.DefaultRisk
	if risk != nil {
		if v, ok := risk(project); ok {
			score = v
		}
	}
	return math.Max(1, math.Min(10, score))
}

func (s *Strategy) confidence(tier yield.RiskTier, legs int, fallback bool) float64 {
	c := s.policy.Confidence
	v := c.Base(tier)
	switch {
	case legs >= c.ManyLegs:
		v += c.ManyLegsBonus
	case legs <= c.FewLegs:
		v -= c.FewLegsPenalty
	}
	if fallback {
		v -= c.FallbackPenalty
	}
	return math.Max(0, math.Min(c.Max, v))
}

func weightFor(w config.TierWeights, c yield.AssetCategory) float64 {
	switch c {
	case yield.CategoryStable:
		return w.Stable
	case yield.CategoryBlueChip:
		return w.BlueChip
	default:
		return w.RiskAsset
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
