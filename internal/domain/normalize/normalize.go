// Package normalize converts raw adapter payloads into canonical records,
// discards records failing sanity checks, and ranks pools.
package normalize

import (
	"math"
	"sort"
	"strings"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/provider"
)

// Filter applies the acceptance rules of a FilterPolicy.
type Filter struct {
	policy   config.FilterPolicy
	excluded map[string]struct{}
	allowed  map[string]struct{}
	stable   map[string]struct{}
}

// NewFilter builds a filter from policy.
func NewFilter(policy config.FilterPolicy) *Filter {
	return &Filter{
		policy:   policy,
		excluded: config.Upper(policy.ExcludedCategories),
		allowed:  config.Upper(policy.AllowedCategories),
		stable:   config.Upper(policy.StableTokens),
	}
}

// Policy returns the filter's policy.
func (f *Filter) Policy() config.FilterPolicy {
	return f.policy
}

// AcceptProtocol keeps protocols with positive TVL in an allowed, non-excluded category.
func (f *Filter) AcceptProtocol(p yield.Protocol) bool {
	if !(p.TVL > 0) {
		return false
	}
	category := strings.ToUpper(strings.TrimSpace(p.Category))
	if _, excluded := f.excluded[category]; excluded {
		return false
	}
	if _, ok := f.allowed[category]; ok {
		return true
	}
	for _, kw := range f.policy.CategoryKeywords {
		if kw != "" && strings.Contains(category, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}

// AcceptPool keeps pools above minTVL with 0 < apy < maxAPY and sane identity fields.
func (f *Filter) AcceptPool(p yield.Pool, minTVL, maxAPY float64) bool {
	if !(p.TVLUsd > minTVL) {
		return false
	}
	if !(p.APY > 0 && p.APY < maxAPY) {
		return false
	}
	if strings.TrimSpace(p.PoolID) == "" || strings.TrimSpace(p.Project) == "" || strings.TrimSpace(p.Symbol) == "" {
		return false
	}
	project := strings.ToLower(p.Project)
	symbol := strings.ToLower(p.Symbol)
	for _, kw := range f.policy.RejectKeywords {
		kw = strings.ToLower(kw)
		if kw != "" && (strings.Contains(project, kw) || strings.Contains(symbol, kw)) {
			return false
		}
	}
	return true
}

// Protocols converts and filters the protocol directory.
func (f *Filter) Protocols(raw []provider.LlamaProtocol) []yield.Protocol {
	out := make([]yield.Protocol, 0, len(raw))
	for _, r := range raw {
		p := ToProtocol(r)
		if f.AcceptProtocol(p) {
			out = append(out, p)
		}
	}
	return out
}

// Pools filters already-converted pools. Applying it twice yields the same set.
func (f *Filter) Pools(pools []yield.Pool, minTVL, maxAPY float64) []yield.Pool {
	out := make([]yield.Pool, 0, len(pools))
	for _, p := range pools {
		if f.AcceptPool(p, minTVL, maxAPY) {
			out = append(out, p)
		}
	}
	return out
}

// ToProtocol converts one protocol directory entry.
func ToProtocol(r provider.LlamaProtocol) yield.Protocol {
	p := yield.Protocol{
		Name:     strings.TrimSpace(r.Name),
		Slug:     r.Slug,
		Category: r.Category,
		Chains:   r.Chains,
		Audits:   string(r.Audits),
		Audited:  r.AuditCount() > 0,
		URL:      r.URL,
	}
	if r.TVL != nil && !math.IsNaN(*r.TVL) {
		p.TVL = *r.TVL
	}
	if r.Change1d != nil {
		p.Change1d = *r.Change1d
	}
	if r.Change7d != nil {
		p.Change7d = *r.Change7d
	}
	return p
}

// ToPools converts pool directory entries; entries without an APY are dropped.
func ToPools(raw []provider.LlamaPool) []yield.Pool {
	out := make([]yield.Pool, 0, len(raw))
	for _, r := range raw {
		if r.APY == nil {
			continue
		}
		out = append(out, yield.Pool{
			PoolID:       r.Pool,
			Chain:        r.Chain,
			Project:      r.Project,
			Symbol:       r.Symbol,
			TVLUsd:       r.TVLUsd,
			APY:          *r.APY,
			APYBase:      deref(r.APYBase),
			APYReward:    deref(r.APYReward),
			RewardTokens: r.RewardTokens,
			Stablecoin:   r.Stablecoin,
			Source:       provider.SourceDefiLlama,
		})
	}
	return out
}

// ToHistory converts chart samples, dropping those without an APY, and
// orders them by time.
func ToHistory(raw []provider.ChartPoint) []yield.HistoricalDataPoint {
	out := make([]yield.HistoricalDataPoint, 0, len(raw))
	for _, r := range raw {
		if r.APY == nil || r.Timestamp.IsZero() {
			continue
		}
		out = append(out, yield.HistoricalDataPoint{
			Timestamp: r.Timestamp,
			TVLUsd:    r.TVLUsd,
			APY:       *r.APY,
			APYBase:   deref(r.APYBase),
			APYReward: r.APYReward,
			IL7d:      r.IL7d,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ReservesToPools turns on-chain reserves into pools priced in USD.
func ReservesToPools(reserves []yield.Reserve) []yield.Pool {
	out := make([]yield.Pool, 0, len(reserves))
	for _, r := range reserves {
		out = append(out, yield.Pool{
			PoolID:     strings.ToLower(r.Protocol + "-" + r.Network + "-" + r.Symbol),
			Chain:      chainName(r.Network),
			Project:    r.Protocol,
			Symbol:     r.Symbol,
			TVLUsd:     r.TotalSupply * r.PriceUSD,
			APY:        r.SupplyAPY,
			APYBase:    r.SupplyAPY,
			Stablecoin: r.Stablecoin,
			Source:     provider.SourceOnChain,
		})
	}
	return out
}

// Score is the risk-adjusted ranking key apy * sqrt(tvl / 1e6).
func Score(p yield.Pool) float64 {
	if p.TVLUsd <= 0 {
		return 0
	}
	return p.APY * math.Sqrt(p.TVLUsd/1_000_000)
}

// Rank returns a copy of pools ordered by Score descending, ties by PoolID.
func Rank(pools []yield.Pool) []yield.Pool {
	out := append([]yield.Pool(nil), pools...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := Score(out[i]), Score(out[j])
		if si != sj {
			return si > sj
		}
		return out[i].PoolID < out[j].PoolID
	})
	return out
}

// IsStableSymbol reports whether every token in symbol is a stablecoin.
func (f *Filter) IsStableSymbol(symbol string) bool {
	tokens := Tokens(symbol)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if _, ok := f.stable[t]; !ok {
			return false
		}
	}
	return true
}

// IsStable reports whether a pool is a stablecoin pool by flag or symbol.
func (f *Filter) IsStable(p yield.Pool) bool {
	return p.Stablecoin || f.IsStableSymbol(p.Symbol)
}

// Tokens splits a pool symbol such as "WETH-USDC" into upper-case tickers.
func Tokens(symbol string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(symbol), func(r rune) bool {
		switch r {
		case '-', '/', '_', '+', ' ', ',':
			return true
		}
		return false
	})
	return fields
}

// HasToken reports whether symbol contains token as one of its tickers.
func HasToken(symbol, token string) bool {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return false
	}
	for _, t := range Tokens(symbol) {
		if t == token {
			return true
		}
	}
	return false
}

// chainName turns a network key like "ethereum" into the directory's "Ethereum".
func chainName(network string) string {
	if network == "" {
		return ""
	}
	return strings.ToUpper(network[:1]) + network[1:]
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
