// Package application wires adapters, cache and analytics into the
// operations exposed by the CLI and the HTTP API.
package application

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/domain/allocation"
	"github.com/sawpanic/yieldrun/internal/domain/normalize"
	"github.com/sawpanic/yieldrun/internal/domain/portfolio"
	"github.com/sawpanic/yieldrun/internal/domain/risk"
	"github.com/sawpanic/yieldrun/internal/domain/trend"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/persistence"
	"github.com/sawpanic/yieldrun/internal/provider"
)

// AllocationRecorder counts built allocation plans.
type AllocationRecorder interface {
	AllocationBuilt(tier string, fallback bool)
}

// Deps are the Engine's collaborators. History and Metrics may be nil.
type Deps struct {
	Directory provider.Directory
	Prices    provider.PriceFeed
	Reserves  provider.ReserveSource
	History   persistence.HistoryRepo
	Cache     *datasources.Cache
	Metrics   AllocationRecorder
	Clock     func() time.Time
}

const (
	defaultLimit    = 10
	overviewTop     = 10
	overviewWorkers = 4
)

// Engine answers every yield, risk and allocation query. It is safe for
// concurrent use; the cache is its only shared mutable state.
type Engine struct {
	cfg       *config.Config
	directory provider.Directory
	prices    provider.PriceFeed
	reserves  provider.ReserveSource
	history   persistence.HistoryRepo
	cache     *datasources.Cache
	metrics   AllocationRecorder
	now       func() time.Time

	filter    *normalize.Filter
	risk      *risk.Model
	trend     *trend.Analyzer
	alloc     *allocation.Strategy
	portfolio *portfolio.Analyzer

	logger zerolog.Logger
}

// NewEngine builds the engine from cfg and deps.
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	filter := normalize.NewFilter(cfg.Filters)
	e := &Engine{
		cfg:       cfg,
		directory: deps.Directory,
		prices:    deps.Prices,
		reserves:  deps.Reserves,
		history:   deps.History,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		now:       deps.Clock,
		filter:    filter,
		risk:      risk.NewModel(cfg.Risk),
		trend:     trend.NewAnalyzer(cfg.Trend),
		alloc:     allocation.NewStrategy(cfg.Allocation, filter),
		portfolio: portfolio.NewAnalyzer(cfg.Portfolio),
		logger:    log.With().Str("component", "engine").Logger(),
	}
	if e.cache == nil {
		e.cache = datasources.NewCache(datasources.NewMemoryStore(config.Seconds(cfg.Cache.RetentionSecs)))
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// GetTopYieldOpportunities returns the best ranked pools above minTVL.
// minTVL <= 0 uses the configured minimum; limit <= 0 returns 10.
func (e *Engine) GetTopYieldOpportunities(ctx context.Context, limit int, minTVL float64) ([]yield.Pool, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if minTVL <= 0 {
		minTVL = e.cfg.Filters.MinTVL
	}
	pools, err := e.allPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("top yield opportunities: %w", err)
	}
	ranked := normalize.Rank(e.filter.Pools(pools, minTVL, e.cfg.Filters.MaxAPY))
	return head(ranked, limit), nil
}

// GetStablecoinYields serves stablecoin pools from the first source that has
// any: the pool directory, then on-chain reserves, then the static table.
func (e *Engine) GetStablecoinYields(ctx context.Context) ([]yield.Pool, error) {
	chain := provider.NewChain("stablecoin-yields",
		provider.Strategy[yield.Pool]{
			Name: provider.SourceDefiLlama,
			Fetch: func(ctx context.Context) ([]yield.Pool, error) {
				pools, err := e.allPools(ctx)
				if err != nil {
					return nil, err
				}
				return e.stablecoins(e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPY)), nil
			},
		},
		provider.Strategy[yield.Pool]{
			Name: provider.SourceOnChain,
			Fetch: func(ctx context.Context) ([]yield.Pool, error) {
				reserves, errs := e.GetOnChainRates(ctx)
				if len(reserves) == 0 && len(errs) > 0 {
					return nil, errs[len(errs)-1]
				}
				pools := normalize.ReservesToPools(reserves)
				return e.stablecoins(e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPY)), nil
			},
		},
		provider.Strategy[yield.Pool]{
			Name: provider.SourceStatic,
			Fetch: func(context.Context) ([]yield.Pool, error) {
				return provider.StaticStablecoinPools(), nil
			},
		},
	)

	res, err := chain.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("stablecoin yields: %w", err)
	}
	return res.Items, nil
}

// GetTokenYieldOpportunities lists ranked pools holding symbol.
func (e *Engine) GetTokenYieldOpportunities(ctx context.Context, symbol string) ([]yield.Pool, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", yield.ErrInvalidArgument)
	}
	pools, err := e.allPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("token yields %s: %w", symbol, err)
	}
	var out []yield.Pool
	for _, p := range e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPYDirectory) {
		if normalize.HasToken(p.Symbol, symbol) {
			out = append(out, p)
		}
	}
	return normalize.Rank(out), nil
}

// GetPoolsByProtocol lists ranked pools of a protocol, matched by name or slug
// prefix ("aave" matches "aave-v2" and "aave-v3").
func (e *Engine) GetPoolsByProtocol(ctx context.Context, name string) ([]yield.Pool, error) {
	target := slugify(name)
	if target == "" {
		return nil, fmt.Errorf("%w: protocol name is required", yield.ErrInvalidArgument)
	}
	pools, err := e.allPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("pools for %s: %w", name, err)
	}
	var out []yield.Pool
	for _, p := range e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPYDirectory) {
		project := strings.ToLower(p.Project)
		if project == target || strings.HasPrefix(project, target+"-") {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, &yield.NotFoundError{Kind: "protocol", Name: name}
	}
	return normalize.Rank(out), nil
}

// CalculateProtocolRisk scores a protocol. Unknown protocols and directory
// failures yield the neutral fallback score.
func (e *Engine) CalculateProtocolRisk(ctx context.Context, name string) yield.RiskMetrics {
	protocols, err := e.allProtocols(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("protocol", name).Msg("protocol directory unavailable, neutral risk")
		return e.risk.Neutral()
	}
	m := e.risk.Lookup(protocols, name)
	if m.Fallback {
		e.logger.Debug().Str("protocol", name).Msg("protocol not in directory, neutral risk")
	}
	return m
}

// GetPoolHistoricalData returns up to days of samples for poolID, oldest
// first, from the chart endpoint or, failing that, the history archive.
func (e *Engine) GetPoolHistoricalData(ctx context.Context, poolID string, days int) ([]yield.HistoricalDataPoint, error) {
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return nil, fmt.Errorf("%w: pool id is required", yield.ErrInvalidArgument)
	}
	if days <= 0 {
		days = e.cfg.Trend.DefaultDays
	}
	cutoff := e.now().AddDate(0, 0, -days)

	strategies := []provider.Strategy[yield.HistoricalDataPoint]{{
		Name: provider.SourceDefiLlama,
		Fetch: func(ctx context.Context) ([]yield.HistoricalDataPoint, error) {
			points, err := e.chart(ctx, poolID)
			if err != nil {
				return nil, err
			}
			return since(points, cutoff), nil
		},
	}}
	if e.history != nil {
		strategies = append(strategies, provider.Strategy[yield.HistoricalDataPoint]{
			Name: provider.SourceArchive,
			Fetch: func(ctx context.Context) ([]yield.HistoricalDataPoint, error) {
				return e.history.ListRange(ctx, poolID, persistence.TimeRange{From: cutoff, To: e.now()})
			},
		})
	}

	res, err := provider.NewChain("pool-history", strategies...).Run(ctx)
	if err != nil {
		if res.AllEmpty() {
			return nil, &yield.NoDataError{What: fmt.Sprintf("pool %s has no history in the last %d days", poolID, days)}
		}
		return nil, fmt.Errorf("history for pool %s: %w", poolID, err)
	}
	return res.Items, nil
}

// AnalyzePoolTrends summarizes the pool's recent history.
func (e *Engine) AnalyzePoolTrends(ctx context.Context, poolID string, days int) (yield.TrendAnalysis, error) {
	points, err := e.GetPoolHistoricalData(ctx, poolID, days)
	if err != nil {
		return yield.TrendAnalysis{}, err
	}
	analysis, err := e.trend.AnalyzeTrend(points)
	if err != nil {
		return yield.TrendAnalysis{}, fmt.Errorf("trend for pool %s: %w", poolID, err)
	}
	analysis.PoolID = poolID
	return analysis, nil
}

// AnalyzePortfolio aggregates positions against current protocol risk and the
// best market yield. Upstream failures degrade to neutral risk and no yield
// comparison.
func (e *Engine) AnalyzePortfolio(ctx context.Context, positions []yield.Position) yield.PortfolioAnalysis {
	protocols, err := e.allProtocols(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("protocol directory unavailable, portfolio risk is neutral")
	}
	lookup := func(name string) float64 {
		return e.risk.Lookup(protocols, name).OverallRisk
	}

	top := 0.0
	if best, err := e.GetTopYieldOpportunities(ctx, 1, 0); err != nil {
		e.logger.Warn().Err(err).Msg("top yield unavailable for portfolio comparison")
	} else if len(best) > 0 {
		top = best[0].APY
	}

	return e.portfolio.AnalyzePortfolio(positions, lookup, top)
}

// CalculateImpermanentLoss returns the percent loss for a price change in percent.
func (e *Engine) CalculateImpermanentLoss(priceChangePct float64) float64 {
	return portfolio.ImpermanentLoss(priceChangePct)
}

// RecommendAllocation builds an allocation plan for amountUSD at tier. When
// the pool directory is unreachable the plan falls back to the static table.
func (e *Engine) RecommendAllocation(ctx context.Context, symbol string, amountUSD float64, tier yield.RiskTier) (yield.AllocationPlan, error) {
	if amountUSD < 0 {
		return yield.AllocationPlan{}, fmt.Errorf("%w: amount must not be negative", yield.ErrInvalidArgument)
	}

	var ranked []yield.Pool
	if pools, err := e.allPools(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("pool directory unavailable, allocation uses default table")
	} else {
		ranked = normalize.Rank(e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPY))
	}

	protocols, err := e.allProtocols(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("protocol directory unavailable, allocation legs use default risk")
	}
	lookup := func(project string) (float64, bool) {
		for _, p := range protocols {
			if p.Matches(project) {
				return e.risk.ScoreProtocol(p).OverallRisk, true
			}
		}
		return 0, false
	}

	plan := e.alloc.BuildAllocation(allocation.Request{Tier: tier, Symbol: symbol, Amount: amountUSD}, ranked, lookup)
	if e.metrics != nil {
		e.metrics.AllocationBuilt(string(plan.Tier), plan.Fallback)
	}
	e.logger.Info().
		Str("tier", string(plan.Tier)).
		Int("legs", len(plan.Allocations)).
		Bool("fallback", plan.Fallback).
		Float64("expected_apy", plan.ExpectedAPY).
		Msg("allocation built")
	return plan, nil
}

// GetTokenPrices returns spot prices keyed by price-feed id.
func (e *Engine) GetTokenPrices(ctx context.Context, ids []string) (map[string]yield.TokenPrice, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return map[string]yield.TokenPrice{}, nil
	}
	if e.prices == nil {
		return nil, &yield.ConfigurationError{Scope: "prices", Reason: "no price feed configured"}
	}

	key := datasources.BuildKey(provider.SourceCoinGecko, "markets", map[string]string{"ids": strings.Join(ids, ",")})
	markets, _, err := datasources.GetOrFetch(ctx, e.cache, key, config.Seconds(e.cfg.Cache.TTL.Prices),
		func(ctx context.Context) ([]provider.CoinMarket, error) {
			return e.prices.Markets(ctx, ids)
		})
	if err != nil {
		return nil, fmt.Errorf("token prices: %w", err)
	}

	out := make(map[string]yield.TokenPrice, len(markets))
	for _, m := range markets {
		p := yield.TokenPrice{
			ID:        m.ID,
			Symbol:    strings.ToUpper(m.Symbol),
			PriceUSD:  m.CurrentPrice,
			MarketCap: m.MarketCap,
		}
		if m.PriceChangePercentage24h != nil {
			p.Change24hPct = *m.PriceChangePercentage24h
		}
		out[m.ID] = p
	}
	return out, nil
}

// GetOnChainRates reads every configured network concurrently. Networks that
// fail, including misconfigured ones, are skipped and their errors returned
// alongside the reserves that were read.
func (e *Engine) GetOnChainRates(ctx context.Context) ([]yield.Reserve, []error) {
	if e.reserves == nil || len(e.cfg.Networks) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		reserves = make([][]yield.Reserve, len(e.cfg.Networks))
		errs     []error
	)
	var g errgroup.Group
	g.SetLimit(overviewWorkers)
	for i, network := range e.cfg.Networks {
		i, network := i, network
		g.Go(func() error {
			key := datasources.BuildKey(provider.SourceOnChain, "reserves", map[string]string{"network": network.Name})
			rs, fresh, err := datasources.GetOrFetch(ctx, e.cache, key, config.Seconds(e.cfg.Cache.TTL.Reserves),
				func(ctx context.Context) ([]yield.Reserve, error) {
					return e.reserves.ReadNetwork(ctx, network)
				})
			if err != nil {
				e.logger.Warn().Err(err).Str("network", network.Name).Msg("network skipped")
				mu.Lock()
				errs = append(errs, fmt.Errorf("network %s: %w", network.Name, err))
				mu.Unlock()
				return nil
			}
			if fresh.Stale {
				e.logger.Warn().Str("network", network.Name).Time("cached_at", fresh.CachedAt).Msg("serving stale reserves")
			}
			reserves[i] = rs
			return nil
		})
	}
	_ = g.Wait()

	var out []yield.Reserve
	for _, rs := range reserves {
		out = append(out, rs...)
	}
	e.priceReserves(ctx, out)
	return out, errs
}

// GetMarketOverview fans out to every upstream concurrently. A failing branch
// contributes a warning instead of aborting its siblings.
func (e *Engine) GetMarketOverview(ctx context.Context) yield.MarketOverview {
	var (
		mu        sync.Mutex
		overview  = yield.MarketOverview{GeneratedAt: e.now().UTC()}
		protocols []yield.Protocol
		pools     []yield.Pool
	)
	warn := func(format string, args ...interface{}) {
		mu.Lock()
		overview.Warnings = append(overview.Warnings, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		ps, err := e.allProtocols(ctx)
		if err != nil {
			warn("protocol directory unavailable: %v", err)
			return nil
		}
		protocols = ps
		return nil
	})
	g.Go(func() error {
		ps, err := e.allPools(ctx)
		if err != nil {
			warn("pool directory unavailable: %v", err)
			return nil
		}
		pools = ps
		return nil
	})
	g.Go(func() error {
		prices, err := e.GetTokenPrices(ctx, e.overviewPriceIDs())
		if err != nil {
			warn("price feed unavailable: %v", err)
			return nil
		}
		mu.Lock()
		overview.Prices = prices
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		reserves, errs := e.GetOnChainRates(ctx)
		for _, err := range errs {
			warn("on-chain: %v", err)
		}
		mu.Lock()
		overview.OnChain = reserves
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	var accepted []yield.Protocol
	for _, p := range protocols {
		if e.filter.AcceptProtocol(p) {
			accepted = append(accepted, p)
			overview.TotalTVL += p.TVL
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].TVL > accepted[j].TVL })
	overview.Protocols = len(accepted)
	overview.TopProtocols = head(accepted, overviewTop)

	filtered := e.filter.Pools(pools, e.cfg.Filters.MinTVL, e.cfg.Filters.MaxAPY)
	overview.TopPools = head(normalize.Rank(filtered), overviewTop)
	if len(filtered) > 0 {
		sum := 0.0
		for _, p := range filtered {
			sum += p.APY
		}
		overview.AverageAPY = round2(sum / float64(len(filtered)))
	}
	sort.Strings(overview.Warnings)
	return overview
}

func (e *Engine) allProtocols(ctx context.Context) ([]yield.Protocol, error) {
	key := datasources.BuildKey(provider.SourceDefiLlama, "protocols", nil)
	protocols, _, err := datasources.GetOrFetch(ctx, e.cache, key, config.Seconds(e.cfg.Cache.TTL.Protocols),
		func(ctx context.Context) ([]yield.Protocol, error) {
			raw, err := e.directory.Protocols(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]yield.Protocol, 0, len(raw))
			for _, r := range raw {
				out = append(out, normalize.ToProtocol(r))
			}
			return out, nil
		})
	return protocols, err
}

func (e *Engine) allPools(ctx context.Context) ([]yield.Pool, error) {
	key := datasources.BuildKey(provider.SourceDefiLlama, "pools", nil)
	pools, _, err := datasources.GetOrFetch(ctx, e.cache, key, config.Seconds(e.cfg.Cache.TTL.Pools),
		func(ctx context.Context) ([]yield.Pool, error) {
			raw, err := e.directory.Pools(ctx)
			if err != nil {
				return nil, err
			}
			return normalize.ToPools(raw), nil
		})
	return pools, err
}

func (e *Engine) chart(ctx context.Context, poolID string) ([]yield.HistoricalDataPoint, error) {
	key := datasources.BuildKey(provider.SourceDefiLlama, "chart", map[string]string{"pool": poolID})
	points, _, err := datasources.GetOrFetch(ctx, e.cache, key, config.Seconds(e.cfg.Cache.TTL.Chart),
		func(ctx context.Context) ([]yield.HistoricalDataPoint, error) {
			raw, err := e.directory.Chart(ctx, poolID)
			if err != nil {
				return nil, err
			}
			points := normalize.ToHistory(raw)
			e.archive(ctx, poolID, points)
			return points, nil
		})
	return points, err
}

// archive stores freshly fetched chart samples; failures only cost durability.
func (e *Engine) archive(ctx context.Context, poolID string, points []yield.HistoricalDataPoint) {
	if e.history == nil || len(points) == 0 {
		return
	}
	n, err := e.history.InsertBatch(ctx, poolID, provider.SourceDefiLlama, points)
	if err != nil {
		e.logger.Warn().Err(err).Str("pool", poolID).Msg("history archive write failed")
		return
	}
	e.logger.Debug().Str("pool", poolID).Int64("rows", n).Msg("history archived")
}

func (e *Engine) stablecoins(pools []yield.Pool) []yield.Pool {
	var out []yield.Pool
	for _, p := range pools {
		if e.filter.IsStable(p) {
			out = append(out, p)
		}
	}
	return normalize.Rank(out)
}

// priceReserves fills missing USD prices from the price feed.
func (e *Engine) priceReserves(ctx context.Context, reserves []yield.Reserve) {
	ids := make(map[string]string)
	for _, n := range e.cfg.Networks {
		for _, a := range n.Assets {
			if a.PriceID != "" {
				ids[n.Name+"/"+strings.ToUpper(a.Symbol)] = a.PriceID
			}
		}
	}

	var missing []string
	for _, r := range reserves {
		if r.PriceUSD == 0 {
			if id, ok := ids[r.Network+"/"+strings.ToUpper(r.Symbol)]; ok {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 || e.prices == nil {
		return
	}

	prices, err := e.GetTokenPrices(ctx, missing)
	if err != nil {
		e.logger.Warn().Err(err).Msg("reserve prices unavailable")
		return
	}
	for i := range reserves {
		r := &reserves[i]
		if r.PriceUSD != 0 {
			continue
		}
		if p, ok := prices[ids[r.Network+"/"+strings.ToUpper(r.Symbol)]]; ok {
			r.PriceUSD = p.PriceUSD
		}
	}
}

func (e *Engine) overviewPriceIDs() []string {
	ids := []string{"bitcoin", "ethereum"}
	for _, n := range e.cfg.Networks {
		for _, a := range n.Assets {
			if a.PriceID != "" {
				ids = append(ids, a.PriceID)
			}
		}
	}
	return ids
}

func since(points []yield.HistoricalDataPoint, cutoff time.Time) []yield.HistoricalDataPoint {
	out := make([]yield.HistoricalDataPoint, 0, len(points))
	for _, p := range points {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
