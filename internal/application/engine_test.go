package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/persistence"
	"github.com/sawpanic/yieldrun/internal/provider"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

var errUpstream = &provider.FetchError{Source: provider.SourceDefiLlama, Code: provider.ErrCodeNetworkError, Message: "connection refused"}

func downDirectory() *provider.MockDirectory {
	d := provider.NewMockDirectory(nil, nil)
	d.SimulateError(errUpstream)
	return d
}

func downPrices(err error) *provider.MockPriceFeed {
	p := provider.NewMockPriceFeed()
	p.SimulateError(err)
	return p
}

type fakeHistory struct {
	mu       sync.Mutex
	batches  int
	inserted map[string][]yield.HistoricalDataPoint
	archived []yield.HistoricalDataPoint
}

func (f *fakeHistory) InsertBatch(_ context.Context, poolID, _ string, points []yield.HistoricalDataPoint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inserted == nil {
		f.inserted = map[string][]yield.HistoricalDataPoint{}
	}
	f.batches++
	f.inserted[poolID] = append(f.inserted[poolID], points...)
	return int64(len(points)), nil
}

func (f *fakeHistory) ListRange(_ context.Context, _ string, tr persistence.TimeRange) ([]yield.HistoricalDataPoint, error) {
	var out []yield.HistoricalDataPoint
	for _, p := range f.archived {
		if !p.Timestamp.Before(tr.From) && !p.Timestamp.After(tr.To) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeHistory) Latest(context.Context, string) (*persistence.HistoryRecord, error) {
	return nil, nil
}

func (f *fakeHistory) Count(context.Context, string) (int64, error) {
	return int64(len(f.archived)), nil
}

type countingAllocations struct {
	tiers     []string
	fallbacks []bool
}

func (c *countingAllocations) AllocationBuilt(tier string, fallback bool) {
	c.tiers = append(c.tiers, tier)
	c.fallbacks = append(c.fallbacks, fallback)
}

func directoryFixture() *provider.MockDirectory {
	return provider.NewMockDirectory(
		[]provider.LlamaProtocol{
			{Name: "Aave V3", Slug: "aave-v3", TVL: f64(2e10), Category: "Lending", Chains: []string{"Ethereum", "Arbitrum"}, Change7d: f64(-25), Audits: "2"},
			{Name: "Compound V3", Slug: "compound-v3", TVL: f64(3e9), Category: "Lending", Chains: []string{"Ethereum"}, Audits: "2"},
			{Name: "Lido", Slug: "lido", TVL: f64(3e10), Category: "Liquid Staking", Chains: []string{"Ethereum"}, Audits: "3"},
			{Name: "Binance", Slug: "binance", TVL: f64(1e11), Category: "CEX"},
		},
		[]provider.LlamaPool{
			{Pool: "aave-usdc", Chain: "Ethereum", Project: "aave-v3", Symbol: "USDC", TVLUsd: 1e8, APY: f64(10), Stablecoin: true},
			{Pool: "compound-usdc", Chain: "Ethereum", Project: "compound-v3", Symbol: "USDC", TVLUsd: 2e8, APY: f64(4), Stablecoin: true},
			{Pool: "lido-steth", Chain: "Ethereum", Project: "lido", Symbol: "STETH", TVLUsd: 1e8, APY: f64(3)},
			{Pool: "aave-weth", Chain: "Ethereum", Project: "aave-v3", Symbol: "WETH", TVLUsd: 5e8, APY: f64(2)},
			{Pool: "pendle-pt", Chain: "Ethereum", Project: "pendle", Symbol: "PENDLE", TVLUsd: 2e7, APY: f64(15)},
			{Pool: "degen", Chain: "Base", Project: "degen-farm", Symbol: "DEGEN-WETH", TVLUsd: 5e6, APY: f64(350)},
			{Pool: "test-pool", Chain: "Ethereum", Project: "test-farm", Symbol: "USDC", TVLUsd: 5e8, APY: f64(20)},
			{Pool: "no-apy", Chain: "Ethereum", Project: "ghost", Symbol: "USDC", TVLUsd: 5e8},
		},
	)
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return testNow }
	}
	return NewEngine(config.Default(), deps)
}

func TestGetTopYieldOpportunities(t *testing.T) {
	dir := directoryFixture()
	e := newTestEngine(t, Deps{Directory: dir})

	pools, err := e.GetTopYieldOpportunities(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	// 10·√100 ahead of 15·√20.
	assert.Equal(t, "aave-usdc", pools[0].PoolID)
	assert.Equal(t, "pendle-pt", pools[1].PoolID)

	all, err := e.GetTopYieldOpportunities(context.Background(), 0, 0)
	require.NoError(t, err)
	for _, p := range all {
		assert.NotEqual(t, "degen", p.PoolID)
		assert.NotEqual(t, "test-pool", p.PoolID)
	}
	assert.Equal(t, 1, dir.RequestCount("pools"), "second call must be served from cache")
}

func TestGetTopYieldOpportunities_Error(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: downDirectory()})

	_, err := e.GetTopYieldOpportunities(context.Background(), 5, 0)
	require.Error(t, err)
	var fe *provider.FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestGetStablecoinYields_FromDirectory(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})

	pools, err := e.GetStablecoinYields(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "aave-usdc", pools[0].PoolID)
	assert.Equal(t, provider.SourceDefiLlama, pools[0].Source)
}

func TestGetStablecoinYields_FallsBackToOnChain(t *testing.T) {
	reserves := provider.NewMockReserveSource(map[string][]yield.Reserve{
		"ethereum": {
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "USDC", SupplyAPY: 4.5, TotalSupply: 2e9, PriceUSD: 1, Stablecoin: true},
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "WETH", SupplyAPY: 1.9, TotalSupply: 1e6},
			// below the TVL floor, and unpriced
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "DAI", SupplyAPY: 6.1, TotalSupply: 2e5, PriceUSD: 1, Stablecoin: true},
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "USDT", SupplyAPY: 5.2, TotalSupply: 3e9, Stablecoin: true},
		},
	})
	e := newTestEngine(t, Deps{Directory: downDirectory(), Reserves: reserves})

	pools, err := e.GetStablecoinYields(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Greater(t, pools[0].TVLUsd, config.Default().Filters.MinTVL)
	assert.Equal(t, provider.SourceOnChain, pools[0].Source)
	assert.Equal(t, "USDC", pools[0].Symbol)
}

func TestGetStablecoinYields_FallsBackToStatic(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: downDirectory()})

	pools, err := e.GetStablecoinYields(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.StaticStablecoinPools(), pools)
}

func TestGetTokenYieldOpportunities(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})

	pools, err := e.GetTokenYieldOpportunities(context.Background(), "weth")
	require.NoError(t, err)
	require.Len(t, pools, 2)
	// The directory ceiling admits the 350% pool.
	assert.Equal(t, "degen", pools[0].PoolID)
	assert.Equal(t, "aave-weth", pools[1].PoolID)

	_, err = e.GetTokenYieldOpportunities(context.Background(), " ")
	assert.ErrorIs(t, err, yield.ErrInvalidArgument)
}

func TestGetPoolsByProtocol(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})

	pools, err := e.GetPoolsByProtocol(context.Background(), "Aave")
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "aave-usdc", pools[0].PoolID)

	_, err = e.GetPoolsByProtocol(context.Background(), "nope")
	var nf *yield.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.Name)
}

func TestCalculateProtocolRisk(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})

	m := e.CalculateProtocolRisk(context.Background(), "Aave V3")
	assert.False(t, m.Fallback)
	assert.Equal(t, 2.0, m.ProtocolRisk)
	assert.Equal(t, 3.0, m.SmartContractRisk)
	assert.Equal(t, 5.0, m.LiquidityRisk)
	assert.Equal(t, 4.0, m.MarketRisk)
	assert.Equal(t, 5.0, m.ComposabilityRisk)

	unknown := e.CalculateProtocolRisk(context.Background(), "unknown")
	assert.True(t, unknown.Fallback)
	assert.Equal(t, 6.0, unknown.OverallRisk)

	down := newTestEngine(t, Deps{Directory: downDirectory()})
	assert.True(t, down.CalculateProtocolRisk(context.Background(), "Aave V3").Fallback)
}

func dailyChart(days int, apy func(i int) float64) []provider.ChartPoint {
	out := make([]provider.ChartPoint, days)
	start := testNow.AddDate(0, 0, -days+1)
	for i := range out {
		out[i] = provider.ChartPoint{Timestamp: start.AddDate(0, 0, i), TVLUsd: 5e7, APY: f64(apy(i))}
	}
	return out
}

func TestGetPoolHistoricalData_ChartTrimmedAndArchived(t *testing.T) {
	dir := directoryFixture()
	dir.SetChart("aave-usdc", dailyChart(60, func(int) float64 { return 4 }))
	history := &fakeHistory{}
	e := newTestEngine(t, Deps{Directory: dir, History: history})

	points, err := e.GetPoolHistoricalData(context.Background(), "aave-usdc", 30)
	require.NoError(t, err)
	assert.Len(t, points, 31)
	assert.False(t, points[0].Timestamp.Before(testNow.AddDate(0, 0, -30)))
	assert.Len(t, history.inserted["aave-usdc"], 60)
}

func TestGetPoolHistoricalData_ArchivesOnlyFreshCharts(t *testing.T) {
	dir := directoryFixture()
	dir.SetChart("aave-usdc", dailyChart(60, func(int) float64 { return 4 }))
	history := &fakeHistory{}
	e := newTestEngine(t, Deps{Directory: dir, History: history})

	for _, days := range []int{30, 7} {
		_, err := e.GetPoolHistoricalData(context.Background(), "aave-usdc", days)
		require.NoError(t, err)
	}
	_, err := e.AnalyzePoolTrends(context.Background(), "aave-usdc", 30)
	require.NoError(t, err)

	assert.Equal(t, 1, history.batches)
	assert.Len(t, history.inserted["aave-usdc"], 60)
}

func TestGetPoolHistoricalData_FallsBackToArchive(t *testing.T) {
	history := &fakeHistory{archived: []yield.HistoricalDataPoint{
		{Timestamp: testNow.AddDate(0, 0, -3), APY: 4, TVLUsd: 1e8},
		{Timestamp: testNow.AddDate(0, 0, -90), APY: 9, TVLUsd: 1e8},
	}}
	e := newTestEngine(t, Deps{Directory: downDirectory(), History: history})

	points, err := e.GetPoolHistoricalData(context.Background(), "aave-usdc", 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 4.0, points[0].APY)
}

func TestGetPoolHistoricalData_Errors(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture(), History: &fakeHistory{}})

	_, err := e.GetPoolHistoricalData(context.Background(), "unknown-pool", 30)
	assert.ErrorIs(t, err, yield.ErrInsufficientData)

	_, err = e.GetPoolHistoricalData(context.Background(), "", 30)
	assert.ErrorIs(t, err, yield.ErrInvalidArgument)

	down := newTestEngine(t, Deps{Directory: downDirectory()})
	_, err = down.GetPoolHistoricalData(context.Background(), "aave-usdc", 30)
	var fe *provider.FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, errors.Is(err, yield.ErrInsufficientData))
}

func TestAnalyzePoolTrends(t *testing.T) {
	dir := directoryFixture()
	dir.SetChart("aave-usdc", dailyChart(14, func(i int) float64 {
		if i < 7 {
			return 5
		}
		return 5.5
	}))
	e := newTestEngine(t, Deps{Directory: dir})

	got, err := e.AnalyzePoolTrends(context.Background(), "aave-usdc", 30)
	require.NoError(t, err)
	assert.Equal(t, "aave-usdc", got.PoolID)
	assert.Equal(t, yield.TrendIncreasing, got.APYTrend)
	assert.Equal(t, 14, got.Samples)
}

func TestAnalyzePortfolio(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})

	got := e.AnalyzePortfolio(context.Background(), []yield.Position{
		{Protocol: "aave-v3", Asset: "USDC", Amount: 5000, APY: 4},
		{Protocol: "compound-v3", Asset: "USDC", Amount: 5000, APY: 3},
	})
	assert.Equal(t, 10_000.0, got.TotalValue)
	assert.Equal(t, 3.5, got.ExpectedYield)
	assert.Contains(t, got.Recommendations[len(got.Recommendations)-1], "top opportunities offer 10.00%")

	down := newTestEngine(t, Deps{Directory: downDirectory()})
	neutral := down.AnalyzePortfolio(context.Background(), []yield.Position{{Protocol: "aave-v3", Amount: 100, APY: 4}})
	assert.Equal(t, 6.0, neutral.RiskScore)
}

func TestRecommendAllocation(t *testing.T) {
	rec := &countingAllocations{}
	e := newTestEngine(t, Deps{Directory: directoryFixture(), Metrics: rec})

	plan, err := e.RecommendAllocation(context.Background(), "USDC", 10_000, yield.TierModerate)
	require.NoError(t, err)
	assert.False(t, plan.Fallback)
	assert.LessOrEqual(t, plan.TotalPercentage(), 100.0+1e-9)
	for _, leg := range plan.Allocations {
		assert.GreaterOrEqual(t, leg.RiskScore, 1.0)
		assert.LessOrEqual(t, leg.RiskScore, 10.0)
	}
	assert.Equal(t, []string{"moderate"}, rec.tiers)

	down := newTestEngine(t, Deps{Directory: downDirectory(), Metrics: rec})
	plan, err = down.RecommendAllocation(context.Background(), "", 0, yield.TierConservative)
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	assert.Equal(t, []bool{false, true}, rec.fallbacks)

	_, err = e.RecommendAllocation(context.Background(), "USDC", -1, yield.TierModerate)
	assert.ErrorIs(t, err, yield.ErrInvalidArgument)
}

func TestCalculateImpermanentLoss(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: directoryFixture()})
	assert.InDelta(t, 5.7191, e.CalculateImpermanentLoss(100), 1e-3)
	assert.Zero(t, e.CalculateImpermanentLoss(0))
}

func TestGetOnChainRates_SkipsBrokenNetworksAndPricesAssets(t *testing.T) {
	cfg := config.Default()
	cfg.Networks = []config.NetworkConfig{
		{
			Name:        "ethereum",
			Protocol:    "aave-v3",
			PoolAddress: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
			Assets: []config.AssetConfig{
				{Symbol: "USDC", PriceID: "usd-coin", Stablecoin: true, PriceUSD: 1},
				{Symbol: "WETH", PriceID: "weth"},
			},
		},
		{Name: "misconfigured", RPCURLs: []string{"http://x"}},
	}
	prices := provider.NewMockPriceFeed(provider.CoinMarket{ID: "weth", Symbol: "weth", CurrentPrice: 3000})
	reserves := provider.NewMockReserveSource(map[string][]yield.Reserve{
		"ethereum": {
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "USDC", SupplyAPY: 4.5, PriceUSD: 1, Stablecoin: true},
			{Network: "ethereum", Protocol: "aave-v3", Symbol: "WETH", SupplyAPY: 1.9},
		},
	})
	e := NewEngine(cfg, Deps{Directory: directoryFixture(), Prices: prices, Reserves: reserves})

	got, errs := e.GetOnChainRates(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, 3000.0, got[1].PriceUSD)
	assert.Equal(t, []string{"weth"}, prices.LastIDs())

	require.Len(t, errs, 1)
	var cfgErr *yield.ConfigurationError
	assert.True(t, errors.As(errs[0], &cfgErr))
}

func TestGetMarketOverview_PartialFailure(t *testing.T) {
	prices := downPrices(&provider.FetchError{Source: provider.SourceCoinGecko, Code: provider.ErrCodeRateLimit, Message: "429"})
	e := newTestEngine(t, Deps{Directory: directoryFixture(), Prices: prices})

	o := e.GetMarketOverview(context.Background())
	assert.Equal(t, testNow, o.GeneratedAt)
	assert.Equal(t, 3, o.Protocols)
	assert.Equal(t, 2e10+3e9+3e10, o.TotalTVL)
	assert.Equal(t, "Lido", o.TopProtocols[0].Name)
	assert.Equal(t, "aave-usdc", o.TopPools[0].PoolID)
	assert.Greater(t, o.AverageAPY, 0.0)
	assert.Nil(t, o.Prices)
	require.Len(t, o.Warnings, 1)
	assert.Contains(t, o.Warnings[0], "price feed unavailable")
}

func TestGetMarketOverview_AllDown(t *testing.T) {
	e := newTestEngine(t, Deps{Directory: downDirectory(), Prices: downPrices(errUpstream)})

	o := e.GetMarketOverview(context.Background())
	assert.Zero(t, o.Protocols)
	assert.Empty(t, o.TopPools)
	assert.Len(t, o.Warnings, 3)
}

func TestGetTokenPrices(t *testing.T) {
	prices := provider.NewMockPriceFeed(
		provider.CoinMarket{ID: "ethereum", Symbol: "eth", CurrentPrice: 3150.42, PriceChangePercentage24h: f64(-1.5)},
	)
	e := newTestEngine(t, Deps{Directory: directoryFixture(), Prices: prices})

	got, err := e.GetTokenPrices(context.Background(), []string{"Ethereum", "ethereum", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"ethereum"}, prices.LastIDs())
	assert.Equal(t, "ETH", got["ethereum"].Symbol)
	assert.Equal(t, -1.5, got["ethereum"].Change24hPct)

	empty, err := e.GetTokenPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
