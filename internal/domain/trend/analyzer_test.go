package trend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

func series(apys, tvls []float64) []yield.HistoricalDataPoint {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]yield.HistoricalDataPoint, len(apys))
	for i := range apys {
		out[i] = yield.HistoricalDataPoint{
			Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
			APY:       apys[i],
			TVLUsd:    tvls[i],
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testAnalyzer() *Analyzer {
	return NewAnalyzer(config.Default().Trend)
}

func TestAnalyzeTrend_EmptySeries(t *testing.T) {
	_, err := testAnalyzer().AnalyzeTrend(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, yield.ErrInsufficientData))
}

func TestAnalyzeTrend_TenPercentUpliftIsIncreasing(t *testing.T) {
	apys := append(repeat(5, 7), repeat(5.5, 7)...)
	tvls := append(repeat(10e6, 7), repeat(12e6, 7)...)

	got, err := testAnalyzer().AnalyzeTrend(series(apys, tvls))
	require.NoError(t, err)

	assert.Equal(t, yield.TrendIncreasing, got.APYTrend)
	assert.Equal(t, yield.TrendIncreasing, got.TVLTrend)
	assert.Equal(t, 5.25, got.AverageAPY)
	assert.Equal(t, 5.5, got.CurrentAPY)
	assert.InDelta(t, 4.76, got.Volatility, 0.01)
	assert.Equal(t, 5.0, got.RiskScore)
	assert.Equal(t, RecommendModerate, got.Recommendation)
	assert.Equal(t, 14, got.Samples)
}

func TestAnalyzeTrend_SmallMoveIsStable(t *testing.T) {
	apys := append(repeat(4, 7), repeat(4.1, 7)...)
	got, err := testAnalyzer().AnalyzeTrend(series(apys, repeat(5e6, 14)))
	require.NoError(t, err)

	assert.Equal(t, yield.TrendStable, got.APYTrend)
	assert.Equal(t, yield.TrendStable, got.TVLTrend)
	assert.Equal(t, RecommendMixed, got.Recommendation)
}

func TestAnalyzeTrend_ClassificationBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		recent float64
		want   yield.Trend
	}{
		{"exactly +5%", 105, yield.TrendStable},
		{"+6%", 106, yield.TrendIncreasing},
		{"+8%", 108, yield.TrendIncreasing},
		{"exactly -5%", 95, yield.TrendStable},
		{"-6%", 94, yield.TrendDecreasing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := append(repeat(100, 7), repeat(tt.recent, 7)...)
			got, err := testAnalyzer().AnalyzeTrend(series(values, values))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.APYTrend)
			assert.Equal(t, tt.want, got.TVLTrend)
		})
	}
}

func TestAnalyzeTrend_ShortSeriesIsStable(t *testing.T) {
	got, err := testAnalyzer().AnalyzeTrend(series([]float64{3, 6, 9}, []float64{1e7, 2e7, 3e7}))
	require.NoError(t, err)
	assert.Equal(t, yield.TrendStable, got.APYTrend)
	assert.Equal(t, yield.TrendStable, got.TVLTrend)
}

func TestAnalyzeTrend_HighRiskPool(t *testing.T) {
	// Volatile, spiking APY on a shrinking, thin pool.
	apys := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 30}
	tvls := append(repeat(2e6, 7), repeat(5e5, 7)...)

	got, err := testAnalyzer().AnalyzeTrend(series(apys, tvls))
	require.NoError(t, err)

	assert.Equal(t, yield.TrendDecreasing, got.TVLTrend)
	assert.Greater(t, got.Volatility, 50.0)
	assert.Equal(t, 10.0, got.RiskScore)
	assert.Equal(t, RecommendHighRisk, got.Recommendation)
}

func TestAnalyzeTrend_ZeroMean(t *testing.T) {
	got, err := testAnalyzer().AnalyzeTrend(series(repeat(0, 14), repeat(5e6, 14)))
	require.NoError(t, err)
	assert.Zero(t, got.Volatility)
	assert.Zero(t, got.AverageAPY)
	assert.Equal(t, yield.TrendStable, got.APYTrend)
}
