// Package trend summarizes a pool's historical APY and TVL series.
package trend

import (
	"math"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

const (
	RecommendGood     = "Good opportunity for stable yields"
	RecommendModerate = "Moderate risk, monitor closely"
	RecommendHighRisk = "High risk, consider smaller allocation or avoid"
	RecommendMixed    = "Mixed signals, further research recommended"
)

// Analyzer classifies historical series with the thresholds of a TrendPolicy.
type Analyzer struct {
	policy config.TrendPolicy
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(policy config.TrendPolicy) *Analyzer {
	return &Analyzer{policy: policy}
}

// AnalyzeTrend summarizes series, which must be ordered oldest first.
// An empty series yields a *yield.NoDataError.
func (a *Analyzer) AnalyzeTrend(series []yield.HistoricalDataPoint) (yield.TrendAnalysis, error) {
	if len(series) == 0 {
		return yield.TrendAnalysis{}, &yield.NoDataError{What: "historical series"}
	}

	apys := make([]float64, len(series))
	tvls := make([]float64, len(series))
	for i, p := range series {
		apys[i] = p.APY
		tvls[i] = p.TVLUsd
	}

	last := series[len(series)-1]
	avg := positiveMean(apys)
	volatility := 0.0
	if mean := mean(apys); mean != 0 {
		volatility = stddev(apys, mean) / mean * 100
	}

	out := yield.TrendAnalysis{
		AverageAPY: round2(avg),
		CurrentAPY: last.APY,
		APYTrend:   a.direction(apys),
		TVLTrend:   a.direction(tvls),
		Volatility: round2(math.Abs(volatility)),
		Samples:    len(series),
	}
	out.RiskScore = a.riskScore(out, avg, last.TVLUsd)
	out.Recommendation = recommend(out)
	return out, nil
}

// direction compares the mean of the last window with the preceding window.
func (a *Analyzer) direction(values []float64) yield.Trend {
	w := a.policy.Window
	n := len(values)
	if w <= 0 || n <= w {
		return yield.TrendStable
	}
	recent := mean(values[n-w:])
	start := n - 2*w
	if start < 0 {
		start = 0
	}
	earlier := mean(values[start : n-w])
	if earlier == 0 {
		return yield.TrendStable
	}
	ratio := recent / earlier
	switch {
	case ratio > a.policy.UpRatio:
		return yield.TrendIncreasing
	case ratio < a.policy.DownRatio:
		return yield.TrendDecreasing
	default:
		return yield.TrendStable
	}
}

func (a *Analyzer) riskScore(t yield.TrendAnalysis, avg, latestTVL float64) float64 {
	p := a.policy
	score := 5.0
	switch {
	case t.Volatility > p.HighVolatility:
		score += 2
	case t.Volatility > p.ModerateVolatility:
		score++
	}
	if t.TVLTrend == yield.TrendDecreasing {
		score++
	}
	if avg > 0 && t.CurrentAPY > p.SpikeMultiple*avg {
		score++
	}
	if latestTVL < p.LowTVL {
		score++
	}
	return math.Max(1, math.Min(10, score))
}

// recommend maps the score and trends to advice. riskScore starts at 5 and
// only adds, so the first branch is currently unreachable.
func recommend(t yield.TrendAnalysis) string {
	switch {
	case t.RiskScore <= 3 && t.APYTrend != yield.TrendDecreasing:
		return RecommendGood
	case t.RiskScore <= 6 && t.TVLTrend == yield.TrendIncreasing:
		return RecommendModerate
	case t.RiskScore >= 7:
		return RecommendHighRisk
	default:
		return RecommendMixed
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func positiveMean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func stddev(values []float64, mean float64) float64 {
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
