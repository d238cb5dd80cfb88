package portfolio

import "math"

// ImpermanentLoss returns the percent loss of a 50/50 constant-product
// position against holding, for a relative price change of pct percent.
// A change of -100% or lower is a total loss.
func ImpermanentLoss(pct float64) float64 {
	d := pct / 100
	if d <= -1 {
		return 100
	}
	ratio := 2 * math.Sqrt(1+d) / (2 + d)
	return math.Abs(ratio-1) * 100
}
