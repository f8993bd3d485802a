// Package trend classifies the recent direction of a metric series using an
// ordinary-least-squares slope over the trailing window.
package trend

import "agenttune/internal/types"

// Window is how many trailing samples the slope is fitted over. Series
// shorter than this carry insufficient signal and classify as stable.
const Window = 5

// SlopeThreshold separates a real trend from noise. Slopes within
// [-SlopeThreshold, SlopeThreshold] classify as stable.
const SlopeThreshold = 0.05

// Classify returns the trend of the last Window samples of series.
func Classify(series []float64) types.Trend {
	if len(series) < Window {
		return types.TrendStable
	}

	m := Slope(series[len(series)-Window:])
	switch {
	case m > SlopeThreshold:
		return types.TrendIncreasing
	case m < -SlopeThreshold:
		return types.TrendDecreasing
	default:
		return types.TrendStable
	}
}

// Slope fits an OLS line over the samples (index as X, value as Y) and
// returns the closed-form slope m = (n·Σxy − Σx·Σy) / (n·Σx² − (Σx)²).
// A degenerate denominator (fewer than two samples) yields 0.
func Slope(samples []float64) float64 {
	n := float64(len(samples))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range samples {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
