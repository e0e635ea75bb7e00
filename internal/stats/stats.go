// Package stats aggregates trial results into confidence intervals,
// breakdowns, robustness scores and distributional diagnostics.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
)

// JarqueBeraCritical is the chi-square(2) critical value at alpha 0.05.
const JarqueBeraCritical = 5.99

// ErrNoResults is returned when there is nothing to aggregate.
var ErrNoResults = errors.New("no successful trials")

// ErrInvalidLevel is returned for confidence levels outside (0,1).
var ErrInvalidLevel = errors.New("confidence level must be in (0,1)")

// Metrics tracked with confidence intervals.
const (
	MetricTotalReturn  = "total_return"
	MetricSharpeRatio  = "sharpe_ratio"
	MetricMaxDrawdown  = "max_drawdown"
	MetricVolatility   = "volatility"
	MetricFinalCapital = "final_capital"
)

// TrackedMetrics lists the metrics reported with confidence intervals.
func TrackedMetrics() []string {
	return []string{MetricTotalReturn, MetricSharpeRatio, MetricMaxDrawdown, MetricVolatility, MetricFinalCapital}
}

const indexEpsilon = 1e-9

var percentileLevels = []float64{0.01, 0.05, 0.25, 0.50, 0.75, 0.95, 0.99}

// Extract pulls one tracked metric out of every trial.
func Extract(trials []types.TrialResult, metric string) []float64 {
	values := make([]float64, len(trials))

	for i, trial := range trials {
		switch metric {
		case MetricTotalReturn:
			values[i] = trial.Performance.TotalReturn
		case MetricSharpeRatio:
			values[i] = trial.Performance.SharpeRatio
		case MetricMaxDrawdown:
			values[i] = trial.MaxDrawdown
		case MetricVolatility:
			values[i] = trial.Volatility
		case MetricFinalCapital:
			values[i] = trial.FinalCapital.InexactFloat64()
		}
	}

	return values
}

// ValidateLevels checks every confidence level lies strictly inside (0,1).
func ValidateLevels(levels []float64) error {
	for _, level := range levels {
		if !(level > 0 && level < 1) {
			return fmt.Errorf("%v: %w", level, ErrInvalidLevel)
		}
	}
	return nil
}

// ConfidenceIntervals sorts values and reads symmetric percentile offsets for
// each level: lower index floor((1-L)/2*n), upper index floor((1+L)/2*n)-1.
// Indices are clamped so that lower <= median <= upper always holds.
func ConfidenceIntervals(values []float64, levels []float64) ([]types.ConfidenceInterval, error) {
	if len(values) == 0 {
		return nil, ErrNoResults
	}
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}

	sorted := sortedCopy(values)
	n := len(sorted)
	mid := medianIndex(n)

	intervals := make([]types.ConfidenceInterval, 0, len(levels))
	for _, level := range levels {
		lower := floorIndex((1 - level) / 2 * float64(n))
		upper := floorIndex((1+level)/2*float64(n)) - 1

		lower = clamp(lower, 0, mid)
		upper = clamp(upper, mid, n-1)

		intervals = append(intervals, types.ConfidenceInterval{
			Level:  level,
			Lower:  sorted[lower],
			Upper:  sorted[upper],
			Median: sorted[mid],
		})
	}

	return intervals, nil
}

// MetricIntervals computes confidence intervals for every tracked metric.
func MetricIntervals(trials []types.TrialResult, levels []float64) (map[string][]types.ConfidenceInterval, error) {
	if len(trials) == 0 {
		return nil, ErrNoResults
	}

	out := make(map[string][]types.ConfidenceInterval, len(TrackedMetrics()))
	for _, metric := range TrackedMetrics() {
		intervals, err := ConfidenceIntervals(Extract(trials, metric), levels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", metric, err)
		}
		out[metric] = intervals
	}
	return out, nil
}

// Describe calculates distribution statistics with population moments and
// excess kurtosis.
func Describe(values []float64) types.Distribution {
	if len(values) == 0 {
		return types.Distribution{Percentiles: map[string]float64{}}
	}

	sorted := sortedCopy(values)
	n := float64(len(values))
	avg := Mean(values)

	variance := 0.0
	skewSum := 0.0
	kurtSum := 0.0

	for _, v := range values {
		diff := v - avg
		variance += diff * diff
		skewSum += diff * diff * diff
		kurtSum += diff * diff * diff * diff
	}
	variance /= n
	stdDev := math.Sqrt(variance)

	skewness := 0.0
	kurtosis := 0.0
	if stdDev > 0 {
		skewness = (skewSum / n) / (stdDev * stdDev * stdDev)
		kurtosis = (kurtSum/n)/(variance*variance) - 3
	}

	dist := types.Distribution{
		Count:       len(values),
		Mean:        avg,
		Median:      sorted[medianIndex(len(sorted))],
		StdDev:      stdDev,
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Skewness:    skewness,
		Kurtosis:    kurtosis,
		Percentiles: make(map[string]float64, len(percentileLevels)),
	}

	for _, p := range percentileLevels {
		idx := int(p * float64(len(sorted)-1))
		dist.Percentiles[percentileKey(p)] = sorted[idx]
	}

	return dist
}

// JarqueBera runs the simplified normality test JB = n/6 (S^2 + K^2/4).
func JarqueBera(dist types.Distribution) types.NormalityTest {
	n := float64(dist.Count)
	jb := n / 6 * (dist.Skewness*dist.Skewness + dist.Kurtosis*dist.Kurtosis/4)

	return types.NormalityTest{
		Statistic:     jb,
		CriticalValue: JarqueBeraCritical,
		IsNormal:      jb < JarqueBeraCritical,
	}
}

// Diagnose describes trial total returns and tests them for normality.
func Diagnose(trials []types.TrialResult) types.Diagnostics {
	dist := Describe(Extract(trials, MetricTotalReturn))
	return types.Diagnostics{
		Returns:   dist,
		Normality: JarqueBera(dist),
	}
}

// Mean calculates arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev calculates sample standard deviation
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	avg := Mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - avg
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// medianIndex is the lower median for even counts.
func medianIndex(n int) int {
	return (n - 1) / 2
}

func percentileKey(p float64) string {
	return "p" + strconv.Itoa(int(math.Round(p*100)))
}

// floorIndex floors x, absorbing representation error such as (1-0.9)/2*100 = 4.999...
func floorIndex(x float64) int {
	return int(math.Floor(x + indexEpsilon))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
