package stats_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/atlas-desktop/simulation-engine/internal/stats"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceIntervalIndexRule(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(99 - i) // unsorted input
	}

	intervals, err := stats.ConfidenceIntervals(values, []float64{0.90, 0.95})
	require.NoError(t, err)
	require.Len(t, intervals, 2)

	// n=100, L=0.90: lower floor(5)=5, upper floor(95)-1=94
	assert.Equal(t, 5.0, intervals[0].Lower)
	assert.Equal(t, 94.0, intervals[0].Upper)
	assert.Equal(t, 49.0, intervals[0].Median)
	// L=0.95: lower floor(2.5)=2, upper floor(97.5)-1=96
	assert.Equal(t, 2.0, intervals[1].Lower)
	assert.Equal(t, 96.0, intervals[1].Upper)
}

func TestConfidenceIntervalOrderingAndWidth(t *testing.T) {
	rng := random.New(77)
	levels := []float64{0.5, 0.8, 0.9, 0.95, 0.99}

	for _, n := range []int{1, 2, 3, 5, 10, 37, 500} {
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.Normal(0, 1)
		}

		intervals, err := stats.ConfidenceIntervals(values, levels)
		require.NoError(t, err)

		prevWidth := -1.0
		for _, ci := range intervals {
			assert.LessOrEqual(t, ci.Lower, ci.Median, "n=%d level=%v", n, ci.Level)
			assert.LessOrEqual(t, ci.Median, ci.Upper, "n=%d level=%v", n, ci.Level)
			width := ci.Upper - ci.Lower
			assert.GreaterOrEqual(t, width, prevWidth, "n=%d level=%v", n, ci.Level)
			prevWidth = width
		}
	}
}

func TestConfidenceIntervalErrors(t *testing.T) {
	_, err := stats.ConfidenceIntervals(nil, []float64{0.95})
	assert.ErrorIs(t, err, stats.ErrNoResults)

	_, err = stats.ConfidenceIntervals([]float64{1, 2}, []float64{1.0})
	assert.ErrorIs(t, err, stats.ErrInvalidLevel)

	_, err = stats.ConfidenceIntervals([]float64{1, 2}, []float64{0})
	assert.ErrorIs(t, err, stats.ErrInvalidLevel)
}

func TestDescribe(t *testing.T) {
	dist := stats.Describe([]float64{1, 2, 3, 4, 5})

	assert.Equal(t, 5, dist.Count)
	assert.InDelta(t, 3, dist.Mean, 1e-12)
	assert.Equal(t, 3.0, dist.Median)
	assert.InDelta(t, math.Sqrt(2), dist.StdDev, 1e-12)
	assert.Equal(t, 1.0, dist.Min)
	assert.Equal(t, 5.0, dist.Max)
	assert.InDelta(t, 0, dist.Skewness, 1e-12)
	assert.InDelta(t, -1.3, dist.Kurtosis, 1e-12)
	assert.Equal(t, 3.0, dist.Percentiles["p50"])
	assert.Equal(t, 1.0, dist.Percentiles["p5"])
	assert.Contains(t, dist.Percentiles, "p99")

	empty := stats.Describe(nil)
	assert.Zero(t, empty.Count)
	assert.NotNil(t, empty.Percentiles)
}

func TestJarqueBera(t *testing.T) {
	rng := random.New(5)

	normal := make([]float64, 2000)
	for i := range normal {
		normal[i] = rng.Normal(0, 1)
	}
	normalJB := stats.JarqueBera(stats.Describe(normal))
	assert.Equal(t, stats.JarqueBeraCritical, normalJB.CriticalValue)

	skewed := make([]float64, 2000)
	for i := range skewed {
		u := rng.Uniform()
		skewed[i] = -math.Log(1 - u) // exponential
	}
	jb := stats.JarqueBera(stats.Describe(skewed))
	assert.False(t, jb.IsNormal)
	assert.Greater(t, jb.Statistic, stats.JarqueBeraCritical)
	assert.Greater(t, jb.Statistic, normalJB.Statistic)

	dist := types.Distribution{Count: 60, Skewness: 1, Kurtosis: 2}
	assert.InDelta(t, 60.0/6*(1+1), stats.JarqueBera(dist).Statistic, 1e-12)
}

func trial(index int, scenario types.ScenarioType, ret, sharpe, dd, worstDay float64) types.TrialResult {
	return types.TrialResult{
		Index:        index,
		Scenario:     scenario,
		Performance:  types.PerformanceMetrics{TotalReturn: ret, SharpeRatio: sharpe, MaxDrawdown: dd, TotalTrades: index},
		Risk:         types.RiskMetrics{WorstDay: worstDay, VaR95: -worstDay / 2},
		FinalCapital: decimal.NewFromFloat(10000 * (1 + ret)),
		MaxDrawdown:  dd,
		WorstDay:     worstDay,
		Volatility:   0.2,
		Simulated:    true,
	}
}

func sampleTrials() []types.TrialResult {
	return []types.TrialResult{
		trial(0, types.ScenarioNormalReturns, 0.10, 1.0, 0.05, -0.02),
		trial(1, types.ScenarioNormalReturns, -0.05, 0.5, 0.15, -0.03),
		trial(2, types.ScenarioMarketCrash, -0.30, -1.0, 0.40, -0.20),
		trial(3, types.ScenarioMarketCrash, 0.02, 0.2, 0.10, -0.12),
		trial(4, types.ScenarioBearMarket, -0.15, -0.5, 0.25, -0.06),
	}
}

func TestBreakdown(t *testing.T) {
	groups := stats.Breakdown(sampleTrials())
	require.Len(t, groups, 3)

	normal := groups[types.ScenarioNormalReturns]
	assert.Equal(t, 2, normal.Trials)
	assert.InDelta(t, 0.025, normal.AverageReturn, 1e-12)
	assert.InDelta(t, 0.75, normal.AverageSharpe, 1e-12)
	assert.InDelta(t, 0.10, normal.AverageMaxDD, 1e-12)
	assert.InDelta(t, 0.5, normal.SuccessRate, 1e-12)
	assert.Equal(t, -0.05, normal.WorstReturn)
	assert.Equal(t, 0.10, normal.BestReturn)
}

func TestRobustness(t *testing.T) {
	trials := sampleTrials()

	r, err := stats.Robustness(trials)
	require.NoError(t, err)

	sharpes := []float64{1.0, 0.5, -1.0, 0.2, -0.5}
	assert.InDelta(t, 0.4, r.Consistency, 1e-12)
	assert.InDelta(t, math.Max(0, 1-stats.StdDev(sharpes)), r.Stability, 1e-12)
	assert.InDelta(t, 1-0.19, r.Reliability, 1e-12)
	assert.InDelta(t, (r.Consistency+r.Stability+r.Reliability)/3, r.Score, 1e-12)

	_, err = stats.Robustness(nil)
	assert.ErrorIs(t, err, stats.ErrNoResults)
}

func TestStressTest(t *testing.T) {
	results := stats.StressTest(sampleTrials(), types.DefaultStressScenarios())
	require.Len(t, results, 2)

	crash := results[0]
	assert.Equal(t, types.ScenarioMarketCrash, crash.Scenario)
	assert.Equal(t, 2, crash.Trials)
	assert.InDelta(t, -0.14, crash.AverageReturn, 1e-12)
	assert.InDelta(t, 0.25, crash.AverageMaxDD, 1e-12)
	assert.InDelta(t, 0.20, crash.WorstDayLoss, 1e-12)
	assert.InDelta(t, 0.5, crash.ProbabilityOfLoss, 1e-12)

	bear := results[1]
	assert.Equal(t, types.ScenarioBearMarket, bear.Scenario)
	assert.InDelta(t, 0.06, bear.WorstDayLoss, 1e-12)

	none := stats.StressTest(sampleTrials(), []types.ScenarioType{types.ScenarioBullMarket})
	assert.Empty(t, none)
}

func TestAverage(t *testing.T) {
	perf, risk, err := stats.Average(sampleTrials())
	require.NoError(t, err)

	assert.InDelta(t, -0.076, perf.TotalReturn, 1e-12)
	assert.InDelta(t, 0.04, perf.SharpeRatio, 1e-12)
	assert.InDelta(t, 0.19, perf.MaxDrawdown, 1e-12)
	assert.Equal(t, 2, perf.TotalTrades)
	assert.InDelta(t, -0.086, risk.WorstDay, 1e-12)
	assert.InDelta(t, 0.043, risk.VaR95, 1e-12)

	_, _, err = stats.Average(nil)
	assert.ErrorIs(t, err, stats.ErrNoResults)
}

func TestMetricIntervalsAndRepresentative(t *testing.T) {
	trials := sampleTrials()

	intervals, err := stats.MetricIntervals(trials, []float64{0.9})
	require.NoError(t, err)
	for _, metric := range stats.TrackedMetrics() {
		require.Contains(t, intervals, metric)
		require.Len(t, intervals[metric], 1)
	}
	assert.Equal(t, -0.05, intervals[stats.MetricTotalReturn][0].Median)
	assert.InDelta(t, 9500, intervals[stats.MetricFinalCapital][0].Median, 1e-6)

	rep, err := stats.Representative(trials)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Index)

	_, err = stats.MetricIntervals(nil, []float64{0.9})
	assert.ErrorIs(t, err, stats.ErrNoResults)
}

func TestDiagnoseByScenario(t *testing.T) {
	diags := stats.ScenarioDiagnostics(sampleTrials())
	require.Len(t, diags, 3)
	assert.Equal(t, 2, diags[types.ScenarioMarketCrash].Returns.Count)

	overall := stats.Diagnose(sampleTrials())
	assert.Equal(t, 5, overall.Returns.Count)
	assert.Equal(t, stats.JarqueBeraCritical, overall.Normality.CriticalValue)
}
