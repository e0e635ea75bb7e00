package stats

import (
	"math"
	"sort"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
)

// Summarize computes the averages and success rate of one group of trials.
// Success is a strictly positive total return.
func Summarize(trials []types.TrialResult) types.GroupSummary {
	if len(trials) == 0 {
		return types.GroupSummary{}
	}

	summary := types.GroupSummary{
		Trials:      len(trials),
		WorstReturn: math.Inf(1),
		BestReturn:  math.Inf(-1),
	}

	var sumReturn, sumSharpe, sumDD, sumCrashes float64
	successes := 0
	for _, trial := range trials {
		ret := trial.Performance.TotalReturn
		sumReturn += ret
		sumSharpe += trial.Performance.SharpeRatio
		sumDD += trial.MaxDrawdown
		sumCrashes += float64(trial.CrashEvents)
		if ret > 0 {
			successes++
		}
		summary.WorstReturn = math.Min(summary.WorstReturn, ret)
		summary.BestReturn = math.Max(summary.BestReturn, ret)
	}

	n := float64(len(trials))
	summary.AverageReturn = sumReturn / n
	summary.AverageSharpe = sumSharpe / n
	summary.AverageMaxDD = sumDD / n
	summary.SuccessRate = float64(successes) / n
	summary.AverageCrashes = sumCrashes / n

	return summary
}

// GroupByScenario splits trials by scenario, keeping trial order in each group.
func GroupByScenario(trials []types.TrialResult) map[types.ScenarioType][]types.TrialResult {
	groups := make(map[types.ScenarioType][]types.TrialResult)
	for _, trial := range trials {
		groups[trial.Scenario] = append(groups[trial.Scenario], trial)
	}
	return groups
}

// Breakdown summarizes trials per scenario.
func Breakdown(trials []types.TrialResult) map[types.ScenarioType]types.GroupSummary {
	groups := GroupByScenario(trials)
	out := make(map[types.ScenarioType]types.GroupSummary, len(groups))
	for scenario, group := range groups {
		out[scenario] = Summarize(group)
	}
	return out
}

// ScenarioDiagnostics runs the return diagnostics on every scenario group.
func ScenarioDiagnostics(trials []types.TrialResult) map[types.ScenarioType]types.Diagnostics {
	groups := GroupByScenario(trials)
	out := make(map[types.ScenarioType]types.Diagnostics, len(groups))
	for scenario, group := range groups {
		out[scenario] = Diagnose(group)
	}
	return out
}

// Robustness scores trial consistency. Score is the mean of the three parts.
func Robustness(trials []types.TrialResult) (types.Robustness, error) {
	if len(trials) == 0 {
		return types.Robustness{}, ErrNoResults
	}

	positives := 0
	sharpes := make([]float64, len(trials))
	var sumDD float64
	for i, trial := range trials {
		if trial.Performance.TotalReturn > 0 {
			positives++
		}
		sharpes[i] = trial.Performance.SharpeRatio
		sumDD += trial.MaxDrawdown
	}

	n := float64(len(trials))
	r := types.Robustness{
		Consistency: float64(positives) / n,
		Stability:   math.Max(0, 1-StdDev(sharpes)),
		Reliability: math.Max(0, 1-sumDD/n),
	}
	r.Score = (r.Consistency + r.Stability + r.Reliability) / 3

	return r, nil
}

// StressTest reports the bad-case view of each requested scenario that has
// trials. WorstDayLoss is a positive magnitude.
func StressTest(trials []types.TrialResult, scenarios []types.ScenarioType) []types.StressResult {
	groups := GroupByScenario(trials)

	results := make([]types.StressResult, 0, len(scenarios))
	for _, scenario := range scenarios {
		group := groups[scenario]
		if len(group) == 0 {
			continue
		}

		summary := Summarize(group)
		worstDay := 0.0
		losses := 0
		for _, trial := range group {
			worstDay = math.Min(worstDay, trial.WorstDay)
			if trial.Performance.TotalReturn < 0 {
				losses++
			}
		}

		results = append(results, types.StressResult{
			Scenario:          scenario,
			Trials:            len(group),
			AverageReturn:     summary.AverageReturn,
			AverageMaxDD:      summary.AverageMaxDD,
			WorstDayLoss:      -worstDay,
			WorstReturn:       summary.WorstReturn,
			ProbabilityOfLoss: float64(losses) / float64(len(group)),
		})
	}

	return results
}

// Average returns the field-wise mean performance and risk of trials. Count
// fields are rounded to the nearest integer.
func Average(trials []types.TrialResult) (types.PerformanceMetrics, types.RiskMetrics, error) {
	if len(trials) == 0 {
		return types.PerformanceMetrics{}, types.RiskMetrics{}, ErrNoResults
	}

	var p types.PerformanceMetrics
	var r types.RiskMetrics
	var ddDuration, totalTrades, winning, losing int

	for _, trial := range trials {
		m := trial.Performance
		p.TotalReturn += m.TotalReturn
		p.AnnualizedReturn += m.AnnualizedReturn
		p.Volatility += m.Volatility
		p.SharpeRatio += m.SharpeRatio
		p.SortinoRatio += m.SortinoRatio
		p.CalmarRatio += m.CalmarRatio
		p.MaxDrawdown += m.MaxDrawdown
		ddDuration += m.MaxDrawdownDuration
		p.WinRate += m.WinRate
		p.ProfitFactor += m.ProfitFactor
		p.AverageWin += m.AverageWin
		p.AverageLoss += m.AverageLoss
		p.LargestWin += m.LargestWin
		p.LargestLoss += m.LargestLoss
		p.Expectancy += m.Expectancy
		totalTrades += m.TotalTrades
		winning += m.WinningTrades
		losing += m.LosingTrades
		p.AverageReturn += m.AverageReturn
		p.DownsideDeviation += m.DownsideDeviation

		k := trial.Risk
		r.VaR95 += k.VaR95
		r.VaR99 += k.VaR99
		r.CVaR95 += k.CVaR95
		r.CVaR99 += k.CVaR99
		r.DailyVolatility += k.DailyVolatility
		r.AnnualVolatility += k.AnnualVolatility
		r.WorstDay += k.WorstDay
		r.BestDay += k.BestDay
	}

	n := float64(len(trials))
	round := func(total int) int { return int(math.Round(float64(total) / n)) }

	p.TotalReturn /= n
	p.AnnualizedReturn /= n
	p.Volatility /= n
	p.SharpeRatio /= n
	p.SortinoRatio /= n
	p.CalmarRatio /= n
	p.MaxDrawdown /= n
	p.MaxDrawdownDuration = round(ddDuration)
	p.WinRate /= n
	p.ProfitFactor /= n
	p.AverageWin /= n
	p.AverageLoss /= n
	p.LargestWin /= n
	p.LargestLoss /= n
	p.Expectancy /= n
	p.TotalTrades = round(totalTrades)
	p.WinningTrades = round(winning)
	p.LosingTrades = round(losing)
	p.AverageReturn /= n
	p.DownsideDeviation /= n

	r.VaR95 /= n
	r.VaR99 /= n
	r.CVaR95 /= n
	r.CVaR99 /= n
	r.DailyVolatility /= n
	r.AnnualVolatility /= n
	r.WorstDay /= n
	r.BestDay /= n

	return p, r, nil
}

// Representative returns the trial with the median total return, ties
// broken by trial index.
func Representative(trials []types.TrialResult) (types.TrialResult, error) {
	if len(trials) == 0 {
		return types.TrialResult{}, ErrNoResults
	}

	ordered := make([]types.TrialResult, len(trials))
	copy(ordered, trials)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Performance.TotalReturn, ordered[j].Performance.TotalReturn
		if a != b {
			return a < b
		}
		return ordered[i].Index < ordered[j].Index
	})

	return ordered[medianIndex(len(ordered))], nil
}
