// Package backtester runs a single simulated trial and measures its performance.
package backtester

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	// TradingDaysPerYear annualizes daily statistics.
	TradingDaysPerYear = 252

	// minCalmarDrawdown keeps the Calmar ratio finite on drawdown-free paths.
	minCalmarDrawdown = 0.01
)

var (
	// ErrInsufficientData is returned for series too short to yield a return.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNonPositivePrice is returned when a return would divide by a non-positive close.
	ErrNonPositivePrice = errors.New("non-positive price")
)

// PriceReturns converts consecutive closes into simple returns.
func PriceReturns(points []types.MarketDataPoint) ([]float64, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%d points: %w", len(points), ErrInsufficientData)
	}

	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Close
		if !prev.IsPositive() {
			return nil, fmt.Errorf("close %s on %s: %w", prev, points[i-1].Date.Format("2006-01-02"), ErrNonPositivePrice)
		}
		ret, _ := points[i].Close.Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	return returns, nil
}

// MetricsCalculator calculates performance metrics
type MetricsCalculator struct{}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// FromReturns computes the performance of a daily return series. riskFreeRate
// is annual. Win/loss fields are measured per day; ApplyTrades replaces them
// with trade-level figures when trades exist.
func (mc *MetricsCalculator) FromReturns(returns []float64, riskFreeRate float64) types.PerformanceMetrics {
	metrics := types.PerformanceMetrics{}
	n := len(returns)
	if n == 0 {
		return metrics
	}

	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	metrics.TotalReturn = growth - 1

	if growth > 0 {
		metrics.AnnualizedReturn = math.Pow(growth, float64(TradingDaysPerYear)/float64(n)) - 1
	} else {
		metrics.AnnualizedReturn = -1
	}

	avg := mean(returns)
	metrics.AverageReturn = avg
	metrics.Volatility = stdDev(returns) * math.Sqrt(TradingDaysPerYear)

	excess := avg*TradingDaysPerYear - riskFreeRate
	if metrics.Volatility > 0 {
		metrics.SharpeRatio = excess / metrics.Volatility
	}

	metrics.DownsideDeviation = downsideDeviation(returns)
	if metrics.DownsideDeviation > 0 {
		metrics.SortinoRatio = excess / (metrics.DownsideDeviation * math.Sqrt(TradingDaysPerYear))
	}

	metrics.MaxDrawdown, metrics.MaxDrawdownDuration = maxDrawdown(returns)
	metrics.CalmarRatio = metrics.AnnualizedReturn / math.Max(metrics.MaxDrawdown, minCalmarDrawdown)

	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, -r)
		}
	}
	applyWinLoss(&metrics, wins, losses, n)

	return metrics
}

// ApplyTrades overwrites the win/loss fields with statistics of closed trades,
// expressed as fractions of the initial capital.
func (mc *MetricsCalculator) ApplyTrades(metrics *types.PerformanceMetrics, trades []types.Trade, initialCapital decimal.Decimal) {
	if !initialCapital.IsPositive() {
		return
	}

	var wins, losses []float64
	closed := 0
	for _, trade := range trades {
		if trade.Side != types.OrderSideSell {
			continue
		}
		closed++
		pnl, _ := trade.PnL.Div(initialCapital).Float64()
		if pnl > 0 {
			wins = append(wins, pnl)
		} else if pnl < 0 {
			losses = append(losses, -pnl)
		}
	}

	applyWinLoss(metrics, wins, losses, closed)
	metrics.TotalTrades = closed
	metrics.WinningTrades = len(wins)
	metrics.LosingTrades = len(losses)
}

// applyWinLoss fills the win/loss fields; losses are positive magnitudes.
func applyWinLoss(metrics *types.PerformanceMetrics, wins, losses []float64, total int) {
	metrics.WinRate = 0
	metrics.ProfitFactor = 0
	metrics.AverageWin = mean(wins)
	metrics.AverageLoss = mean(losses)
	metrics.LargestWin = maxOf(wins)
	metrics.LargestLoss = maxOf(losses)
	metrics.Expectancy = 0

	if total == 0 {
		return
	}

	metrics.WinRate = float64(len(wins)) / float64(total)

	totalLoss := sum(losses)
	if totalLoss > 0 {
		metrics.ProfitFactor = sum(wins) / totalLoss
	}

	// Expectancy: (Win% * AvgWin) - (Loss% * AvgLoss)
	lossPct := 1 - metrics.WinRate
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin - lossPct*metrics.AverageLoss
}

// Risk calculates tail and volatility risk of a daily return series
func (mc *MetricsCalculator) Risk(returns []float64) types.RiskMetrics {
	metrics := types.RiskMetrics{}
	if len(returns) == 0 {
		return metrics
	}

	dailyVol := stdDev(returns)
	metrics.DailyVolatility = dailyVol
	metrics.AnnualVolatility = dailyVol * math.Sqrt(TradingDaysPerYear)

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	metrics.WorstDay = sorted[0]
	metrics.BestDay = sorted[len(sorted)-1]

	metrics.VaR95, metrics.CVaR95 = tailLoss(sorted, 0.95)
	metrics.VaR99, metrics.CVaR99 = tailLoss(sorted, 0.99)

	return metrics
}

// tailLoss returns VaR and CVaR at the given level from ascending returns.
// CVaR averages the tail up to and including the VaR observation.
func tailLoss(sorted []float64, level float64) (float64, float64) {
	idx := int(float64(len(sorted)) * (1 - level))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	var tail float64
	for i := 0; i <= idx; i++ {
		tail += sorted[i]
	}
	return -sorted[idx], -tail / float64(idx+1)
}

// maxDrawdown tracks the running peak of cumulative compounded return and
// reports the largest (peak-cum)/(1+peak) with the longest underwater run.
func maxDrawdown(returns []float64) (float64, int) {
	var maxDD, peak, cum float64
	var duration, longest int

	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
		cum = growth - 1
		if cum >= peak {
			peak = cum
			duration = 0
			continue
		}

		duration++
		if duration > longest {
			longest = duration
		}
		if dd := (peak - cum) / (1 + peak); dd > maxDD {
			maxDD = dd
		}
	}

	return math.Min(maxDD, 1), longest
}

// mean calculates arithmetic mean
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func maxOf(values []float64) float64 {
	var m float64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// stdDev calculates sample standard deviation
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	avg := mean(values)
	var sumSquares float64

	for _, v := range values {
		diff := v - avg
		sumSquares += diff * diff
	}

	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// downsideDeviation is the root mean square of negative returns over all periods
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var sumSquares float64
	for _, r := range returns {
		if r < 0 {
			sumSquares += r * r
		}
	}

	return math.Sqrt(sumSquares / float64(len(returns)))
}
