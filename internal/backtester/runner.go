package backtester

import (
	"fmt"

	"github.com/atlas-desktop/simulation-engine/internal/strategy"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// quantityPrecision is the number of decimal places order quantities keep.
const quantityPrecision = 8

// Runner executes single trials over one price path. It holds no per-trial
// state and is safe for concurrent use.
type Runner struct {
	logger     *zap.Logger
	metrics    *MetricsCalculator
	strategies *strategy.Registry
}

// NewRunner creates a trial runner
func NewRunner(logger *zap.Logger, strategies *strategy.Registry) *Runner {
	return &Runner{
		logger:     logger,
		metrics:    NewMetricsCalculator(),
		strategies: strategies,
	}
}

// Metrics exposes the calculator shared by the runner
func (r *Runner) Metrics() *MetricsCalculator {
	return r.metrics
}

// CheckStrategy reports whether def builds a strategy RunPath can drive.
func (r *Runner) CheckStrategy(def types.StrategyDefinition) error {
	_, err := r.strategies.FromDefinition(def)
	return err
}

// RunPath drives the strategy over a price path, trading a long-only
// portfolio with commission and slippage, and measures the equity curve.
func (r *Runner) RunPath(def types.StrategyDefinition, path []types.MarketDataPoint, cfg *types.BacktestConfig) (*types.TrialResult, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("path of %d points: %w", len(path), ErrInsufficientData)
	}

	strat, err := r.strategies.FromDefinition(def)
	if err != nil {
		return nil, err
	}

	t := &trial{
		cfg:       cfg,
		size:      strategy.PositionSize(strat),
		slippage:  NewFixedSlippage(cfg.Slippage),
		portfolio: NewPortfolio(cfg.InitialCapital),
	}

	equity := make([]decimal.Decimal, 0, len(path))
	for _, point := range path {
		t.portfolio.UpdatePrice(point.Symbol, point.Close)
		if sig := strat.OnBar(point); sig != nil {
			t.execute(sig.Side, point)
		}
		equity = append(equity, t.portfolio.GetEquity())
	}

	returns := equityReturns(equity)
	perf := r.metrics.FromReturns(returns, cfg.RiskFreeRate)
	r.metrics.ApplyTrades(&perf, t.trades, cfg.InitialCapital)
	risk := r.metrics.Risk(returns)

	r.logger.Debug("Trial path complete",
		zap.Int("bars", len(path)),
		zap.Int("trades", len(t.trades)),
		zap.Float64("totalReturn", perf.TotalReturn),
		zap.String("pnl", t.portfolio.GetTotalPnL().StringFixed(2)),
	)

	return &types.TrialResult{
		Performance:  perf,
		Risk:         risk,
		Returns:      returns,
		Trades:       t.trades,
		Positions:    t.portfolio.Positions(),
		FinalCapital: equity[len(equity)-1],
		MaxDrawdown:  perf.MaxDrawdown,
		WorstDay:     risk.WorstDay,
		BestDay:      risk.BestDay,
		Volatility:   perf.Volatility,
		Simulated:    true,
	}, nil
}

// RunSeries measures a price path directly from its close-to-close returns
// as a fully invested holding, without strategy signals.
func (r *Runner) RunSeries(path []types.MarketDataPoint, cfg *types.BacktestConfig) (*types.TrialResult, error) {
	returns, err := PriceReturns(path)
	if err != nil {
		return nil, err
	}

	perf := r.metrics.FromReturns(returns, cfg.RiskFreeRate)
	risk := r.metrics.Risk(returns)

	final := cfg.InitialCapital.Mul(decimal.NewFromFloat(1 + perf.TotalReturn))

	return &types.TrialResult{
		Performance:  perf,
		Risk:         risk,
		Returns:      returns,
		FinalCapital: final,
		MaxDrawdown:  perf.MaxDrawdown,
		WorstDay:     risk.WorstDay,
		BestDay:      risk.BestDay,
		Volatility:   perf.Volatility,
		Simulated:    true,
	}, nil
}

// trial is the mutable state of one RunPath call
type trial struct {
	cfg       *types.BacktestConfig
	size      decimal.Decimal
	slippage  SlippageModel
	portfolio *Portfolio
	trades    []types.Trade
}

// execute opens a full position on buy signals and closes it on sell
// signals; signals that would pyramid or go short are ignored.
func (t *trial) execute(side types.OrderSide, point types.MarketDataPoint) {
	held := t.portfolio.GetPosition(point.Symbol)
	one := decimal.NewFromInt(1)

	switch side {
	case types.OrderSideBuy:
		if held != nil {
			return
		}
		fill := t.slippage.Fill(side, point.Close)
		if !fill.IsPositive() {
			return
		}
		budget := t.portfolio.GetCash().Mul(t.size)
		qty := budget.Div(fill.Mul(one.Add(t.cfg.Commission))).Truncate(quantityPrecision)
		if !qty.IsPositive() {
			return
		}
		commission := qty.Mul(fill).Mul(t.cfg.Commission)
		t.portfolio.Buy(point.Symbol, qty, fill, commission, point.Date)
		t.record(side, point, qty, fill, commission, decimal.Zero)

	case types.OrderSideSell:
		if held == nil {
			return
		}
		qty := held.Quantity
		fill := t.slippage.Fill(side, point.Close)
		commission := qty.Mul(fill).Mul(t.cfg.Commission)
		pnl := t.portfolio.Sell(point.Symbol, qty, fill, commission)
		t.record(side, point, qty, fill, commission, pnl)
	}
}

func (t *trial) record(side types.OrderSide, point types.MarketDataPoint, qty, fill, commission, pnl decimal.Decimal) {
	t.trades = append(t.trades, types.Trade{
		ID:         fmt.Sprintf("%s-%04d", point.Symbol, len(t.trades)+1),
		Symbol:     point.Symbol,
		Side:       side,
		Quantity:   qty,
		Price:      fill,
		Commission: commission,
		Slippage:   qty.Mul(fill.Sub(point.Close).Abs()),
		PnL:        pnl,
		ExecutedAt: point.Date,
	})
}

// equityReturns converts an equity curve into per-step returns. Steps from
// a non-positive equity are flat.
func equityReturns(equity []decimal.Decimal) []float64 {
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if !prev.IsPositive() {
			returns = append(returns, 0)
			continue
		}
		ret, _ := equity[i].Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	return returns
}
