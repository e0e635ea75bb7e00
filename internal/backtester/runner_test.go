package backtester_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/strategy"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRunner() *backtester.Runner {
	logger := zap.NewNop()
	return backtester.NewRunner(logger, strategy.NewRegistry(logger))
}

func pricePath(closes ...float64) []types.MarketDataPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := make([]types.MarketDataPoint, len(closes))
	for i, c := range closes {
		path[i] = types.MarketDataPoint{
			Date:   start.AddDate(0, 0, i),
			Symbol: "SIM",
			Close:  decimal.NewFromFloat(c),
			Volume: decimal.NewFromInt(1000),
		}
	}
	return path
}

func fastTrend() types.StrategyDefinition {
	return types.StrategyDefinition{
		Name:       "fast trend",
		Type:       "trend_following",
		Parameters: map[string]any{"fast_period": 2, "slow_period": 4},
	}
}

func baseConfig() *types.BacktestConfig {
	return &types.BacktestConfig{
		ID:             "runner-test",
		InitialCapital: decimal.NewFromInt(10000),
	}
}

func TestRunPathRoundTrip(t *testing.T) {
	r := newRunner()
	path := pricePath(100, 100, 100, 100, 100, 104, 108, 112, 116, 110, 100, 90, 80)

	res, err := r.RunPath(fastTrend(), path, baseConfig())
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, types.OrderSideBuy, res.Trades[0].Side)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(104)))
	assert.Equal(t, types.OrderSideSell, res.Trades[1].Side)
	assert.True(t, res.Trades[1].PnL.IsNegative())
	assert.Empty(t, res.Positions)

	assert.Len(t, res.Returns, len(path)-1)
	assert.InDelta(t, 9615.3846, res.FinalCapital.InexactFloat64(), 1e-3)
	assert.InDelta(t, -0.0384615, res.Performance.TotalReturn, 1e-6)
	assert.Equal(t, 1, res.Performance.TotalTrades)
	assert.Equal(t, 1, res.Performance.LosingTrades)
	assert.Zero(t, res.Performance.WinRate)
	assert.True(t, res.Simulated)
	assert.Equal(t, res.Performance.MaxDrawdown, res.MaxDrawdown)
	assert.GreaterOrEqual(t, res.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, res.MaxDrawdown, 1.0)
}

func TestRunPathCostsReduceCapital(t *testing.T) {
	r := newRunner()
	path := pricePath(100, 100, 100, 100, 100, 104, 108, 112, 116, 110, 100, 90, 80)

	free, err := r.RunPath(fastTrend(), path, baseConfig())
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.Commission = decimal.NewFromFloat(0.001)
	cfg.Slippage = decimal.NewFromFloat(0.002)
	costly, err := r.RunPath(fastTrend(), path, cfg)
	require.NoError(t, err)

	assert.True(t, costly.FinalCapital.LessThan(free.FinalCapital))
	assert.True(t, costly.Trades[0].Commission.IsPositive())
	assert.True(t, costly.Trades[0].Slippage.IsPositive())
	assert.True(t, costly.Trades[0].Price.GreaterThan(decimal.NewFromInt(104)))
}

func TestRunPathOpenPositionIsReported(t *testing.T) {
	r := newRunner()
	path := pricePath(100, 100, 100, 100, 100, 104, 108, 112, 116, 120)

	res, err := r.RunPath(fastTrend(), path, baseConfig())
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	require.Len(t, res.Positions, 1)
	pos := res.Positions[0]
	assert.Equal(t, "SIM", pos.Symbol)
	assert.Equal(t, types.PositionSideLong, pos.Side)
	assert.True(t, pos.CurrentPrice.Equal(decimal.NewFromInt(120)))
	assert.True(t, pos.UnrealizedPnL.IsPositive())
	assert.True(t, res.FinalCapital.GreaterThan(decimal.NewFromInt(10000)))
	assert.Zero(t, res.Performance.TotalTrades)
}

func TestRunPathFlatPath(t *testing.T) {
	r := newRunner()
	closes := make([]float64, 252)
	for i := range closes {
		closes[i] = 50
	}

	res, err := r.RunPath(types.StrategyDefinition{}, pricePath(closes...), baseConfig())
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Zero(t, res.Performance.TotalReturn)
	assert.Zero(t, res.MaxDrawdown)
	assert.True(t, res.FinalCapital.Equal(decimal.NewFromInt(10000)))
}

func TestRunPathInsufficientData(t *testing.T) {
	r := newRunner()

	_, err := r.RunPath(fastTrend(), pricePath(100), baseConfig())
	assert.ErrorIs(t, err, backtester.ErrInsufficientData)

	_, err = r.RunSeries(nil, baseConfig())
	assert.ErrorIs(t, err, backtester.ErrInsufficientData)
}

func TestRunSeries(t *testing.T) {
	r := newRunner()

	res, err := r.RunSeries(pricePath(100, 110, 99, 99), baseConfig())
	require.NoError(t, err)

	assert.Len(t, res.Returns, 3)
	assert.InDelta(t, -0.01, res.Performance.TotalReturn, 1e-12)
	assert.InDelta(t, 0.1, res.MaxDrawdown, 1e-12)
	assert.InDelta(t, 9900, res.FinalCapital.InexactFloat64(), 1e-6)
	assert.InDelta(t, -0.1, res.WorstDay, 1e-12)
	assert.InDelta(t, 0.1, res.BestDay, 1e-12)
	assert.Empty(t, res.Trades)
}

func TestPortfolioBuySell(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(1000))
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	p.Buy("SIM", decimal.NewFromInt(5), decimal.NewFromInt(100), decimal.NewFromInt(1), at)
	assert.True(t, p.GetCash().Equal(decimal.NewFromInt(499)))

	p.UpdatePrice("SIM", decimal.NewFromInt(90))
	assert.True(t, p.GetEquity().Equal(decimal.NewFromInt(949)))
	assert.True(t, p.GetTotalPnL().Equal(decimal.NewFromInt(-51)))

	positions := p.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, at, positions[0].OpenedAt)
	assert.True(t, positions[0].UnrealizedPnL.Equal(decimal.NewFromInt(-50)))

	pnl := p.Sell("SIM", decimal.NewFromInt(10), decimal.NewFromInt(120), decimal.NewFromInt(1))
	assert.True(t, pnl.Equal(decimal.NewFromInt(99)))
	assert.Nil(t, p.GetPosition("SIM"))
	assert.True(t, p.GetCash().Equal(decimal.NewFromInt(1098)))
	assert.True(t, p.GetTotalPnL().Equal(decimal.NewFromInt(98)))

	assert.True(t, p.Sell("NONE", decimal.NewFromInt(1), decimal.NewFromInt(1), decimal.Zero).IsZero())
}
