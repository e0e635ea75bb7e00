package bootstrap_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/bootstrap"
	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/resample"
	"github.com/atlas-desktop/simulation-engine/internal/stats"
	"github.com/atlas-desktop/simulation-engine/internal/strategy"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func newEngine() *bootstrap.Engine {
	logger := zap.NewNop()
	return bootstrap.NewEngine(logger, backtester.NewRunner(logger, strategy.NewRegistry(logger)))
}

func series(n int, price func(i int) float64) map[string][]types.MarketDataPoint {
	points := make([]types.MarketDataPoint, n)
	for i := range points {
		points[i] = types.MarketDataPoint{
			Date:   start.AddDate(0, 0, i),
			Symbol: "SPY",
			Close:  decimal.NewFromFloat(price(i)).Round(4),
		}
	}
	return map[string][]types.MarketDataPoint{"SPY": points}
}

func flat(n int) map[string][]types.MarketDataPoint {
	return series(n, func(int) float64 { return 100 })
}

func wavy(n int) map[string][]types.MarketDataPoint {
	return series(n, func(i int) float64 {
		return 100 * (1 + 0.1*math.Sin(float64(i)/7)) * (1 + 0.001*float64(i))
	})
}

func config(samples, blockSize int, kind types.BootstrapType) *types.BacktestConfig {
	return &types.BacktestConfig{
		ID:             "bs-test",
		BaseSymbol:     "SPY",
		InitialCapital: decimal.NewFromInt(10000),
		Bootstrap: types.BootstrapConfig{
			Samples:          samples,
			BlockSize:        blockSize,
			BootstrapType:    kind,
			ConfidenceLevels: []float64{0.90, 0.95, 0.99},
			Seed:             7,
			Workers:          4,
		},
	}
}

func TestFlatSeriesHasNoReturnOrDrawdown(t *testing.T) {
	res, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, flat(252), config(100, 5, types.BootstrapBlock))
	require.NoError(t, err)

	bs := res.Bootstrap
	require.NotNil(t, bs)
	assert.Equal(t, 100, bs.Samples)
	assert.Equal(t, 100, bs.SuccessfulSamples)
	assert.Equal(t, 100, bs.Pool.Trials)
	assert.Zero(t, bs.Pool.SuccessRate)

	for _, metric := range []string{stats.MetricTotalReturn, stats.MetricMaxDrawdown, stats.MetricVolatility} {
		for _, ci := range bs.ConfidenceIntervals[metric] {
			assert.InDelta(t, 0, ci.Lower, 1e-12, metric)
			assert.InDelta(t, 0, ci.Upper, 1e-12, metric)
		}
	}
	for _, ci := range bs.ConfidenceIntervals[stats.MetricFinalCapital] {
		assert.InDelta(t, 10000, ci.Median, 1e-9)
	}

	assert.InDelta(t, 0, res.Performance.TotalReturn, 1e-12)
	assert.InDelta(t, 0, res.Performance.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0, bs.Bias, 1e-12)
	assert.InDelta(t, 0, bs.StandardError, 1e-12)
	assert.Empty(t, res.Trades)
	assert.Len(t, res.Returns, 251)
}

func TestFullBlockReproducesOriginal(t *testing.T) {
	data := wavy(200)

	res, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, data, config(20, 200, types.BootstrapBlock))
	require.NoError(t, err)

	bs := res.Bootstrap
	assert.InDelta(t, 0, bs.Bias, 1e-12)
	assert.InDelta(t, 0, bs.StandardError, 1e-12)
	assert.InDelta(t, bs.Original.TotalReturn, res.Performance.TotalReturn, 1e-12)
	assert.InDelta(t, bs.Original.MaxDrawdown, res.Performance.MaxDrawdown, 1e-12)
}

func TestResamplingSpreadsOutcomes(t *testing.T) {
	for _, kind := range []types.BootstrapType{types.BootstrapBlock, types.BootstrapStationary, types.BootstrapCircular} {
		t.Run(string(kind), func(t *testing.T) {
			res, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, wavy(300), config(60, 10, kind))
			require.NoError(t, err)

			bs := res.Bootstrap
			assert.Equal(t, kind, bs.BootstrapType)
			assert.Equal(t, 60, bs.SuccessfulSamples)
			assert.Greater(t, bs.StandardError, 0.0)

			for _, ci := range bs.ConfidenceIntervals[stats.MetricTotalReturn] {
				assert.LessOrEqual(t, ci.Lower, ci.Median)
				assert.LessOrEqual(t, ci.Median, ci.Upper)
			}
		})
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	e := newEngine()

	first, err := e.Backtest(context.Background(), types.StrategyDefinition{}, wavy(300), config(40, 15, types.BootstrapStationary))
	require.NoError(t, err)

	cfg := config(40, 15, types.BootstrapStationary)
	cfg.Bootstrap.Workers = 1
	second, err := e.Backtest(context.Background(), types.StrategyDefinition{}, wavy(300), cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Bootstrap, second.Bootstrap)
	assert.Equal(t, first.Performance, second.Performance)
}

func TestBacktestDefaultsBootstrapType(t *testing.T) {
	res, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, wavy(100), config(5, 10, ""))
	require.NoError(t, err)
	assert.Equal(t, types.BootstrapBlock, res.Bootstrap.BootstrapType)
}

func TestBacktestRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *types.BacktestConfig
		cause error
	}{
		{"zero samples", config(0, 5, types.BootstrapBlock), nil},
		{"zero block", config(10, 0, types.BootstrapBlock), resample.ErrBlockSize},
		{"block longer than series", config(10, 101, types.BootstrapBlock), resample.ErrBlockSize},
		{"unknown type", config(10, 5, "moving"), resample.ErrUnknownBootstrap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, wavy(100), tt.cfg)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, engine.ErrInvalidConfig)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestBacktestWithoutMarketData(t *testing.T) {
	cfg := config(10, 5, types.BootstrapBlock)
	cfg.BaseSymbol = "QQQ"

	_, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, wavy(100), cfg)
	assert.ErrorIs(t, err, engine.ErrNoMarketData)
}

func TestBacktestSinglePointSeries(t *testing.T) {
	_, err := newEngine().Backtest(context.Background(), types.StrategyDefinition{}, flat(1), config(10, 1, types.BootstrapBlock))
	assert.ErrorIs(t, err, engine.ErrNoMarketData)
	assert.ErrorIs(t, err, backtester.ErrInsufficientData)
}

func TestBacktestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config(50, 5, types.BootstrapCircular)
	cfg.Bootstrap.Workers = 1

	res, err := newEngine().BacktestWithProgress(ctx, types.StrategyDefinition{}, wavy(120), cfg, func(p types.Progress) {
		if p.Completed == 10 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.True(t, res.Bootstrap.Cancelled)
	assert.Equal(t, 10, res.Bootstrap.SuccessfulSamples)
	assert.Equal(t, 10, res.Bootstrap.Pool.Trials)
}
