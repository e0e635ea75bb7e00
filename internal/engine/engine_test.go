package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/workers"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func point(symbol string, day int, price float64) types.MarketDataPoint {
	return types.MarketDataPoint{Date: day0.AddDate(0, 0, day), Symbol: symbol, Close: decimal.NewFromFloat(price)}
}

func TestValidateCapital(t *testing.T) {
	valid := func() *types.BacktestConfig {
		return &types.BacktestConfig{InitialCapital: decimal.NewFromInt(1000)}
	}

	require.NoError(t, engine.ValidateCapital(valid()))

	tests := []struct {
		name   string
		mutate func(*types.BacktestConfig)
	}{
		{"zero capital", func(c *types.BacktestConfig) { c.InitialCapital = decimal.Zero }},
		{"negative commission", func(c *types.BacktestConfig) { c.Commission = decimal.NewFromFloat(-0.01) }},
		{"negative slippage", func(c *types.BacktestConfig) { c.Slippage = decimal.NewFromFloat(-0.01) }},
		{"reversed dates", func(c *types.BacktestConfig) {
			c.StartDate = day0.AddDate(0, 1, 0)
			c.EndDate = day0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, engine.ValidateCapital(cfg), engine.ErrInvalidConfig)
		})
	}

	assert.ErrorIs(t, engine.ValidateCapital(nil), engine.ErrInvalidConfig)
}

func TestInvalidCauseKeepsBothErrors(t *testing.T) {
	cause := errors.New("block size too large")
	err := engine.InvalidCause(cause)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
	assert.ErrorIs(t, err, cause)
}

func TestBaseSeries(t *testing.T) {
	marketData := map[string][]types.MarketDataPoint{
		"QQQ": {point("QQQ", 2, 12), point("QQQ", 0, 10), point("QQQ", 1, 11)},
		"SPY": {point("SPY", 0, 100)},
	}

	symbol, series, err := engine.BaseSeries(marketData, &types.BacktestConfig{})
	require.NoError(t, err)
	assert.Equal(t, "QQQ", symbol, "alphabetically first")
	require.Len(t, series, 3)
	assert.True(t, series[0].Close.Equal(decimal.NewFromInt(10)))
	assert.True(t, series[2].Close.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, day0.AddDate(0, 0, 2), marketData["QQQ"][0].Date, "input untouched")

	_, series, err = engine.BaseSeries(marketData, &types.BacktestConfig{BaseSymbol: "QQQ", StartDate: day0.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, series, 2)

	_, _, err = engine.BaseSeries(marketData, &types.BacktestConfig{BaseSymbol: "QQQ", EndDate: day0.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, engine.ErrNoMarketData)

	_, _, err = engine.BaseSeries(marketData, &types.BacktestConfig{BaseSymbol: "IWM"})
	assert.ErrorIs(t, err, engine.ErrNoMarketData)

	_, _, err = engine.BaseSeries(nil, &types.BacktestConfig{})
	assert.ErrorIs(t, err, engine.ErrNoMarketData)
}

func TestHistoricalReturns(t *testing.T) {
	series := []types.MarketDataPoint{point("SPY", 0, 100), point("SPY", 1, 110), point("SPY", 2, 99)}

	returns, dated, err := engine.HistoricalReturns(series)
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-12)
	assert.InDelta(t, -0.10, returns[1], 1e-12)
	assert.Equal(t, day0.AddDate(0, 0, 1), dated[0].Date)
	assert.Equal(t, returns[1], dated[1].Return)

	_, _, err = engine.HistoricalReturns(series[:1])
	assert.ErrorIs(t, err, engine.ErrNoMarketData)
}

func TestSeed(t *testing.T) {
	assert.Equal(t, int64(42), engine.Seed(42))
	assert.NotZero(t, engine.Seed(0))
}

func TestCollect(t *testing.T) {
	outcomes := []workers.Outcome[types.TrialResult]{
		{Index: 0, Value: types.TrialResult{Index: 0}, Done: true},
		{Index: 1, Err: errors.New("boom"), Done: true},
		{Index: 2},
		{Index: 3, Value: types.TrialResult{Index: 3}, Done: true},
	}

	trials, failed := engine.Collect(outcomes)
	assert.Equal(t, 1, failed)
	require.Len(t, trials, 2)
	assert.Equal(t, 0, trials[0].Index)
	assert.Equal(t, 3, trials[1].Index)
}

func TestTrackerReportsProgress(t *testing.T) {
	run := engine.Begin(zap.NewNop(), "test-engine", &types.BacktestConfig{ID: "run-1"})
	assert.Equal(t, "run-1", run.ID)

	var updates []types.Progress
	tracker := engine.NewTracker(run, 4, func(p types.Progress) {
		updates = append(updates, p)
	})

	tracker.Observe(types.ScenarioNormalReturns, nil)
	tracker.Observe(types.ScenarioMarketCrash, errors.New("failed"))
	last := tracker.Observe(types.ScenarioNormalReturns, nil)

	require.Len(t, updates, 3)
	assert.Equal(t, last, updates[2])
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, 1, last.Failed)
	assert.InDelta(t, 75, last.Percent, 1e-12)
	assert.Equal(t, "run-1", last.ID)
	assert.Equal(t, types.ScenarioMarketCrash, updates[1].Scenario)

	run.Fail(errors.New("done with test"))
}

func TestRunFinish(t *testing.T) {
	run := engine.Begin(zap.NewNop(), "test-engine", &types.BacktestConfig{})
	assert.NotEmpty(t, run.ID, "generated")

	perf := types.PerformanceMetrics{TotalReturn: 0.1}
	res := run.Finish(types.TrialResult{}, perf, types.RiskMetrics{}, nil, 3, false)

	assert.Equal(t, run.ID, res.ID)
	assert.Equal(t, "test-engine", res.Engine)
	assert.True(t, res.Simulated)
	assert.NotNil(t, res.Trades)
	assert.NotNil(t, res.Positions)
	assert.Equal(t, perf, res.Performance)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
}

func TestRunLogPool(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	run := engine.Begin(zap.New(core), "test-engine", &types.BacktestConfig{ID: "run-pool"})

	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	_, err := workers.Run(context.Background(), pool, 3, func(ctx context.Context, i int) (int, error) {
		if i == 1 {
			return 0, errors.New("boom")
		}
		return i, nil
	}, nil)
	require.NoError(t, err)

	run.LogPool(pool.Stats())

	entries := logs.FilterMessage("Trial pool drained").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-pool", fields["run_id"])
	assert.Equal(t, int64(3), fields["submitted"])
	assert.Equal(t, int64(2), fields["completed"])
	assert.Equal(t, int64(1), fields["failed"])
	assert.Equal(t, int64(0), fields["panics"])
}
