// Package bootstrap estimates the sampling distribution of backtest metrics
// by resampling the historical base series with block, stationary or
// circular bootstrap.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/atlas-desktop/simulation-engine/internal/resample"
	"github.com/atlas-desktop/simulation-engine/internal/stats"
	"github.com/atlas-desktop/simulation-engine/internal/workers"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"go.uber.org/zap"
)

// Name identifies the engine in results, logs and metrics.
const Name = "bootstrap"

// Engine is the bootstrap engine. It keeps no state between runs.
type Engine struct {
	logger *zap.Logger
	runner *backtester.Runner
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates a bootstrap engine
func NewEngine(logger *zap.Logger, runner *backtester.Runner) *Engine {
	return &Engine{
		logger: logger,
		runner: runner,
	}
}

// Name returns the engine name
func (e *Engine) Name() string { return Name }

// Backtest runs the configured bootstrap batch
func (e *Engine) Backtest(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig) (*types.EngineResult, error) {
	return e.BacktestWithProgress(ctx, def, marketData, cfg, nil)
}

// BacktestWithProgress resamples the base series Samples times and measures
// every replicate as a fully invested holding. The strategy definition is
// accepted for interface parity; replicates carry no signals. Cancellation
// behaves as in the Monte Carlo engine.
func (e *Engine) BacktestWithProgress(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig, progress engine.ProgressFunc) (*types.EngineResult, error) {
	settings, err := validate(cfg)
	if err != nil {
		return nil, err
	}

	run := engine.Begin(e.logger, Name, cfg)
	logger := run.Logger()

	// Prepare
	symbol, series, err := engine.BaseSeries(marketData, cfg)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	if err := resample.ValidateBlockSize(settings.blockSize, len(series)); err != nil {
		err = engine.InvalidCause(err)
		run.Fail(err)
		return nil, err
	}
	if len(series) < engine.MinimumBars {
		logger.Warn("Base series shorter than one trading year",
			zap.String("symbol", symbol),
			zap.Int("points", len(series)),
			zap.Int("minimum", engine.MinimumBars),
		)
	}

	// Extract
	_, dated, err := engine.HistoricalReturns(series)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	original, err := e.runner.RunSeries(series, cfg)
	if err != nil {
		err = fmt.Errorf("original series: %w", err)
		run.Fail(err)
		return nil, err
	}

	logger.Info("Bootstrap run prepared",
		zap.String("symbol", symbol),
		zap.Int("points", len(series)),
		zap.Int("samples", settings.samples),
		zap.String("bootstrapType", string(settings.kind)),
		zap.Int("blockSize", settings.blockSize),
		zap.Int64("seed", settings.seed),
		zap.Float64("originalReturn", original.Performance.TotalReturn),
	)

	// Generate
	job := func(ctx context.Context, i int) (types.TrialResult, error) {
		rng := random.New(random.Derive(settings.seed, i))

		sample, err := settings.resampler(rng, series, settings.blockSize)
		if err != nil {
			return types.TrialResult{}, fmt.Errorf("sample %d: %w", i, err)
		}

		result, err := e.runner.RunSeries(sample, cfg)
		if err != nil {
			return types.TrialResult{}, fmt.Errorf("sample %d: %w", i, err)
		}

		result.Index = i
		result.SampleIndex = i
		return *result, nil
	}

	tracker := engine.NewTracker(run, settings.samples, progress)
	onDone := func(o workers.Outcome[types.TrialResult]) {
		tracker.Observe("", o.Err)
		if o.Err != nil {
			logger.Warn("Sample skipped", zap.Int("index", o.Index), zap.Error(o.Err))
		}
	}

	poolConfig := workers.DefaultPoolConfig(Name)
	if settings.workers > 0 {
		poolConfig.NumWorkers = settings.workers
	}
	pool := workers.NewPool(e.logger, poolConfig)
	outcomes, runErr := workers.Run(ctx, pool, settings.samples, job, onDone)
	run.LogPool(pool.Stats())
	cancelled := runErr != nil
	if cancelled {
		logger.Warn("Run cancelled, aggregating completed samples", zap.Error(runErr))
	}

	trials, failed := engine.Collect(outcomes)
	logger.Info("Resampling complete",
		zap.Int("successful", len(trials)),
		zap.Int("failed", failed),
	)

	// Aggregate
	if len(trials) == 0 {
		err := fmt.Errorf("%d samples attempted: %w", settings.samples, stats.ErrNoResults)
		if cancelled {
			err = errors.Join(err, runErr)
		}
		run.Fail(err)
		return nil, err
	}

	intervals, err := stats.MetricIntervals(trials, settings.levels)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	robustness, err := stats.Robustness(trials)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	perf, risk, err := stats.Average(trials)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	rep, err := stats.Representative(trials)
	if err != nil {
		run.Fail(err)
		return nil, err
	}

	totals := stats.Extract(trials, stats.MetricTotalReturn)
	report := &types.BootstrapReport{
		Samples:             settings.samples,
		SuccessfulSamples:   len(trials),
		FailedSamples:       failed,
		Cancelled:           cancelled,
		Seed:                settings.seed,
		BootstrapType:       settings.kind,
		BlockSize:           settings.blockSize,
		Original:            original.Performance,
		Bias:                stats.Mean(totals) - original.Performance.TotalReturn,
		StandardError:       stats.StdDev(totals),
		ConfidenceIntervals: intervals,
		Pool:                stats.Summarize(trials),
		Robustness:          robustness,
		Diagnostics:         stats.Diagnose(trials),
	}

	result := run.Finish(rep, perf, risk, dated, len(trials), cancelled)
	result.Bootstrap = report

	logger.Info("Bootstrap run complete",
		zap.Bool("cancelled", cancelled),
		zap.Float64("averageReturn", perf.TotalReturn),
		zap.Float64("bias", report.Bias),
		zap.Float64("standardError", report.StandardError),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

type settings struct {
	samples   int
	blockSize int
	kind      types.BootstrapType
	resampler resample.Resampler
	levels    []float64
	seed      int64
	workers   int
}

// validate fails fast on configuration that does not depend on the data.
// The block size is checked against the series once it is prepared.
func validate(cfg *types.BacktestConfig) (settings, error) {
	if err := engine.ValidateCapital(cfg); err != nil {
		return settings{}, err
	}

	bs := cfg.Bootstrap
	if bs.Samples <= 0 {
		return settings{}, engine.Invalid("samples must be positive, got %d", bs.Samples)
	}
	if bs.BlockSize <= 0 {
		return settings{}, engine.InvalidCause(fmt.Errorf("%w: %d", resample.ErrBlockSize, bs.BlockSize))
	}

	kind := bs.BootstrapType
	if kind == "" {
		kind = types.BootstrapBlock
	}
	resampler, err := resample.Lookup(kind)
	if err != nil {
		return settings{}, engine.InvalidCause(err)
	}

	levels := bs.ConfidenceLevels
	if len(levels) == 0 {
		levels = types.DefaultConfidenceLevels()
	}
	if err := stats.ValidateLevels(levels); err != nil {
		return settings{}, engine.InvalidCause(err)
	}

	return settings{
		samples:   bs.Samples,
		blockSize: bs.BlockSize,
		kind:      kind,
		resampler: resampler,
		levels:    append([]float64(nil), levels...),
		seed:      engine.Seed(bs.Seed),
		workers:   bs.Workers,
	}, nil
}
