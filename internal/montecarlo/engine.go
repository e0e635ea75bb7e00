// Package montecarlo runs a strategy over synthetic price paths drawn from
// the scenario generators and aggregates the trials into confidence
// intervals, scenario breakdowns, robustness scores and stress tests.
package montecarlo

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/atlas-desktop/simulation-engine/internal/scenario"
	"github.com/atlas-desktop/simulation-engine/internal/stats"
	"github.com/atlas-desktop/simulation-engine/internal/workers"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"go.uber.org/zap"
)

// Name identifies the engine in results, logs and metrics.
const Name = "montecarlo"

// Engine is the Monte Carlo engine. It keeps no state between runs.
type Engine struct {
	logger *zap.Logger
	runner *backtester.Runner
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates a Monte Carlo engine
func NewEngine(logger *zap.Logger, runner *backtester.Runner) *Engine {
	return &Engine{
		logger: logger,
		runner: runner,
	}
}

// Name returns the engine name
func (e *Engine) Name() string { return Name }

// Backtest runs the configured Monte Carlo batch
func (e *Engine) Backtest(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig) (*types.EngineResult, error) {
	return e.BacktestWithProgress(ctx, def, marketData, cfg, nil)
}

// BacktestWithProgress runs the configured Monte Carlo batch, reporting every
// finished trial to progress. A cancelled context stops new trials from
// starting and the completed ones are aggregated with Cancelled set.
func (e *Engine) BacktestWithProgress(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig, progress engine.ProgressFunc) (*types.EngineResult, error) {
	settings, err := validate(cfg)
	if err != nil {
		return nil, err
	}
	if err := e.runner.CheckStrategy(def); err != nil {
		return nil, engine.InvalidCause(err)
	}

	run := engine.Begin(e.logger, Name, cfg)
	logger := run.Logger()

	// Prepare
	symbol, series, err := engine.BaseSeries(marketData, cfg)
	if err != nil {
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
	history, dated, err := engine.HistoricalReturns(series)
	if err != nil {
		run.Fail(err)
		return nil, err
	}

	length := settings.pathLength
	if length == 0 {
		length = len(history)
	}

	logger.Info("Monte Carlo run prepared",
		zap.String("symbol", symbol),
		zap.Int("points", len(series)),
		zap.Int("simulations", settings.simulations),
		zap.Int("scenarios", len(settings.scenarios)),
		zap.Int("pathLength", length),
		zap.Int64("seed", settings.seed),
	)

	// Generate
	plan := Plan(settings.simulations, settings.scenarios)
	remaining := make(map[types.ScenarioType]int, len(settings.scenarios))
	for _, s := range plan {
		remaining[s]++
	}

	start := series[0]
	job := func(ctx context.Context, i int) (types.TrialResult, error) {
		kind := plan[i]
		rng := random.New(random.Derive(settings.seed, i))

		path, err := scenario.Generate(kind, rng, history, length)
		if err != nil {
			return types.TrialResult{}, fmt.Errorf("trial %d (%s): %w", i, kind, err)
		}

		prices := scenario.PricePath(symbol, start.Date, start.Close, path.Returns)
		result, err := e.runner.RunPath(def, prices, cfg)
		if err != nil {
			return types.TrialResult{}, fmt.Errorf("trial %d (%s): %w", i, kind, err)
		}

		result.Index = i
		result.Scenario = kind
		result.CrashEvents = path.CrashEvents
		return *result, nil
	}

	tracker := engine.NewTracker(run, len(plan), progress)
	onDone := func(o workers.Outcome[types.TrialResult]) {
		kind := plan[o.Index]
		tracker.Observe(kind, o.Err)
		if o.Err != nil {
			logger.Warn("Trial skipped", zap.Int("index", o.Index), zap.Error(o.Err))
		}

		remaining[kind]--
		if remaining[kind] == 0 {
			logger.Info("Scenario complete", zap.String("scenario", string(kind)))
		}
	}

	poolConfig := workers.DefaultPoolConfig(Name)
	if settings.workers > 0 {
		poolConfig.NumWorkers = settings.workers
	}
	pool := workers.NewPool(e.logger, poolConfig)
	outcomes, runErr := workers.Run(ctx, pool, len(plan), job, onDone)
	run.LogPool(pool.Stats())
	cancelled := runErr != nil
	if cancelled {
		logger.Warn("Run cancelled, aggregating completed trials", zap.Error(runErr))
	}

	trials, failed := engine.Collect(outcomes)

	// Aggregate
	if len(trials) == 0 {
		err := fmt.Errorf("%d trials attempted: %w", len(plan), stats.ErrNoResults)
		if cancelled {
			err = errors.Join(err, runErr)
		}
		run.Fail(err)
		return nil, err
	}

	report, err := aggregate(trials, settings)
	if err != nil {
		run.Fail(err)
		return nil, err
	}
	report.Simulations = len(plan)
	report.SuccessfulTrials = len(trials)
	report.FailedTrials = failed
	report.Cancelled = cancelled
	report.Seed = settings.seed

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

	result := run.Finish(rep, perf, risk, dated, len(trials), cancelled)
	result.MonteCarlo = report

	logger.Info("Monte Carlo run complete",
		zap.Int("successful", len(trials)),
		zap.Int("failed", failed),
		zap.Bool("cancelled", cancelled),
		zap.Float64("averageReturn", perf.TotalReturn),
		zap.Float64("robustness", report.Robustness.Score),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// Plan assigns a scenario to every trial index. Simulations are split
// evenly and the remainder goes to the first scenarios, one each. Indices
// of one scenario are contiguous.
func Plan(simulations int, scenarios []types.ScenarioType) []types.ScenarioType {
	if len(scenarios) == 0 || simulations <= 0 {
		return nil
	}

	per := simulations / len(scenarios)
	extra := simulations % len(scenarios)

	plan := make([]types.ScenarioType, 0, simulations)
	for i, s := range scenarios {
		count := per
		if i < extra {
			count++
		}
		for j := 0; j < count; j++ {
			plan = append(plan, s)
		}
	}
	return plan
}

type settings struct {
	simulations int
	scenarios   []types.ScenarioType
	levels      []float64
	stress      []types.ScenarioType
	seed        int64
	workers     int
	pathLength  int
}

// validate fails fast on anything that would make the whole batch invalid.
func validate(cfg *types.BacktestConfig) (settings, error) {
	if err := engine.ValidateCapital(cfg); err != nil {
		return settings{}, err
	}

	mc := cfg.MonteCarlo
	if mc.Simulations <= 0 {
		return settings{}, engine.Invalid("simulations must be positive, got %d", mc.Simulations)
	}
	if len(mc.ScenarioTypes) == 0 {
		return settings{}, engine.Invalid("no scenario types configured")
	}
	if err := scenario.Validate(mc.ScenarioTypes); err != nil {
		return settings{}, engine.InvalidCause(err)
	}
	if mc.PathLength < 0 {
		return settings{}, engine.Invalid("path length must be non-negative, got %d", mc.PathLength)
	}

	levels := mc.ConfidenceLevels
	if len(levels) == 0 {
		levels = types.DefaultConfidenceLevels()
	}
	if err := stats.ValidateLevels(levels); err != nil {
		return settings{}, engine.InvalidCause(err)
	}

	stress := mc.StressScenarios
	if len(stress) == 0 {
		stress = types.DefaultStressScenarios()
	}
	if err := scenario.Validate(stress); err != nil {
		return settings{}, engine.InvalidCause(fmt.Errorf("stress scenarios: %w", err))
	}

	scenarios := make([]types.ScenarioType, len(mc.ScenarioTypes))
	copy(scenarios, mc.ScenarioTypes)

	return settings{
		simulations: mc.Simulations,
		scenarios:   scenarios,
		levels:      append([]float64(nil), levels...),
		stress:      append([]types.ScenarioType(nil), stress...),
		seed:        engine.Seed(mc.Seed),
		workers:     mc.Workers,
		pathLength:  mc.PathLength,
	}, nil
}

func aggregate(trials []types.TrialResult, s settings) (*types.MonteCarloReport, error) {
	intervals, err := stats.MetricIntervals(trials, s.levels)
	if err != nil {
		return nil, err
	}
	robustness, err := stats.Robustness(trials)
	if err != nil {
		return nil, err
	}

	return &types.MonteCarloReport{
		ConfidenceIntervals: intervals,
		Scenarios:           stats.Breakdown(trials),
		Robustness:          robustness,
		Diagnostics:         stats.Diagnose(trials),
		StressTests:         stats.StressTest(trials, s.stress),
		ScenarioDiagnostics: stats.ScenarioDiagnostics(trials),
	}, nil
}
