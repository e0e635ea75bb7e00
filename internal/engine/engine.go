// Package engine holds what the Monte Carlo and bootstrap engines share:
// the Engine contract, base series preparation, progress tracking and run
// bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/backtester"
	"github.com/atlas-desktop/simulation-engine/internal/observability"
	"github.com/atlas-desktop/simulation-engine/internal/workers"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinimumBars is the series length below which a run logs an insufficient
// data warning.
const MinimumBars = 252

var (
	// ErrInvalidConfig is returned before any trial runs when the
	// configuration cannot produce a valid batch.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoMarketData is returned when the base symbol has no usable prices.
	ErrNoMarketData = errors.New("no market data for base symbol")
)

// ProgressFunc receives one update per finished trial. Calls never overlap.
type ProgressFunc func(types.Progress)

// Engine runs a stochastic backtest of one strategy
type Engine interface {
	Name() string
	Backtest(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig) (*types.EngineResult, error)
	BacktestWithProgress(ctx context.Context, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig, progress ProgressFunc) (*types.EngineResult, error)
}

// Invalid formats a configuration error.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// InvalidCause marks err as a configuration error, keeping it matchable.
func InvalidCause(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
}

// ValidateCapital checks the capital and cost fields of a backtest config.
func ValidateCapital(cfg *types.BacktestConfig) error {
	if cfg == nil {
		return Invalid("nil backtest config")
	}
	if !cfg.InitialCapital.IsPositive() {
		return Invalid("initial capital must be positive")
	}
	if cfg.Commission.IsNegative() || cfg.Slippage.IsNegative() {
		return Invalid("commission and slippage must be non-negative")
	}
	if !cfg.StartDate.IsZero() && !cfg.EndDate.IsZero() && cfg.EndDate.Before(cfg.StartDate) {
		return Invalid("end date %s before start date %s", cfg.EndDate.Format("2006-01-02"), cfg.StartDate.Format("2006-01-02"))
	}
	return nil
}

// BaseSeries returns the base symbol's points inside [StartDate, EndDate],
// in date order. Zero dates leave that side open. With no base symbol
// configured the alphabetically first symbol is used.
func BaseSeries(marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig) (string, []types.MarketDataPoint, error) {
	symbol := cfg.BaseSymbol
	if symbol == "" {
		symbols := make([]string, 0, len(marketData))
		for s := range marketData {
			symbols = append(symbols, s)
		}
		if len(symbols) == 0 {
			return "", nil, ErrNoMarketData
		}
		sort.Strings(symbols)
		symbol = symbols[0]
	}

	points, ok := marketData[symbol]
	if !ok || len(points) == 0 {
		return symbol, nil, fmt.Errorf("%w: %s", ErrNoMarketData, symbol)
	}

	series := make([]types.MarketDataPoint, 0, len(points))
	for _, p := range points {
		if !cfg.StartDate.IsZero() && p.Date.Before(cfg.StartDate) {
			continue
		}
		if !cfg.EndDate.IsZero() && p.Date.After(cfg.EndDate) {
			continue
		}
		series = append(series, p)
	}
	if len(series) == 0 {
		return symbol, nil, fmt.Errorf("%w: %s has no points in range", ErrNoMarketData, symbol)
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date)
	})
	return symbol, series, nil
}

// HistoricalReturns extracts close-to-close returns from a prepared series,
// each dated by the later point.
func HistoricalReturns(series []types.MarketDataPoint) ([]float64, []types.ReturnPoint, error) {
	returns, err := backtester.PriceReturns(series)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoMarketData, err)
	}

	dated := make([]types.ReturnPoint, len(returns))
	for i, r := range returns {
		dated[i] = types.ReturnPoint{Date: series[i+1].Date, Return: r}
	}
	return returns, dated, nil
}

// Seed returns seed, or a time-derived seed when it is zero.
func Seed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}

// Collect returns the successful trials in index order and the number of
// failed ones. Unstarted trials are neither.
func Collect(outcomes []workers.Outcome[types.TrialResult]) ([]types.TrialResult, int) {
	trials := make([]types.TrialResult, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		switch {
		case !o.Done:
		case o.Err != nil:
			failed++
		default:
			trials = append(trials, o.Value)
		}
	}
	return trials, failed
}

// Run is the bookkeeping of one engine invocation
type Run struct {
	ID        string
	Engine    string
	StartedAt time.Time

	logger *zap.Logger
}

// Begin starts a run, taking its ID from cfg or generating one.
func Begin(logger *zap.Logger, engine string, cfg *types.BacktestConfig) *Run {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	observability.RunStarted(engine)
	return &Run{
		ID:        id,
		Engine:    engine,
		StartedAt: time.Now(),
		logger:    logger.With(zap.String("engine", engine), zap.String("run_id", id)),
	}
}

// Logger returns the run-scoped logger
func (r *Run) Logger() *zap.Logger {
	return r.logger
}

// LogPool records the trial pool counters of the run
func (r *Run) LogPool(stats workers.PoolStats) {
	r.logger.Debug("Trial pool drained",
		zap.Int64("submitted", stats.TasksSubmitted),
		zap.Int64("completed", stats.TasksCompleted),
		zap.Int64("failed", stats.TasksFailed),
		zap.Int64("panics", stats.PanicRecovered),
		zap.Float64("throughput", stats.Throughput),
	)
}

// Fail records a run that ended with err.
func (r *Run) Fail(err error) {
	observability.RecordRun(r.Engine, observability.StatusFailed, time.Since(r.StartedAt).Seconds(), 0)
	r.logger.Error("Run failed", zap.Error(err))
}

// Finish builds the unified result around the representative trial and
// the averaged metrics, and records the run.
func (r *Run) Finish(rep types.TrialResult, perf types.PerformanceMetrics, risk types.RiskMetrics, returns []types.ReturnPoint, successful int, cancelled bool) *types.EngineResult {
	completed := time.Now()

	status := observability.StatusSucceeded
	if cancelled {
		status = observability.StatusCancelled
	}
	observability.RecordRun(r.Engine, status, completed.Sub(r.StartedAt).Seconds(), successful)

	trades := rep.Trades
	if trades == nil {
		trades = []types.Trade{}
	}
	positions := rep.Positions
	if positions == nil {
		positions = []types.Position{}
	}

	return &types.EngineResult{
		ID:          r.ID,
		Engine:      r.Engine,
		Simulated:   true,
		Returns:     returns,
		Trades:      trades,
		Positions:   positions,
		Performance: perf,
		Risk:        risk,
		StartedAt:   r.StartedAt,
		CompletedAt: completed,
		Duration:    completed.Sub(r.StartedAt),
	}
}

// Tracker counts finished trials and reports progress
type Tracker struct {
	id        string
	engine    string
	total     int
	completed int
	failed    int
	progress  ProgressFunc
}

// NewTracker creates a tracker for total trials of a run
func NewTracker(run *Run, total int, progress ProgressFunc) *Tracker {
	return &Tracker{id: run.ID, engine: run.Engine, total: total, progress: progress}
}

// Observe counts one finished trial and forwards the update.
func (t *Tracker) Observe(scenario types.ScenarioType, err error) types.Progress {
	if err != nil {
		t.failed++
	} else {
		t.completed++
	}
	observability.RecordTrial(t.engine, string(scenario), err)

	p := types.Progress{
		ID:        t.id,
		Engine:    t.engine,
		Scenario:  scenario,
		Completed: t.completed,
		Failed:    t.failed,
		Total:     t.total,
	}
	if t.total > 0 {
		p.Percent = float64(t.completed+t.failed) / float64(t.total) * 100
	}
	if t.progress != nil {
		t.progress(p)
	}
	return p
}
