package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/bootstrap"
	"github.com/atlas-desktop/simulation-engine/internal/montecarlo"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runOptions are the flags shared by the simulation commands
type runOptions struct {
	id           string
	sources      []string
	strategyType string
	strategyFile string
	params       map[string]string
	start        string
	end          string
	output       string
	quiet        bool
}

var backtestKeys = map[string]string{
	"symbol":         "backtest.base_symbol",
	"capital":        "backtest.initial_capital",
	"commission":     "backtest.commission",
	"slippage":       "backtest.slippage",
	"risk-free-rate": "backtest.risk_free_rate",
}

var (
	mcOptions runOptions
	bsOptions runOptions
)

// montecarloCmd represents the montecarlo command
var montecarloCmd = &cobra.Command{
	Use:   "montecarlo",
	Short: "Run a strategy across synthetic scenario paths",
	Long: `Generates price paths from the historical returns of the base symbol
under each configured scenario, runs the strategy on every path and
aggregates the trials.

Scenarios: normal_returns, fat_tail_returns, regime_switching,
volatility_clustering, market_crash, bull_market, bear_market.

Example:
  simctl montecarlo --data SPY=./SPY.json --simulations 1000 --seed 42 \
    --scenarios normal_returns,market_crash --strategy momentum`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulation(cmd, montecarlo.Name, &mcOptions, func(cfg *types.BacktestConfig) int {
			return cfg.MonteCarlo.Simulations
		})
	},
}

// bootstrapCmd represents the bootstrap command
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Resample the historical series and rerun it",
	Long: `Builds resampled price series from blocks of the base symbol's history
and measures the distribution of their performance.

Bootstrap types: block, stationary, circular.

Example:
  simctl bootstrap --data ./SPY.json --samples 1000 --block-size 20 --type stationary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulation(cmd, bootstrap.Name, &bsOptions, func(cfg *types.BacktestConfig) int {
			return cfg.Bootstrap.Samples
		})
	},
}

func init() {
	rootCmd.AddCommand(montecarloCmd)
	rootCmd.AddCommand(bootstrapCmd)

	mcOptions.register(montecarloCmd)
	mcFlags := montecarloCmd.Flags()
	mcFlags.Int("simulations", 1000, "number of simulated paths")
	mcFlags.StringSlice("scenarios", nil, "scenario types to cycle through (default all)")
	mcFlags.StringSlice("stress", nil, "scenarios reported as stress tests (default market_crash,bear_market)")
	mcFlags.Int64("seed", 0, "random seed, 0 for a time-derived seed")
	mcFlags.Int("workers", 0, "parallel trials, 0 for one per CPU")
	mcFlags.Int("path-length", 0, "steps per simulated path, 0 for the history length")
	bindFlags(montecarloCmd, withBacktestKeys(map[string]string{
		"simulations": "montecarlo.simulations",
		"scenarios":   "montecarlo.scenario_types",
		"stress":      "montecarlo.stress_scenarios",
		"seed":        "montecarlo.seed",
		"workers":     "montecarlo.workers",
		"path-length": "montecarlo.path_length",
	}))

	bsOptions.register(bootstrapCmd)
	bsFlags := bootstrapCmd.Flags()
	bsFlags.Int("samples", 1000, "number of resampled series")
	bsFlags.Int("block-size", 20, "resampling block length")
	bsFlags.String("type", "block", "bootstrap type (block, stationary, circular)")
	bsFlags.Int64("seed", 0, "random seed, 0 for a time-derived seed")
	bsFlags.Int("workers", 0, "parallel samples, 0 for one per CPU")
	bindFlags(bootstrapCmd, withBacktestKeys(map[string]string{
		"samples":    "bootstrap.samples",
		"block-size": "bootstrap.block_size",
		"type":       "bootstrap.bootstrap_type",
		"seed":       "bootstrap.seed",
		"workers":    "bootstrap.workers",
	}))
}

func withBacktestKeys(keys map[string]string) map[string]string {
	for flag, key := range backtestKeys {
		keys[flag] = key
	}
	return keys
}

func (o *runOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.id, "id", "", "run ID (default generated)")
	f.StringArrayVar(&o.sources, "data", nil, "price file as SYMBOL=path or path, repeatable (default every symbol in --data-dir)")
	f.StringVar(&o.strategyType, "strategy", "trend_following", "strategy type")
	f.StringVar(&o.strategyFile, "strategy-file", "", "JSON strategy definition, overrides --strategy")
	f.StringToStringVar(&o.params, "param", nil, "strategy parameter as name=value, repeatable")
	f.StringVar(&o.start, "start", "", "first date to use (YYYY-MM-DD)")
	f.StringVar(&o.end, "end", "", "last date to use (YYYY-MM-DD)")
	f.StringVarP(&o.output, "output", "o", "", "write the JSON result to a file instead of stdout")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "hide the progress bar")

	f.String("symbol", "", "base symbol (default first symbol alphabetically)")
	f.Float64("capital", 100000, "initial capital")
	f.Float64("commission", 0.001, "commission rate per fill")
	f.Float64("slippage", 0.0005, "slippage rate per fill")
	f.Float64("risk-free-rate", 0.02, "annual risk-free rate")
}

// definition builds the strategy from --strategy-file or --strategy, then
// applies --param overrides. Numeric values are passed as numbers.
func (o *runOptions) definition() (types.StrategyDefinition, error) {
	def := types.StrategyDefinition{Name: o.strategyType, Type: o.strategyType}
	if o.strategyFile != "" {
		body, err := os.ReadFile(o.strategyFile)
		if err != nil {
			return def, fmt.Errorf("read strategy: %w", err)
		}
		def = types.StrategyDefinition{}
		if err := json.Unmarshal(body, &def); err != nil {
			return def, fmt.Errorf("parse strategy %s: %w", o.strategyFile, err)
		}
	}

	if len(o.params) > 0 && def.Parameters == nil {
		def.Parameters = make(map[string]any, len(o.params))
	}
	for name, raw := range o.params {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			def.Parameters[name] = f
		} else {
			def.Parameters[name] = raw
		}
	}
	return def, nil
}

// backtestConfig returns the request with the run ID and date range set.
// Everything else is filled from the configuration.
func (o *runOptions) backtestConfig() (*types.BacktestConfig, error) {
	start, err := parseDate("start", o.start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end", o.end)
	if err != nil {
		return nil, err
	}
	return &types.BacktestConfig{ID: o.id, StartDate: start, EndDate: end}, nil
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func runSimulation(cmd *cobra.Command, name string, o *runOptions, total func(*types.BacktestConfig) int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	def, err := o.definition()
	if err != nil {
		return err
	}
	cfg, err := o.backtestConfig()
	if err != nil {
		return err
	}
	application.Config.Apply(cfg)

	marketData, err := application.MarketData(ctx, o.sources, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return fmt.Errorf("load market data: %w", err)
	}

	var progress func(types.Progress)
	var bar *progressbar.ProgressBar
	if !o.quiet {
		bar = newProgressBar(total(cfg), name)
		progress = func(p types.Progress) {
			_ = bar.Set(p.Completed + p.Failed)
		}
	}

	result, err := application.Simulate(ctx, name, def, marketData, cfg, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	logSummary(result)
	return writeResult(cmd, o.output, result)
}

func newProgressBar(total int, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription(fmt.Sprintf("Running %s trials...", name)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func logSummary(result *types.EngineResult) {
	fields := []zap.Field{
		zap.String("id", result.ID),
		zap.String("engine", result.Engine),
		zap.Float64("totalReturn", result.Performance.TotalReturn),
		zap.Float64("sharpe", result.Performance.SharpeRatio),
		zap.Float64("maxDrawdown", result.Performance.MaxDrawdown),
		zap.Duration("duration", result.Duration),
	}

	cancelled := false
	switch {
	case result.MonteCarlo != nil:
		cancelled = result.MonteCarlo.Cancelled
		fields = append(fields,
			zap.Int("trials", result.MonteCarlo.SuccessfulTrials),
			zap.Int64("seed", result.MonteCarlo.Seed),
			zap.Float64("robustness", result.MonteCarlo.Robustness.Score),
		)
	case result.Bootstrap != nil:
		cancelled = result.Bootstrap.Cancelled
		fields = append(fields,
			zap.Int("samples", result.Bootstrap.SuccessfulSamples),
			zap.Int64("seed", result.Bootstrap.Seed),
			zap.Float64("bias", result.Bootstrap.Bias),
			zap.Float64("standardError", result.Bootstrap.StandardError),
		)
	}

	if cancelled {
		logger.Warn("Simulation cancelled, reporting finished trials", fields...)
		return
	}
	logger.Info("Simulation complete", fields...)
}

func writeResult(cmd *cobra.Command, path string, result *types.EngineResult) error {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if path == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return err
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	logger.Info("Result written", zap.String("path", path))
	return nil
}
