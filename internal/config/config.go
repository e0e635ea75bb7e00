// Package config loads engine and server configuration from defaults, an
// optional YAML file and SIMENGINE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/stats"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIMENGINE_SERVER_PORT.
const EnvPrefix = "SIMENGINE"

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete application configuration
type Config struct {
	Server     types.ServerConfig     `mapstructure:"server"`
	Data       types.DataConfig       `mapstructure:"data"`
	Log        LogConfig              `mapstructure:"log"`
	Backtest   BacktestDefaults       `mapstructure:"backtest"`
	MonteCarlo types.MonteCarloConfig `mapstructure:"montecarlo"`
	Bootstrap  types.BootstrapConfig  `mapstructure:"bootstrap"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// BacktestDefaults fill fields a request leaves unset
type BacktestDefaults struct {
	BaseSymbol     string  `mapstructure:"base_symbol"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	Commission     float64 `mapstructure:"commission"`
	Slippage       float64 `mapstructure:"slippage"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
}

// New returns a viper instance with defaults and environment overrides set.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("data.data_dir", "./data")
	v.SetDefault("data.minimum_bars", 252)
	v.SetDefault("data.strict_quality", false)

	v.SetDefault("log.level", "info")

	v.SetDefault("backtest.base_symbol", "")
	v.SetDefault("backtest.initial_capital", 100000.0)
	v.SetDefault("backtest.commission", 0.001)
	v.SetDefault("backtest.slippage", 0.0005)
	v.SetDefault("backtest.risk_free_rate", 0.02)

	v.SetDefault("montecarlo.simulations", 1000)
	v.SetDefault("montecarlo.scenario_types", scenarioNames(types.AllScenarioTypes()))
	v.SetDefault("montecarlo.confidence_levels", types.DefaultConfidenceLevels())
	v.SetDefault("montecarlo.stress_scenarios", scenarioNames(types.DefaultStressScenarios()))
	v.SetDefault("montecarlo.seed", 0)
	v.SetDefault("montecarlo.workers", 0)
	v.SetDefault("montecarlo.path_length", 0)

	v.SetDefault("bootstrap.samples", 1000)
	v.SetDefault("bootstrap.block_size", 20)
	v.SetDefault("bootstrap.bootstrap_type", string(types.BootstrapBlock))
	v.SetDefault("bootstrap.confidence_levels", types.DefaultConfidenceLevels())
	v.SetDefault("bootstrap.seed", 0)
	v.SetDefault("bootstrap.workers", 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads path (or simengine.yaml from the working directory when path
// is empty and the file exists) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("simengine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that would otherwise only fail at run time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalid, c.Server.Port)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("%w: backtest.initial_capital must be positive", ErrInvalid)
	}
	if c.Backtest.Commission < 0 || c.Backtest.Slippage < 0 {
		return fmt.Errorf("%w: backtest commission and slippage must be non-negative", ErrInvalid)
	}
	if err := stats.ValidateLevels(c.MonteCarlo.ConfidenceLevels); err != nil {
		return fmt.Errorf("%w: montecarlo.confidence_levels: %v", ErrInvalid, err)
	}
	if err := stats.ValidateLevels(c.Bootstrap.ConfidenceLevels); err != nil {
		return fmt.Errorf("%w: bootstrap.confidence_levels: %v", ErrInvalid, err)
	}
	return nil
}

// Apply fills the unset fields of a backtest request from the defaults.
// Zero costs and risk-free rate count as unset unless marked with MarkSet.
func (c *Config) Apply(cfg *types.BacktestConfig) {
	b := c.Backtest
	if cfg.BaseSymbol == "" {
		cfg.BaseSymbol = b.BaseSymbol
	}
	if cfg.InitialCapital.IsZero() {
		cfg.InitialCapital = decimal.NewFromFloat(b.InitialCapital)
	}
	if cfg.Commission.IsZero() && !cfg.IsSet(types.FieldCommission) {
		cfg.Commission = decimal.NewFromFloat(b.Commission)
	}
	if cfg.Slippage.IsZero() && !cfg.IsSet(types.FieldSlippage) {
		cfg.Slippage = decimal.NewFromFloat(b.Slippage)
	}
	if cfg.RiskFreeRate == 0 && !cfg.IsSet(types.FieldRiskFreeRate) {
		cfg.RiskFreeRate = b.RiskFreeRate
	}

	mc := &cfg.MonteCarlo
	if mc.Simulations == 0 {
		mc.Simulations = c.MonteCarlo.Simulations
	}
	if mc.ScenarioTypes == nil {
		mc.ScenarioTypes = c.MonteCarlo.ScenarioTypes
	}
	if len(mc.ConfidenceLevels) == 0 {
		mc.ConfidenceLevels = c.MonteCarlo.ConfidenceLevels
	}
	if len(mc.StressScenarios) == 0 {
		mc.StressScenarios = c.MonteCarlo.StressScenarios
	}
	if mc.Seed == 0 {
		mc.Seed = c.MonteCarlo.Seed
	}
	if mc.Workers == 0 {
		mc.Workers = c.MonteCarlo.Workers
	}
	if mc.PathLength == 0 {
		mc.PathLength = c.MonteCarlo.PathLength
	}

	bs := &cfg.Bootstrap
	if bs.Samples == 0 {
		bs.Samples = c.Bootstrap.Samples
	}
	if bs.BlockSize == 0 {
		bs.BlockSize = c.Bootstrap.BlockSize
	}
	if bs.BootstrapType == "" {
		bs.BootstrapType = c.Bootstrap.BootstrapType
	}
	if len(bs.ConfidenceLevels) == 0 {
		bs.ConfidenceLevels = c.Bootstrap.ConfidenceLevels
	}
	if bs.Seed == 0 {
		bs.Seed = c.Bootstrap.Seed
	}
	if bs.Workers == 0 {
		bs.Workers = c.Bootstrap.Workers
	}
}

func scenarioNames(scenarios []types.ScenarioType) []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = string(s)
	}
	return names
}
