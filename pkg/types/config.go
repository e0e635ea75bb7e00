// Package types provides configuration types for the simulation engine.
package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a simulated backtest run
type BacktestConfig struct {
	ID             string           `json:"id"`
	BaseSymbol     string           `json:"baseSymbol"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	InitialCapital decimal.Decimal  `json:"initialCapital"`
	Commission     decimal.Decimal  `json:"commission"`
	Slippage       decimal.Decimal  `json:"slippage"`
	RiskFreeRate   float64          `json:"riskFreeRate"`
	MonteCarlo     MonteCarloConfig `json:"monteCarlo"`
	Bootstrap      BootstrapConfig  `json:"bootstrap"`

	explicit map[string]bool
}

// Fields whose zero value is a meaningful request rather than "use the default"
const (
	FieldCommission   = "commission"
	FieldSlippage     = "slippage"
	FieldRiskFreeRate = "riskFreeRate"
)

var explicitFields = []string{FieldCommission, FieldSlippage, FieldRiskFreeRate}

// MarkSet records that the named fields were given explicitly, so a zero
// value is kept when defaults are applied.
func (c *BacktestConfig) MarkSet(fields ...string) {
	if c.explicit == nil {
		c.explicit = make(map[string]bool, len(fields))
	}
	for _, f := range fields {
		c.explicit[f] = true
	}
}

// IsSet reports whether field was given explicitly
func (c *BacktestConfig) IsSet(field string) bool {
	return c.explicit[field]
}

// UnmarshalJSON decodes the config and marks the cost fields present in
// the document.
func (c *BacktestConfig) UnmarshalJSON(data []byte) error {
	type plain BacktestConfig
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return err
	}

	*c = BacktestConfig(decoded)
	c.explicit = nil
	for key, raw := range present {
		if string(raw) == "null" {
			continue
		}
		for _, f := range explicitFields {
			if strings.EqualFold(key, f) {
				c.MarkSet(f)
			}
		}
	}
	return nil
}

// StrategyDefinition represents an opaque strategy definition
type StrategyDefinition struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
	EntryRules []Rule         `json:"entryRules"`
	ExitRules  []Rule         `json:"exitRules"`
}

// Rule represents a trading rule
type Rule struct {
	Indicator string      `json:"indicator"`
	Condition string      `json:"condition"`
	Value     interface{} `json:"value"`
	Lookback  int         `json:"lookback,omitempty"`
}

// MonteCarloConfig represents Monte Carlo simulation configuration
type MonteCarloConfig struct {
	Simulations      int            `json:"simulations" mapstructure:"simulations"`
	ScenarioTypes    []ScenarioType `json:"scenarioTypes" mapstructure:"scenario_types"`
	ConfidenceLevels []float64      `json:"confidenceLevels" mapstructure:"confidence_levels"`
	StressScenarios  []ScenarioType `json:"stressScenarios,omitempty" mapstructure:"stress_scenarios"`
	Seed             int64          `json:"seed" mapstructure:"seed"`
	Workers          int            `json:"workers" mapstructure:"workers"`
	PathLength       int            `json:"pathLength,omitempty" mapstructure:"path_length"`
}

// BootstrapConfig represents bootstrap resampling configuration
type BootstrapConfig struct {
	Samples          int           `json:"samples" mapstructure:"samples"`
	BlockSize        int           `json:"blockSize" mapstructure:"block_size"`
	BootstrapType    BootstrapType `json:"bootstrapType" mapstructure:"bootstrap_type"`
	ConfidenceLevels []float64     `json:"confidenceLevels" mapstructure:"confidence_levels"`
	Seed             int64         `json:"seed" mapstructure:"seed"`
	Workers          int           `json:"workers" mapstructure:"workers"`
}

// DefaultStressScenarios are the scenarios reported as stress tests when none are configured
func DefaultStressScenarios() []ScenarioType {
	return []ScenarioType{ScenarioMarketCrash, ScenarioBearMarket}
}

// DefaultConfidenceLevels are used when a config leaves the levels empty
func DefaultConfidenceLevels() []float64 {
	return []float64{0.90, 0.95, 0.99}
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DataDir       string `json:"dataDir" mapstructure:"data_dir"`
	MinimumBars   int    `json:"minimumBars" mapstructure:"minimum_bars"`
	StrictQuality bool   `json:"strictQuality" mapstructure:"strict_quality"`
}
