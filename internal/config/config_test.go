package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/config"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1000, cfg.MonteCarlo.Simulations)
	assert.Equal(t, types.AllScenarioTypes(), cfg.MonteCarlo.ScenarioTypes)
	assert.Equal(t, []float64{0.90, 0.95, 0.99}, cfg.MonteCarlo.ConfidenceLevels)
	assert.Equal(t, types.BootstrapBlock, cfg.Bootstrap.BootstrapType)
	assert.Equal(t, 20, cfg.Bootstrap.BlockSize)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
log:
  level: debug
montecarlo:
  simulations: 250
  scenario_types: [market_crash, bull_market]
  seed: 42
bootstrap:
  bootstrap_type: stationary
`)
	t.Setenv("SIMENGINE_SERVER_PORT", "7070")
	t.Setenv("SIMENGINE_BACKTEST_INITIAL_CAPITAL", "5000")

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250, cfg.MonteCarlo.Simulations)
	assert.Equal(t, []types.ScenarioType{types.ScenarioMarketCrash, types.ScenarioBullMarket}, cfg.MonteCarlo.ScenarioTypes)
	assert.Equal(t, int64(42), cfg.MonteCarlo.Seed)
	assert.Equal(t, types.BootstrapStationary, cfg.Bootstrap.BootstrapType)
	assert.Equal(t, 5000.0, cfg.Backtest.InitialCapital)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port", "server:\n  port: 0\n"},
		{"capital", "backtest:\n  initial_capital: -1\n"},
		{"commission", "backtest:\n  commission: -0.1\n"},
		{"levels", "montecarlo:\n  confidence_levels: [0.9, 1.0]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(config.New(), writeConfig(t, tt.body))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyFillsUnsetFields(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	req := types.BacktestConfig{
		Commission: decimal.NewFromFloat(0.002),
		MonteCarlo: types.MonteCarloConfig{
			Simulations:   10,
			ScenarioTypes: []types.ScenarioType{},
		},
	}
	cfg.Apply(&req)

	assert.True(t, req.InitialCapital.Equal(decimal.NewFromInt(100000)))
	assert.True(t, req.Commission.Equal(decimal.NewFromFloat(0.002)), "explicit value kept")
	assert.Equal(t, 10, req.MonteCarlo.Simulations)
	assert.Empty(t, req.MonteCarlo.ScenarioTypes, "explicit empty scenario list kept")
	assert.Equal(t, types.DefaultStressScenarios(), req.MonteCarlo.StressScenarios)
	assert.Equal(t, 1000, req.Bootstrap.Samples)
	assert.Equal(t, types.BootstrapBlock, req.Bootstrap.BootstrapType)
}

func TestApplyKeepsExplicitZeroCosts(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	unset := types.BacktestConfig{}
	cfg.Apply(&unset)
	assert.True(t, unset.Commission.Equal(decimal.NewFromFloat(0.001)))
	assert.True(t, unset.Slippage.Equal(decimal.NewFromFloat(0.0005)))
	assert.InDelta(t, 0.02, unset.RiskFreeRate, 1e-12)

	marked := types.BacktestConfig{}
	marked.MarkSet(types.FieldCommission, types.FieldSlippage, types.FieldRiskFreeRate)
	cfg.Apply(&marked)
	assert.True(t, marked.Commission.IsZero())
	assert.True(t, marked.Slippage.IsZero())
	assert.Zero(t, marked.RiskFreeRate)

	var decoded types.BacktestConfig
	require.NoError(t, json.Unmarshal([]byte(`{"commission":0,"riskFreeRate":0,"slippage":null}`), &decoded))
	assert.True(t, decoded.IsSet(types.FieldCommission))
	assert.True(t, decoded.IsSet(types.FieldRiskFreeRate))
	assert.False(t, decoded.IsSet(types.FieldSlippage), "null counts as absent")

	cfg.Apply(&decoded)
	assert.True(t, decoded.Commission.IsZero())
	assert.Zero(t, decoded.RiskFreeRate)
	assert.True(t, decoded.Slippage.Equal(decimal.NewFromFloat(0.0005)))
}
