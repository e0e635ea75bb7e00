package strategy_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/strategy"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bars(closes ...float64) []types.MarketDataPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.MarketDataPoint, len(closes))
	for i, c := range closes {
		out[i] = types.MarketDataPoint{
			Date:   start.AddDate(0, 0, i),
			Symbol: "TEST",
			Close:  decimal.NewFromFloat(c),
		}
	}
	return out
}

func TestFromDefinitionAppliesParameters(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())

	s, err := reg.FromDefinition(types.StrategyDefinition{
		Type:       "trend_following",
		Parameters: map[string]any{"fast_period": 3.0, "slow_period": 5, "position_size": 0.5, "unused": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "trend_following", s.Name())
	assert.Equal(t, 3, s.Parameters()["fast_period"].Current)
	assert.Equal(t, 5, s.Parameters()["slow_period"].Current)
	assert.True(t, strategy.PositionSize(s).Equal(decimal.NewFromFloat(0.5)))
}

func TestFromDefinitionUnknownTypeUsesDefault(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())

	s, err := reg.FromDefinition(types.StrategyDefinition{Type: "neural_net"})
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultStrategy, s.Name())
	assert.True(t, strategy.PositionSize(s).Equal(decimal.NewFromInt(1)))
}

func TestFromDefinitionRejectsBadParameter(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())

	_, err := reg.FromDefinition(types.StrategyDefinition{
		Type:       "trend_following",
		Parameters: map[string]any{"fast_period": "fast"},
	})
	assert.Error(t, err)

	_, err = reg.FromDefinition(types.StrategyDefinition{
		Type:       "trend_following",
		Parameters: map[string]any{"position_size": 3.0},
	})
	assert.Error(t, err)
}

func TestTrendFollowingCrossovers(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())
	s, err := reg.FromDefinition(types.StrategyDefinition{
		Type:       "trend_following",
		Parameters: map[string]any{"fast_period": 2, "slow_period": 4},
	})
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 104, 108, 112, 116, 110, 100, 90, 80}
	var sides []types.OrderSide
	for _, b := range bars(closes...) {
		if sig := s.OnBar(b); sig != nil {
			sides = append(sides, sig.Side)
			assert.Equal(t, b.Date, sig.GeneratedAt)
		}
	}
	assert.Equal(t, []types.OrderSide{types.OrderSideBuy, types.OrderSideSell}, sides)
}

func TestTrendFollowingFlatPathIsSilent(t *testing.T) {
	s := strategy.NewTrendFollowingStrategy()
	for i := 0; i < 100; i++ {
		assert.Nil(t, s.OnBar(bars(50)[0]))
	}
}

func TestMomentumSignals(t *testing.T) {
	reg := strategy.NewRegistry(zap.NewNop())
	s, err := reg.FromDefinition(types.StrategyDefinition{
		Type:       "momentum",
		Parameters: map[string]any{"period": 3, "threshold": 0.05},
	})
	require.NoError(t, err)

	var got []*strategy.Signal
	for _, b := range bars(100, 101, 110, 104, 95) {
		if sig := s.OnBar(b); sig != nil {
			got = append(got, sig)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, types.OrderSideBuy, got[0].Side)
	assert.Equal(t, types.OrderSideSell, got[1].Side)
	for _, sig := range got {
		assert.True(t, sig.Strength.Equal(decimal.NewFromInt(1)), "strength capped at 1, got %s", sig.Strength)
	}
}
