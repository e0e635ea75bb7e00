// Package strategy provides the signal generators driven over simulated price paths.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultStrategy is used when a definition names no registered strategy type.
const DefaultStrategy = "trend_following"

// emaPrecision bounds the scale of decimal moving averages.
const emaPrecision = 8

// Strategy is the interface all strategies must implement.
type Strategy interface {
	Name() string
	Parameters() map[string]StrategyParameter
	SetParameter(name string, value interface{}) error
	OnBar(point types.MarketDataPoint) *Signal
}

// StrategyParameter defines a strategy parameter.
type StrategyParameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"` // "int", "float"
	Default     interface{} `json:"default"`
	Min         interface{} `json:"min,omitempty"`
	Max         interface{} `json:"max,omitempty"`
	Current     interface{} `json:"current"`
}

// Signal represents a trading signal from a strategy.
type Signal struct {
	Symbol      string
	Side        types.OrderSide
	Strength    decimal.Decimal // 0-1
	Reason      string
	GeneratedAt time.Time
}

// Registry manages available strategies.
type Registry struct {
	logger     *zap.Logger
	strategies map[string]func() Strategy
	mu         sync.RWMutex
}

// NewRegistry creates a registry with the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:     logger,
		strategies: make(map[string]func() Strategy),
	}

	r.Register("trend_following", func() Strategy { return NewTrendFollowingStrategy() })
	r.Register("momentum", func() Strategy { return NewMomentumStrategy() })

	return r
}

// Register registers a new strategy factory.
func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = factory
}

// Create creates a new strategy instance by name.
func (r *Registry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.strategies[name]
	if !ok {
		return nil, false
	}

	return factory(), true
}

// List returns all available strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}

// FromDefinition builds a fresh strategy for one trial. Definitions are
// otherwise opaque: an unknown type runs the default trend follower and
// parameters the strategy does not declare are ignored.
func (r *Registry) FromDefinition(def types.StrategyDefinition) (Strategy, error) {
	s, ok := r.Create(def.Type)
	if !ok {
		r.logger.Debug("Unknown strategy type, using default",
			zap.String("type", def.Type),
			zap.String("default", DefaultStrategy),
		)
		s, _ = r.Create(DefaultStrategy)
	}

	for name, value := range def.Parameters {
		if err := s.SetParameter(name, value); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.Name(), err)
		}
	}
	return s, nil
}

// BaseStrategy provides common functionality.
type BaseStrategy struct {
	params  map[string]StrategyParameter
	bars    []types.MarketDataPoint
	maxBars int
}

// SetParameter sets a parameter value.
func (s *BaseStrategy) SetParameter(name string, value interface{}) error {
	param, ok := s.params[name]
	if !ok {
		return nil
	}

	switch param.Type {
	case "int":
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("parameter %s: expected number, got %T", name, value)
		}
		if v < toFloatOr(param.Min, v) || v > toFloatOr(param.Max, v) {
			return fmt.Errorf("parameter %s: %v out of range [%v, %v]", name, value, param.Min, param.Max)
		}
		param.Current = int(v)
	case "float":
		v, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("parameter %s: expected number, got %T", name, value)
		}
		if v < toFloatOr(param.Min, v) || v > toFloatOr(param.Max, v) {
			return fmt.Errorf("parameter %s: %v out of range [%v, %v]", name, value, param.Min, param.Max)
		}
		param.Current = v
	default:
		param.Current = value
	}
	s.params[name] = param
	return nil
}

// Parameters returns strategy parameters.
func (s *BaseStrategy) Parameters() map[string]StrategyParameter {
	return s.params
}

// AddBar adds a bar to the buffer.
func (s *BaseStrategy) AddBar(point types.MarketDataPoint) {
	s.bars = append(s.bars, point)
	if len(s.bars) > s.maxBars {
		s.bars = s.bars[1:]
	}
}

// IntParam returns the current value of an int parameter.
func (s *BaseStrategy) IntParam(name string) int {
	v, _ := toFloat(s.params[name].Current)
	return int(v)
}

// FloatParam returns the current value of a float parameter.
func (s *BaseStrategy) FloatParam(name string) float64 {
	v, _ := toFloat(s.params[name].Current)
	return v
}

// PositionSize is the fraction of cash a strategy commits on entry.
func PositionSize(s Strategy) decimal.Decimal {
	param, ok := s.Parameters()["position_size"]
	if !ok {
		return decimal.NewFromInt(1)
	}
	v, _ := toFloat(param.Current)
	return decimal.NewFromFloat(v)
}

func positionSizeParameter() StrategyParameter {
	return StrategyParameter{
		Name:        "position_size",
		Description: "Fraction of cash committed on entry",
		Type:        "float",
		Default:     1.0,
		Min:         0.01,
		Max:         1.0,
		Current:     1.0,
	}
}

// TrendFollowingStrategy trades fast/slow EMA crossovers.
type TrendFollowingStrategy struct {
	BaseStrategy
	fastEMA decimal.Decimal
	slowEMA decimal.Decimal
}

// NewTrendFollowingStrategy creates a new trend following strategy.
func NewTrendFollowingStrategy() *TrendFollowingStrategy {
	s := &TrendFollowingStrategy{
		BaseStrategy: BaseStrategy{
			params:  make(map[string]StrategyParameter),
			maxBars: 200,
		},
	}

	s.params["fast_period"] = StrategyParameter{
		Name:        "fast_period",
		Description: "Fast EMA period",
		Type:        "int",
		Default:     12,
		Min:         2,
		Max:         50,
		Current:     12,
	}
	s.params["slow_period"] = StrategyParameter{
		Name:        "slow_period",
		Description: "Slow EMA period",
		Type:        "int",
		Default:     26,
		Min:         3,
		Max:         100,
		Current:     26,
	}
	s.params["position_size"] = positionSizeParameter()

	return s
}

func (s *TrendFollowingStrategy) Name() string { return "trend_following" }

func (s *TrendFollowingStrategy) OnBar(point types.MarketDataPoint) *Signal {
	s.AddBar(point)

	price := point.Close

	if s.fastEMA.IsZero() {
		s.fastEMA = price
		s.slowEMA = price
		return nil
	}

	fastPeriod := s.IntParam("fast_period")
	slowPeriod := s.IntParam("slow_period")

	fastMult := decimal.NewFromFloat(2.0).Div(decimal.NewFromInt(int64(fastPeriod + 1)))
	slowMult := decimal.NewFromFloat(2.0).Div(decimal.NewFromInt(int64(slowPeriod + 1)))

	prevFastEMA := s.fastEMA
	prevSlowEMA := s.slowEMA

	s.fastEMA = price.Mul(fastMult).Add(s.fastEMA.Mul(decimal.NewFromInt(1).Sub(fastMult))).Round(emaPrecision)
	s.slowEMA = price.Mul(slowMult).Add(s.slowEMA.Mul(decimal.NewFromInt(1).Sub(slowMult))).Round(emaPrecision)

	if len(s.bars) < slowPeriod {
		return nil
	}

	wasBullish := prevFastEMA.GreaterThan(prevSlowEMA)
	isBullish := s.fastEMA.GreaterThan(s.slowEMA)

	if !wasBullish && isBullish {
		return &Signal{
			Symbol:      point.Symbol,
			Side:        types.OrderSideBuy,
			Strength:    decimal.NewFromFloat(0.7),
			Reason:      "Bullish EMA crossover",
			GeneratedAt: point.Date,
		}
	} else if wasBullish && !isBullish {
		return &Signal{
			Symbol:      point.Symbol,
			Side:        types.OrderSideSell,
			Strength:    decimal.NewFromFloat(0.7),
			Reason:      "Bearish EMA crossover",
			GeneratedAt: point.Date,
		}
	}

	return nil
}

// MomentumStrategy trades price momentum over a lookback period.
type MomentumStrategy struct {
	BaseStrategy
}

// NewMomentumStrategy creates a new momentum strategy.
func NewMomentumStrategy() *MomentumStrategy {
	s := &MomentumStrategy{
		BaseStrategy: BaseStrategy{
			params:  make(map[string]StrategyParameter),
			maxBars: 200,
		},
	}

	s.params["period"] = StrategyParameter{
		Name:        "period",
		Description: "Lookback period for momentum calculation",
		Type:        "int",
		Default:     14,
		Min:         2,
		Max:         100,
		Current:     14,
	}
	s.params["threshold"] = StrategyParameter{
		Name:        "threshold",
		Description: "Minimum momentum threshold for signal",
		Type:        "float",
		Default:     0.02,
		Min:         0.001,
		Max:         0.5,
		Current:     0.02,
	}
	s.params["position_size"] = positionSizeParameter()

	return s
}

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) OnBar(point types.MarketDataPoint) *Signal {
	s.AddBar(point)

	period := s.IntParam("period")
	if len(s.bars) < period {
		return nil
	}

	current := s.bars[len(s.bars)-1].Close
	past := s.bars[len(s.bars)-period].Close

	if past.IsZero() {
		return nil
	}

	threshold := decimal.NewFromFloat(s.FloatParam("threshold"))
	momentum := current.Sub(past).Div(past)

	if momentum.GreaterThan(threshold) {
		return &Signal{
			Symbol:      point.Symbol,
			Side:        types.OrderSideBuy,
			Strength:    decimal.Min(momentum.Div(threshold), decimal.NewFromInt(1)),
			Reason:      "Strong positive momentum",
			GeneratedAt: point.Date,
		}
	} else if momentum.LessThan(threshold.Neg()) {
		return &Signal{
			Symbol:      point.Symbol,
			Side:        types.OrderSideSell,
			Strength:    decimal.Min(momentum.Abs().Div(threshold), decimal.NewFromInt(1)),
			Reason:      "Strong negative momentum",
			GeneratedAt: point.Date,
		}
	}

	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	default:
		return 0, false
	}
}

func toFloatOr(v interface{}, fallback float64) float64 {
	if f, ok := toFloat(v); ok {
		return f
	}
	return fallback
}
