// Package scenario provides the return-generating processes of the Monte Carlo engine.
// Each scenario maps a historical return sample to a synthetic return path of a requested
// length, drawing from a caller-owned deterministic generator.
package scenario

import (
	"errors"
	"fmt"
	"math"

	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
)

var (
	// ErrEmptyHistory is returned when the historical return sample is empty
	ErrEmptyHistory = errors.New("historical returns are empty")
	// ErrInvalidLength is returned for a non-positive path length
	ErrInvalidLength = errors.New("path length must be positive")
	// ErrUnknownScenario is returned for a scenario type with no generator
	ErrUnknownScenario = errors.New("unknown scenario type")
)

const (
	fatTailDegreesOfFreedom = 5

	regimeMinDuration  = 50
	regimeSwitchChance = 0.10

	garchOmegaFactor = 0.1
	garchAlpha       = 0.1
	garchBeta        = 0.8

	crashProbability = 0.02
)

// crashShocks are the additive daily shocks injected by the market_crash scenario
var crashShocks = [...]float64{-0.05, -0.08, -0.12, -0.20}

// Path is a generated return path. CrashEvents is only set by market_crash.
type Path struct {
	Returns     []float64
	CrashEvents int
}

// Generator produces a synthetic return path from historical returns
type Generator func(rng *random.Generator, historical []float64, length int) (Path, error)

type regime struct {
	meanScale float64
	stdScale  float64
	weight    float64
}

var (
	bullRegime = regime{meanScale: 1.2, stdScale: 0.7, weight: 0.7}
	bearRegime = regime{meanScale: 0.3, stdScale: 1.8, weight: 0.3}
)

// registry holds one generator per scenario type
var registry = map[types.ScenarioType]Generator{
	types.ScenarioNormalReturns:        NormalReturns,
	types.ScenarioFatTailReturns:       FatTailReturns,
	types.ScenarioRegimeSwitching:      RegimeSwitching,
	types.ScenarioVolatilityClustering: VolatilityClustering,
	types.ScenarioMarketCrash:          MarketCrash,
	types.ScenarioBullMarket:           BullMarket,
	types.ScenarioBearMarket:           BearMarket,
}

// Lookup returns the generator for a scenario type
func Lookup(scenario types.ScenarioType) (Generator, error) {
	gen, ok := registry[scenario]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}
	return gen, nil
}

// Validate checks that every scenario type has a generator
func Validate(scenarios []types.ScenarioType) error {
	for _, s := range scenarios {
		if _, err := Lookup(s); err != nil {
			return err
		}
	}
	return nil
}

// Generate runs the generator registered for scenario
func Generate(scenario types.ScenarioType, rng *random.Generator, historical []float64, length int) (Path, error) {
	gen, err := Lookup(scenario)
	if err != nil {
		return Path{}, err
	}
	return gen(rng, historical, length)
}

// NormalReturns draws iid normals with the sample mean and standard deviation
func NormalReturns(rng *random.Generator, historical []float64, length int) (Path, error) {
	mean, std, err := moments(historical, length)
	if err != nil {
		return Path{}, err
	}
	return Path{Returns: normalPath(rng, mean, std, length)}, nil
}

// FatTailReturns draws Student-t(5) variates scaled by the sample standard deviation
func FatTailReturns(rng *random.Generator, historical []float64, length int) (Path, error) {
	mean, std, err := moments(historical, length)
	if err != nil {
		return Path{}, err
	}

	returns := make([]float64, length)
	for i := range returns {
		returns[i] = mean + std*rng.StudentT(fatTailDegreesOfFreedom)
	}
	return Path{Returns: returns}, nil
}

// RegimeSwitching alternates between a calm bull regime and a volatile bear regime.
// A regime lasts at least regimeMinDuration steps before it may switch.
func RegimeSwitching(rng *random.Generator, historical []float64, length int) (Path, error) {
	mean, std, err := moments(historical, length)
	if err != nil {
		return Path{}, err
	}

	current := bearRegime
	if rng.Uniform() < bullRegime.weight {
		current = bullRegime
	}
	inRegime := 0

	returns := make([]float64, length)
	for i := range returns {
		if inRegime >= regimeMinDuration && rng.Uniform() < regimeSwitchChance {
			if current == bullRegime {
				current = bearRegime
			} else {
				current = bullRegime
			}
			inRegime = 0
		}
		returns[i] = rng.Normal(mean*current.meanScale, std*current.stdScale)
		inRegime++
	}
	return Path{Returns: returns}, nil
}

// VolatilityClustering follows a GARCH(1,1) variance recursion seeded at the sample variance
func VolatilityClustering(rng *random.Generator, historical []float64, length int) (Path, error) {
	mean, std, err := moments(historical, length)
	if err != nil {
		return Path{}, err
	}

	baseVariance := std * std
	omega := garchOmegaFactor * baseVariance
	variance := baseVariance

	returns := make([]float64, length)
	for i := range returns {
		if i > 0 {
			shock := returns[i-1] - mean
			variance = omega + garchAlpha*shock*shock + garchBeta*variance
		}
		returns[i] = mean + math.Sqrt(variance)*rng.StandardNormal()
	}
	return Path{Returns: returns}, nil
}

// MarketCrash is a normal path with a 2% per-step chance of an additive crash shock
func MarketCrash(rng *random.Generator, historical []float64, length int) (Path, error) {
	path, err := NormalReturns(rng, historical, length)
	if err != nil {
		return Path{}, err
	}

	for i := range path.Returns {
		if rng.Uniform() < crashProbability {
			path.Returns[i] += crashShocks[rng.Intn(len(crashShocks))]
			path.CrashEvents++
		}
	}
	return path, nil
}

// BullMarket draws normals with an amplified drift and damped volatility
func BullMarket(rng *random.Generator, historical []float64, length int) (Path, error) {
	return scaledNormal(rng, historical, length, 2.5, 0.8)
}

// BearMarket draws normals with an inverted drift and amplified volatility
func BearMarket(rng *random.Generator, historical []float64, length int) (Path, error) {
	return scaledNormal(rng, historical, length, -1.5, 1.5)
}

func scaledNormal(rng *random.Generator, historical []float64, length int, meanScale, stdScale float64) (Path, error) {
	mean, std, err := moments(historical, length)
	if err != nil {
		return Path{}, err
	}
	return Path{Returns: normalPath(rng, mean*meanScale, std*stdScale, length)}, nil
}

func normalPath(rng *random.Generator, mean, std float64, length int) []float64 {
	returns := make([]float64, length)
	for i := range returns {
		returns[i] = rng.Normal(mean, std)
	}
	return returns
}

// moments returns the sample mean and sample standard deviation of historical
func moments(historical []float64, length int) (mean, std float64, err error) {
	if len(historical) == 0 {
		return 0, 0, ErrEmptyHistory
	}
	if length <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}

	for _, r := range historical {
		mean += r
	}
	mean /= float64(len(historical))

	if len(historical) < 2 {
		return mean, 0, nil
	}

	// sample variance, matching the metric calculator
	variance := 0.0
	for _, r := range historical {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(historical) - 1)

	return mean, math.Sqrt(variance), nil
}
