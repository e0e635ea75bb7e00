// Package resample provides block, stationary and circular bootstrap resampling of price
// series. Every resampler returns a series of the same length as its input, with the
// resampled closes re-stamped onto the input's calendar so the output stays ordered.
package resample

import (
	"errors"
	"fmt"

	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
)

var (
	// ErrEmptyData is returned when there is nothing to resample
	ErrEmptyData = errors.New("no data to resample")
	// ErrBlockSize is returned when the block size is outside [1, len(data)]
	ErrBlockSize = errors.New("block size out of range")
	// ErrUnknownBootstrap is returned for a bootstrap type with no resampler
	ErrUnknownBootstrap = errors.New("unknown bootstrap type")
)

// Resampler draws one bootstrap replicate of data
type Resampler func(rng *random.Generator, data []types.MarketDataPoint, blockSize int) ([]types.MarketDataPoint, error)

var registry = map[types.BootstrapType]Resampler{
	types.BootstrapBlock:      Block,
	types.BootstrapStationary: Stationary,
	types.BootstrapCircular:   Circular,
}

// Lookup returns the resampler for a bootstrap type
func Lookup(kind types.BootstrapType) (Resampler, error) {
	r, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBootstrap, kind)
	}
	return r, nil
}

// ValidateBlockSize checks a block size against a series length
func ValidateBlockSize(blockSize, length int) error {
	if length == 0 {
		return ErrEmptyData
	}
	if blockSize < 1 || blockSize > length {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrBlockSize, blockSize, length)
	}
	return nil
}

// Block concatenates fixed-size blocks drawn from random starts in [0, len-blockSize].
// With blockSize equal to len(data) the only start is 0 and the input is returned as is.
func Block(rng *random.Generator, data []types.MarketDataPoint, blockSize int) ([]types.MarketDataPoint, error) {
	n := len(data)
	if err := ValidateBlockSize(blockSize, n); err != nil {
		return nil, err
	}

	sampled := make([]types.MarketDataPoint, 0, n+blockSize)
	for len(sampled) < n {
		start := rng.Intn(n - blockSize + 1)
		sampled = append(sampled, data[start:start+blockSize]...)
	}
	return restamp(data, sampled[:n]), nil
}

// Stationary draws blocks of geometric length with mean blockSize, wrapping past the end
func Stationary(rng *random.Generator, data []types.MarketDataPoint, blockSize int) ([]types.MarketDataPoint, error) {
	n := len(data)
	if err := ValidateBlockSize(blockSize, n); err != nil {
		return nil, err
	}

	continueProb := 1 - 1/float64(blockSize)

	sampled := make([]types.MarketDataPoint, 0, n)
	for len(sampled) < n {
		idx := rng.Intn(n)
		sampled = append(sampled, data[idx])
		for len(sampled) < n && rng.Uniform() < continueProb {
			idx = (idx + 1) % n
			sampled = append(sampled, data[idx])
		}
	}
	return restamp(data, sampled), nil
}

// Circular draws fixed-size blocks from the series joined end to start, so every point
// is equally likely to appear in a block
func Circular(rng *random.Generator, data []types.MarketDataPoint, blockSize int) ([]types.MarketDataPoint, error) {
	n := len(data)
	if err := ValidateBlockSize(blockSize, n); err != nil {
		return nil, err
	}

	extended := make([]types.MarketDataPoint, 0, n+blockSize)
	extended = append(extended, data...)
	extended = append(extended, data[:blockSize]...)

	sampled := make([]types.MarketDataPoint, 0, n+blockSize)
	for len(sampled) < n {
		start := rng.Intn(n)
		sampled = append(sampled, extended[start:start+blockSize]...)
	}
	return restamp(data, sampled[:n]), nil
}

func restamp(calendar, sampled []types.MarketDataPoint) []types.MarketDataPoint {
	out := make([]types.MarketDataPoint, len(sampled))
	for i, p := range sampled {
		out[i] = types.MarketDataPoint{
			Date:   calendar[i].Date,
			Symbol: p.Symbol,
			Close:  p.Close,
			Volume: p.Volume,
		}
	}
	return out
}
