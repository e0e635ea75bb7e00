// Package random provides the seedable pseudo-random source used by every simulation.
//
// The uniform source is a 32-bit linear congruential generator. Identical seeds reproduce
// identical sequences, so a trial can be replayed from its seed alone. A Generator is not
// safe for concurrent use; parallel workers each own one, seeded through Derive.
package random

import (
	"math"
	"time"
)

const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
	lcgModulus    = 1 << 32
)

// Next advances an LCG state and returns the uniform draw in [0,1) with the new state
func Next(state uint32) (float64, uint32) {
	next := uint32((uint64(state)*lcgMultiplier + lcgIncrement) % lcgModulus)
	return float64(next) / lcgModulus, next
}

// Generator is a deterministic uniform, normal and Student-t variate source
type Generator struct {
	seed  int64
	state uint32
}

// New creates a generator. A zero seed is replaced by a time-derived one.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		seed:  seed,
		state: uint32(uint64(seed) % lcgModulus),
	}
}

// Seed returns the seed the generator was created with
func (g *Generator) Seed() int64 {
	return g.seed
}

// Uniform returns a float in [0,1)
func (g *Generator) Uniform() float64 {
	var u float64
	u, g.state = Next(g.state)
	return u
}

// Intn returns an int in [0,n). It panics if n <= 0, like math/rand.
func (g *Generator) Intn(n int) int {
	if n <= 0 {
		panic("random: invalid argument to Intn")
	}
	i := int(g.Uniform() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Normal draws from N(mean, stdDev²) using the Box-Muller transform
func (g *Generator) Normal(mean, stdDev float64) float64 {
	u1 := g.Uniform()
	// log(0) is undefined
	for u1 == 0 {
		u1 = g.Uniform()
	}
	u2 := g.Uniform()

	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + stdDev*z
}

// StandardNormal draws from N(0,1)
func (g *Generator) StandardNormal() float64 {
	return g.Normal(0, 1)
}

// StudentT draws a Student-t variate with df degrees of freedom as Z / sqrt(chi2/df).
// df below 1 is treated as 1.
func (g *Generator) StudentT(df int) float64 {
	if df < 1 {
		df = 1
	}

	z := g.StandardNormal()

	chi2 := 0.0
	for i := 0; i < df; i++ {
		n := g.StandardNormal()
		chi2 += n * n
	}

	if chi2 == 0 {
		return z
	}
	return z / math.Sqrt(chi2/float64(df))
}

// Derive returns a deterministic, non-zero seed for the index-th trial of a batch
// seeded with master. Distinct indices give well-separated LCG start states.
func Derive(master int64, index int) int64 {
	x := uint64(master) + uint64(index+1)*0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x ^= x >> 31

	seed := int64(x & math.MaxInt64)
	if seed == 0 {
		seed = 1
	}
	return seed
}
