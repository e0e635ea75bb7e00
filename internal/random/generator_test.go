package random_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/simulation-engine/internal/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorDeterministic(t *testing.T) {
	a := random.New(42)
	b := random.New(42)

	for i := 0; i < 1000; i++ {
		require.Equal(t, a.Uniform(), b.Uniform(), "draw %d diverged", i)
	}
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Normal(0.001, 0.02), b.Normal(0.001, 0.02))
		require.Equal(t, a.StudentT(5), b.StudentT(5))
	}
}

func TestGeneratorMatchesLCG(t *testing.T) {
	g := random.New(1)

	// (1*1664525 + 1013904223) mod 2^32
	expected := float64(1015568748) / (1 << 32)
	assert.Equal(t, expected, g.Uniform())

	u, state := random.Next(1)
	assert.Equal(t, expected, u)
	assert.Equal(t, uint32(1015568748), state)
}

func TestUniformRange(t *testing.T) {
	g := random.New(7)
	for i := 0; i < 100000; i++ {
		u := g.Uniform()
		require.GreaterOrEqual(t, u, 0.0)
		require.Less(t, u, 1.0)
	}
}

func TestIntnRange(t *testing.T) {
	g := random.New(11)
	counts := make([]int, 5)
	for i := 0; i < 50000; i++ {
		n := g.Intn(5)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 5)
		counts[n]++
	}
	for _, c := range counts {
		assert.InDelta(t, 10000, c, 600)
	}

	assert.Panics(t, func() { g.Intn(0) })
}

func TestNormalMoments(t *testing.T) {
	g := random.New(123)
	n := 200000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := g.Normal(0.5, 2)
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	std := math.Sqrt(sumSq/float64(n) - mean*mean)

	assert.InDelta(t, 0.5, mean, 0.03)
	assert.InDelta(t, 2.0, std, 0.03)
}

func TestStudentTHeavierTails(t *testing.T) {
	g := random.New(99)
	n := 100000
	normalTail, tTail := 0, 0
	for i := 0; i < n; i++ {
		if math.Abs(g.StandardNormal()) > 3 {
			normalTail++
		}
		if math.Abs(g.StudentT(5)) > 3 {
			tTail++
		}
	}
	assert.Greater(t, tTail, normalTail)
}

func TestZeroSeedUsesTime(t *testing.T) {
	g := random.New(0)
	assert.NotZero(t, g.Seed())
}

func TestDerive(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		s := random.Derive(42, i)
		require.NotZero(t, s)
		require.False(t, seen[s], "duplicate derived seed at %d", i)
		seen[s] = true
	}
	assert.Equal(t, random.Derive(42, 3), random.Derive(42, 3))
	assert.NotEqual(t, random.Derive(42, 3), random.Derive(43, 3))
}
