package random

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIntBetweenInclusive(t *testing.T) {
	t.Parallel()

	src := NewSeeded(42)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := IntBetween(src, 10, 15)
		require.GreaterOrEqual(t, v, 10)
		require.LessOrEqual(t, v, 15)
		seen[v] = true
	}
	require.Len(t, seen, 6)
}

func TestConstantPinsBounds(t *testing.T) {
	t.Parallel()

	require.Equal(t, 10, IntBetween(Constant{N: 0}, 10, 15))
	require.Equal(t, 15, IntBetween(Constant{N: 100}, 10, 15))
	require.Equal(t, 1500*time.Millisecond, DurationBetween(Constant{N: 1 << 30}, 500*time.Millisecond, 1500*time.Millisecond))
	require.Equal(t, 7, IntBetween(Constant{}, 7, 7))
}

func TestChance(t *testing.T) {
	t.Parallel()

	require.True(t, Chance(Constant{F: 0.49}, 0.5))
	require.False(t, Chance(Constant{F: 0.5}, 0.5))
}

func TestSeededIsReproducible(t *testing.T) {
	t.Parallel()

	a, b := NewSeeded(7), NewSeeded(7)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Intn(1000), b.Intn(1000))
	}
	require.Equal(t, 0, a.Intn(0))
	require.Equal(t, "b", Pick(Constant{N: 1}, []string{"a", "b", "c"}))
}
