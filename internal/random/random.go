// Package random provides the injectable random sources behind jitter,
// fingerprint selection and probabilistic branches.
package random

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

// Source is a goroutine-safe crawler.Random backed by math/rand/v2.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Source seeded from the runtime's entropy.
func New() *Source {
	return &Source{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a reproducible Source.
func NewSeeded(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a value in [0, n); n <= 0 yields 0.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Float64 returns a value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Constant always returns N (clamped to n-1) and F. Tests use it to pin
// jitter to a known value.
type Constant struct {
	N int
	F float64
}

// Intn returns min(N, n-1), never negative.
func (c Constant) Intn(n int) int {
	if n <= 0 || c.N < 0 {
		return 0
	}
	if c.N >= n {
		return n - 1
	}
	return c.N
}

// Float64 returns F.
func (c Constant) Float64() float64 {
	return c.F
}

// IntBetween returns a value in [lo, hi], both ends inclusive.
func IntBetween(r crawler.Random, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}

// DurationBetween returns a millisecond-granular duration in [lo, hi].
func DurationBetween(r crawler.Random, lo, hi time.Duration) time.Duration {
	ms := IntBetween(r, int(lo/time.Millisecond), int(hi/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Chance reports true with probability p.
func Chance(r crawler.Random, p float64) bool {
	return r.Float64() < p
}

// Pick returns a uniformly chosen element of items. items must be non-empty.
func Pick[T any](r crawler.Random, items []T) T {
	return items[r.Intn(len(items))]
}
