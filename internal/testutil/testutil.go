// Package testutil provides shared test helpers for the sampler packages:
// seeded random sources and goodness-of-fit checks against densities that
// are only known up to a constant.
package testutil

import (
	"math/rand/v2"
	"sort"
	"testing"

	"gonum.org/v1/gonum/integrate/quad"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewRand returns a deterministic PCG-backed source for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NumericCDF integrates an unnormalised density over [lo, hi] on a grid of n
// intervals and returns the normalised cumulative distribution, linearly
// interpolated between grid points. Mass outside [lo, hi] is ignored.
func NumericCDF(density func(float64) float64, lo, hi float64, n int) func(float64) float64 {
	if n < 1 {
		n = 1
	}
	h := (hi - lo) / float64(n)
	xs := make([]float64, n+1)
	cum := make([]float64, n+1)
	for i := range xs {
		xs[i] = lo + float64(i)*h
	}
	for i := 1; i <= n; i++ {
		cum[i] = cum[i-1] + quad.Fixed(density, xs[i-1], xs[i], 16, nil, 0)
	}
	total := cum[n]
	for i := range cum {
		cum[i] /= total
	}

	return func(x float64) float64 {
		switch {
		case x <= lo:
			return 0
		case x >= hi:
			return 1
		}
		i := int((x - lo) / h)
		if i >= n {
			return 1
		}
		frac := (x - xs[i]) / h
		return cum[i] + frac*(cum[i+1]-cum[i])
	}
}

// KSStatistic returns the one-sample Kolmogorov–Smirnov distance between the
// empirical distribution of samples and cdf.
func KSStatistic(samples []float64, cdf func(float64) float64) float64 {
	xs := append([]float64(nil), samples...)
	sort.Float64s(xs)
	n := float64(len(xs))
	var d float64
	for i, x := range xs {
		f := cdf(x)
		if v := f - float64(i)/n; v > d {
			d = v
		}
		if v := float64(i+1)/n - f; v > d {
			d = v
		}
	}
	return d
}
