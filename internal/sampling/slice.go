package sampling

import (
	"math"
	"math/rand/v2"
)

// SampleSlice runs n slice sampling sweeps from x0, see Kernel.Slice.
func SampleSlice(rng *rand.Rand, a, b, c, d, x0 float64, n int) (float64, error) {
	return NewKernel(rng).Slice(a, b, c, d, x0, n)
}

// Slice runs n sweeps of a slice sampler targeting
//
//	p(x) ∝ exp(-a x² + b x - c sqrt(x² + d))
//
// starting at x0 and returns the final state. The Gaussian part is kept
// exact; only the group-norm factor exp(-c sqrt(x²+d)) is sliced, so each
// sweep reduces to one truncated normal draw on [-xi, xi].
//
// a must be positive (a == 0 && b == 0 is the degenerate case the driver
// can produce from an all-zero forward operator column), c and d must be
// non-negative.
func (k *Kernel) Slice(a, b, c, d, x0 float64, n int) (float64, error) {
	if err := checkSlice(a, b, c, d, x0, n); err != nil {
		return 0, err
	}

	sigma := 1 / math.Sqrt(2*a)
	mu := b / (2 * a)

	x := x0
	for i := 0; i < n; i++ {
		k.stats.SliceSweeps++

		xi := math.Inf(1)
		if c > 0 {
			logGy := -c * math.Sqrt(x*x+d)
			logY := logGy + k.logUniform()
			r := -logY / c
			xi = math.Sqrt(r*r - d)
		}
		// A NaN radicand or an empty interval leaves nothing to sample from.
		if !(xi > 0) {
			k.stats.SliceCollapses++
			x = 0
			continue
		}

		next, err := k.TruncNormal(mu, sigma, -xi, xi)
		if err != nil {
			return 0, err
		}
		x = next
	}
	return x, nil
}

func checkSlice(a, b, c, d, x0 float64, n int) error {
	invalid := func(reason string) error {
		return &InvalidSliceParametersError{A: a, B: b, C: c, D: d, N: n, Reason: reason}
	}
	switch {
	case a == 0 && b == 0:
		return invalid("a and b are both zero, the Gaussian factor is degenerate")
	case math.IsNaN(a) || math.IsNaN(b) || math.IsNaN(c) || math.IsNaN(d) || math.IsNaN(x0):
		return invalid("NaN coefficient")
	case !(a > 0) || math.IsInf(a, 1):
		return invalid("a must be positive and finite")
	case math.IsInf(b, 0):
		return invalid("b must be finite")
	case c < 0 || math.IsInf(c, 1):
		return invalid("c must be non-negative and finite")
	case d < 0 || math.IsInf(d, 1):
		return invalid("d must be non-negative and finite")
	case n < 0:
		return invalid("negative sweep count")
	}
	return nil
}
