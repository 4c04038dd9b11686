package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// sqrt2Pi is the interval width above which plain normal rejection accepts
// at least as often as uniform rejection.
var sqrt2Pi = math.Sqrt(2 * math.Pi)

// SampleTruncNormal draws from N(mu, sigma²) restricted to [lo, hi].
func SampleTruncNormal(rng *rand.Rand, mu, sigma, lo, hi float64) (float64, error) {
	return NewKernel(rng).TruncNormal(mu, sigma, lo, hi)
}

// TruncNormal draws an exact sample from N(mu, sigma²) restricted to [lo, hi].
// Either bound may be infinite. When lo == hi the bound itself is returned.
//
// The draw is made on the standardised interval with one of three rejection
// schemes chosen by the interval's position: normal proposals for wide
// intervals containing zero, uniform proposals for narrow ones, and
// translated exponential proposals (Robert, 1995) in the tails.
func (k *Kernel) TruncNormal(mu, sigma, lo, hi float64) (float64, error) {
	if math.IsNaN(mu) || math.IsInf(mu, 0) || !(sigma > 0) || math.IsInf(sigma, 1) {
		return 0, fmt.Errorf("%w: mu=%g sigma=%g", ErrInvalidTruncation, mu, sigma)
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return 0, fmt.Errorf("%w: interval [%g, %g]", ErrInvalidTruncation, lo, hi)
	}
	if lo == hi {
		k.stats.TruncDraws++
		return lo, nil
	}

	alpha := (lo - mu) / sigma
	beta := (hi - mu) / sigma

	var z float64
	switch {
	case alpha >= 0:
		z = k.upperTail(alpha, beta)
	case beta <= 0:
		z = -k.upperTail(-beta, -alpha)
	default:
		z = k.straddle(alpha, beta)
	}
	k.stats.TruncDraws++

	x := mu + sigma*z
	// Rounding in the back transform must not leave the interval.
	return math.Min(math.Max(x, lo), hi), nil
}

// straddle samples the standard normal on [a, b] with a < 0 < b.
func (k *Kernel) straddle(a, b float64) float64 {
	if b-a >= sqrt2Pi {
		for {
			k.stats.TruncRounds++
			z := k.normal.Rand()
			if z >= a && z <= b {
				return z
			}
		}
	}
	for {
		k.stats.TruncRounds++
		z := a + (b-a)*k.rng.Float64()
		if k.logUniform() < -z*z/2 {
			return z
		}
	}
}

// upperTail samples the standard normal on [a, b] with 0 <= a < b.
func (k *Kernel) upperTail(a, b float64) float64 {
	root := math.Sqrt(a*a + 4)
	lambda := (a + root) / 2

	// Uniform proposals win when the interval is short compared to the
	// exponential proposal's scale.
	uniformWidth := 2 * math.Sqrt(math.E) / (a + root) * math.Exp((a*a-a*root)/4)
	if b-a <= uniformWidth {
		for {
			k.stats.TruncRounds++
			z := a + (b-a)*k.rng.Float64()
			if k.logUniform() < (a*a-z*z)/2 {
				return z
			}
		}
	}

	for {
		k.stats.TruncRounds++
		z := a - k.logUniform()/lambda
		if z > b {
			continue
		}
		d := z - lambda
		if k.logUniform() < -d*d/2 {
			return z
		}
	}
}
