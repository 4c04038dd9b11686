// Package sampling implements the scalar conditional samplers used by the
// block Gibbs driver: an umbrella rejection sampler for the group scale
// hyperparameter, a slice sampler for a single source amplitude, and the
// exact truncated normal draw the slice sampler relies on.
//
// Every draw comes from one caller-owned *rand.Rand, so a fixed seed
// reproduces a run exactly.
package sampling

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Stats counts the work done by a Kernel since it was created.
type Stats struct {
	HyperDraws     int // hyperparameter samples returned
	HyperRounds    int // rejection rounds spent on them
	SliceSweeps    int // slice sampler sweeps executed
	SliceCollapses int // sweeps that found no interval and fell back to x = 0
	TruncDraws     int // truncated normal samples returned
	TruncRounds    int // rejection rounds spent on them
}

// AcceptanceRate returns the fraction of hyperparameter rejection rounds that
// produced a sample. It is 1 when no rounds were needed.
func (s Stats) AcceptanceRate() float64 {
	if s.HyperRounds == 0 {
		return 1
	}
	return float64(s.HyperDraws) / float64(s.HyperRounds)
}

// Kernel owns the random source shared by all samplers of one run.
// A Kernel is not safe for concurrent use.
type Kernel struct {
	rng    *rand.Rand
	normal distuv.Normal
	stats  Stats
}

// NewKernel returns a Kernel drawing from rng. A nil rng is replaced by a
// PCG source with a fixed seed.
func NewKernel(rng *rand.Rand) *Kernel {
	if rng == nil {
		rng = rand.New(rand.NewPCG(42, 42))
	}
	return &Kernel{
		rng:    rng,
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
}

// Rand exposes the underlying source, e.g. for permutations.
func (k *Kernel) Rand() *rand.Rand {
	return k.rng
}

// Stats returns a copy of the running counters.
func (k *Kernel) Stats() Stats {
	return k.stats
}

// uniform draws from the open interval (0, 1) so its logarithm is finite.
func (k *Kernel) uniform() float64 {
	for {
		if u := k.rng.Float64(); u > 0 {
			return u
		}
	}
}

func (k *Kernel) logUniform() float64 {
	return math.Log(k.uniform())
}
