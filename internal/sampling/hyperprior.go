package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SampleHyperprior draws one value from p(g) ∝ exp(-coupling/g) exp(-g/beta), g > 0.
func SampleHyperprior(rng *rand.Rand, coupling, beta float64) (float64, error) {
	return NewKernel(rng).Hyperprior(coupling, beta)
}

// SampleHyperpriorVec draws one hyperparameter per coupling value, see SampleHyperprior.
func SampleHyperpriorVec(rng *rand.Rand, couplings []float64, beta float64) ([]float64, error) {
	return NewKernel(rng).HyperpriorVec(nil, couplings, beta)
}

// Hyperprior draws one value from p(g) ∝ exp(-coupling/g) exp(-g/beta), g > 0.
//
// For coupling == 0 the density is exponential with mean beta and is sampled
// directly. Otherwise candidates come from an umbrella made of a flat
// rectangle of the modal height on [0, xCeil] and an exponential tail on
// [xCeil, ∞); all masses are handled in log space.
func (k *Kernel) Hyperprior(coupling, beta float64) (float64, error) {
	if !(beta > 0) || math.IsInf(beta, 1) {
		return 0, fmt.Errorf("%w: got %g", ErrInvalidBeta, beta)
	}
	if !(coupling >= 0) || math.IsInf(coupling, 1) {
		return 0, fmt.Errorf("%w: got %g", ErrInvalidCoupling, coupling)
	}

	if coupling == 0 {
		k.stats.HyperRounds++
		k.stats.HyperDraws++
		return -beta * k.logUniform(), nil
	}

	gammaMax := math.Sqrt(beta * coupling)
	logPmax := -coupling/gammaMax - gammaMax/beta
	xCeil := beta*coupling/gammaMax + gammaMax

	logMassTail := math.Log(beta) - xCeil/beta
	logMassRect := logPmax + math.Log(xCeil)
	logMassTotal := logMassTail + math.Log1p(math.Exp(logMassRect-logMassTail))

	for {
		k.stats.HyperRounds++
		w, u, v := k.uniform(), k.uniform(), k.uniform()

		var gamma float64
		if math.Log(w)+logMassTotal < logMassTail {
			// Exponential truncated to [xCeil, ∞) by inverse CDF.
			logV := math.Log(v) - xCeil/beta
			gamma = -beta * logV
			if math.Log(u) >= -coupling/gamma {
				continue
			}
		} else {
			gamma = v * xCeil
			if math.Log(u)+logPmax >= -coupling/gamma-gamma/beta {
				continue
			}
		}
		if gamma > 0 && !math.IsInf(gamma, 1) {
			k.stats.HyperDraws++
			return gamma, nil
		}
	}
}

// HyperpriorVec applies Hyperprior to every coupling independently. The
// result is written to dst, which is allocated when nil or too short.
func (k *Kernel) HyperpriorVec(dst, couplings []float64, beta float64) ([]float64, error) {
	if len(dst) < len(couplings) {
		dst = make([]float64, len(couplings))
	}
	dst = dst[:len(couplings)]
	for i, c := range couplings {
		g, err := k.Hyperprior(c, beta)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		dst[i] = g
	}
	return dst, nil
}
