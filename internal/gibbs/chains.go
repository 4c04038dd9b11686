package gibbs

import (
	"gonum.org/v1/gonum/mat"
)

// Chains holds the post burn-in samples of a run. X[k] and column k of Gamma
// are the state after outer iteration k.
type Chains struct {
	// X holds one dipoles × times amplitude snapshot per sample.
	X []*mat.Dense
	// Gamma is locations × samples.
	Gamma *mat.Dense
	// NOrient is the group size the chains were sampled with.
	NOrient int
}

func newChains(dipoles, times, locations, samples, nOrient int) *Chains {
	ch := &Chains{
		X:       make([]*mat.Dense, samples),
		Gamma:   mat.NewDense(locations, samples, nil),
		NOrient: nOrient,
	}
	for k := range ch.X {
		ch.X[k] = mat.NewDense(dipoles, times, nil)
	}
	return ch
}

// Len returns the number of stored samples.
func (c *Chains) Len() int {
	return len(c.X)
}

// Dims returns the number of dipoles, time points and locations.
func (c *Chains) Dims() (dipoles, times, locations int) {
	if len(c.X) == 0 {
		return 0, 0, 0
	}
	dipoles, times = c.X[0].Dims()
	locations, _ = c.Gamma.Dims()
	return dipoles, times, locations
}

// Trace returns the sampled values of amplitude (dipole, t) in sample order.
func (c *Chains) Trace(dipole, t int) []float64 {
	out := make([]float64, len(c.X))
	for k, x := range c.X {
		out[k] = x.At(dipole, t)
	}
	return out
}

// GammaTrace returns the sampled hyperparameters of one location.
func (c *Chains) GammaTrace(location int) []float64 {
	return mat.Row(nil, location, c.Gamma)
}

func (c *Chains) store(k int, x *mat.Dense, gamma []float64) {
	c.X[k].Copy(x)
	c.Gamma.SetCol(k, gamma)
}
