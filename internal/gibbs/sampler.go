package gibbs

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bayes-meeg/internal/groupnorm"
	"github.com/banshee-data/bayes-meeg/internal/monitoring"
	"github.com/banshee-data/bayes-meeg/internal/sampling"
)

// Sampler holds the validated inputs of a run together with the terms that
// depend only on them.
type Sampler struct {
	opts Options

	gain, data *mat.Dense
	x0         *mat.Dense // nil means start from zeros
	gamma0     []float64

	dipoles, times, locations int

	colSqNorm []float64  // squared norm of every gain column
	gtm       *mat.Dense // Gᵀ M, dipoles × times
	gtg       *mat.Dense // Gᵀ G, dipoles × dipoles

	kernel *sampling.Kernel
}

// Sample validates the inputs, runs the sampler and returns its chains.
func Sample(p Problem, o Options) (*Chains, error) {
	s, err := New(p, o)
	if err != nil {
		return nil, err
	}
	return s.Run()
}

// New validates the problem and options and precomputes the fixed terms.
// Nothing is mutated when validation fails. The problem matrices are
// copied so the caller may reuse them.
func New(p Problem, o Options) (*Sampler, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	locations, err := p.validate(o)
	if err != nil {
		return nil, err
	}
	if o.DivergenceThreshold == 0 {
		o.DivergenceThreshold = DefaultDivergenceThreshold
	}

	_, dipoles := p.Gain.Dims()
	_, times := p.Data.Dims()

	s := &Sampler{
		opts:      o,
		gain:      mat.DenseCopyOf(p.Gain),
		data:      mat.DenseCopyOf(p.Data),
		gamma0:    append([]float64(nil), p.Gamma0...),
		dipoles:   dipoles,
		times:     times,
		locations: locations,
		colSqNorm: make([]float64, dipoles),
		gtm:       mat.NewDense(dipoles, times, nil),
		gtg:       mat.NewDense(dipoles, dipoles, nil),
		kernel:    sampling.NewKernel(o.Rand),
	}
	if degenerate(p.X0) {
		if p.X0 != nil {
			monitoring.Logf("gibbs: initial amplitudes contain zeros, starting from zeros")
		}
	} else {
		s.x0 = mat.DenseCopyOf(p.X0)
	}

	sensors, _ := p.Gain.Dims()
	col := make([]float64, sensors)
	for j := 0; j < dipoles; j++ {
		mat.Col(col, j, s.gain)
		s.colSqNorm[j] = floats.Dot(col, col)
	}
	s.gtm.Mul(s.gain.T(), s.data)
	s.gtg.Mul(s.gain.T(), s.gain)

	return s, nil
}

// Options returns the options the sampler runs with.
func (s *Sampler) Options() Options {
	return s.opts
}

// Dims returns the number of dipoles, time points and locations.
func (s *Sampler) Dims() (dipoles, times, locations int) {
	return s.dipoles, s.times, s.locations
}

// Stats returns the counters of the underlying samplers, accumulated over
// every Run.
func (s *Sampler) Stats() sampling.Stats {
	return s.kernel.Stats()
}

// Run executes NBurnin + NSamples outer iterations and returns the chains of
// the post burn-in ones. Every Run restarts from the problem's initial
// state; the random source carries on from where the previous Run left it.
// The amplitude state warm starts across outer iterations.
func (s *Sampler) Run() (*Chains, error) {
	o := s.opts
	start := time.Now()

	// Amplitudes are kept transposed so the full column X[:, t] is a
	// contiguous row.
	xt := mat.NewDense(s.times, s.dipoles, nil)
	if s.x0 != nil {
		xt.Copy(s.x0.T())
	}
	x := mat.NewDense(s.dipoles, s.times, nil)
	gamma := append([]float64(nil), s.gamma0...)
	norms := make([]float64, s.locations)

	chains := newChains(s.dipoles, s.times, s.locations, o.NSamples, o.NOrient)
	rng := s.kernel.Rand()

	for k := -o.NBurnin; k < o.NSamples; k++ {
		if o.ProgressEvery > 0 && (k+o.NBurnin)%o.ProgressEvery == 0 {
			monitoring.Logf("gibbs: running iteration %d", k)
		}

		for sweep := 0; sweep < o.GroupSweeps; sweep++ {
			for _, loc := range rng.Perm(s.locations) {
				if err := s.updateLocation(xt, loc, gamma[loc]); err != nil {
					return nil, fmt.Errorf("iteration %d: %w", k, err)
				}
			}
		}
		x.Copy(xt.T())

		if err := s.checkDivergence(k, x); err != nil {
			return nil, err
		}

		var err error
		if norms, err = groupnorm.Norm(norms, x, o.NOrient); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", k, err)
		}
		if gamma, err = s.kernel.HyperpriorVec(gamma, norms, o.Beta); err != nil {
			return nil, fmt.Errorf("iteration %d: hyperparameters: %w", k, err)
		}

		if k >= 0 {
			chains.store(k, x, gamma)
		}
	}

	st := s.kernel.Stats()
	monitoring.Logf("gibbs: %d iterations (%d burn-in) in %v, hyperprior acceptance %.3f, %d/%d slice collapses",
		o.NBurnin+o.NSamples, o.NBurnin, time.Since(start).Round(time.Millisecond),
		st.AcceptanceRate(), st.SliceCollapses, st.SliceSweeps)
	return chains, nil
}

// updateLocation resamples every amplitude of one location, time point by
// time point and orientation by orientation, keeping the group's squared
// norm current after each write.
func (s *Sampler) updateLocation(xt *mat.Dense, loc int, gamma float64) error {
	n := s.opts.NOrient
	lo, hi := loc*n, (loc+1)*n
	c := 1 / gamma

	var groupSq float64
	for t := 0; t < s.times; t++ {
		block := xt.RawRowView(t)[lo:hi]
		groupSq += floats.Dot(block, block)
	}

	for t := 0; t < s.times; t++ {
		row := xt.RawRowView(t)
		for j := lo; j < hi; j++ {
			a := s.colSqNorm[j] / 2
			xj := row[j]
			b := s.gtm.At(j, t) - floats.Dot(row, s.gtg.RawRowView(j)) + 2*a*xj
			// Clamp the rounding error of the running norm.
			d := math.Max(groupSq-xj*xj, 0)

			next, err := s.kernel.Slice(a, b, c, d, xj, s.opts.SliceSweeps)
			if err != nil {
				return fmt.Errorf("location %d dipole %d time %d: %w", loc, j, t, err)
			}
			row[j] = next
			groupSq = d + next*next
		}
	}
	return nil
}

func (s *Sampler) checkDivergence(k int, x *mat.Dense) error {
	if s.opts.Divergence == DivergenceIgnore {
		return nil
	}
	res := RelativeResidual(s.gain, x, s.data)
	if !(res > s.opts.DivergenceThreshold) && !math.IsNaN(res) {
		return nil
	}
	if s.opts.Divergence == DivergenceFail {
		return fmt.Errorf("%w: iteration %d relative residual %.3g exceeds %.3g",
			ErrDiverged, k, res, s.opts.DivergenceThreshold)
	}
	monitoring.Warnf("gibbs: iteration %d relative residual %.3g exceeds %.3g, the sampler is likely diverging; consider more group or slice sweeps",
		k, res, s.opts.DivergenceThreshold)
	return nil
}

// RelativeResidual returns ‖G X − M‖_F / ‖M‖_F, or the absolute residual
// when M is zero.
func RelativeResidual(g, x, m mat.Matrix) float64 {
	var r mat.Dense
	r.Mul(g, x)
	r.Sub(&r, m)
	num := mat.Norm(&r, 2)
	den := mat.Norm(m, 2)
	if den == 0 {
		return num
	}
	return num / den
}
