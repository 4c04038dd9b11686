package gibbs

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bayes-meeg/internal/monitoring"
	"github.com/banshee-data/bayes-meeg/internal/sampling"
	"github.com/banshee-data/bayes-meeg/internal/testutil"
)

// smallProblem has 4 sensors, 2 locations with 2 orientations each and 3
// time points; location 0 carries the signal.
func smallProblem() Problem {
	gain := mat.NewDense(4, 4, []float64{
		1.0, 0.2, 0.1, 0.0,
		0.3, 1.0, 0.0, 0.2,
		0.0, 0.1, 1.0, 0.3,
		0.2, 0.0, 0.4, 1.0,
	})
	x := mat.NewDense(4, 3, []float64{
		2, 1, 0,
		-1, 0, 1,
		0, 0, 0,
		0, 0, 0,
	})
	var data mat.Dense
	data.Mul(gain, x)
	return Problem{Gain: gain, Data: &data, Gamma0: []float64{1, 1}}
}

func smallOptions(seed uint64) Options {
	o := DefaultOptions()
	o.NOrient = 2
	o.NSamples = 5
	o.GroupSweeps = 2
	o.SliceSweeps = 20
	o.Rand = testutil.NewRand(seed)
	return o
}

func TestSample_ChainShapes(t *testing.T) {
	t.Parallel()

	ch, err := Sample(smallProblem(), smallOptions(1))
	require.NoError(t, err)

	require.Equal(t, 5, ch.Len())
	dipoles, times, locations := ch.Dims()
	assert.Equal(t, 4, dipoles)
	assert.Equal(t, 3, times)
	assert.Equal(t, 2, locations)
	assert.Equal(t, 2, ch.NOrient)

	r, c := ch.Gamma.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 5, c)
	for loc := 0; loc < r; loc++ {
		for k := 0; k < c; k++ {
			assert.Greater(t, ch.Gamma.At(loc, k), 0.0, "gamma[%d, %d]", loc, k)
		}
	}
	for k, x := range ch.X {
		xr, xc := x.Dims()
		assert.Equal(t, 4, xr, "sample %d", k)
		assert.Equal(t, 3, xc, "sample %d", k)
	}
}

func TestSample_BurnInIsDiscarded(t *testing.T) {
	t.Parallel()

	o := smallOptions(2)
	o.NBurnin = 7
	o.NSamples = 3
	ch, err := Sample(smallProblem(), o)
	require.NoError(t, err)
	assert.Equal(t, 3, ch.Len())
	_, c := ch.Gamma.Dims()
	assert.Equal(t, 3, c)
}

func TestSample_SamplesAreDistinctSnapshots(t *testing.T) {
	t.Parallel()

	ch, err := Sample(smallProblem(), smallOptions(3))
	require.NoError(t, err)
	assert.NotSame(t, ch.X[0], ch.X[1])
	assert.False(t, mat.Equal(ch.X[0], ch.X[1]), "consecutive samples should differ")
}

func TestSample_Reproducible(t *testing.T) {
	t.Parallel()

	a, err := Sample(smallProblem(), smallOptions(42))
	require.NoError(t, err)
	b, err := Sample(smallProblem(), smallOptions(42))
	require.NoError(t, err)

	for k := range a.X {
		if diff := cmp.Diff(a.X[k].RawMatrix().Data, b.X[k].RawMatrix().Data); diff != "" {
			t.Fatalf("sample %d differs (-a +b):\n%s", k, diff)
		}
	}
	assert.True(t, mat.Equal(a.Gamma, b.Gamma))

	c, err := Sample(smallProblem(), smallOptions(43))
	require.NoError(t, err)
	assert.False(t, mat.Equal(a.Gamma, c.Gamma))
}

func TestSample_NoSignalConcentratesAtZero(t *testing.T) {
	t.Parallel()

	p := Problem{
		Gain:   mat.NewDense(1, 1, []float64{1}),
		Data:   mat.NewDense(1, 1, []float64{0}),
		X0:     mat.NewDense(1, 1, []float64{0}),
		Gamma0: []float64{1},
	}
	o := DefaultOptions()
	o.NOrient = 1
	o.NBurnin = 50
	o.NSamples = 4000
	o.GroupSweeps = 1
	o.SliceSweeps = 10
	o.Rand = testutil.NewRand(5)

	ch, err := Sample(p, o)
	require.NoError(t, err)

	trace := ch.Trace(0, 0)
	assert.InDelta(t, 0, stat.Mean(trace, nil), 0.15)

	abs := make([]float64, len(trace))
	for i, v := range trace {
		abs[i] = math.Abs(v)
	}
	assert.Less(t, stat.Mean(abs, nil), 1.0)
}

func TestSample_RecoversActiveLocation(t *testing.T) {
	t.Parallel()

	// Identity gain, one orientation per location, signal on dipole 0 only.
	p := Problem{
		Gain:   mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		Data:   mat.NewDense(3, 1, []float64{6, 0, 0}),
		Gamma0: []float64{1, 1, 1},
	}
	o := DefaultOptions()
	o.NOrient = 1
	o.NBurnin = 50
	o.NSamples = 1000
	o.GroupSweeps = 1
	o.SliceSweeps = 10
	o.Rand = testutil.NewRand(6)

	ch, err := Sample(p, o)
	require.NoError(t, err)

	assert.Greater(t, stat.Mean(ch.Trace(0, 0), nil), 4.0)
	assert.InDelta(t, 0, stat.Mean(ch.Trace(1, 0), nil), 0.3)
	assert.InDelta(t, 0, stat.Mean(ch.Trace(2, 0), nil), 0.3)
	assert.Greater(t, stat.Mean(ch.GammaTrace(0), nil), stat.Mean(ch.GammaTrace(1), nil))
}

// marginalDensity is the unnormalised posterior of one decoupled amplitude
// with gain g and datum m, with gamma integrated out:
// exp(-(m-gx)²/2) ∫ exp(-|x|/γ - γ/β) dγ.
func marginalDensity(g, m, beta float64) func(float64) float64 {
	return func(x float64) float64 {
		ax := math.Abs(x)
		mix := quad.Fixed(func(gamma float64) float64 {
			return math.Exp(-ax/gamma - gamma/beta)
		}, 0, math.Inf(1), 100, nil, 0)
		r := m - g*x
		return math.Exp(-r*r/2) * mix
	}
}

func TestSample_MatchesMarginalPosterior(t *testing.T) {
	t.Parallel()

	// Orthogonal columns with different norms decouple into two 1-D
	// posteriors; each must use its own column norm.
	p := Problem{
		Gain:   mat.NewDense(2, 2, []float64{1, 0, 0, 2}),
		Data:   mat.NewDense(2, 1, []float64{2, 3}),
		Gamma0: []float64{1, 1},
	}
	o := DefaultOptions()
	o.NOrient = 1
	o.NBurnin = 500
	o.NSamples = 20000
	o.GroupSweeps = 1
	o.SliceSweeps = 10
	o.Rand = testutil.NewRand(11)

	ch, err := Sample(p, o)
	require.NoError(t, err)

	cases := []struct {
		dipole int
		g, m   float64
		lo, hi float64
	}{
		{0, 1, 2, -5, 8},
		{1, 2, 3, -3, 5},
	}
	for _, tc := range cases {
		cdf := testutil.NumericCDF(marginalDensity(tc.g, tc.m, o.Beta), tc.lo, tc.hi, 520)
		ks := testutil.KSStatistic(ch.Trace(tc.dipole, 0), cdf)
		assert.Less(t, ks, 0.03, "dipole %d", tc.dipole)
	}
}

func TestSample_ZeroGainColumnIsFatal(t *testing.T) {
	t.Parallel()

	p := Problem{
		Gain:   mat.NewDense(1, 2, []float64{1, 0}),
		Data:   mat.NewDense(1, 1, []float64{1}),
		Gamma0: []float64{1, 1},
	}
	o := smallOptions(7)
	o.NOrient = 1

	ch, err := Sample(p, o)
	require.Error(t, err)
	assert.Nil(t, ch)
	assert.True(t, errors.Is(err, sampling.ErrInvalidSliceParameters))
	assert.Contains(t, err.Error(), "dipole 1")
}

func TestNew_InvalidConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Problem, *Options)
		field  string
	}{
		{"zero_beta", func(p *Problem, o *Options) { o.Beta = 0 }, "Beta"},
		{"negative_beta", func(p *Problem, o *Options) { o.Beta = -2 }, "Beta"},
		{"nan_beta", func(p *Problem, o *Options) { o.Beta = math.NaN() }, "Beta"},
		{"zero_group_size", func(p *Problem, o *Options) { o.NOrient = 0 }, "NOrient"},
		{"uneven_groups", func(p *Problem, o *Options) { o.NOrient = 3 }, "NOrient"},
		{"negative_burnin", func(p *Problem, o *Options) { o.NBurnin = -1 }, "NBurnin"},
		{"zero_samples", func(p *Problem, o *Options) { o.NSamples = 0 }, "NSamples"},
		{"zero_group_sweeps", func(p *Problem, o *Options) { o.GroupSweeps = 0 }, "GroupSweeps"},
		{"zero_slice_sweeps", func(p *Problem, o *Options) { o.SliceSweeps = 0 }, "SliceSweeps"},
		{"unknown_policy", func(p *Problem, o *Options) { o.Divergence = DivergencePolicy(9) }, "Divergence"},
		{"negative_threshold", func(p *Problem, o *Options) { o.DivergenceThreshold = -1 }, "DivergenceThreshold"},
		{"negative_progress", func(p *Problem, o *Options) { o.ProgressEvery = -1 }, "ProgressEvery"},
		{"nil_gain", func(p *Problem, o *Options) { p.Gain = nil }, "Gain"},
		{"nil_data", func(p *Problem, o *Options) { p.Data = nil }, "Data"},
		{"sensor_mismatch", func(p *Problem, o *Options) { p.Data = mat.NewDense(3, 3, nil) }, "Data"},
		{"x0_shape", func(p *Problem, o *Options) { p.X0 = mat.NewDense(4, 2, nil) }, "X0"},
		{"x0_nan", func(p *Problem, o *Options) {
			p.X0 = mat.NewDense(4, 3, nil)
			p.X0.Set(1, 1, math.NaN())
		}, "X0"},
		{"gamma_length", func(p *Problem, o *Options) { p.Gamma0 = []float64{1} }, "Gamma0"},
		{"gamma_zero", func(p *Problem, o *Options) { p.Gamma0 = []float64{1, 0} }, "Gamma0"},
		{"gamma_negative", func(p *Problem, o *Options) { p.Gamma0 = []float64{-1, 1} }, "Gamma0"},
		{"gain_inf", func(p *Problem, o *Options) { p.Gain.Set(0, 0, math.Inf(1)) }, "Gain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, o := smallProblem(), smallOptions(1)
			tt.mutate(&p, &o)

			s, err := New(p, o)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestNew_DoesNotAliasInputs(t *testing.T) {
	t.Parallel()

	p := smallProblem()
	p.X0 = mat.NewDense(4, 3, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	x0 := mat.DenseCopyOf(p.X0)
	gamma0 := append([]float64(nil), p.Gamma0...)

	s, err := New(p, smallOptions(1))
	require.NoError(t, err)
	require.NotNil(t, s.x0)
	_, err = s.Run()
	require.NoError(t, err)

	assert.True(t, mat.Equal(x0, p.X0), "X0 must not be mutated")
	assert.Equal(t, gamma0, p.Gamma0)
}

func TestNew_DegenerateStartUsesZeros(t *testing.T) {
	t.Parallel()

	p := smallProblem()
	p.X0 = mat.NewDense(4, 3, []float64{1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1})
	s, err := New(p, smallOptions(1))
	require.NoError(t, err)
	assert.Nil(t, s.x0)

	assert.True(t, degenerate(nil))
	assert.False(t, degenerate(mat.NewDense(1, 2, []float64{0.5, -2})))
}

func TestNew_Precomputation(t *testing.T) {
	t.Parallel()

	p := smallProblem()
	s, err := New(p, smallOptions(1))
	require.NoError(t, err)

	dipoles, times, locations := s.Dims()
	assert.Equal(t, 4, dipoles)
	assert.Equal(t, 3, times)
	assert.Equal(t, 2, locations)
	assert.Equal(t, DefaultDivergenceThreshold, s.Options().DivergenceThreshold)

	for j := 0; j < dipoles; j++ {
		assert.InDelta(t, s.gtg.At(j, j), s.colSqNorm[j], 1e-12, "column %d", j)
	}
	var gtm mat.Dense
	gtm.Mul(p.Gain.T(), p.Data)
	assert.True(t, mat.EqualApprox(&gtm, s.gtm, 1e-12))
}

func TestUpdateLocation_TouchesOnlyItsGroup(t *testing.T) {
	t.Parallel()

	p := smallProblem()
	p.Gamma0 = []float64{1, 1, 1, 1}
	p.Gain = mat.NewDense(4, 8, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			p.Gain.Set(i, j, float64((i+1)*(j+2)%5)+0.5)
		}
	}
	o := smallOptions(8)
	s, err := New(p, o)
	require.NoError(t, err)

	xt := mat.NewDense(3, 8, nil)
	for ti := 0; ti < 3; ti++ {
		for j := 0; j < 8; j++ {
			xt.Set(ti, j, float64(10*ti+j))
		}
	}
	before := mat.DenseCopyOf(xt)

	const loc = 2
	require.NoError(t, s.updateLocation(xt, loc, 0.5))

	changed := false
	for tt := 0; tt < 3; tt++ {
		for j := 0; j < 8; j++ {
			inGroup := j/o.NOrient == loc
			if !inGroup {
				assert.Equal(t, before.At(tt, j), xt.At(tt, j), "time %d dipole %d outside group", tt, j)
			} else if before.At(tt, j) != xt.At(tt, j) {
				changed = true
			}
		}
	}
	assert.True(t, changed, "group %d was not updated", loc)
}

func TestSampler_Stats(t *testing.T) {
	t.Parallel()

	o := smallOptions(9)
	s, err := New(smallProblem(), o)
	require.NoError(t, err)
	_, err = s.Run()
	require.NoError(t, err)

	st := s.Stats()
	iterations := o.NBurnin + o.NSamples
	// 4 dipoles × 3 times per group sweep.
	assert.Equal(t, iterations*o.GroupSweeps*12*o.SliceSweeps, st.SliceSweeps)
	assert.Equal(t, iterations*2, st.HyperDraws)
}

func TestDivergence_Fail(t *testing.T) {
	t.Parallel()

	o := smallOptions(10)
	o.Divergence = DivergenceFail
	o.DivergenceThreshold = 1e-12

	_, err := Sample(smallProblem(), o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiverged))
	assert.Contains(t, err.Error(), "iteration 0")
}

func TestDivergence_WarnAndProgressLogging(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	o := smallOptions(11)
	o.NBurnin = 1
	o.NSamples = 4
	o.ProgressEvery = 2
	o.Divergence = DivergenceWarn
	o.DivergenceThreshold = 1e-12

	ch, err := Sample(smallProblem(), o)
	require.NoError(t, err)
	assert.Equal(t, 4, ch.Len())

	var progress, warnings int
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "gibbs: running iteration"):
			progress++
		case strings.HasPrefix(l, "WARNING: gibbs: iteration"):
			warnings++
		}
	}
	assert.Equal(t, 3, progress, "iterations -1, 1 and 3 are logged")
	assert.Equal(t, 5, warnings)
	assert.Contains(t, lines[len(lines)-1], "5 iterations (1 burn-in)")
}

func TestDivergence_IgnoreSkipsCheck(t *testing.T) {
	t.Parallel()

	o := smallOptions(12)
	o.DivergenceThreshold = 1e-12
	_, err := Sample(smallProblem(), o)
	assert.NoError(t, err)
}

func TestRelativeResidual(t *testing.T) {
	t.Parallel()

	g := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	x := mat.NewDense(2, 1, []float64{3, 4})
	m := mat.NewDense(2, 1, []float64{3, 4})
	assert.Equal(t, 0.0, RelativeResidual(g, x, m))

	zero := mat.NewDense(2, 1, nil)
	assert.InDelta(t, 5.0, RelativeResidual(g, x, zero), 1e-12)

	m2 := mat.NewDense(2, 1, []float64{0, 4})
	assert.InDelta(t, 0.75, RelativeResidual(g, x, m2), 1e-12)
}

func TestDivergencePolicy_ParseAndString(t *testing.T) {
	t.Parallel()

	for _, p := range []DivergencePolicy{DivergenceIgnore, DivergenceWarn, DivergenceFail} {
		got, err := ParseDivergencePolicy(strings.ToUpper(p.String()))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseDivergencePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DivergenceIgnore, got)

	_, err = ParseDivergencePolicy("explode")
	assert.Error(t, err)
	assert.Equal(t, "DivergencePolicy(7)", DivergencePolicy(7).String())
}

func TestChains_Traces(t *testing.T) {
	t.Parallel()

	ch := newChains(2, 2, 1, 3, 2)
	for k := 0; k < 3; k++ {
		x := mat.NewDense(2, 2, []float64{float64(k), 0, 0, -float64(k)})
		ch.store(k, x, []float64{float64(k + 1)})
	}
	assert.Equal(t, []float64{0, 1, 2}, ch.Trace(0, 0))
	assert.Equal(t, []float64{0, -1, -2}, ch.Trace(1, 1))
	assert.Equal(t, []float64{1, 2, 3}, ch.GammaTrace(0))

	var empty Chains
	d, tm, l := empty.Dims()
	assert.Zero(t, d+tm+l)
}
