// Package gibbs runs the block Gibbs sampler for group-sparse source
// estimation in the linear model M ≈ G X.
//
// Each outer iteration sweeps every amplitude of X one coordinate at a time
// (locations in random order, a slice sampler per coordinate) and then redraws
// the per-location hyperparameters from their conditional given the group
// norms of X. Post burn-in states are collected into Chains.
package gibbs

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidConfig is the error kind of every ConfigError.
	ErrInvalidConfig = errors.New("gibbs: invalid configuration")
	// ErrDiverged is returned under DivergenceFail when the relative
	// residual exceeds the configured threshold.
	ErrDiverged = errors.New("gibbs: sampler diverged")
)

// ConfigError names the problem or option field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DivergencePolicy decides what happens when the reconstruction residual
// explodes, which usually means too few inner sweeps.
type DivergencePolicy int

const (
	// DivergenceIgnore skips the residual check.
	DivergenceIgnore DivergencePolicy = iota
	// DivergenceWarn logs a warning and keeps sampling.
	DivergenceWarn
	// DivergenceFail aborts the run with ErrDiverged.
	DivergenceFail
)

func (p DivergencePolicy) String() string {
	switch p {
	case DivergenceIgnore:
		return "ignore"
	case DivergenceWarn:
		return "warn"
	case DivergenceFail:
		return "fail"
	}
	return fmt.Sprintf("DivergencePolicy(%d)", int(p))
}

// ParseDivergencePolicy parses "ignore", "warn" or "fail" (case-insensitive).
func ParseDivergencePolicy(s string) (DivergencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return DivergenceIgnore, nil
	case "warn":
		return DivergenceWarn, nil
	case "fail":
		return DivergenceFail, nil
	}
	return DivergenceIgnore, fmt.Errorf("unknown divergence policy %q", s)
}

// DefaultDivergenceThreshold is the relative residual treated as divergence.
const DefaultDivergenceThreshold = 10.0

// Problem holds the fixed inputs of a run and its starting state.
type Problem struct {
	// Gain is the forward operator, sensors × dipoles.
	Gain *mat.Dense
	// Data is the sensor data, sensors × times.
	Data *mat.Dense
	// X0 is the starting amplitude matrix, dipoles × times. A nil X0, or
	// one containing any zero entry, starts the chain from zeros.
	X0 *mat.Dense
	// Gamma0 holds one strictly positive hyperparameter per location.
	Gamma0 []float64
}

// Options controls the sampler.
type Options struct {
	NOrient     int     // orientations per location, divides the dipole count
	Beta        float64 // hyperprior scale, > 0
	NBurnin     int     // discarded outer iterations, >= 0
	NSamples    int     // stored outer iterations, > 0
	GroupSweeps int     // coordinate sweeps over all locations per outer iteration
	SliceSweeps int     // slice sampler sweeps per coordinate update

	// Rand is the only random source of the run. Nil uses a fixed seed.
	Rand *rand.Rand

	Divergence          DivergencePolicy
	DivergenceThreshold float64 // zero means DefaultDivergenceThreshold

	// ProgressEvery logs every n-th outer iteration; zero disables it.
	ProgressEvery int
}

// DefaultOptions returns the settings of the reference sampler runs.
func DefaultOptions() Options {
	return Options{
		NOrient:             3,
		Beta:                1,
		NBurnin:             0,
		NSamples:            100,
		GroupSweeps:         10,
		SliceSweeps:         200,
		Divergence:          DivergenceIgnore,
		DivergenceThreshold: DefaultDivergenceThreshold,
		ProgressEvery:       1,
	}
}

// Validate checks the options on their own.
func (o Options) Validate() error {
	if o.NOrient <= 0 {
		return configErr("NOrient", "must be positive, got %d", o.NOrient)
	}
	if !(o.Beta > 0) || math.IsInf(o.Beta, 1) {
		return configErr("Beta", "must be positive and finite, got %g", o.Beta)
	}
	if o.NBurnin < 0 {
		return configErr("NBurnin", "must be non-negative, got %d", o.NBurnin)
	}
	if o.NSamples <= 0 {
		return configErr("NSamples", "must be positive, got %d", o.NSamples)
	}
	if o.GroupSweeps <= 0 {
		return configErr("GroupSweeps", "must be positive, got %d", o.GroupSweeps)
	}
	if o.SliceSweeps <= 0 {
		return configErr("SliceSweeps", "must be positive, got %d", o.SliceSweeps)
	}
	switch o.Divergence {
	case DivergenceIgnore, DivergenceWarn, DivergenceFail:
	default:
		return configErr("Divergence", "unknown policy %d", int(o.Divergence))
	}
	if o.DivergenceThreshold < 0 || math.IsNaN(o.DivergenceThreshold) {
		return configErr("DivergenceThreshold", "must be non-negative, got %g", o.DivergenceThreshold)
	}
	if o.ProgressEvery < 0 {
		return configErr("ProgressEvery", "must be non-negative, got %d", o.ProgressEvery)
	}
	return nil
}

// validate checks the problem against the options and returns the number of
// locations.
func (p Problem) validate(o Options) (int, error) {
	if p.Gain == nil {
		return 0, configErr("Gain", "is nil")
	}
	if p.Data == nil {
		return 0, configErr("Data", "is nil")
	}
	sensors, dipoles := p.Gain.Dims()
	dataSensors, times := p.Data.Dims()
	if dataSensors != sensors {
		return 0, configErr("Data", "has %d rows, gain has %d sensors", dataSensors, sensors)
	}
	if dipoles%o.NOrient != 0 {
		return 0, configErr("NOrient", "%d dipoles do not split into groups of %d", dipoles, o.NOrient)
	}
	locations := dipoles / o.NOrient

	if p.X0 != nil {
		r, c := p.X0.Dims()
		if r != dipoles || c != times {
			return 0, configErr("X0", "is %dx%d, want %dx%d", r, c, dipoles, times)
		}
		if !allFinite(p.X0) {
			return 0, configErr("X0", "contains NaN or Inf")
		}
	}
	if len(p.Gamma0) != locations {
		return 0, configErr("Gamma0", "has %d entries, want one per location (%d)", len(p.Gamma0), locations)
	}
	for i, g := range p.Gamma0 {
		if !(g > 0) || math.IsInf(g, 1) {
			return 0, configErr("Gamma0", "entry %d must be positive and finite, got %g", i, g)
		}
	}
	if !allFinite(p.Gain) {
		return 0, configErr("Gain", "contains NaN or Inf")
	}
	if !allFinite(p.Data) {
		return 0, configErr("Data", "contains NaN or Inf")
	}
	return locations, nil
}

func allFinite(m *mat.Dense) bool {
	raw := m.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// degenerate reports whether x should be replaced by zeros as a starting
// point: the chain only warm starts from a matrix without zero entries.
func degenerate(x *mat.Dense) bool {
	if x == nil {
		return true
	}
	raw := x.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		for _, v := range raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols] {
			if v == 0 {
				return true
			}
		}
	}
	return false
}
