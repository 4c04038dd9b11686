// Package summary reduces sampler chains to posterior statistics.
package summary

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bayes-meeg/internal/gibbs"
	"github.com/banshee-data/bayes-meeg/internal/groupnorm"
)

// LocationSummary describes the posterior of one location.
type LocationSummary struct {
	Location    int
	GammaMean   float64
	GammaStdDev float64
	GammaQ05    float64
	GammaQ95    float64
	// NormMean is the posterior mean of the location's amplitude group norm.
	NormMean float64
	Active   bool
}

// Gamma returns per-location posterior statistics of the hyperparameters
// and of the amplitude group norms. A location is Active when its mean group
// norm exceeds threshold.
func Gamma(ch *gibbs.Chains, threshold float64) ([]LocationSummary, error) {
	if ch == nil || ch.Len() == 0 {
		return nil, fmt.Errorf("summary: empty chains")
	}
	_, _, locations := ch.Dims()

	normMean := make([]float64, locations)
	norms := make([]float64, locations)
	for _, x := range ch.X {
		var err error
		if norms, err = groupnorm.Norm(norms, x, ch.NOrient); err != nil {
			return nil, fmt.Errorf("summary: %w", err)
		}
		for i, v := range norms {
			normMean[i] += v
		}
	}

	n := float64(ch.Len())
	out := make([]LocationSummary, locations)
	for loc := range out {
		trace := ch.GammaTrace(loc)
		mean, std := stat.MeanStdDev(trace, nil)
		if len(trace) < 2 {
			std = 0
		}
		sort.Float64s(trace)
		out[loc] = LocationSummary{
			Location:    loc,
			GammaMean:   mean,
			GammaStdDev: std,
			GammaQ05:    stat.Quantile(0.05, stat.Empirical, trace, nil),
			GammaQ95:    stat.Quantile(0.95, stat.Empirical, trace, nil),
			NormMean:    normMean[loc] / n,
			Active:      normMean[loc]/n > threshold,
		}
	}
	return out, nil
}

// Moments returns the elementwise posterior mean and standard deviation of
// the amplitude chain.
func Moments(ch *gibbs.Chains) (mean, stddev *mat.Dense, err error) {
	if ch == nil || ch.Len() == 0 {
		return nil, nil, fmt.Errorf("summary: empty chains")
	}
	dipoles, times, _ := ch.Dims()
	mean = mat.NewDense(dipoles, times, nil)
	stddev = mat.NewDense(dipoles, times, nil)
	for j := 0; j < dipoles; j++ {
		for t := 0; t < times; t++ {
			m, s := stat.MeanStdDev(ch.Trace(j, t), nil)
			if ch.Len() < 2 {
				s = 0
			}
			mean.Set(j, t, m)
			stddev.Set(j, t, s)
		}
	}
	return mean, stddev, nil
}

// ActiveLocations returns, in ascending order, the locations flagged Active.
func ActiveLocations(locs []LocationSummary) []int {
	var out []int
	for _, l := range locs {
		if l.Active {
			out = append(out, l.Location)
		}
	}
	return out
}
