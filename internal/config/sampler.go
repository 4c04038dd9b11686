package config

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/banshee-data/bayes-meeg/internal/fsutil"
	"github.com/banshee-data/bayes-meeg/internal/gibbs"
)

// DefaultConfigPath is the path to the canonical sampler defaults file.
const DefaultConfigPath = "config/sampler.defaults.json"

// SamplerConfig holds the settings of a sampler run. Every field is optional;
// the Get* accessors supply defaults for fields left out of the JSON.
type SamplerConfig struct {
	// Model
	NOrient *int     `json:"n_orient,omitempty"`
	Beta    *float64 `json:"beta,omitempty"`

	// Chain length
	NBurnin     *int `json:"n_burnin,omitempty"`
	NSamples    *int `json:"n_samples,omitempty"`
	GroupSweeps *int `json:"group_sweeps,omitempty"`
	SliceSweeps *int `json:"slice_sweeps,omitempty"`

	// Randomness
	Seed *uint64 `json:"seed,omitempty"`

	// Divergence guard
	DivergencePolicy    *string  `json:"divergence_policy,omitempty"` // "ignore", "warn" or "fail"
	DivergenceThreshold *float64 `json:"divergence_threshold,omitempty"`

	// Reporting
	ProgressEvery   *int     `json:"progress_every,omitempty"`
	ActiveThreshold *float64 `json:"active_threshold,omitempty"`
}

// EmptySamplerConfig returns a SamplerConfig with all fields unset.
func EmptySamplerConfig() *SamplerConfig {
	return &SamplerConfig{}
}

// maxConfigSize bounds the size of a config file.
const maxConfigSize = 1 * 1024 * 1024 // 1MB

// LoadSamplerConfig loads a SamplerConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadSamplerConfig(path string) (*SamplerConfig, error) {
	cleanPath, err := fsutil.CheckFile(path, "config file", ".json", maxConfigSize)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySamplerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SamplerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSamplerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set.
func (c *SamplerConfig) Validate() error {
	if c.NOrient != nil && *c.NOrient <= 0 {
		return fmt.Errorf("n_orient must be positive, got %d", *c.NOrient)
	}
	if c.Beta != nil && (!(*c.Beta > 0) || math.IsInf(*c.Beta, 1)) {
		return fmt.Errorf("beta must be positive, got %g", *c.Beta)
	}
	if c.NBurnin != nil && *c.NBurnin < 0 {
		return fmt.Errorf("n_burnin must be non-negative, got %d", *c.NBurnin)
	}
	if c.NSamples != nil && *c.NSamples <= 0 {
		return fmt.Errorf("n_samples must be positive, got %d", *c.NSamples)
	}
	if c.GroupSweeps != nil && *c.GroupSweeps <= 0 {
		return fmt.Errorf("group_sweeps must be positive, got %d", *c.GroupSweeps)
	}
	if c.SliceSweeps != nil && *c.SliceSweeps <= 0 {
		return fmt.Errorf("slice_sweeps must be positive, got %d", *c.SliceSweeps)
	}
	if c.DivergencePolicy != nil {
		if _, err := gibbs.ParseDivergencePolicy(*c.DivergencePolicy); err != nil {
			return fmt.Errorf("invalid divergence_policy: %w", err)
		}
	}
	if c.DivergenceThreshold != nil && !(*c.DivergenceThreshold > 0) {
		return fmt.Errorf("divergence_threshold must be positive, got %g", *c.DivergenceThreshold)
	}
	if c.ProgressEvery != nil && *c.ProgressEvery < 0 {
		return fmt.Errorf("progress_every must be non-negative, got %d", *c.ProgressEvery)
	}
	if c.ActiveThreshold != nil && *c.ActiveThreshold < 0 {
		return fmt.Errorf("active_threshold must be non-negative, got %g", *c.ActiveThreshold)
	}
	return nil
}

// GetNOrient returns the n_orient value or the default.
func (c *SamplerConfig) GetNOrient() int {
	if c.NOrient == nil {
		return 3 // free orientation
	}
	return *c.NOrient
}

// GetBeta returns the beta value or the default.
func (c *SamplerConfig) GetBeta() float64 {
	if c.Beta == nil {
		return 1.0
	}
	return *c.Beta
}

// GetNBurnin returns the n_burnin value or the default.
func (c *SamplerConfig) GetNBurnin() int {
	if c.NBurnin == nil {
		return 0
	}
	return *c.NBurnin
}

// GetNSamples returns the n_samples value or the default.
func (c *SamplerConfig) GetNSamples() int {
	if c.NSamples == nil {
		return 100
	}
	return *c.NSamples
}

// GetGroupSweeps returns the group_sweeps value or the default.
func (c *SamplerConfig) GetGroupSweeps() int {
	if c.GroupSweeps == nil {
		return 10
	}
	return *c.GroupSweeps
}

// GetSliceSweeps returns the slice_sweeps value or the default.
func (c *SamplerConfig) GetSliceSweeps() int {
	if c.SliceSweeps == nil {
		return 200
	}
	return *c.SliceSweeps
}

// GetSeed returns the seed value or the default.
func (c *SamplerConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

// GetDivergencePolicy returns the parsed divergence_policy or the default.
func (c *SamplerConfig) GetDivergencePolicy() gibbs.DivergencePolicy {
	if c.DivergencePolicy == nil {
		return gibbs.DivergenceIgnore
	}
	p, err := gibbs.ParseDivergencePolicy(*c.DivergencePolicy)
	if err != nil {
		return gibbs.DivergenceIgnore // default on parse error
	}
	return p
}

// GetDivergenceThreshold returns the divergence_threshold value or the default.
func (c *SamplerConfig) GetDivergenceThreshold() float64 {
	if c.DivergenceThreshold == nil {
		return gibbs.DefaultDivergenceThreshold
	}
	return *c.DivergenceThreshold
}

// GetProgressEvery returns the progress_every value or the default.
func (c *SamplerConfig) GetProgressEvery() int {
	if c.ProgressEvery == nil {
		return 1
	}
	return *c.ProgressEvery
}

// GetActiveThreshold returns the active_threshold value or the default.
func (c *SamplerConfig) GetActiveThreshold() float64 {
	if c.ActiveThreshold == nil {
		return 1e-6
	}
	return *c.ActiveThreshold
}

// Options builds sampler options from the configuration, seeding a fresh
// random source from GetSeed.
func (c *SamplerConfig) Options() gibbs.Options {
	seed := c.GetSeed()
	return gibbs.Options{
		NOrient:             c.GetNOrient(),
		Beta:                c.GetBeta(),
		NBurnin:             c.GetNBurnin(),
		NSamples:            c.GetNSamples(),
		GroupSweeps:         c.GetGroupSweeps(),
		SliceSweeps:         c.GetSliceSweeps(),
		Rand:                rand.New(rand.NewPCG(seed, seed)),
		Divergence:          c.GetDivergencePolicy(),
		DivergenceThreshold: c.GetDivergenceThreshold(),
		ProgressEvery:       c.GetProgressEvery(),
	}
}
