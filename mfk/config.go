package mfk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lucasmaystre/gomfk/fitters"
	"github.com/lucasmaystre/gomfk/kern"
	"gopkg.in/yaml.v3"
)

// Trend is the polynomial regression part of every level.
type Trend int

const (
	Constant Trend = iota
	Linear
)

var trendNames = map[Trend]string{Constant: "constant", Linear: "linear"}

func (t Trend) String() string {
	if name, ok := trendNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Trend(%d)", int(t))
}

func (t Trend) MarshalText() ([]byte, error) {
	if _, ok := trendNames[t]; !ok {
		return nil, fmt.Errorf("%w: unknown trend %d", ErrConfiguration, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Trend) UnmarshalText(text []byte) error {
	for trend, name := range trendNames {
		if name == string(text) {
			*t = trend
			return nil
		}
	}
	return fmt.Errorf("%w: unknown trend %q", ErrConfiguration, text)
}

// VarianceMode selects how the variance inherited from the level below is
// combined with the local kriging variance.
type VarianceMode int

const (
	// (|ρ|·σ_{i-1} + σ_local)², an upper bound for any correlation between
	// the two terms.
	Conservative VarianceMode = iota
	// ρ²·σ²_{i-1} + σ²_local, exact only when the terms are uncorrelated.
	Independent
)

var varianceNames = map[VarianceMode]string{Conservative: "conservative", Independent: "independent"}

func (v VarianceMode) String() string {
	if name, ok := varianceNames[v]; ok {
		return name
	}
	return fmt.Sprintf("VarianceMode(%d)", int(v))
}

func (v VarianceMode) MarshalText() ([]byte, error) {
	if _, ok := varianceNames[v]; !ok {
		return nil, fmt.Errorf("%w: unknown variance mode %d", ErrConfiguration, int(v))
	}
	return []byte(v.String()), nil
}

func (v *VarianceMode) UnmarshalText(text []byte) error {
	for mode, name := range varianceNames {
		if name == string(text) {
			*v = mode
			return nil
		}
	}
	return fmt.Errorf("%w: unknown variance mode %q", ErrConfiguration, text)
}

// Config holds every recognised option of the estimator.
type Config struct {
	// Correlation family of every level. Default squar_exp.
	Corr kern.Family `yaml:"corr"`
	// Regression trend of every level, in addition to the previous level's
	// mean. Default constant.
	Poly Trend `yaml:"poly"`
	// Initial length-scale weights, one per input dimension (or per PLS
	// component), or a single value used for all. Each > 0. Default [0.01].
	Theta0 []float64 `yaml:"theta0"`
	// Search bounds of every weight, 0 < lo < hi. Default [1e-6, 20].
	ThetaBounds [2]float64 `yaml:"theta_bounds"`
	// Estimate the noise variance instead of keeping Noise0. Default false.
	EvalNoise bool `yaml:"eval_noise"`
	// Fixed or initial noise; relative to σ² unless OptimVar. ≥ 0. Default 0.
	Noise0 float64 `yaml:"noise0"`
	// Search bounds of the noise, 0 < lo < hi. Default [100ε, 1e10].
	NoiseBounds [2]float64 `yaml:"noise_bounds"`
	// Optimise σ² jointly instead of profiling it out. Default false.
	OptimVar bool `yaml:"optim_var"`
	// Relative diagonal regularisation, ≥ 0. Default 100ε.
	Nugget float64 `yaml:"nugget"`
	// Number of PLS components for the length-scale search; 0 disables
	// the reduction. Default 0.
	NComp int `yaml:"n_comp"`
	// Latin hypercube restarts besides Theta0, ≥ 0. Default 10.
	NStart int `yaml:"n_start"`
	// Local search method. Default nelder-mead.
	HyperOpt fitters.Method `yaml:"hyper_opt"`
	// Likelihood evaluations per start, > 0. Default 500.
	MaxEvals int `yaml:"max_evals"`
	// Level-to-level variance combination. Default conservative.
	Variance VarianceMode `yaml:"variance"`
	// Seed of the restart points. Default 42.
	Seed uint64 `yaml:"seed"`
	// Log training progress at info instead of debug level.
	Verbose bool `yaml:"verbose"`
	// Optional bounding box, one [lo, hi] pair per input dimension.
	XLimits [][2]float64 `yaml:"xlimits,omitempty"`
}

// DefaultConfig returns the configuration used when no option is given.
func DefaultConfig() Config {
	return Config{
		Corr:        kern.SquaredExponential,
		Poly:        Constant,
		Theta0:      []float64{1e-2},
		ThetaBounds: [2]float64{1e-6, 20},
		NoiseBounds: [2]float64{100 * eps, 1e10},
		Nugget:      100 * eps,
		NStart:      10,
		HyperOpt:    fitters.NelderMead,
		MaxEvals:    500,
		Variance:    Conservative,
		Seed:        42,
	}
}

const eps = 2.220446049250313e-16

// Validate checks every constraint that does not depend on the data.
func (c *Config) Validate() error {
	if _, err := c.Corr.MarshalText(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := c.Poly.MarshalText(); err != nil {
		return err
	}
	if _, err := c.HyperOpt.MarshalText(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := c.Variance.MarshalText(); err != nil {
		return err
	}
	if !(c.ThetaBounds[0] > 0 && c.ThetaBounds[0] < c.ThetaBounds[1]) {
		return fmt.Errorf("%w: theta_bounds %v must satisfy 0 < lo < hi", ErrConfiguration, c.ThetaBounds)
	}
	if len(c.Theta0) == 0 {
		return fmt.Errorf("%w: theta0 is empty", ErrConfiguration)
	}
	for i, t := range c.Theta0 {
		if !(t > 0) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: theta0[%d] = %g must be positive", ErrConfiguration, i, t)
		}
		if t < c.ThetaBounds[0] || t > c.ThetaBounds[1] {
			return fmt.Errorf("%w: theta0[%d] = %g outside theta_bounds %v",
				ErrConfiguration, i, t, c.ThetaBounds)
		}
	}
	if !(c.NoiseBounds[0] > 0 && c.NoiseBounds[0] < c.NoiseBounds[1]) {
		return fmt.Errorf("%w: noise_bounds %v must satisfy 0 < lo < hi", ErrConfiguration, c.NoiseBounds)
	}
	if !(c.Noise0 >= 0) {
		return fmt.Errorf("%w: noise0 = %g must be non-negative", ErrConfiguration, c.Noise0)
	}
	if !(c.Nugget >= 0) {
		return fmt.Errorf("%w: nugget = %g must be non-negative", ErrConfiguration, c.Nugget)
	}
	if c.NComp < 0 {
		return fmt.Errorf("%w: n_comp = %d must be non-negative", ErrConfiguration, c.NComp)
	}
	if c.NComp > 0 && len(c.Theta0) != 1 && len(c.Theta0) != c.NComp {
		return fmt.Errorf("%w: %d theta0 values for %d components", ErrConfiguration, len(c.Theta0), c.NComp)
	}
	if c.NStart < 0 {
		return fmt.Errorf("%w: n_start = %d must be non-negative", ErrConfiguration, c.NStart)
	}
	if c.MaxEvals <= 0 {
		return fmt.Errorf("%w: max_evals = %d must be positive", ErrConfiguration, c.MaxEvals)
	}
	for j, lim := range c.XLimits {
		if !(lim[0] < lim[1]) {
			return fmt.Errorf("%w: xlimits[%d] = %v must satisfy lo < hi", ErrConfiguration, j, lim)
		}
	}
	return nil
}

// theta0 expands Theta0 to n entries.
func (c *Config) theta0(n int) ([]float64, error) {
	switch len(c.Theta0) {
	case n:
		return append([]float64(nil), c.Theta0...), nil
	case 1:
		out := make([]float64, n)
		for i := range out {
			out[i] = c.Theta0[0]
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d theta0 values for %d length scales", ErrDimensionMismatch, len(c.Theta0), n)
}

// LoadConfig decodes a YAML document over the defaults. Unknown keys are
// rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseOptions builds a configuration from loosely typed options, keyed
// like the YAML document.
func ParseOptions(options map[string]any) (Config, error) {
	doc, err := yaml.Marshal(options)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return LoadConfig(bytes.NewReader(doc))
}
