// Package mfk implements multi-fidelity kriging: an autoregressive chain of
// Gaussian-process levels where level i explains its data with a trend,
// the previous level's mean scaled by ρ_i, and a Gaussian residual.
//
//     μ_0(x) = f(x)ᵀβ_0 + r_0(x)ᵀ R_0⁻¹ (y_0 − F_0 β_0)
//     μ_i(x) = ρ_i μ_{i-1}(x) + f(x)ᵀβ_i + r_i(x)ᵀ R_i⁻¹ (y_i − ρ_i μ_{i-1}(X_i) − F_i β_i)
//
// ρ_i is estimated by generalised least squares together with β_i, for
// every trial of the length-scale search.
package mfk

import (
	"errors"
	"fmt"

	"github.com/lucasmaystre/gomfk/fitters"
	"github.com/lucasmaystre/gomfk/obs"
	"github.com/lucasmaystre/gomfk/reduce"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/mat"
)

// Level indexes a fidelity level, 0 being the cheapest.
type Level int

// Highest names the highest-fidelity level, whatever the number of levels.
const Highest Level = -1

type Option func(*Model)

// WithLogger sets the logger receiving training progress. The default
// discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Model is a multi-fidelity kriging estimator. It is not safe for
// concurrent use.
type Model struct {
	cfg    Config
	logger *zap.Logger
	high   *obs.Dataset
	low    map[int]*obs.Dataset
	fitted *trained
}

// New validates cfg and returns an untrained model.
func New(cfg Config, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		cfg:    cfg,
		logger: zap.NewNop(),
		low:    make(map[int]*obs.Dataset),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.cfg.Theta0 = append([]float64(nil), cfg.Theta0...)
	m.cfg.XLimits = append([][2]float64(nil), cfg.XLimits...)
	return m, nil
}

func (m *Model) Config() Config {
	return m.cfg
}

// SetTrainingValues registers the dataset of a level, replacing any
// previous one with its derivatives.
func (m *Model) SetTrainingValues(x mat.Matrix, y []float64, level Level) error {
	if level < Highest {
		return fmt.Errorf("%w: invalid level %d", ErrConfiguration, level)
	}
	ds, err := obs.NewDataset(x, y)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if level == Highest {
		m.high = ds
	} else {
		m.low[int(level)] = ds
	}
	return nil
}

// SetTrainingDerivatives registers observations of ∂y/∂x_k for a level
// whose values are already set.
func (m *Model) SetTrainingDerivatives(x mat.Matrix, dy []float64, k int, level Level) error {
	ds := m.high
	if level != Highest {
		ds = m.low[int(level)]
	}
	if ds == nil {
		return fmt.Errorf("%w: no training values for level %d", ErrConfiguration, level)
	}
	if err := ds.SetDerivatives(x, dy, k); err != nil {
		if errors.Is(err, obs.ErrColumns) {
			return fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// datasets orders the registered datasets from level 0 to the highest.
func (m *Model) datasets() ([]*obs.Dataset, error) {
	if m.high == nil {
		return nil, fmt.Errorf("%w: no highest-fidelity training values", ErrConfiguration)
	}
	sets := make([]*obs.Dataset, 0, len(m.low)+1)
	for i := 0; i < len(m.low); i++ {
		ds, ok := m.low[i]
		if !ok {
			return nil, fmt.Errorf("%w: low-fidelity levels must be numbered 0..%d, level %d is missing",
				ErrConfiguration, len(m.low)-1, i)
		}
		sets = append(sets, ds)
	}
	return append(sets, m.high), nil
}

// Train fits every level from the lowest to the highest fidelity. On
// failure the previously trained state, if any, is kept.
func (m *Model) Train() error {
	sets, err := m.datasets()
	if err != nil {
		return err
	}
	if err := m.checkData(sets); err != nil {
		return err
	}
	d := sets[0].Dim()
	nTheta := d
	if m.cfg.NComp > 0 {
		if m.cfg.NComp > d {
			return fmt.Errorf("%w: n_comp = %d exceeds %d input dimensions", ErrConfiguration, m.cfg.NComp, d)
		}
		nTheta = m.cfg.NComp
	}
	theta0, err := m.cfg.theta0(nTheta)
	if err != nil {
		return err
	}

	t, err := build(m.cfg, sets, func(i int, p *fitters.Problem, ds *obs.Dataset) (levelFit, error) {
		var pls *reduce.PLS
		var expander fitters.Expander
		if m.cfg.NComp > 0 {
			var err error
			if pls, err = reduce.FitPLS(ds.X, ds.Y, m.cfg.NComp); err != nil {
				return levelFit{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
			}
			expander = pls
		}
		opt := fitters.NewOptimizer(m.settings(theta0, i), expander, m.logger.With(zap.Int("level", i)))
		fit, err := opt.Maximize(p)
		if err != nil {
			return levelFit{}, err
		}
		return levelFit{fit: fit, pls: pls}, nil
	})
	if err != nil {
		return err
	}
	for i, lf := range t.levels {
		m.logTrained(i, lf)
	}
	m.fitted = t
	return nil
}

func (m *Model) checkData(sets []*obs.Dataset) error {
	d := sets[0].Dim()
	for i, ds := range sets {
		if ds.Dim() != d {
			return &LevelError{Level: i, Err: fmt.Errorf("%w: %d input columns, level 0 has %d",
				ErrDimensionMismatch, ds.Dim(), d)}
		}
		if len(m.cfg.XLimits) == 0 {
			continue
		}
		if len(m.cfg.XLimits) != d {
			return fmt.Errorf("%w: %d xlimits for %d input dimensions", ErrDimensionMismatch, len(m.cfg.XLimits), d)
		}
		lo, hi := make([]float64, d), make([]float64, d)
		for j, lim := range m.cfg.XLimits {
			lo[j], hi[j] = lim[0], lim[1]
		}
		if err := ds.Within(lo, hi); err != nil {
			return &LevelError{Level: i, Err: fmt.Errorf("%w: %v", ErrConfiguration, err)}
		}
	}
	return nil
}

func (m *Model) settings(theta0 []float64, level int) fitters.Settings {
	return fitters.Settings{
		Theta0:         theta0,
		ThetaBounds:    m.cfg.ThetaBounds,
		EvalNoise:      m.cfg.EvalNoise,
		Noise0:         m.cfg.Noise0,
		NoiseBounds:    m.cfg.NoiseBounds,
		Restarts:       m.cfg.NStart,
		MaxEvaluations: m.cfg.MaxEvals,
		Method:         m.cfg.HyperOpt,
		Seed:           m.cfg.Seed + uint64(level),
	}
}

func (m *Model) logTrained(level int, lf levelFit) {
	lvl := zapcore.DebugLevel
	if m.cfg.Verbose {
		lvl = zapcore.InfoLevel
	}
	ce := m.logger.Check(lvl, "Level trained")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("level", level),
		zap.Float64s("theta", lf.fit.Theta),
		zap.Float64("sigma2", lf.fit.Sigma2),
		zap.Float64("noise", lf.fit.Noise),
		zap.Float64("log_likelihood", lf.fit.LogLikelihood),
	}
	if level > 0 {
		fields = append(fields, zap.Float64("rho", lf.rho()))
	}
	ce.Write(fields...)
}

// NumLevels returns the number of trained levels, or 0.
func (m *Model) NumLevels() int {
	if m.fitted == nil {
		return 0
	}
	return len(m.fitted.levels)
}

// Rho returns the fidelity coefficients ρ_1..ρ_{L-1}.
func (m *Model) Rho() ([]float64, error) {
	if m.fitted == nil {
		return nil, ErrNotTrained
	}
	out := make([]float64, 0, len(m.fitted.levels)-1)
	for _, lf := range m.fitted.levels[1:] {
		out = append(out, lf.rho())
	}
	return out, nil
}

// Hyperparameters returns the fitted parameters of every level. Weights
// apply to standardised inputs.
func (m *Model) Hyperparameters() ([]fitters.Params, error) {
	if m.fitted == nil {
		return nil, ErrNotTrained
	}
	out := make([]fitters.Params, len(m.fitted.levels))
	for i, lf := range m.fitted.levels {
		out[i] = lf.fit.Params
		out[i].Theta = append([]float64(nil), lf.fit.Theta...)
	}
	return out, nil
}
