package mfk

import (
	"errors"
	"fmt"
	"math"

	"github.com/lucasmaystre/gomfk/fitters"
	"github.com/lucasmaystre/gomfk/kern"
	"github.com/lucasmaystre/gomfk/obs"
	"github.com/lucasmaystre/gomfk/reduce"
	"gonum.org/v1/gonum/mat"
)

// levelFit is the fitted state of one level.
type levelFit struct {
	fit *fitters.Fit
	pls *reduce.PLS // nil without reduction
}

// rho is the coefficient of the previous level's mean, the last regressor.
func (lf levelFit) rho() float64 {
	return lf.fit.Beta[len(lf.fit.Beta)-1]
}

// trained is the immutable result of a successful training. Inputs of
// every level are standardised with the statistics of level 0.
type trained struct {
	cfg    Config
	scaler obs.Scaler
	sets   []*obs.Dataset // As trained, in original units.
	levels []levelFit
}

type fitFunc func(level int, p *fitters.Problem, scaled *obs.Dataset) (levelFit, error)

// build fits the levels in order; each level's problem uses the means of
// the levels already fitted.
func build(cfg Config, sets []*obs.Dataset, fit fitFunc) (*trained, error) {
	t := &trained{
		cfg:    cfg,
		scaler: obs.FitScaler(sets[0].X),
		sets:   sets,
	}
	for i, ds := range sets {
		scaled := ds.Scaled(t.scaler)
		p, err := t.problem(scaled)
		if err != nil {
			return nil, &LevelError{Level: i, Err: err}
		}
		lf, err := fit(i, p, scaled)
		if err != nil {
			return nil, levelError(i, err)
		}
		t.levels = append(t.levels, lf)
	}
	return t, nil
}

func levelError(level int, err error) error {
	var trial *fitters.TrialError
	if errors.As(err, &trial) {
		return &LevelError{Level: level, Theta: trial.Theta, Err: trial.Err}
	}
	if errors.Is(err, fitters.ErrNotPositiveDefinite) || errors.Is(err, fitters.ErrIllConditioned) {
		err = fmt.Errorf("%w: %w", ErrNumericalInstability, err)
	}
	return &LevelError{Level: level, Err: err}
}

// problem assembles the likelihood problem of the next level to fit.
func (t *trained) problem(ds *obs.Dataset) (*fitters.Problem, error) {
	top := len(t.levels) - 1
	var prev []float64
	if top >= 0 {
		var err error
		if prev, err = t.mean(ds.X, top); err != nil {
			return nil, err
		}
	}
	blocks := []*mat.Dense{t.trend(ds.X, prev)}
	for _, k := range ds.DerivDims() {
		x := ds.Derivs[k].X
		var prevD []float64
		if top >= 0 {
			var err error
			if prevD, err = t.derivative(x, k, top); err != nil {
				return nil, err
			}
		}
		blocks = append(blocks, t.trendDeriv(x, k, prevD))
	}
	return &fitters.Problem{
		Family:   t.cfg.Corr,
		Sites:    ds.Sites(),
		Y:        ds.Observations(),
		F:        stack(blocks),
		Nugget:   t.cfg.Nugget,
		OptimVar: t.cfg.OptimVar,
	}, nil
}

func (t *trained) regressors(d int, withPrev bool) int {
	p := 1
	if t.cfg.Poly == Linear {
		p += d
	}
	if withPrev {
		p++
	}
	return p
}

// trend returns the regressors at x: the polynomial trend, then prev when
// given.
func (t *trained) trend(x *mat.Dense, prev []float64) *mat.Dense {
	n, d := x.Dims()
	p := t.regressors(d, prev != nil)
	f := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		f.Set(i, 0, 1)
		if t.cfg.Poly == Linear {
			for j := 0; j < d; j++ {
				f.Set(i, 1+j, x.At(i, j))
			}
		}
		if prev != nil {
			f.Set(i, p-1, prev[i])
		}
	}
	return f
}

// trendDeriv returns the derivatives of the regressors in dimension k.
func (t *trained) trendDeriv(x *mat.Dense, k int, prevD []float64) *mat.Dense {
	n, d := x.Dims()
	p := t.regressors(d, prevD != nil)
	f := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		if t.cfg.Poly == Linear {
			f.Set(i, 1+k, 1)
		}
		if prevD != nil {
			f.Set(i, p-1, prevD[i])
		}
	}
	return f
}

// mean returns μ_top at standardised inputs.
func (t *trained) mean(x *mat.Dense, top int) ([]float64, error) {
	var prev []float64
	for i := 0; i <= top; i++ {
		mu, err := t.levels[i].fit.Mean(x, t.trend(x, prev), kern.Value)
		if err != nil {
			return nil, err
		}
		prev = mu
	}
	return prev, nil
}

// variances returns the predictive variance of every level up to top.
func (t *trained) variances(x *mat.Dense, top int) ([][]float64, error) {
	out := make([][]float64, 0, top+1)
	var prev []float64
	for i := 0; i <= top; i++ {
		lf := t.levels[i]
		f := t.trend(x, prev)
		local, err := lf.fit.Variance(x, f)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			local = combine(t.cfg.Variance, lf.rho(), out[i-1], local)
		}
		out = append(out, local)
		if i < top {
			if prev, err = lf.fit.Mean(x, f, kern.Value); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func combine(mode VarianceMode, rho float64, inherited, local []float64) []float64 {
	out := make([]float64, len(local))
	for i := range out {
		switch mode {
		case Independent:
			out[i] = rho*rho*inherited[i] + local[i]
		default:
			s := math.Abs(rho)*math.Sqrt(inherited[i]) + math.Sqrt(local[i])
			out[i] = s * s
		}
	}
	return out
}

// derivative returns ∂μ_top/∂x_k at standardised inputs.
func (t *trained) derivative(x *mat.Dense, k, top int) ([]float64, error) {
	var prevD []float64
	for i := 0; i <= top; i++ {
		dmu, err := t.levels[i].fit.Mean(x, t.trendDeriv(x, k, prevD), k)
		if err != nil {
			return nil, err
		}
		prevD = dmu
	}
	return prevD, nil
}

// stack concatenates matrices with the same column count.
func stack(blocks []*mat.Dense) *mat.Dense {
	rows, cols := 0, 0
	for _, b := range blocks {
		r, c := b.Dims()
		rows, cols = rows+r, c
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		out.Slice(offset, offset+r, 0, cols).(*mat.Dense).Copy(b)
		offset += r
	}
	return out
}
