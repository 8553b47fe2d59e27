package mfk

import (
	"fmt"

	"github.com/lucasmaystre/gomfk/obs"
	"gonum.org/v1/gonum/mat"
)

// query checks that the model is trained and standardises x.
func (m *Model) query(x mat.Matrix) (*trained, *mat.Dense, error) {
	t := m.fitted
	if t == nil {
		return nil, nil, ErrNotTrained
	}
	n, d := obs.Dims(x)
	if n == 0 {
		return nil, nil, fmt.Errorf("%w: empty query", ErrConfiguration)
	}
	if want := len(t.scaler.Mean); d != want {
		return nil, nil, fmt.Errorf("%w: query has %d columns, model has %d", ErrDimensionMismatch, d, want)
	}
	return t, t.scaler.Transform(x), nil
}

func (t *trained) resolve(level Level) (int, error) {
	top := len(t.levels) - 1
	if level == Highest {
		return top, nil
	}
	if level < 0 || int(level) > top {
		return 0, fmt.Errorf("%w: level %d not in [0, %d]", ErrConfiguration, level, top)
	}
	return int(level), nil
}

// PredictValues predicts the highest-fidelity output at every row of x.
func (m *Model) PredictValues(x mat.Matrix) ([]float64, error) {
	return m.PredictLevelValues(x, Highest)
}

// PredictLevelValues predicts the output of the given level.
func (m *Model) PredictLevelValues(x mat.Matrix, level Level) ([]float64, error) {
	t, xs, err := m.query(x)
	if err != nil {
		return nil, err
	}
	top, err := t.resolve(level)
	if err != nil {
		return nil, err
	}
	return t.mean(xs, top)
}

// PredictVariances returns the predictive variance of the highest level.
func (m *Model) PredictVariances(x mat.Matrix) ([]float64, error) {
	all, err := m.PredictVariancesAllLevels(x)
	if err != nil {
		return nil, err
	}
	return all[len(all)-1], nil
}

// PredictVariancesAllLevels returns the predictive variance of every
// level, indexed [level][row].
func (m *Model) PredictVariancesAllLevels(x mat.Matrix) ([][]float64, error) {
	t, xs, err := m.query(x)
	if err != nil {
		return nil, err
	}
	return t.variances(xs, len(t.levels)-1)
}

// PredictDerivatives predicts ∂y/∂x_kx of the highest level.
func (m *Model) PredictDerivatives(x mat.Matrix, kx int) ([]float64, error) {
	t, xs, err := m.query(x)
	if err != nil {
		return nil, err
	}
	if !t.cfg.Corr.Differentiable() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, t.cfg.Corr)
	}
	if kx < 0 || kx >= len(t.scaler.Std) {
		return nil, fmt.Errorf("%w: derivative dimension %d not in [0, %d)",
			ErrDimensionMismatch, kx, len(t.scaler.Std))
	}
	out, err := t.derivative(xs, kx, len(t.levels)-1)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] /= t.scaler.Std[kx]
	}
	return out, nil
}
