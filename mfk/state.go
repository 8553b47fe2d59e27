package mfk

import (
	"fmt"
	"io"

	"github.com/lucasmaystre/gomfk/fitters"
	"github.com/lucasmaystre/gomfk/obs"
	"gopkg.in/yaml.v3"
	"gonum.org/v1/gonum/mat"
)

// State is what is persisted of a trained model: the configuration, the
// training data and the fitted hyperparameters. Factorisations are
// recomputed on load.
type State struct {
	Config Config       `yaml:"config"`
	Levels []LevelState `yaml:"levels"`
}

type LevelState struct {
	X           [][]float64       `yaml:"x"`
	Y           []float64         `yaml:"y"`
	Derivatives []DerivativeState `yaml:"derivatives,omitempty"`
	Theta       []float64         `yaml:"theta"`
	Sigma2      float64           `yaml:"sigma2"`
	Noise       float64           `yaml:"noise"`
}

type DerivativeState struct {
	Dim int         `yaml:"dim"`
	X   [][]float64 `yaml:"x"`
	DY  []float64   `yaml:"dy"`
}

func rows(x *mat.Dense) [][]float64 {
	n, _ := x.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, x)
	}
	return out
}

func fromRows(rs [][]float64) (*mat.Dense, error) {
	if len(rs) == 0 || len(rs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty inputs in state", ErrConfiguration)
	}
	d := len(rs[0])
	x := mat.NewDense(len(rs), d, nil)
	for i, r := range rs {
		if len(r) != d {
			return nil, fmt.Errorf("%w: state row %d has %d columns, want %d", ErrDimensionMismatch, i, len(r), d)
		}
		x.SetRow(i, r)
	}
	return x, nil
}

// State returns the persistable state of the trained model.
func (m *Model) State() (*State, error) {
	t := m.fitted
	if t == nil {
		return nil, ErrNotTrained
	}
	st := &State{Config: t.cfg}
	for i, ds := range t.sets {
		fit := t.levels[i].fit
		ls := LevelState{
			X:      rows(ds.X),
			Y:      append([]float64(nil), ds.Y...),
			Theta:  append([]float64(nil), fit.Theta...),
			Sigma2: fit.Sigma2,
			Noise:  fit.Noise,
		}
		for _, k := range ds.DerivDims() {
			dv := ds.Derivs[k]
			ls.Derivatives = append(ls.Derivatives, DerivativeState{
				Dim: k,
				X:   rows(dv.X),
				DY:  append([]float64(nil), dv.DY...),
			})
		}
		st.Levels = append(st.Levels, ls)
	}
	return st, nil
}

// WriteState encodes the state of the trained model as YAML.
func (m *Model) WriteState(w io.Writer) error {
	st, err := m.State()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}

// ReadState decodes a state written by WriteState and returns a trained
// model predicting exactly as the one that wrote it.
func ReadState(r io.Reader, opts ...Option) (*Model, error) {
	var st State
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return Restore(&st, opts...)
}

// Restore rebuilds a trained model from its state without searching the
// hyperparameters again.
func Restore(st *State, opts ...Option) (*Model, error) {
	m, err := New(st.Config, opts...)
	if err != nil {
		return nil, err
	}
	if len(st.Levels) == 0 {
		return nil, fmt.Errorf("%w: state has no levels", ErrConfiguration)
	}
	for i, ls := range st.Levels {
		x, err := fromRows(ls.X)
		if err != nil {
			return nil, err
		}
		level := Level(i)
		if i == len(st.Levels)-1 {
			level = Highest
		}
		if err := m.SetTrainingValues(x, ls.Y, level); err != nil {
			return nil, err
		}
		for _, dv := range ls.Derivatives {
			dx, err := fromRows(dv.X)
			if err != nil {
				return nil, err
			}
			if err := m.SetTrainingDerivatives(dx, dv.DY, dv.Dim, level); err != nil {
				return nil, err
			}
		}
	}
	sets, err := m.datasets()
	if err != nil {
		return nil, err
	}
	if err := m.checkData(sets); err != nil {
		return nil, err
	}
	t, err := build(m.cfg, sets, func(i int, p *fitters.Problem, _ *obs.Dataset) (levelFit, error) {
		ls := st.Levels[i]
		if len(ls.Theta) != len(p.Sites[0].X) {
			return levelFit{}, fmt.Errorf("%w: %d weights for %d input dimensions",
				ErrDimensionMismatch, len(ls.Theta), len(p.Sites[0].X))
		}
		fit, err := p.Evaluate(fitters.Params{Theta: ls.Theta, Sigma2: ls.Sigma2, Noise: ls.Noise})
		if err != nil {
			return levelFit{}, err
		}
		return levelFit{fit: fit}, nil
	})
	if err != nil {
		return nil, err
	}
	m.fitted = t
	return m, nil
}
