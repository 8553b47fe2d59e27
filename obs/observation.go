package obs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lucasmaystre/gomfk/kern"
	"github.com/lucasmaystre/gomfk/utils"
	"gonum.org/v1/gonum/mat"
)

var ErrShape = errors.New("inconsistent dataset shape")
var ErrOutOfBounds = errors.New("input outside the declared bounds")

// ErrColumns accompanies ErrShape when inputs have the wrong number of columns.
var ErrColumns = errors.New("wrong number of input columns")

// Derivative holds observations of ∂y/∂x_k at its own input rows.
type Derivative struct {
	X  *mat.Dense
	DY []float64
}

// Dataset is the training data of one fidelity level.
type Dataset struct {
	X      *mat.Dense
	Y      []float64
	Derivs map[int]Derivative
}

// NewDataset copies x and y into a new dataset.
func NewDataset(x mat.Matrix, y []float64) (*Dataset, error) {
	n, d := Dims(x)
	if n == 0 || d == 0 {
		return nil, fmt.Errorf("%w: empty inputs", ErrShape)
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d input rows but %d outputs", ErrShape, n, len(y))
	}
	return &Dataset{
		X:      mat.DenseCopyOf(x),
		Y:      append([]float64(nil), y...),
		Derivs: make(map[int]Derivative),
	}, nil
}

// SetDerivatives registers (or replaces) the observations of ∂y/∂x_k.
func (ds *Dataset) SetDerivatives(x mat.Matrix, dy []float64, k int) error {
	n, d := Dims(x)
	if n == 0 || d == 0 {
		return fmt.Errorf("%w: empty derivative inputs", ErrShape)
	}
	if d != ds.Dim() {
		return fmt.Errorf("%w: %w: derivative inputs have %d columns, dataset has %d",
			ErrShape, ErrColumns, d, ds.Dim())
	}
	if k < 0 || k >= d {
		return fmt.Errorf("%w: derivative dimension %d out of range [0, %d)", ErrShape, k, d)
	}
	if len(dy) != n || n == 0 {
		return fmt.Errorf("%w: %d derivative rows but %d values", ErrShape, n, len(dy))
	}
	ds.Derivs[k] = Derivative{
		X:  mat.DenseCopyOf(x),
		DY: append([]float64(nil), dy...),
	}
	return nil
}

// Dims is x.Dims, with nil matrices reported as empty.
func Dims(x mat.Matrix) (int, int) {
	switch m := x.(type) {
	case nil:
		return 0, 0
	case *mat.Dense:
		if m == nil {
			return 0, 0
		}
	case *mat.VecDense:
		if m == nil {
			return 0, 0
		}
	}
	return x.Dims()
}

func (ds *Dataset) Dim() int {
	_, d := ds.X.Dims()
	return d
}

func (ds *Dataset) Len() int {
	return len(ds.Y)
}

// DerivDims returns the dimensions with derivative observations, sorted.
func (ds *Dataset) DerivDims() []int {
	dims := make([]int, 0, len(ds.Derivs))
	for k := range ds.Derivs {
		dims = append(dims, k)
	}
	sort.Ints(dims)
	return dims
}

// Sites lists the value observations followed by the derivative
// observations in increasing dimension order.
func (ds *Dataset) Sites() []kern.Site {
	sites := kern.ValueSites(ds.X)
	for _, k := range ds.DerivDims() {
		for _, s := range kern.ValueSites(ds.Derivs[k].X) {
			s.Dim = k
			sites = append(sites, s)
		}
	}
	return sites
}

// Observations returns the observed values in the order of Sites.
func (ds *Dataset) Observations() *mat.VecDense {
	vecs := []*mat.VecDense{mat.NewVecDense(len(ds.Y), ds.Y)}
	size := len(ds.Y)
	for _, k := range ds.DerivDims() {
		dy := ds.Derivs[k].DY
		vecs = append(vecs, mat.NewVecDense(len(dy), dy))
		size += len(dy)
	}
	return utils.ConcatVecs(size, vecs...)
}

// Within checks that every input lies inside [lo[j], hi[j]].
func (ds *Dataset) Within(lo, hi []float64) error {
	check := func(x *mat.Dense) error {
		n, d := x.Dims()
		if d != len(lo) {
			return fmt.Errorf("%w: %d bounds for %d columns", ErrShape, len(lo), d)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < d; j++ {
				if v := x.At(i, j); v < lo[j] || v > hi[j] {
					return fmt.Errorf("%w: row %d column %d = %g not in [%g, %g]",
						ErrOutOfBounds, i, j, v, lo[j], hi[j])
				}
			}
		}
		return nil
	}
	if err := check(ds.X); err != nil {
		return err
	}
	for _, k := range ds.DerivDims() {
		if err := check(ds.Derivs[k].X); err != nil {
			return err
		}
	}
	return nil
}

// Scaled maps the dataset into the standardised input space of s.
// Derivative observations are rescaled by the chain rule.
func (ds *Dataset) Scaled(s Scaler) *Dataset {
	out := &Dataset{
		X:      s.Transform(ds.X),
		Y:      append([]float64(nil), ds.Y...),
		Derivs: make(map[int]Derivative, len(ds.Derivs)),
	}
	for k, dv := range ds.Derivs {
		dy := make([]float64, len(dv.DY))
		for i, v := range dv.DY {
			dy[i] = v * s.Std[k]
		}
		out.Derivs[k] = Derivative{X: s.Transform(dv.X), DY: dy}
	}
	return out
}
