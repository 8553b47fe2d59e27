package obs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lucasmaystre/gomfk/kern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewDatasetShape(t *testing.T) {
	tests := []struct {
		name string
		x    mat.Matrix
		y    []float64
		ok   bool
	}{
		{"valid", mat.NewDense(2, 1, []float64{0, 1}), []float64{1, 2}, true},
		{"too few outputs", mat.NewDense(2, 1, []float64{0, 1}), []float64{1}, false},
		{"too many outputs", mat.NewDense(1, 2, []float64{0, 1}), []float64{1, 2}, false},
		{"nil inputs", nil, []float64{1}, false},
		{"nil dense inputs", (*mat.Dense)(nil), []float64{1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDataset(tt.x, tt.y)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrShape)
			}
		})
	}
}

func TestDatasetCopiesInputs(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{0, 1})
	y := []float64{3, 4}
	ds, err := NewDataset(x, y)
	require.NoError(t, err)
	x.Set(0, 0, 9)
	y[0] = 9
	assert.Equal(t, 0.0, ds.X.At(0, 0))
	assert.Equal(t, 3.0, ds.Y[0])
}

func TestSitesAndObservationsOrder(t *testing.T) {
	ds, err := NewDataset(mat.NewDense(2, 2, []float64{0, 0, 1, 1}), []float64{10, 11})
	require.NoError(t, err)
	require.NoError(t, ds.SetDerivatives(mat.NewDense(1, 2, []float64{0.5, 0.5}), []float64{21}, 1))
	require.NoError(t, ds.SetDerivatives(mat.NewDense(1, 2, []float64{0.2, 0.2}), []float64{20}, 0))

	want := []kern.Site{
		{X: []float64{0, 0}, Dim: kern.Value},
		{X: []float64{1, 1}, Dim: kern.Value},
		{X: []float64{0.2, 0.2}, Dim: 0},
		{X: []float64{0.5, 0.5}, Dim: 1},
	}
	if diff := cmp.Diff(want, ds.Sites()); diff != "" {
		t.Errorf("Sites() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{10, 11, 20, 21}, ds.Observations().RawVector().Data)
	assert.Equal(t, []int{0, 1}, ds.DerivDims())
}

func TestSetDerivativesErrors(t *testing.T) {
	ds, err := NewDataset(mat.NewDense(2, 2, []float64{0, 0, 1, 1}), []float64{10, 11})
	require.NoError(t, err)
	assert.ErrorIs(t, ds.SetDerivatives(mat.NewDense(1, 3, nil), []float64{1}, 0), ErrColumns)
	assert.ErrorIs(t, ds.SetDerivatives(mat.NewDense(1, 2, nil), []float64{1}, 2), ErrShape)
	assert.ErrorIs(t, ds.SetDerivatives(mat.NewDense(1, 2, nil), []float64{1, 2}, 0), ErrShape)
	assert.ErrorIs(t, ds.SetDerivatives(nil, []float64{1}, 0), ErrShape)
	assert.ErrorIs(t, ds.SetDerivatives((*mat.Dense)(nil), []float64{1}, 0), ErrShape)
	assert.Empty(t, ds.Derivs)
}

func TestWithin(t *testing.T) {
	ds, err := NewDataset(mat.NewDense(2, 1, []float64{0, 1}), []float64{1, 2})
	require.NoError(t, err)
	assert.NoError(t, ds.Within([]float64{0}, []float64{1}))
	assert.ErrorIs(t, ds.Within([]float64{0.5}, []float64{1}), ErrOutOfBounds)
}

func TestScalerStandardisesColumns(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	s := FitScaler(x)
	assert.InDelta(t, 2.5, s.Mean[0], 1e-15)
	assert.Equal(t, 1.0, s.Std[1], "constant column keeps a unit scale")

	z := s.Transform(x)
	col := mat.Col(nil, 0, z)
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Equal(t, 0.0, z.At(2, 1))
}

func TestScaledRescalesDerivatives(t *testing.T) {
	ds, err := NewDataset(mat.NewDense(3, 1, []float64{0, 2, 4}), []float64{0, 4, 8})
	require.NoError(t, err)
	require.NoError(t, ds.SetDerivatives(mat.NewDense(1, 1, []float64{1}), []float64{2}, 0))
	s := FitScaler(ds.X)
	scaled := ds.Scaled(s)
	assert.InDelta(t, 2*s.Std[0], scaled.Derivs[0].DY[0], 1e-15)
	assert.InDelta(t, (1-s.Mean[0])/s.Std[0], scaled.Derivs[0].X.At(0, 0), 1e-15)
	assert.Equal(t, ds.Y, scaled.Y)
}
