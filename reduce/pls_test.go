package reduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func design() (*mat.Dense, []float64) {
	x := mat.NewDense(6, 3, []float64{
		0.1, 0.9, 0.5,
		0.4, 0.2, 0.7,
		0.8, 0.6, 0.1,
		0.3, 0.3, 0.3,
		0.9, 0.1, 0.8,
		0.6, 0.7, 0.2,
	})
	y := make([]float64, 6)
	for i := range y {
		y[i] = 3*x.At(i, 0) + 0.01*x.At(i, 2)
	}
	return x, y
}

func TestFitPLSWeightsFollowResponse(t *testing.T) {
	x, y := design()
	pls, err := FitPLS(x, y, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pls.Components())

	eff := pls.Expand([]float64{1})
	assert.InDelta(t, 1, floats.Sum(eff), 1e-12, "squared unit weights sum to one")
	assert.Greater(t, eff[0], eff[1])
	assert.Greater(t, eff[0], eff[2])
}

func TestExpandContractAreAdjoint(t *testing.T) {
	x, y := design()
	pls, err := FitPLS(x, y, 2)
	require.NoError(t, err)
	reduced := []float64{0.3, 1.7}
	grad := []float64{0.5, -1, 2}
	lhs := floats.Dot(pls.Expand(reduced), grad)
	rhs := floats.Dot(reduced, pls.Contract(grad))
	assert.InDelta(t, lhs, rhs, 1e-12)
}

func TestFitPLSComponents(t *testing.T) {
	x, y := design()
	_, err := FitPLS(x, y, 0)
	assert.ErrorIs(t, err, ErrComponents)
	_, err = FitPLS(x, y, 4)
	assert.ErrorIs(t, err, ErrComponents)
	_, err = FitPLS(x, y[:3], 1)
	assert.ErrorIs(t, err, ErrComponents)
}
