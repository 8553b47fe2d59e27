package doe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

var unitSquare = []r1.Interval{{Min: 0, Max: 1}, {Min: 0, Max: 1}}

// containsRow reports whether row appears bit for bit in x.
func containsRow(x *mat.Dense, row []float64) bool {
	n, _ := x.Dims()
	for i := 0; i < n; i++ {
		candidate := x.RawRowView(i)
		same := true
		for j := range row {
			if candidate[j] != row[j] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func TestSampleIsNested(t *testing.T) {
	n, err := NewNested(3, unitSquare, 0)
	require.NoError(t, err)
	designs, err := n.Sample(15)
	require.NoError(t, err)
	require.Len(t, designs, 3)

	for i, want := range []int{15, 8, 4} {
		rows, cols := designs[i].Dims()
		assert.Equal(t, want, rows)
		assert.Equal(t, 2, cols)
	}
	for i := 1; i < len(designs); i++ {
		rows, _ := designs[i].Dims()
		for r := 0; r < rows; r++ {
			assert.True(t, containsRow(designs[i-1], designs[i].RawRowView(r)),
				"level %d row %d not in level %d", i, r, i-1)
		}
	}
}

func TestSampleWithinLimits(t *testing.T) {
	limits := []r1.Interval{{Min: -10, Max: 10}, {Min: 2, Max: 3}, {Min: 0, Max: 1e-3}}
	n, err := NewNested(2, limits, 7)
	require.NoError(t, err)
	designs, err := n.Sample(20)
	require.NoError(t, err)
	for _, x := range designs {
		rows, _ := x.Dims()
		for i := 0; i < rows; i++ {
			for j, lim := range limits {
				v := x.At(i, j)
				assert.True(t, v >= lim.Min && v <= lim.Max, "value %g outside %v", v, lim)
			}
		}
	}
}

func TestSampleIsLatinOnCoarsestLevel(t *testing.T) {
	n, err := NewNested(2, unitSquare, 3)
	require.NoError(t, err)
	designs, err := n.Sample(10)
	require.NoError(t, err)
	for j := 0; j < 2; j++ {
		seen := make(map[int]bool)
		for _, v := range mat.Col(nil, j, designs[0]) {
			seen[int(v*10)] = true
		}
		assert.Len(t, seen, 10, "column %d", j)
	}
}

func TestSampleIsReproducible(t *testing.T) {
	n, err := NewNested(3, unitSquare, 42)
	require.NoError(t, err)
	a, err := n.Sample(12)
	require.NoError(t, err)
	b, err := n.Sample(12)
	require.NoError(t, err)
	for i := range a {
		assert.True(t, mat.Equal(a[i], b[i]))
	}

	other, err := NewNested(3, unitSquare, 43)
	require.NoError(t, err)
	c, err := other.Sample(12)
	require.NoError(t, err)
	assert.False(t, mat.Equal(a[0], c[0]))
}

func TestSampleSizes(t *testing.T) {
	n, err := NewNested(3, unitSquare, 1)
	require.NoError(t, err)
	designs, err := n.SampleSizes([]int{9, 9, 2})
	require.NoError(t, err)
	assert.True(t, mat.Equal(designs[0], designs[1]), "equal sizes keep every row in order")
	rows, _ := designs[2].Dims()
	assert.Equal(t, 2, rows)

	_, err = n.SampleSizes([]int{4, 6, 2})
	assert.ErrorIs(t, err, ErrInvalidDesign)
	_, err = n.SampleSizes([]int{4, 2})
	assert.ErrorIs(t, err, ErrInvalidDesign)
	_, err = n.SampleSizes([]int{4, 2, 0})
	assert.ErrorIs(t, err, ErrInvalidDesign)
}

func TestReductionFactor(t *testing.T) {
	n, err := NewNested(4, unitSquare, 1, WithReduction(3))
	require.NoError(t, err)
	assert.Equal(t, []int{20, 7, 3, 1}, n.Sizes(20))
}

func TestNewNestedErrors(t *testing.T) {
	tests := []struct {
		name   string
		levels int
		limits []r1.Interval
		opts   []Option
	}{
		{"one level", 1, unitSquare, nil},
		{"no dimensions", 2, nil, nil},
		{"empty interval", 2, []r1.Interval{{Min: 1, Max: 1}}, nil},
		{"reversed interval", 2, []r1.Interval{{Min: 1, Max: 0}}, nil},
		{"zero reduction", 2, unitSquare, []Option{WithReduction(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNested(tt.levels, tt.limits, 0, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidDesign)
		})
	}
}
