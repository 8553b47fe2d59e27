package obs

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardises input columns: (x - Mean) / Std.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes column means and standard deviations of x. Constant
// columns keep a unit scale.
func FitScaler(x mat.Matrix) Scaler {
	n, d := x.Dims()
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if n < 2 || !(std > 0) {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

func (s Scaler) Transform(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, d, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Std[j]
	}, x)
	return out
}
