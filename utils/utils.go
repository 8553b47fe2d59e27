package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Concatenate multiple vectors.
func ConcatVecs(size int, vecs ...*mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(size, nil)
	offset := 0
	var slice *mat.VecDense
	for _, vec := range vecs {
		if vec.Len() == 0 {
			continue
		}
		slice = out.SliceVec(offset, offset+vec.Len()).(*mat.VecDense)
		slice.CopyVec(vec)
		offset += vec.Len()
	}
	return out
}

// Relative L2 error ||pred - truth|| / ||truth||. Falls back to the
// absolute error when truth is zero.
func RelativeError(pred, truth []float64) float64 {
	diff := make([]float64, len(pred))
	floats.SubTo(diff, pred, truth)
	num := floats.Norm(diff, 2)
	den := floats.Norm(truth, 2)
	if den == 0 {
		return num
	}
	return num / den
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
