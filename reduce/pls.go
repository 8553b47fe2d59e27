// Package reduce projects the length-scale search onto a few partial least
// squares directions of the inputs.
//
// With weights w_jc the correlation of component c is evaluated on the
// projected difference, so that
//
//     Σ_c θ_c Σ_j (w_jc d_j)²  ≈  Σ_j (Σ_c θ_c w_jc²) d_j²
//
// and every kernel can keep working on one effective weight per input
// dimension.
package reduce

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrComponents = errors.New("invalid number of components")

// PLS holds the squared weights of a single-response partial least squares
// fit, one column per component.
type PLS struct {
	sq *mat.Dense // d × c
}

// FitPLS runs NIPALS on the centred inputs and outputs.
func FitPLS(x mat.Matrix, y []float64, comps int) (*PLS, error) {
	n, d := x.Dims()
	if comps < 1 || comps > d {
		return nil, fmt.Errorf("%w: %d for %d input dimensions", ErrComponents, comps, d)
	}
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d rows but %d outputs", ErrComponents, n, len(y))
	}
	xr := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, xr)
		mean := stat.Mean(col, nil)
		floats.AddConst(-mean, col)
		xr.SetCol(j, col)
	}
	yr := mat.NewVecDense(n, append([]float64(nil), y...))
	ymean := stat.Mean(y, nil)
	for i := 0; i < n; i++ {
		yr.SetVec(i, yr.AtVec(i)-ymean)
	}

	sq := mat.NewDense(d, comps, nil)
	var w, p, t mat.VecDense
	for c := 0; c < comps; c++ {
		w.MulVec(xr.T(), yr)
		norm := mat.Norm(&w, 2)
		if norm == 0 {
			// Nothing left to explain; spread the weight evenly.
			for j := 0; j < d; j++ {
				sq.Set(j, c, 1/float64(d))
			}
			continue
		}
		w.ScaleVec(1/norm, &w)
		for j := 0; j < d; j++ {
			sq.Set(j, c, w.AtVec(j)*w.AtVec(j))
		}
		t.MulVec(xr, &w)
		tt := mat.Dot(&t, &t)
		p.MulVec(xr.T(), &t)
		p.ScaleVec(1/tt, &p)
		q := mat.Dot(yr, &t) / tt
		var tp mat.Dense
		tp.Outer(1, &t, &p)
		xr.Sub(xr, &tp)
		yr.AddScaledVec(yr, -q, &t)
	}
	return &PLS{sq: sq}, nil
}

func (p *PLS) Components() int {
	_, c := p.sq.Dims()
	return c
}

// Expand maps per-component weights to one weight per input dimension.
func (p *PLS) Expand(reduced []float64) []float64 {
	d, _ := p.sq.Dims()
	out := make([]float64, d)
	v := mat.NewVecDense(d, out)
	v.MulVec(p.sq, mat.NewVecDense(len(reduced), reduced))
	return out
}

// Contract maps a gradient with respect to the expanded weights back onto
// the components.
func (p *PLS) Contract(grad []float64) []float64 {
	_, c := p.sq.Dims()
	out := make([]float64, c)
	v := mat.NewVecDense(c, out)
	v.MulVec(p.sq.T(), mat.NewVecDense(len(grad), grad))
	return out
}
