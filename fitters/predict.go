package fitters

import (
	"math"

	"github.com/lucasmaystre/gomfk/kern"
	"gonum.org/v1/gonum/mat"
)

// Mean predicts at the query rows. fq holds the regressors at the query
// rows; with dim set to an input dimension the prediction is ∂μ/∂x_dim and
// fq must hold the derivatives of the regressors instead.
func (f *Fit) Mean(query, fq mat.Matrix, dim int) ([]float64, error) {
	cross, err := f.problem.Family.Cross(query, dim, f.problem.Sites, f.Theta)
	if err != nil {
		return nil, err
	}
	nq, _ := query.Dims()
	out := make([]float64, nq)
	mean := mat.NewVecDense(nq, out)
	mean.MulVec(fq, mat.NewVecDense(len(f.Beta), f.Beta))
	var corr mat.VecDense
	corr.MulVec(cross, f.gamma)
	mean.AddScaledVec(mean, f.crossScale, &corr)
	return out, nil
}

// Variance returns the kriging variance of the level at the query rows,
// including the uncertainty of the regression coefficients.
func (f *Fit) Variance(query, fq mat.Matrix) ([]float64, error) {
	cross, err := f.problem.Family.Cross(query, kern.Value, f.problem.Sites, f.Theta)
	if err != nil {
		return nil, err
	}
	cross.Scale(f.crossScale, cross)

	var ainvC mat.Dense // n × nq
	if err := solveErr(f.chol.SolveTo(&ainvC, cross.T())); err != nil {
		return nil, err
	}
	var u mat.Dense // p × nq
	u.Mul(f.problem.F.T(), &ainvC)
	u.Sub(&u, mat.DenseCopyOf(fq).T())
	var ginvU mat.Dense
	if err := solveErr(f.gls.SolveTo(&ginvU, &u)); err != nil {
		return nil, err
	}

	nq, n := cross.Dims()
	p, _ := u.Dims()
	out := make([]float64, nq)
	for i := 0; i < nq; i++ {
		explained := 0.0
		for j := 0; j < n; j++ {
			explained += cross.At(i, j) * ainvC.At(j, i)
		}
		regression := 0.0
		for j := 0; j < p; j++ {
			regression += u.At(j, i) * ginvU.At(j, i)
		}
		out[i] = math.Max(0, f.varScale*(f.priorVar-explained+regression))
	}
	return out, nil
}
