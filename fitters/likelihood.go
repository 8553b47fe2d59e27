package fitters

import (
	"errors"
	"fmt"
	"math"

	"github.com/lucasmaystre/gomfk/kern"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotPositiveDefinite  = errors.New("covariance matrix is not positive definite")
	ErrIllConditioned       = errors.New("regression matrix is ill-conditioned")
	ErrNumericalInstability = errors.New("no feasible hyperparameters")
)

const (
	// Floor of the profiled process variance, so that data explained
	// exactly by the regression keeps a finite likelihood.
	minSigma2 = 1e-300
	// Largest acceptable condition number of FᵀA⁻¹F.
	maxGLSCond = 1e14
)

// Params are the hyperparameters of one level.
type Params struct {
	Theta  []float64 // One weight per input dimension.
	Sigma2 float64   // Process variance; an input only when optimised jointly.
	Noise  float64   // Ratio to σ² when profiled, absolute variance when joint.
}

func (p Params) clone() Params {
	p.Theta = append([]float64(nil), p.Theta...)
	return p
}

// Problem is the maximum-likelihood problem of one level: sites, observed
// values in site order, and the regression matrix with one row per site.
type Problem struct {
	Family kern.Family
	Sites  []kern.Site
	Y      *mat.VecDense
	F      *mat.Dense
	Nugget float64
	// OptimVar switches from the concentrated likelihood, where σ² is
	// profiled out, to the full likelihood with σ² as a parameter.
	OptimVar bool
}

func (p *Problem) Len() int {
	return len(p.Sites)
}

// HasDerivatives reports whether any site observes a derivative.
func (p *Problem) HasDerivatives() bool {
	for _, s := range p.Sites {
		if s.Dim != kern.Value {
			return true
		}
	}
	return false
}

// covariance assembles the matrix that is factorised:
//     profiled: R + (nugget + noise)·D
//     joint:    σ²(R + nugget·D) + noise·D
// with D the diagonal of R.
func (p *Problem) covariance(r *mat.SymDense, params Params) *mat.SymDense {
	n := r.SymmetricDim()
	a := mat.NewSymDense(n, nil)
	if p.OptimVar {
		a.ScaleSym(params.Sigma2, r)
	} else {
		a.CopySym(r)
	}
	for i := 0; i < n; i++ {
		rii := r.At(i, i)
		if p.OptimVar {
			a.SetSym(i, i, rii*(params.Sigma2*(1+p.Nugget)+params.Noise))
		} else {
			a.SetSym(i, i, rii*(1+p.Nugget+params.Noise))
		}
	}
	return a
}

// Fit is the fitted state of one level. It is immutable once returned.
type Fit struct {
	Params
	Beta          []float64
	LogLikelihood float64

	problem *Problem
	chol    mat.Cholesky  // A
	gls     mat.Cholesky  // FᵀA⁻¹F
	gamma   *mat.VecDense // A⁻¹(y - Fβ)

	// Prediction: c = crossScale·r, var = varScale·(priorVar - cᵀA⁻¹c + uᵀG⁻¹u).
	crossScale, priorVar, varScale float64
}

// Evaluate factorises the covariance for params, solves the generalised
// least-squares problem and computes the log-likelihood.
func (p *Problem) Evaluate(params Params) (*Fit, error) {
	n := p.Len()
	r, err := p.Family.Matrix(p.Sites, params.Theta)
	if err != nil {
		return nil, err
	}
	fit := &Fit{Params: params.clone(), problem: p}
	if ok := fit.chol.Factorize(p.covariance(r, params)); !ok {
		return nil, ErrNotPositiveDefinite
	}

	var ainvF mat.Dense
	if err := solveErr(fit.chol.SolveTo(&ainvF, p.F)); err != nil {
		return nil, err
	}
	var g mat.Dense
	g.Mul(p.F.T(), &ainvF)
	if ok := fit.gls.Factorize(symmetric(&g)); !ok || fit.gls.Cond() > maxGLSCond {
		return nil, ErrIllConditioned
	}

	var ainvY, rhs mat.VecDense
	if err := solveErr(fit.chol.SolveVecTo(&ainvY, p.Y)); err != nil {
		return nil, err
	}
	rhs.MulVec(p.F.T(), &ainvY)
	var beta mat.VecDense
	if err := solveErr(fit.gls.SolveVecTo(&beta, &rhs)); err != nil {
		return nil, err
	}
	fit.Beta = mat.Col(nil, 0, &beta)

	var res mat.VecDense
	res.MulVec(p.F, &beta)
	res.SubVec(p.Y, &res)
	fit.gamma = new(mat.VecDense)
	if err := solveErr(fit.chol.SolveVecTo(fit.gamma, &res)); err != nil {
		return nil, err
	}
	q := mat.Dot(&res, fit.gamma)

	if p.OptimVar {
		fit.LogLikelihood = -0.5 * (fit.chol.LogDet() + q)
		fit.crossScale, fit.priorVar, fit.varScale = params.Sigma2, params.Sigma2, 1
	} else {
		fit.Sigma2 = math.Max(q/float64(n), minSigma2)
		fit.LogLikelihood = -0.5 * (float64(n)*math.Log(fit.Sigma2) + fit.chol.LogDet())
		fit.crossScale, fit.priorVar, fit.varScale = 1, 1, fit.Sigma2
	}
	if math.IsNaN(fit.LogLikelihood) || math.IsInf(fit.LogLikelihood, 0) {
		return nil, ErrNotPositiveDefinite
	}
	return fit, nil
}

// Gradient returns the derivatives of the log-likelihood at fit with
// respect to every per-dimension weight, σ² (joint only) and the noise.
// Only value observations are supported; with derivative sites it fails
// with kern.ErrUnsupported.
func (p *Problem) Gradient(fit *Fit) (dTheta []float64, dSigma2, dNoise float64, err error) {
	if p.HasDerivatives() {
		return nil, 0, 0, fmt.Errorf("%w: likelihood gradient with derivative observations", kern.ErrUnsupported)
	}
	n := p.Len()
	r, err := p.Family.Matrix(p.Sites, fit.Theta)
	if err != nil {
		return nil, 0, 0, err
	}
	var inv mat.SymDense
	if err := solveErr(fit.chol.InverseTo(&inv)); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
	}
	// W = s·ααᵀ - A⁻¹, so that dℓ = ½ Σ W ∘ dA.
	s := 1.0
	if !p.OptimVar {
		s = 1 / fit.Sigma2
	}
	w := mat.NewSymDense(n, nil)
	w.ScaleSym(-1, &inv)
	blas64.Syr(s, fit.gamma.RawVector(), w.RawSymmetric())
	contract := func(dA mat.Symmetric, diagOnly bool) float64 {
		sum := 0.0
		for a := 0; a < n; a++ {
			sum += w.At(a, a) * dA.At(a, a)
			if diagOnly {
				continue
			}
			for b := a + 1; b < n; b++ {
				sum += 2 * w.At(a, b) * dA.At(a, b)
			}
		}
		return 0.5 * sum
	}

	scale := 1.0
	if p.OptimVar {
		scale = fit.Sigma2
	}
	dTheta = make([]float64, len(fit.Theta))
	for j := range dTheta {
		dTheta[j] = scale * contract(p.Family.ThetaMatrix(p.Sites, fit.Theta, j), false)
	}
	dNoise = contract(r, true)
	if p.OptimVar {
		withNugget := mat.NewSymDense(n, nil)
		withNugget.CopySym(r)
		for i := 0; i < n; i++ {
			withNugget.SetSym(i, i, r.At(i, i)*(1+p.Nugget))
		}
		dSigma2 = contract(withNugget, false)
	}
	return dTheta, dSigma2, dNoise, nil
}

// symmetric returns the symmetric part of a square matrix.
func symmetric(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return out
}

// solveErr drops condition-number warnings; the solution is still returned.
func solveErr(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}
