package kern

import (
	"gonum.org/v1/gonum/mat"
)

// Value marks a site that observes the function itself.
const Value = -1

// Site is an observation location. Dim is Value for a function value, or
// the input dimension k for an observation of ∂y/∂x_k.
type Site struct {
	X   []float64
	Dim int
}

// covariance between two sites, without any scale or nugget.
func (f Family) siteCorr(a, b Site, theta []float64) float64 {
	switch {
	case a.Dim == Value && b.Dim == Value:
		return f.Corr(a.X, b.X, theta)
	case a.Dim == Value:
		return -f.Deriv(a.X, b.X, theta, b.Dim)
	case b.Dim == Value:
		return f.Deriv(a.X, b.X, theta, a.Dim)
	default:
		return f.CrossDeriv(a.X, b.X, theta, a.Dim, b.Dim)
	}
}

func (f Family) checkSites(sites []Site) error {
	if f.Differentiable() {
		return nil
	}
	for _, s := range sites {
		if s.Dim != Value {
			return ErrUnsupported
		}
	}
	return nil
}

// Matrix returns the correlation matrix over the sites. Derivative sites
// produce the gradient-enhanced blocks.
func (f Family) Matrix(sites []Site, theta []float64) (*mat.SymDense, error) {
	if err := f.checkSites(sites); err != nil {
		return nil, err
	}
	n := len(sites)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, f.siteCorr(sites[i], sites[j], theta))
		}
	}
	return out, nil
}

// Cross returns the correlations between the query rows and the sites.
// With dim == Value the query observes values; otherwise the result is the
// derivative of those correlations with respect to query dimension dim.
func (f Family) Cross(query mat.Matrix, dim int, sites []Site, theta []float64) (*mat.Dense, error) {
	if dim != Value && !f.Differentiable() {
		return nil, ErrUnsupported
	}
	if err := f.checkSites(sites); err != nil {
		return nil, err
	}
	nq, d := query.Dims()
	out := mat.NewDense(nq, len(sites), nil)
	x := make([]float64, d)
	for i := 0; i < nq; i++ {
		mat.Row(x, i, query)
		q := Site{X: x, Dim: dim}
		for j, s := range sites {
			out.Set(i, j, f.siteCorr(q, s, theta))
		}
	}
	return out, nil
}

// ThetaMatrix returns ∂R/∂theta[j] over value sites.
func (f Family) ThetaMatrix(sites []Site, theta []float64, j int) *mat.SymDense {
	n := len(sites)
	out := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			out.SetSym(a, b, f.ThetaDeriv(sites[a].X, sites[b].X, theta, j))
		}
	}
	return out
}

// ValueSites wraps every row of x as a value observation.
func ValueSites(x mat.Matrix) []Site {
	n, _ := x.Dims()
	sites := make([]Site, n)
	for i := range sites {
		sites[i] = Site{X: mat.Row(nil, i, x), Dim: Value}
	}
	return sites
}
