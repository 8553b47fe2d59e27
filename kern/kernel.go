package kern

import (
	"errors"
	"fmt"
	"math"
)

var ErrUnsupported = errors.New("correlation has no analytic input derivative")
var ErrUnknownFamily = errors.New("unknown correlation family")

// Family selects the correlation function of a level.
type Family int

const (
	// Squared exponential, exp(-Σ θ_j d_j²).
	SquaredExponential Family = iota
	// Absolute exponential, exp(-Σ θ_j |d_j|). Not differentiable at d = 0.
	AbsoluteExponential
	// Matérn ν=3/2 in the scaled distance r = sqrt(Σ θ_j d_j²).
	Matern32
	// Matérn ν=5/2 in the scaled distance r = sqrt(Σ θ_j d_j²).
	Matern52
)

var familyNames = map[Family]string{
	SquaredExponential:  "squar_exp",
	AbsoluteExponential: "abs_exp",
	Matern32:            "matern32",
	Matern52:            "matern52",
}

func ParseFamily(s string) (Family, error) {
	for f, name := range familyNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

func (f Family) MarshalText() ([]byte, error) {
	if _, ok := familyNames[f]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, int(f))
	}
	return []byte(f.String()), nil
}

func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Differentiable reports whether the family has analytic first and mixed
// second derivatives with respect to its inputs.
func (f Family) Differentiable() bool {
	return f != AbsoluteExponential
}

// Radial profile of the family as a function of the scaled distance r:
//     k(r), g(r) = k'(r) / r, gp(r) = g'(r).
func (f Family) profile(r float64) (k, g, gp float64) {
	switch f {
	case SquaredExponential:
		e := math.Exp(-r * r)
		return e, -2 * e, 4 * r * e
	case Matern32:
		s := math.Sqrt(3) * r
		e := math.Exp(-s)
		return (1 + s) * e, -3 * e, 3 * math.Sqrt(3) * e
	case Matern52:
		s := math.Sqrt(5) * r
		e := math.Exp(-s)
		return (1 + s + s*s/3) * e, -5.0 / 3.0 * (1 + s) * e, 25.0 / 3.0 * r * e
	}
	panic(fmt.Sprintf("kern: no radial profile for %v", f))
}

func scaledDist(x1, x2, theta []float64) float64 {
	sum := 0.0
	for j := range x1 {
		d := x1[j] - x2[j]
		sum += theta[j] * d * d
	}
	return math.Sqrt(sum)
}

// Corr returns the correlation between x1 and x2 for the length-scale
// weights theta. The value is 1 at zero distance and decreases with the
// scaled distance.
func (f Family) Corr(x1, x2, theta []float64) float64 {
	if f == AbsoluteExponential {
		sum := 0.0
		for j := range x1 {
			sum += theta[j] * math.Abs(x1[j]-x2[j])
		}
		return math.Exp(-sum)
	}
	k, _, _ := f.profile(scaledDist(x1, x2, theta))
	return k
}

// Deriv returns ∂R(x1, x2)/∂x1[k]. By stationarity ∂R/∂x2[k] is its
// negation.
func (f Family) Deriv(x1, x2, theta []float64, k int) float64 {
	if !f.Differentiable() {
		panic(ErrUnsupported)
	}
	_, g, _ := f.profile(scaledDist(x1, x2, theta))
	return g * theta[k] * (x1[k] - x2[k])
}

// CrossDeriv returns ∂²R(x1, x2)/∂x1[k]∂x2[l].
func (f Family) CrossDeriv(x1, x2, theta []float64, k, l int) float64 {
	if !f.Differentiable() {
		panic(ErrUnsupported)
	}
	r := scaledDist(x1, x2, theta)
	_, g, gp := f.profile(r)
	val := 0.0
	if k == l {
		val = -g * theta[k]
	}
	if r > 0 {
		dk := theta[k] * (x1[k] - x2[k])
		dl := theta[l] * (x1[l] - x2[l])
		val -= gp / r * dk * dl
	}
	return val
}

// ThetaDeriv returns ∂R(x1, x2)/∂theta[j].
func (f Family) ThetaDeriv(x1, x2, theta []float64, j int) float64 {
	d := x1[j] - x2[j]
	if f == AbsoluteExponential {
		return -math.Abs(d) * f.Corr(x1, x2, theta)
	}
	_, g, _ := f.profile(scaledDist(x1, x2, theta))
	return 0.5 * g * d * d
}
