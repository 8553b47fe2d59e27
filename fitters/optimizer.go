package fitters

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/lucasmaystre/gomfk/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/samplemv"
)

var ErrUnknownMethod = errors.New("unknown optimization method")

// Method is the local search used from every starting point.
type Method int

const (
	NelderMead Method = iota
	BFGS
)

var methodNames = map[Method]string{
	NelderMead: "nelder-mead",
	BFGS:       "bfgs",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func (m Method) MarshalText() ([]byte, error) {
	if _, ok := methodNames[m]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	for method, name := range methodNames {
		if name == string(text) {
			*m = method
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownMethod, text)
}

const (
	// Objective value of a trial whose covariance cannot be factorised.
	infeasible = 1e100
	// Weight of the quadratic penalty outside the box, per log10 unit².
	boundPenalty = 1e4
	// Relative tolerance under which two log-likelihoods tie.
	tieTolerance = 1e-10
	// Starting noise when noise is estimated from a zero initial value.
	defaultNoiseStart = 1e-6
	// Half-width, in decades, of the search box around the initial σ².
	sigma2Decades = 8
	// Major iterations without improvement after which a start is done.
	stallIterations = 20
)

// Expander maps optimised length-scale weights onto one weight per input
// dimension and pulls gradients back.
type Expander interface {
	Expand(reduced []float64) []float64
	Contract(grad []float64) []float64
}

// TrialError reports a failed search with the last trial weights.
type TrialError struct {
	Theta []float64
	Err   error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("%v (last trial theta %v)", e.Err, e.Theta)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}

// Settings of the hyperparameter search. Bounds are inclusive and every
// parameter is searched on a log10 scale. MaxEvaluations caps the
// likelihood evaluations of each start; a start also ends once the
// likelihood stops improving.
type Settings struct {
	Theta0         []float64
	ThetaBounds    [2]float64
	EvalNoise      bool
	Noise0         float64
	NoiseBounds    [2]float64
	Restarts       int
	MaxEvaluations int
	Method         Method
	Seed           uint64
}

// Optimizer maximises the likelihood of a Problem.
type Optimizer struct {
	settings Settings
	expander Expander
	logger   *zap.Logger
}

// NewOptimizer returns an optimizer; expander may be nil, in which case
// Theta0 has one entry per input dimension.
func NewOptimizer(settings Settings, expander Expander, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		settings: settings,
		expander: expander,
		logger:   logger,
	}
}

// search keeps the layout of the log10 parameter vector
// [θ..., σ² (joint), noise (evaluated)] and the best fit seen so far.
type search struct {
	o       *Optimizer
	problem *Problem
	lo, hi  []float64
	nTheta  int
	sigma2  int // Index of σ², or -1.
	noise   int // Index of the noise, or -1.

	best      *Fit
	bestValue float64
	lastTheta []float64
	evals     int
}

func (s *search) decode(z []float64) Params {
	reduced := make([]float64, s.nTheta)
	for j := range reduced {
		reduced[j] = math.Pow(10, z[j])
	}
	params := Params{Theta: reduced, Noise: s.o.settings.Noise0}
	if s.o.expander != nil {
		params.Theta = s.o.expander.Expand(reduced)
	}
	if s.sigma2 >= 0 {
		params.Sigma2 = math.Pow(10, z[s.sigma2])
	}
	if s.noise >= 0 {
		params.Noise = math.Pow(10, z[s.noise])
	}
	return params
}

// clamp projects z into the box and returns the squared distance moved.
func (s *search) clamp(z []float64) ([]float64, float64) {
	zc := make([]float64, len(z))
	dist := 0.0
	for i, v := range z {
		zc[i] = utils.Clamp(v, s.lo[i], s.hi[i])
		dist += (v - zc[i]) * (v - zc[i])
	}
	return zc, dist
}

func (s *search) record(fit *Fit, value float64) {
	s.evals++
	switch {
	case s.best == nil:
	case value < s.bestValue-tieTolerance*(1+math.Abs(s.bestValue)):
	case value <= s.bestValue+tieTolerance*(1+math.Abs(s.bestValue)) &&
		floats.Sum(fit.Theta) < floats.Sum(s.best.Theta):
	default:
		return
	}
	s.best, s.bestValue = fit, value
}

// objective is the penalised negative log-likelihood.
func (s *search) objective(z []float64) float64 {
	zc, dist := s.clamp(z)
	params := s.decode(zc)
	s.lastTheta = params.Theta
	fit, err := s.problem.Evaluate(params)
	if err != nil {
		s.evals++
		return infeasible*(1+s.slack(zc)) + boundPenalty*dist
	}
	value := -fit.LogLikelihood
	s.record(fit, value)
	return value + boundPenalty*dist
}

// slack is the normalised distance of the weights and the noise to their
// upper bounds. Infeasible trials are ranked by it so that the search moves
// towards better conditioned covariances.
func (s *search) slack(z []float64) float64 {
	sum := 0.0
	for i := range z {
		if i >= s.nTheta && i != s.noise {
			continue
		}
		sum += (s.hi[i] - z[i]) / (s.hi[i] - s.lo[i])
	}
	return sum
}

func (s *search) gradient(grad, z []float64) {
	for i := range grad {
		grad[i] = 0
	}
	if s.problem.HasDerivatives() {
		fd.Gradient(grad, s.objective, z, &fd.Settings{Formula: fd.Central})
		return
	}
	zc, _ := s.clamp(z)
	fit, err := s.problem.Evaluate(s.decode(zc))
	if err != nil {
		return
	}
	dTheta, dSigma2, dNoise, err := s.problem.Gradient(fit)
	if err != nil {
		return
	}
	if s.o.expander != nil {
		dTheta = s.o.expander.Contract(dTheta)
	}
	// d/dz of -ℓ(10^z) = -ℓ'·10^z·ln10.
	for j := 0; j < s.nTheta; j++ {
		grad[j] = -dTheta[j] * math.Pow(10, zc[j]) * math.Ln10
	}
	if s.sigma2 >= 0 {
		grad[s.sigma2] = -dSigma2 * fit.Sigma2 * math.Ln10
	}
	if s.noise >= 0 {
		grad[s.noise] = -dNoise * fit.Noise * math.Ln10
	}
	for i := range grad {
		grad[i] += 2 * boundPenalty * (z[i] - zc[i])
	}
}

// Maximize searches the hyperparameters of p from Theta0 and from
// Restarts Latin hypercube points of the box. It fails with
// ErrNumericalInstability when no trial could be factorised.
func (o *Optimizer) Maximize(p *Problem) (*Fit, error) {
	st := o.settings
	s := &search{o: o, problem: p, nTheta: len(st.Theta0), sigma2: -1, noise: -1}
	z0 := make([]float64, 0, len(st.Theta0)+2)
	for _, t := range st.Theta0 {
		z0 = append(z0, math.Log10(t))
		s.lo = append(s.lo, math.Log10(st.ThetaBounds[0]))
		s.hi = append(s.hi, math.Log10(st.ThetaBounds[1]))
	}
	if p.OptimVar {
		start := o.initialSigma2(p)
		s.sigma2 = len(z0)
		z0 = append(z0, math.Log10(start))
		s.lo = append(s.lo, math.Log10(start)-sigma2Decades)
		s.hi = append(s.hi, math.Log10(start)+sigma2Decades)
	}
	if st.EvalNoise {
		start := st.Noise0
		if start <= 0 {
			start = defaultNoiseStart
		}
		start = utils.Clamp(start, st.NoiseBounds[0], st.NoiseBounds[1])
		s.noise = len(z0)
		z0 = append(z0, math.Log10(start))
		s.lo = append(s.lo, math.Log10(st.NoiseBounds[0]))
		s.hi = append(s.hi, math.Log10(st.NoiseBounds[1]))
	}

	starts := [][]float64{z0}
	if st.Restarts > 0 {
		bounds := make([]r1.Interval, len(z0))
		for i := range bounds {
			bounds[i] = r1.Interval{Min: s.lo[i], Max: s.hi[i]}
		}
		src := rand.NewPCG(st.Seed, st.Seed^0x5851f42d4c957f2d)
		points := mat.NewDense(st.Restarts, len(z0), nil)
		samplemv.LatinHypercube{Q: distmv.NewUniform(bounds, src), Src: src}.Sample(points)
		for i := 0; i < st.Restarts; i++ {
			starts = append(starts, points.RawRowView(i))
		}
	}

	problem := optimize.Problem{Func: s.objective}
	if st.Method == BFGS {
		problem.Grad = s.gradient
	}
	for i, start := range starts {
		method := o.method()
		result, err := optimize.Minimize(problem, start, &optimize.Settings{
			FuncEvaluations: st.MaxEvaluations,
			Concurrent:      1,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-9,
				Relative:   1e-9,
				Iterations: stallIterations,
			},
		}, method)
		fields := []zap.Field{zap.Int("start", i), zap.Int("evaluations", s.evals)}
		if result != nil {
			fields = append(fields, zap.Float64("value", result.F), zap.Stringer("status", result.Status))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		o.logger.Debug("Likelihood search finished", fields...)
	}

	if s.best == nil {
		return nil, &TrialError{Theta: s.lastTheta, Err: ErrNumericalInstability}
	}
	o.logger.Debug("Likelihood maximised",
		zap.Float64s("theta", s.best.Theta),
		zap.Float64("sigma2", s.best.Sigma2),
		zap.Float64("noise", s.best.Noise),
		zap.Float64("log_likelihood", s.best.LogLikelihood),
		zap.Int("evaluations", s.evals),
	)
	return s.best, nil
}

func (o *Optimizer) method() optimize.Method {
	if o.settings.Method == BFGS {
		return &optimize.BFGS{}
	}
	return &optimize.NelderMead{SimplexSize: 0.5}
}

// initialSigma2 is the profiled variance at the initial weights, or the
// sample variance of the observations when those cannot be factorised.
func (o *Optimizer) initialSigma2(p *Problem) float64 {
	profiled := *p
	profiled.OptimVar = false
	theta := o.settings.Theta0
	if o.expander != nil {
		theta = o.expander.Expand(theta)
	}
	fit, err := profiled.Evaluate(Params{Theta: theta})
	if err == nil && fit.Sigma2 > minSigma2 {
		return fit.Sigma2
	}
	v := stat.Variance(p.Y.RawVector().Data, nil)
	if v > 0 && !math.IsNaN(v) {
		return v
	}
	return 1
}
