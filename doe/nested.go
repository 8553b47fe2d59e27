// Package doe builds nested experimental designs: one point set per
// fidelity level, each level a literal subset of the level below it.
//
// Every invalid argument is reported as ErrInvalidDesign, which the mfk
// package re-exports as its own design error.
package doe

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/samplemv"
)

// ErrInvalidDesign is wrapped by every configuration error of a Nested.
var ErrInvalidDesign = errors.New("invalid nested design")

const defaultReduction = 2

// Nested draws designs X_0 ⊇ X_1 ⊇ … ⊇ X_{L-1}.
type Nested struct {
	levels    int
	limits    []r1.Interval
	seed      uint64
	reduction int
}

type Option func(*Nested)

// WithReduction sets the size ratio between consecutive levels used by
// Sample.
func WithReduction(r int) Option {
	return func(n *Nested) {
		n.reduction = r
	}
}

// NewNested returns a sampler for the given number of levels over the box
// limits. Designs are fully determined by seed.
func NewNested(levels int, limits []r1.Interval, seed uint64, opts ...Option) (*Nested, error) {
	n := &Nested{
		levels:    levels,
		limits:    append([]r1.Interval(nil), limits...),
		seed:      seed,
		reduction: defaultReduction,
	}
	for _, opt := range opts {
		opt(n)
	}
	if levels < 2 {
		return nil, fmt.Errorf("%w: need at least 2 levels, got %d", ErrInvalidDesign, levels)
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("%w: empty bounding box", ErrInvalidDesign)
	}
	for j, lim := range limits {
		if !(lim.Min < lim.Max) {
			return nil, fmt.Errorf("%w: dimension %d has limits [%g, %g]",
				ErrInvalidDesign, j, lim.Min, lim.Max)
		}
	}
	if n.reduction < 1 {
		return nil, fmt.Errorf("%w: reduction factor %d", ErrInvalidDesign, n.reduction)
	}
	return n, nil
}

// Sizes returns the level sizes used by Sample(count).
func (n *Nested) Sizes(count int) []int {
	sizes := make([]int, n.levels)
	size := count
	for i := range sizes {
		sizes[i] = size
		size = (size + n.reduction - 1) / n.reduction
	}
	return sizes
}

// Sample draws a design with count points on the coarsest level and sizes
// reduced level by level.
func (n *Nested) Sample(count int) ([]*mat.Dense, error) {
	return n.SampleSizes(n.Sizes(count))
}

// SampleSizes draws a design with explicit level sizes, coarsest first.
func (n *Nested) SampleSizes(sizes []int) ([]*mat.Dense, error) {
	if len(sizes) != n.levels {
		return nil, fmt.Errorf("%w: %d sizes for %d levels", ErrInvalidDesign, len(sizes), n.levels)
	}
	for i, size := range sizes {
		if size < 1 {
			return nil, fmt.Errorf("%w: level %d has size %d", ErrInvalidDesign, i, size)
		}
		if i > 0 && size > sizes[i-1] {
			return nil, fmt.Errorf("%w: level %d asks for %d points but level %d has %d",
				ErrInvalidDesign, i, size, i-1, sizes[i-1])
		}
	}

	src := rand.NewPCG(n.seed, n.seed^0x9e3779b97f4a7c15)
	designs := make([]*mat.Dense, n.levels)
	designs[0] = n.hypercube(sizes[0], src)
	for i := 1; i < n.levels; i++ {
		anchors := n.hypercube(sizes[i], src)
		designs[i] = n.subset(designs[i-1], anchors)
	}
	return designs, nil
}

func (n *Nested) hypercube(count int, src rand.Source) *mat.Dense {
	x := mat.NewDense(count, len(n.limits), nil)
	samplemv.LatinHypercube{
		Q:   distmv.NewUniform(n.limits, src),
		Src: src,
	}.Sample(x)
	return x
}

// subset lets every anchor in turn claim the nearest unclaimed row of
// parent; claimed rows are copied in parent order.
func (n *Nested) subset(parent, anchors *mat.Dense) *mat.Dense {
	rows, d := parent.Dims()
	count, _ := anchors.Dims()
	claimed := make([]bool, rows)
	for a := 0; a < count; a++ {
		anchor := anchors.RawRowView(a)
		nearest, best := -1, math.Inf(1)
		for i := 0; i < rows; i++ {
			if claimed[i] {
				continue
			}
			if dist := n.distance(anchor, parent.RawRowView(i)); dist < best {
				nearest, best = i, dist
			}
		}
		claimed[nearest] = true
	}
	out := mat.NewDense(count, d, nil)
	k := 0
	for i := 0; i < rows; i++ {
		if claimed[i] {
			out.SetRow(k, parent.RawRowView(i))
			k++
		}
	}
	return out
}

// distance in the unit box, so that wide dimensions do not dominate.
func (n *Nested) distance(a, b []float64) float64 {
	sum := 0.0
	for j, lim := range n.limits {
		d := (a[j] - b[j]) / (lim.Max - lim.Min)
		sum += d * d
	}
	return sum
}
