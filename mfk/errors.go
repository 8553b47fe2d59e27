package mfk

import (
	"errors"
	"fmt"

	"github.com/lucasmaystre/gomfk/doe"
	"github.com/lucasmaystre/gomfk/fitters"
	"github.com/lucasmaystre/gomfk/kern"
)

var (
	ErrConfiguration     = errors.New("invalid configuration")
	ErrDimensionMismatch = errors.New("input dimension mismatch")
	ErrNotTrained        = errors.New("model is not trained")

	// Raised by the lower layers.
	ErrNumericalInstability = fitters.ErrNumericalInstability
	ErrUnsupported          = kern.ErrUnsupported

	// Configuration error of the nested design sampler.
	ErrInvalidDesign = doe.ErrInvalidDesign
)

// LevelError locates a training failure.
type LevelError struct {
	Level int
	Theta []float64 // Last trial weights, when known.
	Err   error
}

func (e *LevelError) Error() string {
	if e.Theta != nil {
		return fmt.Sprintf("level %d: %v (theta %v)", e.Level, e.Err, e.Theta)
	}
	return fmt.Sprintf("level %d: %v", e.Level, e.Err)
}

func (e *LevelError) Unwrap() error {
	return e.Err
}
