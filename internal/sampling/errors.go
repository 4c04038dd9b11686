package sampling

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBeta is returned when the hyperprior scale is not a positive finite number.
	ErrInvalidBeta = errors.New("sampling: beta must be positive and finite")
	// ErrInvalidCoupling is returned for a negative or NaN coupling value.
	ErrInvalidCoupling = errors.New("sampling: coupling must be non-negative")
	// ErrInvalidSliceParameters is the error kind of every slice sampler
	// precondition violation. Use errors.Is to test for it.
	ErrInvalidSliceParameters = errors.New("sampling: invalid slice parameters")
	// ErrInvalidTruncation is returned for an empty interval or a non-positive sigma.
	ErrInvalidTruncation = errors.New("sampling: invalid truncated normal parameters")
)

// InvalidSliceParametersError reports which slice sampler invariant was violated
// together with the offending coefficients.
type InvalidSliceParametersError struct {
	A, B, C, D float64
	N          int
	Reason     string
}

func (e *InvalidSliceParametersError) Error() string {
	return fmt.Sprintf("%v: %s (a=%g b=%g c=%g d=%g n=%d)",
		ErrInvalidSliceParameters, e.Reason, e.A, e.B, e.C, e.D, e.N)
}

func (e *InvalidSliceParametersError) Unwrap() error {
	return ErrInvalidSliceParameters
}
