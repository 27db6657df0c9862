package scalarization

import "errors"

// Sentinel errors for the scalarization package.
// Use errors.Is to check: errors.Is(err, scalarization.ErrInvalidAlpha)
var (
	ErrInvalidMode        = errors.New("scalarization: invalid train mode")
	ErrInvalidAlpha       = errors.New("scalarization: alpha must be in (0, inf)")
	ErrInvalidNadirSlack  = errors.New("scalarization: nadir slack must be in (0, inf)")
	ErrNoObjectives       = errors.New("scalarization: empty loss vector")
	ErrDimensionMismatch  = errors.New("scalarization: dimension mismatch")
	ErrGradientMismatch   = errors.New("scalarization: gradient set does not match loss vector")
	ErrNonFinite          = errors.New("scalarization: non-finite loss or gradient")
	ErrInvalidSolverLimit = errors.New("scalarization: solver iteration cap must be positive")
)
