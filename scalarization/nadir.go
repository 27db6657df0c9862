package scalarization

import (
	"fmt"
	"math"
)

// NadirPoint is the reference corner of the hypervolume: one upper bound per
// objective. The zero value is uninitialized; the first Update seeds it from
// the observed losses. Components never decrease.
type NadirPoint struct {
	Values  []float64
	Version uint64
}

// Initialized reports whether the point has been seeded.
func (p NadirPoint) Initialized() bool {
	return p.Values != nil
}

// Clone returns a deep copy of p.
func (p NadirPoint) Clone() NadirPoint {
	if p.Values == nil {
		return NadirPoint{Version: p.Version}
	}
	return NadirPoint{Values: append([]float64(nil), p.Values...), Version: p.Version}
}

// Update returns the successor of p after observing losses. The receiver is
// left untouched.
//
// On first use every component is set to l_i + slack*|l_i| + 1e-8. Afterwards
// component i is raised by the same rule whenever l_i reaches or passes it, so
// every loss stays strictly below the nadir and the hypervolume stays
// positive. For positive losses this is (1+slack)*l_i.
func (p NadirPoint) Update(losses []float64, slack float64) (NadirPoint, error) {
	if len(losses) == 0 {
		return p, ErrNoObjectives
	}
	if !positiveFinite(slack) {
		return p, fmt.Errorf("%w: got %v", ErrInvalidNadirSlack, slack)
	}
	if !allFinite(losses) {
		return p, ErrNonFinite
	}

	if !p.Initialized() {
		next := NadirPoint{Values: make([]float64, len(losses)), Version: p.Version + 1}
		for i, l := range losses {
			next.Values[i] = raise(l, slack)
		}
		return next, nil
	}

	if len(losses) != len(p.Values) {
		return p, fmt.Errorf("%w: nadir has %d components, got %d losses", ErrDimensionMismatch, len(p.Values), len(losses))
	}

	next := p.Clone()
	next.Version++
	for i, l := range losses {
		if l >= next.Values[i] {
			next.Values[i] = raise(l, slack)
		}
	}
	return next, nil
}

const nadirEpsilon = 1e-8

func raise(l, slack float64) float64 {
	return l + slack*math.Abs(l) + nadirEpsilon
}
