package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Coverage summarises how well a set of samples matches a mixture.
type Coverage struct {
	// ModesCovered counts centers with at least one sample within 3 std.
	ModesCovered int
	Modes        int
	// HighQualityRatio is the fraction of samples within 3 std of some center.
	HighQualityRatio float64
}

// MeasureCoverage scores samples (one per row) against d.
func MeasureCoverage(d Diagnosable, samples *mat.Dense) Coverage {
	centers := d.Centers()
	radius := 3 * d.Std()
	rows, _ := samples.Dims()

	covered := make([]bool, len(centers))
	good := 0
	for i := 0; i < rows; i++ {
		x := samples.RawRowView(i)
		nearest, best := -1, radius
		for k, c := range centers {
			if dist := floats.Distance(x, c, 2); dist <= best {
				nearest, best = k, dist
			}
		}
		if nearest >= 0 {
			covered[nearest] = true
			good++
		}
	}

	cov := Coverage{Modes: len(centers)}
	for _, c := range covered {
		if c {
			cov.ModesCovered++
		}
	}
	if rows > 0 {
		cov.HighQualityRatio = float64(good) / float64(rows)
	}
	return cov
}
