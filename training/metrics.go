package training

import (
	"fmt"
	"strings"
	"time"

	"github.com/tsawler/multigan/dataset"
)

// EpochMetrics summarises one finished epoch. Loss and weight columns are
// means over the iterations that were not skipped.
type EpochMetrics struct {
	Epoch               int // 1-based count of completed epochs
	GeneratorLoss       float64
	DiscriminatorLosses []float64
	Weights             []float64
	Iterations          int
	Skipped             int
	Duration            time.Duration
	Diagnostics         *dataset.Coverage
}

func (m EpochMetrics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "epoch %d: G loss %.4f, D losses %s, weights %s, %d iterations",
		m.Epoch, m.GeneratorLoss, formatVector(m.DiscriminatorLosses), formatVector(m.Weights), m.Iterations)
	if m.Skipped > 0 {
		fmt.Fprintf(&b, " (%d skipped)", m.Skipped)
	}
	if m.Diagnostics != nil {
		fmt.Fprintf(&b, ", modes %d/%d, high quality %.1f%%",
			m.Diagnostics.ModesCovered, m.Diagnostics.Modes, 100*m.Diagnostics.HighQualityRatio)
	}
	fmt.Fprintf(&b, " in %s", m.Duration.Round(time.Millisecond))
	return b.String()
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// epochAccumulator sums per-iteration values for EpochMetrics.
type epochAccumulator struct {
	genLoss    float64
	discLosses []float64
	weights    []float64
	iterations int
	skipped    int
}

func newEpochAccumulator(n int) *epochAccumulator {
	return &epochAccumulator{discLosses: make([]float64, n), weights: make([]float64, n)}
}

func (a *epochAccumulator) add(r iterationResult) {
	if r.skipped {
		a.skipped++
		return
	}
	a.iterations++
	a.genLoss += r.genLoss
	for i := range a.discLosses {
		a.discLosses[i] += r.discLosses[i]
		a.weights[i] += r.weights[i]
	}
}

func (a *epochAccumulator) metrics(epoch int, d time.Duration) EpochMetrics {
	m := EpochMetrics{
		Epoch:               epoch,
		DiscriminatorLosses: make([]float64, len(a.discLosses)),
		Weights:             make([]float64, len(a.weights)),
		Iterations:          a.iterations,
		Skipped:             a.skipped,
		Duration:            d,
	}
	if a.iterations == 0 {
		return m
	}
	n := float64(a.iterations)
	m.GeneratorLoss = a.genLoss / n
	for i := range a.discLosses {
		m.DiscriminatorLosses[i] = a.discLosses[i] / n
		m.Weights[i] = a.weights[i] / n
	}
	return m
}
