package training

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LRScheduler maps an epoch index (0-based) and the optimizer's initial
// learning rate to the rate used throughout that epoch. The TrainLoop
// applies the same schedule to the generator and every discriminator.
type LRScheduler interface {
	LearningRate(epoch int, baseLR float64) float64
	Name() string
}

// MetricScheduler is a scheduler that also reacts to the generator loss
// reported at the end of each epoch.
type MetricScheduler interface {
	LRScheduler
	Observe(metric float64)
}

// StepLRScheduler multiplies the rate by Gamma every StepSize epochs.
type StepLRScheduler struct {
	StepSize int
	Gamma    float64
}

func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) Name() string { return "StepLR" }

// ExponentialLRScheduler decays the rate by Gamma every epoch.
type ExponentialLRScheduler struct {
	Gamma float64
}

func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) Name() string { return "ExponentialLR" }

// CosineAnnealingLRScheduler anneals from the base rate to EtaMin over TMax
// epochs and stays at EtaMin afterwards.
type CosineAnnealingLRScheduler struct {
	TMax   int
	EtaMin float64
}

func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) LearningRate(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) Name() string { return "CosineAnnealingLR" }

// ReduceLROnPlateauScheduler scales the rate by Factor once the observed
// metric has failed to improve by Threshold for Patience epochs. Its state
// lives in memory only and starts over after a resume.
type ReduceLROnPlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64
	Mode      string // "min" or "max"

	best        float64
	badEpochs   int
	scale       float64
	initialized bool
}

func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}
	return &ReduceLROnPlateauScheduler{Factor: factor, Patience: patience, Threshold: threshold, Mode: mode, scale: 1}
}

// Observe records the metric of a finished epoch.
func (s *ReduceLROnPlateauScheduler) Observe(metric float64) {
	if !s.initialized {
		s.best = metric
		s.initialized = true
		return
	}

	var improved bool
	if s.Mode == "min" {
		improved = metric < s.best-s.Threshold
	} else {
		improved = metric > s.best+s.Threshold
	}

	if improved {
		s.best = metric
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs >= s.Patience {
		s.scale *= s.Factor
		s.badEpochs = 0
	}
}

func (s *ReduceLROnPlateauScheduler) LearningRate(_ int, baseLR float64) float64 {
	return baseLR * s.scale
}

func (s *ReduceLROnPlateauScheduler) Name() string { return "ReduceLROnPlateau" }

// NoOpScheduler keeps the base rate.
type NoOpScheduler struct{}

func (s *NoOpScheduler) LearningRate(_ int, baseLR float64) float64 { return baseLR }
func (s *NoOpScheduler) Name() string                               { return "ConstantLR" }

// ParseScheduler builds a scheduler from a compact description:
// "constant", "step:SIZE:GAMMA", "exp:GAMMA", "cosine:TMAX[:ETAMIN]" or
// "plateau:FACTOR:PATIENCE".
func ParseScheduler(spec string) (LRScheduler, error) {
	parts := strings.Split(spec, ":")
	args := parts[1:]

	num := func(i int, def float64) (float64, error) {
		if i >= len(args) {
			return def, nil
		}
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return 0, fmt.Errorf("scheduler %q: bad argument %q: %w", spec, args[i], err)
		}
		return v, nil
	}

	switch strings.ToLower(parts[0]) {
	case "", "constant":
		return &NoOpScheduler{}, nil
	case "step":
		size, err := num(0, 30)
		if err != nil {
			return nil, err
		}
		gamma, err := num(1, 0.1)
		if err != nil {
			return nil, err
		}
		return NewStepLRScheduler(int(size), gamma), nil
	case "exp":
		gamma, err := num(0, 0.95)
		if err != nil {
			return nil, err
		}
		return NewExponentialLRScheduler(gamma), nil
	case "cosine":
		tMax, err := num(0, 100)
		if err != nil {
			return nil, err
		}
		etaMin, err := num(1, 0)
		if err != nil {
			return nil, err
		}
		return NewCosineAnnealingLRScheduler(int(tMax), etaMin), nil
	case "plateau":
		factor, err := num(0, 0.1)
		if err != nil {
			return nil, err
		}
		patience, err := num(1, 10)
		if err != nil {
			return nil, err
		}
		return NewReduceLROnPlateauScheduler(factor, int(patience), 1e-4, "min"), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", spec)
	}
}
