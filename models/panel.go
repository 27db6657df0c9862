package models

import (
	"fmt"
	"strings"

	"github.com/tsawler/multigan/optimizer"
)

// PanelMode selects how the discriminators of a panel differ from each other.
type PanelMode int

const (
	// PanelIdentical builds copies of the base architecture with different seeds.
	PanelIdentical PanelMode = iota
	// PanelProjected gives every discriminator its own fixed random projection.
	PanelProjected
	// PanelHeterogeneous cycles through a set of architectures.
	PanelHeterogeneous
)

func (m PanelMode) String() string {
	switch m {
	case PanelIdentical:
		return "identical"
	case PanelProjected:
		return "RP"
	case PanelHeterogeneous:
		return "MD"
	default:
		return fmt.Sprintf("PanelMode(%d)", int(m))
	}
}

// ParsePanelMode accepts "identical" (or ""), "RP" and "MD", case-insensitive.
func ParsePanelMode(s string) (PanelMode, error) {
	switch strings.ToLower(s) {
	case "", "identical":
		return PanelIdentical, nil
	case "rp":
		return PanelProjected, nil
	case "md":
		return PanelHeterogeneous, nil
	default:
		return 0, fmt.Errorf("unknown panel mode %q", s)
	}
}

// OptimizerFactory creates a fresh optimizer for one panel member.
type OptimizerFactory func() (optimizer.Optimizer, error)

// NewPanel builds n discriminators named D1..Dn. Member i is seeded with
// base.Seed+i so panels are reproducible. newOptimizer may be nil, in which
// case every member gets its own default Adam.
func NewPanel(n int, mode PanelMode, base DiscriminatorConfig, newOptimizer OptimizerFactory) ([]Discriminator, error) {
	if n <= 0 {
		return nil, fmt.Errorf("panel needs at least one discriminator, got %d", n)
	}
	panel := make([]Discriminator, 0, n)
	for i := 0; i < n; i++ {
		cfg := base
		cfg.Name = fmt.Sprintf("D%d", i+1)
		cfg.Seed = base.Seed + uint64(i)
		cfg.Optimizer = nil

		switch mode {
		case PanelIdentical:
		case PanelProjected:
			if cfg.ProjectionDim <= 0 {
				cfg.ProjectionDim = cfg.InputDim
			}
		case PanelHeterogeneous:
			cfg.Hidden, cfg.Activation = heterogeneousVariant(i, base)
		default:
			return nil, fmt.Errorf("unknown panel mode %v", mode)
		}

		if newOptimizer != nil {
			opt, err := newOptimizer()
			if err != nil {
				return nil, fmt.Errorf("failed to create optimizer for %s: %w", cfg.Name, err)
			}
			cfg.Optimizer = opt
		}

		d, err := NewToyDiscriminator(cfg)
		if err != nil {
			return nil, err
		}
		panel = append(panel, d)
	}
	return panel, nil
}

// heterogeneousVariant returns the architecture of slot i, built around the
// width of the base config's first hidden layer.
func heterogeneousVariant(i int, base DiscriminatorConfig) ([]int, Activation) {
	w := 128
	if len(base.Hidden) > 0 {
		w = base.Hidden[0]
	}
	half := max(w/2, 1)

	switch i % 6 {
	case 0:
		return []int{w, w, w}, base.Activation
	case 1:
		return []int{w, w}, LeakyReLU
	case 2:
		return []int{2 * w, w}, ReLU
	case 3:
		return []int{half, half, half}, Tanh
	case 4:
		return []int{w}, LeakyReLU
	default:
		return []int{w, half}, Tanh
	}
}
