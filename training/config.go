package training

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/tsawler/multigan/scalarization"
)

var (
	ErrNoDiscriminators = errors.New("at least one discriminator is required")
	ErrNilGenerator     = errors.New("generator cannot be nil")
	ErrNilOptimizer     = errors.New("generator optimizer cannot be nil")
	ErrNilDataSource    = errors.New("data source cannot be nil")
	// ErrResumeFailed is returned when a requested checkpoint cannot be
	// loaded. Training never silently restarts from scratch.
	ErrResumeFailed = errors.New("failed to resume from checkpoint")
	// ErrCheckpointMismatch is returned when a checkpoint does not fit the
	// models or settings of the current run.
	ErrCheckpointMismatch = errors.New("checkpoint does not match the current run")
)

// Config holds everything a TrainLoop needs besides its collaborators.
type Config struct {
	Seed          uint64
	Scalarization scalarization.Config

	// Checkpoint.SaveDirectory == "" disables saving.
	Checkpoint CheckpointConfig
	// ResumeEpoch > 0 restores the checkpoint written after that epoch.
	ResumeEpoch int
	// JobID is stamped on every checkpoint; a random UUID when empty.
	JobID string

	// ParallelDiscriminators runs the per-discriminator work of an
	// iteration concurrently. Results are identical to the sequential run.
	ParallelDiscriminators bool

	Logger   *log.Logger
	Progress io.Writer // per-iteration progress bar, nil disables
	LogEvery int       // log a line every N iterations, 0 disables

	Scheduler LRScheduler // nil keeps learning rates constant

	// DiagnosticSamples generated points are scored against the data
	// mixture at the end of every epoch when the data is diagnosable.
	DiagnosticSamples int
}

// DefaultConfig returns the settings used by the toy experiments.
func DefaultConfig() Config {
	return Config{
		Seed:              1,
		Scalarization:     scalarization.DefaultConfig(),
		Checkpoint:        DefaultCheckpointConfig(),
		DiagnosticSamples: 2500,
	}
}

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	if err := c.Scalarization.Validate(); err != nil {
		return err
	}
	if c.ResumeEpoch < 0 {
		return fmt.Errorf("resume epoch cannot be negative, got %d", c.ResumeEpoch)
	}
	if c.ResumeEpoch > 0 && c.Checkpoint.SaveDirectory == "" {
		return fmt.Errorf("%w: resume epoch %d given without a checkpoint directory", ErrResumeFailed, c.ResumeEpoch)
	}
	if c.DiagnosticSamples < 0 {
		return fmt.Errorf("diagnostic samples cannot be negative, got %d", c.DiagnosticSamples)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("log interval cannot be negative, got %d", c.LogEvery)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.JobID == "" {
		c.JobID = uuid.NewString()
	}
}
