package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return "pb"
	default:
		return "json"
	}
}

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCorruptCheckpoint  = errors.New("corrupt checkpoint")
)

// Checkpoint is the complete state of a multi-discriminator training run:
// enough to continue training bit-for-bit from where it stopped.
type Checkpoint struct {
	TrainingState TrainingState `json:"training_state"`

	Generator      ModelState   `json:"generator"`
	Discriminators []ModelState `json:"discriminators"`

	Scalarization ScalarizationState `json:"scalarization"`

	// RNGState is the binary state of the noise generator.
	RNGState []byte `json:"rng_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch             int    `json:"epoch"`
	Iteration         int    `json:"iteration"`
	Seed              uint64 `json:"seed"`
	SkippedIterations int    `json:"skipped_iterations"`
}

// ModelState holds one model's parameters and the state of its optimizer.
type ModelState struct {
	Name      string          `json:"name"`
	Weights   []WeightTensor  `json:"weights"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias", "projection"
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"` // "SGD", "Adam"
	Parameters map[string]float64 `json:"parameters"`
	StepCount  uint64             `json:"step_count"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", etc.
}

// ScalarizationState is the per-mode auxiliary state of the loss
// combiner. Nadir is nil until the hyper mode has seen its first losses.
type ScalarizationState struct {
	Mode         string    `json:"mode"`
	Nadir        []float64 `json:"nadir,omitempty"`
	NadirVersion uint64    `json:"nadir_version"`
	PrevLosses   []float64 `json:"prev_losses,omitempty"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	JobID       string    `json:"job_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path. The data goes to a temporary
// file in the same directory which is renamed over path once fully written,
// so an interrupted save never clobbers an existing checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "multigan"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var encode func(io.Writer, *Checkpoint) error
	switch cs.format {
	case FormatJSON:
		encode = encodeJSON
	case FormatProto:
		encode = encodeProto
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	return writeAtomic(path, func(w io.Writer) error {
		return encode(w, checkpoint)
	})
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	var decode func([]byte) (*Checkpoint, error)
	switch cs.format {
	case FormatJSON:
		decode = decodeJSON
	case FormatProto:
		decode = decodeProto
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointNotFound, path, err)
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	checkpoint, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptCheckpoint, path, err)
	}
	return checkpoint, nil
}

func encodeJSON(w io.Writer, checkpoint *Checkpoint) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

func decodeJSON(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish checkpoint file: %w", err)
	}
	return nil
}
