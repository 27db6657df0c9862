package training

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/tsawler/multigan/checkpoints"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	MaxCheckpoints  int                          // Maximum number of checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON or binary
	FilenamePattern string                       // Pattern for checkpoint filenames, takes the epoch
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		MaxCheckpoints:  0,
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "checkpoint_%dep",
	}
}

// CheckpointManager names, writes, loads and prunes the checkpoints of a run.
type CheckpointManager struct {
	config     CheckpointConfig
	saver      *checkpoints.CheckpointSaver
	savedFiles []string // Track saved checkpoint files for cleanup
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig) *CheckpointManager {
	if config.FilenamePattern == "" {
		config.FilenamePattern = "checkpoint_%dep"
	}
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format),
	}
}

// Path returns the file a checkpoint for epoch is written to.
func (cm *CheckpointManager) Path(epoch int) string {
	filename := fmt.Sprintf("%s.%s", fmt.Sprintf(cm.config.FilenamePattern, epoch), cm.config.Format.Extension())
	return filepath.Join(cm.config.SaveDirectory, filename)
}

// Save writes checkpoint under the name of its epoch and prunes old files.
func (cm *CheckpointManager) Save(checkpoint *checkpoints.Checkpoint) (string, error) {
	path := cm.Path(checkpoint.TrainingState.Epoch)

	// Ensure directory exists
	if err := os.MkdirAll(cm.config.SaveDirectory, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if !slices.Contains(cm.savedFiles, path) {
		cm.savedFiles = append(cm.savedFiles, path)
	}

	// Cleanup old checkpoints if needed
	if err := cm.cleanupOldCheckpoints(); err != nil {
		return path, err
	}
	return path, nil
}

// Load reads the checkpoint written for epoch.
func (cm *CheckpointManager) Load(epoch int) (*checkpoints.Checkpoint, error) {
	checkpoint, err := cm.saver.LoadCheckpoint(cm.Path(epoch))
	if err != nil {
		return nil, err
	}
	if checkpoint.TrainingState.Epoch != epoch {
		return nil, fmt.Errorf("%w: file for epoch %d holds epoch %d", checkpoints.ErrCorruptCheckpoint, epoch, checkpoint.TrainingState.Epoch)
	}
	return checkpoint, nil
}

// SavedFiles lists the checkpoints written by this manager, oldest first.
func (cm *CheckpointManager) SavedFiles() []string {
	return append([]string(nil), cm.savedFiles...)
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 {
		return nil // No limit
	}

	if len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil // Under limit
	}

	// Remove oldest checkpoints
	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old checkpoint %s: %w", cm.savedFiles[i], err)
		}
	}

	// Update tracked files
	cm.savedFiles = cm.savedFiles[toRemove:]

	return nil
}
