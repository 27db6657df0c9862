package training

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/multigan/checkpoints"
)

func testCheckpoint(epoch int) *checkpoints.Checkpoint {
	return &checkpoints.Checkpoint{
		TrainingState: checkpoints.TrainingState{Epoch: epoch, Iteration: epoch * 10, Seed: 1},
		Generator: checkpoints.ModelState{
			Name:    "G",
			Weights: []checkpoints.WeightTensor{{Name: "fc1.weight", Shape: []int{1, 2}, Data: []float64{0.5, -0.25}}},
		},
		Scalarization: checkpoints.ScalarizationState{Mode: "hyper", Nadir: []float64{2.5, 3.5}, NadirVersion: 7},
	}
}

func TestCheckpointManagerPath(t *testing.T) {
	manager := NewCheckpointManager(CheckpointConfig{SaveDirectory: "runs", Format: checkpoints.FormatProto})
	if got := manager.Path(12); got != filepath.Join("runs", "checkpoint_12ep.pb") {
		t.Errorf("Expected runs/checkpoint_12ep.pb, got %s", got)
	}

	manager = NewCheckpointManager(CheckpointConfig{SaveDirectory: "runs", Format: checkpoints.FormatJSON, FilenamePattern: "G_%03d"})
	if got := manager.Path(5); got != filepath.Join("runs", "G_005.json") {
		t.Errorf("Expected runs/G_005.json, got %s", got)
	}
}

func TestCheckpointManagerSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	manager := NewCheckpointManager(CheckpointConfig{SaveDirectory: dir, Format: checkpoints.FormatJSON})

	path, err := manager.Save(testCheckpoint(3))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != manager.Path(3) {
		t.Errorf("Expected %s, got %s", manager.Path(3), path)
	}

	loaded, err := manager.Load(3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.TrainingState.Iteration != 30 || loaded.Scalarization.NadirVersion != 7 {
		t.Errorf("Expected iteration 30 and nadir version 7, got %d and %d",
			loaded.TrainingState.Iteration, loaded.Scalarization.NadirVersion)
	}

	if _, err := manager.Load(4); !errors.Is(err, checkpoints.ErrCheckpointNotFound) {
		t.Errorf("Expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestCheckpointManagerEpochMismatch(t *testing.T) {
	dir := t.TempDir()
	manager := NewCheckpointManager(CheckpointConfig{SaveDirectory: dir, Format: checkpoints.FormatJSON})
	if _, err := manager.Save(testCheckpoint(2)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.Rename(manager.Path(2), manager.Path(5)); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if _, err := manager.Load(5); !errors.Is(err, checkpoints.ErrCorruptCheckpoint) {
		t.Errorf("Expected ErrCorruptCheckpoint for a renamed file, got %v", err)
	}
}

func TestCheckpointManagerRetention(t *testing.T) {
	dir := t.TempDir()
	manager := NewCheckpointManager(CheckpointConfig{SaveDirectory: dir, Format: checkpoints.FormatProto, MaxCheckpoints: 2})

	for epoch := 1; epoch <= 4; epoch++ {
		if _, err := manager.Save(testCheckpoint(epoch)); err != nil {
			t.Fatalf("Save epoch %d failed: %v", epoch, err)
		}
	}
	// Saving the same epoch twice does not count twice.
	if _, err := manager.Save(testCheckpoint(4)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for epoch := 1; epoch <= 4; epoch++ {
		_, err := os.Stat(manager.Path(epoch))
		if exists := err == nil; exists != (epoch >= 3) {
			t.Errorf("Epoch %d: expected exists=%v, got stat error %v", epoch, epoch >= 3, err)
		}
	}
	if len(manager.SavedFiles()) != 2 {
		t.Errorf("Expected 2 tracked files, got %d", len(manager.SavedFiles()))
	}
}
